package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingTasksPushAndPopAllPreservesOrder(t *testing.T) {
	q := newPendingTasks()
	assert.Equal(t, 0, q.Len())

	var order []int
	for i := 0; i < chunkSize*3+5; i++ {
		i := i
		q.Push(func() { order = append(order, i) })
	}
	assert.Equal(t, chunkSize*3+5, q.Len())

	tasks := q.PopAll()
	assert.Len(t, tasks, chunkSize*3+5)
	for _, task := range tasks {
		task()
	}
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPendingTasksPopAllResetsQueue(t *testing.T) {
	q := newPendingTasks()
	q.Push(func() {})
	_ = q.PopAll()
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.PopAll())
}

func TestPendingTasksPopAllOnEmptyQueueReturnsNil(t *testing.T) {
	q := newPendingTasks()
	assert.Nil(t, q.PopAll())
}
