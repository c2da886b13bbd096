package reactor

import "golang.org/x/sys/unix"

// newPipePair returns a non-blocking pipe's (read, write) file
// descriptors, for tests that need a plain pollable fd without the
// weight of a real socket. Portable across Linux/Darwin the same way
// wakeup_darwin.go's self-pipe is: plain Pipe, then set flags after.
func newPipePair() (readFd, writeFd int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	if err := setNonblockCloexec(fds[0]); err != nil {
		return -1, -1, err
	}
	if err := setNonblockCloexec(fds[1]); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}
