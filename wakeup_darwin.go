//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a self-pipe used to break a Loop out of a blocked
// kevent wait, since Darwin has no eventfd.
func createWakeFd() (readFd int, writeFd int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		if err := setNonblockCloexec(fd); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

// writeWake writes a single byte to the pipe's write end.
func writeWake(writeFd int) error {
	_, err := unix.Write(writeFd, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// drainWakeFd drains every pending byte from the pipe's read end.
func drainWakeFd(readFd int) error {
	var buf [64]byte
	for {
		_, err := unix.Read(readFd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return err
		}
	}
}

// closeWakeFd closes both ends of the self-pipe.
func closeWakeFd(readFd, writeFd int) error {
	if readFd >= 0 {
		_ = unix.Close(readFd)
	}
	if writeFd >= 0 && writeFd != readFd {
		_ = unix.Close(writeFd)
	}
	return nil
}
