//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd used to break a Loop out of a blocked
// poll wait. It returns the same fd for both the read and write ends,
// matching the pipe-based signature used on Darwin.
func createWakeFd() (readFd int, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

// writeWake signals the wake fd exactly once; level-triggered epoll will
// keep reporting it readable until drainWakeFd consumes the counter.
func writeWake(writeFd int) error {
	var one [8]byte
	one[7] = 1
	_, err := unix.Write(writeFd, one[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// drainWakeFd resets the eventfd counter to zero.
func drainWakeFd(readFd int) error {
	var buf [8]byte
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

// closeWakeFd closes the wake descriptor(s) created by createWakeFd.
func closeWakeFd(readFd, writeFd int) error {
	if readFd >= 0 {
		_ = unix.Close(readFd)
	}
	if writeFd >= 0 && writeFd != readFd {
		_ = unix.Close(writeFd)
	}
	return nil
}
