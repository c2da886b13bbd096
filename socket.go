package reactor

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// newListenSocket creates a non-blocking, close-on-exec IPv4/IPv6 TCP
// listening socket bound to addr, with SO_REUSEADDR always set and
// SO_REUSEPORT set when reuse is ReusePort.
func newListenSocket(addr string, reuse PortReuse) (fd int, boundAddr *net.TCPAddr, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, err
	}

	domain := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, nil, err
	}
	cleanup := func() { _ = unix.Close(fd) }

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		cleanup()
		return -1, nil, err
	}
	if reuse == ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			cleanup()
			return -1, nil, err
		}
	}

	sa, err := tcpAddrToSockaddr(tcpAddr, domain)
	if err != nil {
		cleanup()
		return -1, nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		cleanup()
		return -1, nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		cleanup()
		return -1, nil, err
	}

	local, err := getsockname(fd)
	if err != nil {
		cleanup()
		return -1, nil, err
	}
	return fd, local, nil
}

func tcpAddrToSockaddr(addr *net.TCPAddr, domain int) (unix.Sockaddr, error) {
	if domain == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if addr.IP != nil {
		copy(sa.Addr[:], addr.IP.To4())
	}
	return sa, nil
}

// acceptConn accepts one pending connection off the listening fd with
// NONBLOCK|CLOEXEC already applied.
func acceptConn(listenFd int) (connFd int, peer *net.TCPAddr, err error) {
	connFd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return connFd, sockaddrToTCPAddr(sa), nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	default:
		return &net.TCPAddr{}
	}
}

// getsockname resolves the local address bound to fd.
func getsockname(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	return sockaddrToTCPAddr(sa), nil
}

// setKeepAlive enables TCP keep-alive on a connected socket, mirroring
// the Connection constructor's keep-alive setup step.
func setKeepAlive(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}

// socketError reads and clears SO_ERROR on fd.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// shutdownWrite half-closes the write side of a connected socket.
func shutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

func addrString(a *net.TCPAddr) string {
	if a == nil {
		return ""
	}
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}
