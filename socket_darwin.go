//go:build darwin

package nio

import (
	"net"

	"github.com/legamerdc/nio/internal/netutil"
	"golang.org/x/sys/unix"
)

// newNonblockingSocket 创建 TCP 套接字；darwin 无 SOCK_NONBLOCK/SOCK_CLOEXEC，
// 创建后补设。
func newNonblockingSocket() int {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		logger.Fatal().Err(err).Msg("create listen socket")
	}
	_ = netutil.SetNonblock(fd, true)
	unix.CloseOnExec(fd)
	return fd
}

func (s *socket) accept() (int, *net.TCPAddr, error) {
	connfd, sa, err := unix.Accept(s.fd)
	if err != nil {
		return -1, nil, err
	}
	_ = netutil.SetNonblock(connfd, true)
	unix.CloseOnExec(connfd)
	return connfd, netutil.SockaddrToTCPAddr(sa), nil
}
