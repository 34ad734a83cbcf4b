//go:build linux

package nio

import (
	"net"

	"github.com/legamerdc/nio/internal/netutil"
	"golang.org/x/sys/unix"
)

// newNonblockingSocket 创建非阻塞 CLOEXEC 的 TCP 套接字并返回描述符；
// 失败属于致命初始化错误。
func newNonblockingSocket() int {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		logger.Fatal().Err(err).Msg("create listen socket")
	}
	return fd
}

// accept 接受一个连接，连接描述符带非阻塞与 CLOEXEC。
func (s *socket) accept() (int, *net.TCPAddr, error) {
	connfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return connfd, netutil.SockaddrToTCPAddr(sa), nil
}
