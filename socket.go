package nio

import (
	"net"

	"github.com/legamerdc/nio/internal/netutil"
	"golang.org/x/sys/unix"
)

// socket 独占持有一个 TCP 描述符；持有者销毁时负责归还。
type socket struct {
	fd int
}

func (s *socket) close() {
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
}

func (s *socket) bindAddress(addr *net.TCPAddr) {
	sa, err := netutil.TCPAddrToSockaddr(addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr.String()).Msg("resolve bind address")
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		logger.Fatal().Err(err).Int("fd", s.fd).Str("addr", addr.String()).Msg("bind")
	}
}

func (s *socket) listen() {
	if err := unix.Listen(s.fd, 1024); err != nil {
		logger.Fatal().Err(err).Int("fd", s.fd).Msg("listen")
	}
}

// shutdownWrite 半关闭：关掉写方向，读方向保持打开。
func (s *socket) shutdownWrite() {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		logger.Error().Err(err).Int("fd", s.fd).Msg("shutdown write")
	}
}

func (s *socket) setTcpNoDelay(on bool) { _ = netutil.SetNoDelay(s.fd, on) }
func (s *socket) setReuseAddr(on bool)  { _ = netutil.SetReuseAddr(s.fd, on) }
func (s *socket) setReusePort(on bool)  { _ = netutil.SetReusePort(s.fd, on) }
func (s *socket) setKeepAlive(on bool)  { _ = netutil.SetKeepAlive(s.fd, on) }
