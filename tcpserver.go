package nio

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/legamerdc/nio/internal/netutil"
)

type serverOptions struct {
	numThreads    int
	reusePort     bool
	highWaterMark int
	pollTimeout   time.Duration
	noDelay       bool
}

type ServerOption func(*serverOptions)

// WithThreads 设置 sub loop 线程数；0 表示 main loop 兼任 I/O。
func WithThreads(n int) ServerOption { return func(o *serverOptions) { o.numThreads = n } }

// WithReusePort 开启 SO_REUSEPORT。
func WithReusePort(on bool) ServerOption { return func(o *serverOptions) { o.reusePort = on } }

// WithHighWaterMark 设置各连接输出缓冲的高水位阈值。
func WithHighWaterMark(n int) ServerOption { return func(o *serverOptions) { o.highWaterMark = n } }

// WithPollTimeout 调整各 loop 的 poll 超时上限。
func WithPollTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.pollTimeout = d }
}

// WithNoDelay 对新连接开启 TCP_NODELAY。
func WithNoDelay(on bool) ServerOption { return func(o *serverOptions) { o.noDelay = on } }

// TcpServer 把 Acceptor 与 loop 线程池拼起来：main loop 接连接，
// 新连接轮询派发给 sub loop。连接注册表只在 main loop 上读写。
type TcpServer struct {
	loop       *EventLoop // main loop（acceptor 所在）
	ipPort     string
	name       string
	acceptor   *Acceptor
	threadPool *EventLoopThreadPool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	opts serverOptions

	started     atomic.Bool
	nextConnID  int
	connections map[string]*TcpConnection
}

// NewTcpServer 构造未启动的服务端；loop 为调用方已在本 goroutine
// 构造好的 main loop。
func NewTcpServer(loop *EventLoop, name, address string, opts ...ServerOption) *TcpServer {
	if loop == nil {
		logger.Fatal().Str("server", name).Msg("nil loop for TcpServer")
	}
	listenAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", address).Msg("resolve listen address")
	}

	var o serverOptions
	for _, f := range opts {
		f(&o)
	}

	s := &TcpServer{
		loop:        loop,
		ipPort:      listenAddr.String(),
		name:        name,
		opts:        o,
		connections: make(map[string]*TcpConnection),
	}
	s.acceptor = NewAcceptor(loop, listenAddr, o.reusePort)
	s.threadPool = NewEventLoopThreadPool(loop, o.numThreads)
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	return s
}

func (s *TcpServer) Name() string   { return s.name }
func (s *TcpServer) IpPort() string { return s.ipPort }

func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)       { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// Start 幂等：启动线程池并在 main loop 上开始监听。
func (s *TcpServer) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if s.opts.pollTimeout > 0 {
		s.loop.SetPollTimeout(s.opts.pollTimeout)
	}
	s.threadPool.Start()
	if s.opts.pollTimeout > 0 {
		for _, l := range s.threadPool.Loops() {
			l.SetPollTimeout(s.opts.pollTimeout)
		}
	}
	s.loop.RunInLoop(s.acceptor.Listen)
}

// Stop 关闭监听、销毁全部连接并停掉线程池。
// 先等 main loop 把销毁任务派发完，各 sub loop 的退出排在其后，
// 保证销毁一定先于 loop 收尾执行。
func (s *TcpServer) Stop() {
	done := make(chan struct{})
	s.loop.RunInLoop(func() {
		s.acceptor.Close()
		for name, conn := range s.connections {
			delete(s.connections, name)
			conn.Loop().RunInLoop(conn.ConnectDestroyed)
		}
		close(done)
	})
	<-done
	s.threadPool.Stop()
}

// newConnection 在 main loop 上执行：挑 sub loop、建连接对象、
// 装回调，再把 connectEstablished 投递到属主 loop。
func (s *TcpServer) newConnection(connfd int, peerAddr *net.TCPAddr) {
	ioLoop := s.threadPool.GetNextLoop()
	s.nextConnID++
	name := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	localAddr := netutil.LocalAddr(connfd)

	logger.Info().Str("server", s.name).Str("conn", name).
		Stringer("peer", peerAddr).Msg("new connection")

	conn := NewTcpConnection(ioLoop, name, connfd, localAddr, peerAddr)
	s.connections[name] = conn
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetCloseCallback(s.removeConnection)
	if s.opts.highWaterMark > 0 {
		conn.SetHighWaterMark(s.opts.highWaterMark)
	}
	if s.opts.noDelay {
		conn.SetTcpNoDelay(true)
	}
	ioLoop.RunInLoop(conn.ConnectEstablished)
}

// removeConnection 由连接的 close 回调触发，可能在 sub loop 上，
// 先编组回 main loop 再动注册表。
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	logger.Info().Str("server", s.name).Str("conn", conn.Name()).Msg("remove connection")
	delete(s.connections, conn.Name())
	// 最终销毁调度回属主 loop，保证在正确的线程上收尾
	conn.Loop().QueueInLoop(conn.ConnectDestroyed)
}
