package nio

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// 连接状态机：
// Connecting -> Connected（connectEstablished）
// Connected -> DisConnecting（Shutdown；输出缓冲排空后半关闭写端，状态不变）
// Connected/DisConnecting -> DisConnected（handleClose；Connected 时 ConnectDestroyed 亦然）
// DisConnected 为终态。
type connState int32

const (
	kConnecting connState = iota
	kConnected
	kDisConnecting
	kDisConnected
)

const kDefaultHighWaterMark = 64 << 20 // 64 MiB

// TcpConnection 为单条连接的状态机，独占套接字、channel 与两个缓冲。
// 除初始的 Connecting -> Connected 外，所有状态迁移都发生在属主 loop 上；
// channel 的写关注位是"是否在等待可写就绪"的唯一事实来源。
type TcpConnection struct {
	loop *EventLoop
	name string

	state   atomic.Int32
	reading bool

	socket  socket
	channel *Channel

	localAddr *net.TCPAddr
	peerAddr  *net.TCPAddr

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback
}

func NewTcpConnection(loop *EventLoop, name string, sockfd int, localAddr, peerAddr *net.TCPAddr) *TcpConnection {
	if loop == nil {
		logger.Fatal().Str("conn", name).Msg("nil loop for TcpConnection")
	}
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		reading:       true,
		socket:        socket{fd: sockfd},
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: kDefaultHighWaterMark,
	}
	c.state.Store(int32(kConnecting))
	c.channel = NewChannel(loop, sockfd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.socket.setKeepAlive(true)

	logger.Debug().Str("conn", name).Int("fd", sockfd).Msg("connection created")
	return c
}

func (c *TcpConnection) Name() string            { return c.name }
func (c *TcpConnection) LocalAddr() *net.TCPAddr { return c.localAddr }
func (c *TcpConnection) PeerAddr() *net.TCPAddr  { return c.peerAddr }
func (c *TcpConnection) Loop() *EventLoop        { return c.loop }
func (c *TcpConnection) Connected() bool {
	return connState(c.state.Load()) == kConnected
}

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)       { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// SetHighWaterMarkCallback 设置输出缓冲向上越过 mark 时的回调。
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}

// SetHighWaterMark 单独调整高水位阈值。
func (c *TcpConnection) SetHighWaterMark(mark int) { c.highWaterMark = mark }

// SetTcpNoDelay 开关 Nagle。
func (c *TcpConnection) SetTcpNoDelay(on bool) { c.socket.setTcpNoDelay(on) }

// Send 发送字节流。已连接时在属主线程直接执行，
// 跨线程调用先复制数据再投递，返回先于实际写出发生。
// 连接不在 Connected 状态时返回 ErrDisconnected。
func (c *TcpConnection) Send(data []byte) error {
	if connState(c.state.Load()) != kConnected {
		return ErrDisconnected
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
	} else {
		buf := append([]byte(nil), data...)
		c.loop.RunInLoop(func() { c.sendInLoop(buf) })
	}
	return nil
}

// sendInLoop 写路径核心：输出缓冲为空且未关注可写时先尝试直写，
// 剩余部分落入输出缓冲并打开写关注，越过高水位时投递回调。
func (c *TcpConnection) sendInLoop(data []byte) {
	nwrote := 0
	remaining := len(data)
	faultError := false

	if connState(c.state.Load()) == kDisConnected {
		logger.Error().Str("conn", c.name).Msg("disconnected, give up writing")
		return
	}
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.channel.Fd(), data)
		if n >= 0 {
			nwrote = n
			remaining = len(data) - n
			if remaining == 0 && c.writeCompleteCallback != nil {
				// 直写一次完成，无需再关注可写；回调仍走队列，
				// 保持"send 路径上不执行用户回调"
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else {
			nwrote = 0
			if err != unix.EAGAIN {
				logger.Error().Err(err).Str("conn", c.name).Msg("sendInLoop write")
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faultError = true
				}
			}
		}
	}

	if !faultError && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			newLen := oldLen + remaining
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, newLen) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown 优雅关闭：转入 DisConnecting，待输出缓冲排空后半关闭写端。
func (c *TcpConnection) Shutdown() {
	if c.state.CompareAndSwap(int32(kConnected), int32(kDisConnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		// 输出缓冲已全部写出
		c.socket.shutdownWrite()
	}
	// 仍在写则什么都不做，handleWrite 排空后会再调到这里
}

// ConnectEstablished 在属主 loop 上完成建连：进入 Connected、
// 绑定 channel 属主、打开读关注、执行用户连接回调。
func (c *TcpConnection) ConnectEstablished() {
	c.state.Store(int32(kConnected))
	c.channel.Tie(c)
	c.channel.EnableReading()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// ConnectDestroyed 为连接销毁的最后一步，幂等；
// 由 TcpServer 经 QueueInLoop 调度到属主 loop 执行。
func (c *TcpConnection) ConnectDestroyed() {
	if c.state.CompareAndSwap(int32(kConnected), int32(kDisConnected)) {
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
	c.socket.close()
}

func (c *TcpConnection) handleRead(receiveTime time.Time) {
	n, err := c.inputBuffer.ReadFd(c.channel.Fd())
	if n > 0 {
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTime)
		}
	} else if n == 0 {
		// 对端关闭
		c.handleClose()
	} else {
		if err == unix.EAGAIN || err == unix.EINTR {
			// 无进展，等下一次就绪
			return
		}
		logger.Error().Err(err).Str("conn", c.name).Msg("handleRead")
		c.handleError()
	}
}

// handleWrite 在可写就绪时排空输出缓冲；写完即关掉写关注，
// 投递写完成回调，处于 DisConnecting 时接着完成半关闭。
func (c *TcpConnection) handleWrite() {
	if !c.channel.IsWriting() {
		logger.Error().Str("conn", c.name).Int("fd", c.channel.Fd()).Msg("connection is down, no more writing")
		return
	}
	n, err := c.outputBuffer.WriteFd(c.channel.Fd())
	if n > 0 {
		c.outputBuffer.Retrieve(n)
		if c.outputBuffer.ReadableBytes() == 0 {
			c.channel.DisableWriting()
			if c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
			if connState(c.state.Load()) == kDisConnecting {
				c.shutdownInLoop()
			}
		}
	} else if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		logger.Error().Err(err).Str("conn", c.name).Msg("handleWrite")
	}
}

// handleClose 统一的关闭路径：DisConnected、注销全部关注、
// 先用户连接回调再内部 close 回调（由 TcpServer 摘除注册并调度销毁）。
func (c *TcpConnection) handleClose() {
	logger.Info().Str("conn", c.name).Int("fd", c.channel.Fd()).Int32("state", c.state.Load()).Msg("connection close")
	c.state.Store(int32(kDisConnected))
	c.channel.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

// handleError 读出 SO_ERROR 并记录。
func (c *TcpConnection) handleError() {
	soErr, err := unix.GetsockoptInt(c.channel.Fd(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		logger.Error().Err(err).Str("conn", c.name).Msg("handleError getsockopt")
		return
	}
	logger.Error().Str("conn", c.name).Int("SO_ERROR", soErr).Msg("connection error")
}

// InputBuffer/OutputBuffer 暴露给回调方做流控观察。
func (c *TcpConnection) InputBuffer() *Buffer  { return c.inputBuffer }
func (c *TcpConnection) OutputBuffer() *Buffer { return c.outputBuffer }
