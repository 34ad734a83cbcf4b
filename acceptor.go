package nio

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Acceptor 持有监听套接字及其 channel，运行在 main loop 上。
// 水平触发下每次就绪只 accept 一个连接：实现简单且对各 loop 公平，
// 还有积压时监听描述符保持可读，下一轮会再次分发。
type Acceptor struct {
	loop          *EventLoop
	acceptSocket  socket
	acceptChannel *Channel

	newConnectionCallback NewConnectionCallback
	listening             bool
}

func NewAcceptor(loop *EventLoop, listenAddr *net.TCPAddr, reusePort bool) *Acceptor {
	a := &Acceptor{
		loop:         loop,
		acceptSocket: socket{fd: newNonblockingSocket()},
	}
	a.acceptSocket.setReuseAddr(true)
	a.acceptSocket.setReusePort(reusePort)
	a.acceptSocket.bindAddress(listenAddr)
	a.acceptChannel = NewChannel(loop, a.acceptSocket.fd)
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a
}

// SetNewConnectionCallback 设置新连接回调；未设置时接受到的连接直接关闭。
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

func (a *Acceptor) Listening() bool { return a.listening }

// Listen 开始监听并登记读事件；在 main loop 上调用。
func (a *Acceptor) Listen() {
	a.listening = true
	a.acceptSocket.listen()
	a.acceptChannel.EnableReading()
}

// Close 注销 channel 并归还监听描述符。
func (a *Acceptor) Close() {
	a.acceptChannel.DisableAll()
	a.acceptChannel.Remove()
	a.acceptSocket.close()
}

func (a *Acceptor) handleRead(time.Time) {
	connfd, peerAddr, err := a.acceptSocket.accept()
	if err != nil {
		logger.Error().Err(err).Msg("accept")
		if err == unix.EMFILE {
			// 描述符耗尽需要运维介入，单独记一条
			logger.Error().Msg("accept: reached open file descriptor limit")
		}
		return
	}
	if a.newConnectionCallback != nil {
		a.newConnectionCallback(connfd, peerAddr)
	} else {
		unix.Close(connfd)
	}
}
