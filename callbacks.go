package nio

import (
	"net"
	"time"
)

// ConnectionCallback 在连接进入 Connected 与 DisConnected 时各回调一次。
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback 在输入缓冲收到新数据后回调；回调方通过 Buffer 的
// Retrieve 系列方法消费字节。
type MessageCallback func(conn *TcpConnection, buf *Buffer, receiveTime time.Time)

// WriteCompleteCallback 在输出缓冲排空后回调。
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback 在输出缓冲向上越过高水位时回调一次。
type HighWaterMarkCallback func(conn *TcpConnection, size int)

// CloseCallback 由 TcpServer 内部使用：连接关闭时从注册表摘除并调度销毁。
type CloseCallback func(conn *TcpConnection)

// NewConnectionCallback 由 Acceptor 在接受到新连接后回调。
type NewConnectionCallback func(connfd int, peerAddr *net.TCPAddr)
