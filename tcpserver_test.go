package nio

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/nio/internal/netutil"
)

func startTestServer(t *testing.T, opts []ServerOption, setup func(s *TcpServer)) (*TcpServer, *EventLoopThread, string) {
	t.Helper()
	th := NewEventLoopThread()
	loop := th.StartLoop()

	s := NewTcpServer(loop, "test", "127.0.0.1:0", opts...)
	if setup != nil {
		setup(s)
	}
	s.Start()
	// Listen 已先入队，这个屏障返回时监听必然生效
	ready := make(chan struct{})
	loop.RunInLoop(func() { close(ready) })
	<-ready

	addr := netutil.LocalAddr(s.acceptor.acceptSocket.fd)
	require.NotNil(t, addr)
	return s, th, addr.String()
}

// 场景：单连接 echo。全程恰好一次 Connected、一次 DisConnected。
func TestTcpServerEcho(t *testing.T) {
	var ups, downs atomic.Int32
	downCh := make(chan struct{}, 1)

	s, th, addr := startTestServer(t, []ServerOption{WithThreads(1)}, func(s *TcpServer) {
		s.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				ups.Add(1)
			} else {
				downs.Add(1)
				downCh <- struct{}{}
			}
		})
		s.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ time.Time) {
			_ = conn.Send([]byte(buf.RetrieveAllAsString()))
		})
	})
	defer th.Stop()
	defer s.Stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	got := make([]byte, 5)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	conn.Close()
	select {
	case <-downCh:
	case <-time.After(3 * time.Second):
		t.Fatal("断开回调未触发")
	}
	assert.Equal(t, int32(1), ups.Load())
	assert.Equal(t, int32(1), downs.Load())
}

// 场景：跨线程 send。字节恰好送达一次。
func TestTcpServerCrossThreadSend(t *testing.T) {
	conns := make(chan *TcpConnection, 1)
	s, th, addr := startTestServer(t, []ServerOption{WithThreads(1)}, func(s *TcpServer) {
		s.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				conns <- conn
			}
		})
	})
	defer th.Stop()
	defer s.Stop()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	conn := <-conns
	require.False(t, conn.Loop().IsInLoopThread())
	require.NoError(t, conn.Send([]byte("x")))

	got := make([]byte, 1)
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

// 场景：高水位只在向上越过时回调一次；仍在水上时不复发。
// 随后对端排空，写完成回调恰好一次，输出缓冲回到空。
func TestTcpServerHighWaterMarkAndDrain(t *testing.T) {
	const mark = 1024
	const payloadLen = 256 << 10

	hwFires := make(chan int, 4)
	writeCompletes := make(chan struct{}, 4)
	conns := make(chan *TcpConnection, 1)

	s, th, addr := startTestServer(t, []ServerOption{WithThreads(1)}, func(s *TcpServer) {
		s.SetConnectionCallback(func(conn *TcpConnection) {
			if !conn.Connected() {
				return
			}
			// 缩小内核发送缓冲，逼出部分写与积压
			_ = netutil.SetSendBuf(conn.channel.Fd(), 8192)
			conn.SetHighWaterMarkCallback(func(c *TcpConnection, size int) {
				hwFires <- size
			}, mark)
			conns <- conn
		})
		s.SetWriteCompleteCallback(func(*TcpConnection) { writeCompletes <- struct{}{} })
	})
	defer th.Stop()
	defer s.Stop()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	conn := <-conns
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = 'A'
	}
	// 第一次 send：直写吃掉一部分，剩余入缓冲并越过高水位
	require.NoError(t, conn.Send(payload))

	select {
	case size := <-hwFires:
		assert.GreaterOrEqual(t, size, mark)
	case <-time.After(3 * time.Second):
		t.Fatal("高水位回调未触发")
	}

	// 仍在水上：再次 send 不应复发
	require.NoError(t, conn.Send([]byte("tail")))
	select {
	case <-hwFires:
		t.Fatal("输出缓冲未降到水下，高水位回调不应复发")
	case <-time.After(200 * time.Millisecond):
	}

	// 排空：对端读走全部字节
	c.SetReadDeadline(time.Now().Add(10 * time.Second))
	total := 0
	buf := make([]byte, 64<<10)
	for total < payloadLen+4 {
		n, rerr := c.Read(buf)
		total += n
		if rerr != nil {
			t.Fatalf("read: %v", rerr)
		}
	}
	assert.Equal(t, payloadLen+4, total)

	select {
	case <-writeCompletes:
	case <-time.After(3 * time.Second):
		t.Fatal("写完成回调未触发")
	}

	empty := make(chan bool, 1)
	conn.Loop().RunInLoop(func() {
		empty <- conn.outputBuffer.ReadableBytes() == 0 && !conn.channel.IsWriting()
	})
	assert.True(t, <-empty, "排空后输出缓冲应为空且写关注关闭")
}

// main loop 兼任 I/O（0 个 sub loop）也能完成 echo。
func TestTcpServerSingleLoop(t *testing.T) {
	s, th, addr := startTestServer(t, nil, func(s *TcpServer) {
		s.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ time.Time) {
			_ = conn.Send([]byte(buf.RetrieveAllAsString()))
		})
	})
	defer th.Stop()
	defer s.Stop()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	got := make([]byte, 4)
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

// 多连接轮询派发到不同 sub loop。
func TestTcpServerRoundRobinDispatch(t *testing.T) {
	loops := make(chan *EventLoop, 4)
	s, th, addr := startTestServer(t, []ServerOption{WithThreads(2)}, func(s *TcpServer) {
		s.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				loops <- conn.Loop()
			}
		})
	})
	defer th.Stop()
	defer s.Stop()

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c2.Close()

	var got []*EventLoop
	for i := 0; i < 2; i++ {
		select {
		case l := <-loops:
			got = append(got, l)
		case <-time.After(3 * time.Second):
			t.Fatal("建连回调未触发")
		}
	}
	assert.NotSame(t, got[0], got[1], "两条连接应派发到不同的 sub loop")
}
