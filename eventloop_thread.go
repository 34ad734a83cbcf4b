package nio

import (
	"runtime"
	"sync"
)

// EventLoopThread 在一个锁定 OS 线程的 goroutine 上托管恰好一个 EventLoop。
type EventLoopThread struct {
	loop  *EventLoop
	ready chan struct{}
	done  sync.WaitGroup
}

func NewEventLoopThread() *EventLoopThread {
	return &EventLoopThread{ready: make(chan struct{})}
}

// StartLoop 启动线程，等 loop 构造完成后返回其句柄。
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.done.Add(1)
	go func() {
		defer t.done.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		loop := NewEventLoop()
		t.loop = loop
		close(t.ready) // 先于 StartLoop 返回，对 t.loop 的写入由此同步
		loop.Loop()
		loop.Close()
	}()
	<-t.ready
	return t.loop
}

// Stop 通知 loop 退出并等线程结束。
// Quit 经 RunInLoop 投递：保证 Loop 已经开始运行后才置位，
// 不会被 Loop 入口对 quit 的清零吞掉。
func (t *EventLoopThread) Stop() {
	t.loop.RunInLoop(t.loop.Quit)
	t.done.Wait()
}
