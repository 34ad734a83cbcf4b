package nio

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopRunInLoopSynchronous(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	require.True(t, loop.IsInLoopThread())
	ran := false
	loop.RunInLoop(func() { ran = true })
	assert.True(t, ran, "属主线程上 RunInLoop 应同步执行")
}

func TestEventLoopQueueInLoopCrossThreadWakes(t *testing.T) {
	th := NewEventLoopThread()
	loop := th.StartLoop()
	defer th.Stop()

	assert.False(t, loop.IsInLoopThread())

	done := make(chan struct{})
	start := time.Now()
	loop.QueueInLoop(func() { close(done) })
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("跨线程 queueInLoop 未在 poll 超时内唤醒 loop")
	}
	// 必须远快于 10s 的默认 poll 超时
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEventLoopPendingFunctorsRunOnce(t *testing.T) {
	th := NewEventLoopThread()
	loop := th.StartLoop()
	defer th.Stop()

	var n atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		loop.QueueInLoop(func() { n.Add(1) })
	}
	loop.QueueInLoop(func() { close(done) })
	<-done
	assert.Equal(t, int32(100), n.Load())
}

// 回调执行期间入队的新任务留待下一轮，且因 wakeup 不会卡到下一次事件。
func TestEventLoopQueueInLoopDuringDrain(t *testing.T) {
	th := NewEventLoopThread()
	loop := th.StartLoop()
	defer th.Stop()

	second := make(chan struct{})
	first := make(chan struct{})
	loop.QueueInLoop(func() {
		loop.QueueInLoop(func() { close(second) })
		close(first)
	})
	<-first
	select {
	case <-second:
	case <-time.After(3 * time.Second):
		t.Fatal("执行回调期间入队的任务未被及时执行")
	}
}

func TestEventLoopQuitFromOtherThread(t *testing.T) {
	th := NewEventLoopThread()
	loop := th.StartLoop()

	// 让 loop 进入 poll 阻塞
	settled := make(chan struct{})
	loop.QueueInLoop(func() { close(settled) })
	<-settled

	start := time.Now()
	th.Stop()
	// 被 wakeup 打断，而不是等满 10s 超时
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEventLoopPollReturnTime(t *testing.T) {
	th := NewEventLoopThread()
	loop := th.StartLoop()
	defer th.Stop()

	before := time.Now()
	got := make(chan time.Time, 1)
	loop.QueueInLoop(func() { got <- loop.PollReturnTime() })
	assert.False(t, (<-got).Before(before.Add(-time.Second)))
}

func TestEventLoopThreadPoolRoundRobin(t *testing.T) {
	th := NewEventLoopThread()
	base := th.StartLoop()
	defer th.Stop()

	// 无 sub loop：main loop 兼任
	empty := NewEventLoopThreadPool(base, 0)
	empty.Start()
	assert.Same(t, base, empty.GetNextLoop())
	assert.Same(t, base, empty.GetNextLoop())

	pool := NewEventLoopThreadPool(base, 2)
	pool.Start()
	defer pool.Stop()

	l0 := pool.GetNextLoop()
	l1 := pool.GetNextLoop()
	l2 := pool.GetNextLoop()
	assert.NotSame(t, base, l0)
	assert.NotSame(t, l0, l1)
	assert.Same(t, l0, l2)
}
