package nio

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// 默认 poll 超时：跨线程 quit 即便没有 wakeup 也能在该上限内被观察到
const kPollTimeMs = 10 * 1000

// 防止一个 goroutine 上创建多个 EventLoop
var (
	loopsMu    sync.Mutex
	loopsByGID = make(map[uint64]*EventLoop)
)

// currentGoroutineID 解析 runtime.Stack 首行取得 goroutine id。
// 配合 EventLoopThread 的 LockOSThread，goroutine 与 OS 线程一一对应。
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseUint(string(s), 10, 64)
	return id
}

// EventLoop 为线程亲和的调度单元：驱动 poller、分发 channel 事件、
// 执行跨线程投递的任务。channel、poller、active 列表只允许属主
// goroutine 触碰；pendingFunctors 队列是唯一合法的跨线程变更点。
type EventLoop struct {
	looping atomic.Bool
	quit    atomic.Bool

	gid uint64 // 属主 goroutine

	poller      Poller
	pollTimeMs  atomic.Int64
	pollReturnT time.Time

	// wakeup 描述符只负责打断 poll，本身不携带信息；
	// 内核会合并计数，突发唤醒在下一轮统一清空
	wakeupFd      int // 读端（linux 下 eventfd 读写同一描述符）
	wakeupWriteFd int
	wakeupChannel *Channel

	activeChannels       []*Channel
	currentActiveChannel *Channel

	mu                     sync.Mutex
	pendingFunctors        *queue.Queue // 元素为 func()
	callingPendingFunctors atomic.Bool
}

// NewEventLoop 必须在将要运行 Loop 的 goroutine 上构造。
// 同一 goroutine 上已存在 loop 时直接终止进程。
func NewEventLoop() *EventLoop {
	gid := currentGoroutineID()
	p, err := newDefaultPoller()
	if err != nil {
		logger.Fatal().Err(err).Msg("create poller")
	}
	rfd, wfd, err := newWakeupFd()
	if err != nil {
		logger.Fatal().Err(err).Msg("create wakeup fd")
	}

	l := &EventLoop{
		gid:             gid,
		poller:          p,
		wakeupFd:        rfd,
		wakeupWriteFd:   wfd,
		pendingFunctors: queue.New(),
	}
	l.pollTimeMs.Store(kPollTimeMs)

	loopsMu.Lock()
	if loopsByGID[gid] != nil {
		loopsMu.Unlock()
		logger.Fatal().Uint64("goroutine", gid).Msg("another EventLoop exists on this goroutine")
	}
	loopsByGID[gid] = l
	loopsMu.Unlock()

	l.wakeupChannel = NewChannel(l, rfd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	l.wakeupChannel.EnableReading()

	logger.Debug().Uint64("goroutine", gid).Msg("event loop created")
	return l
}

// Close 释放 loop 资源并解除 goroutine 登记；须在 Loop 返回后、
// 属主 goroutine 上调用。
func (l *EventLoop) Close() {
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	closeWakeupFd(l.wakeupFd, l.wakeupWriteFd)
	l.poller.Close()

	loopsMu.Lock()
	if loopsByGID[l.gid] == l {
		delete(loopsByGID, l.gid)
	}
	loopsMu.Unlock()
}

// Loop 开启事件循环：poll -> 逐个分发就绪 channel -> 执行投递任务。
func (l *EventLoop) Loop() {
	l.looping.Store(true)
	l.quit.Store(false)

	logger.Info().Uint64("goroutine", l.gid).Msg("event loop start")

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		l.pollReturnT = l.poller.Poll(int(l.pollTimeMs.Load()), &l.activeChannels)
		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.HandleEvent(l.pollReturnT)
		}
		l.currentActiveChannel = nil
		l.doPendingFunctors()
	}

	logger.Info().Uint64("goroutine", l.gid).Msg("event loop stop")
	l.looping.Store(false)
}

// Quit 协作式退出：当前迭代收尾后结束。
// 从其他线程调用时写 wakeup，让阻塞中的 poll 立即返回。
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.Wakeup()
	}
}

// RunInLoop 在属主线程上同步执行 f，否则投递到队列。
func (l *EventLoop) RunInLoop(f func()) {
	if l.IsInLoopThread() {
		f()
	} else {
		l.QueueInLoop(f)
	}
}

// QueueInLoop 把 f 入队。跨线程投递、或 loop 正在执行回调队列时
// 必须写 wakeup：后者入队的新任务否则要等到下一次事件才会被执行。
func (l *EventLoop) QueueInLoop(f func()) {
	l.mu.Lock()
	l.pendingFunctors.Add(f)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPendingFunctors.Load() {
		l.Wakeup()
	}
}

// Wakeup 向 wakeup 描述符写入 8 字节计数 1。
func (l *EventLoop) Wakeup() {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	n, err := unix.Write(l.wakeupWriteFd, one[:])
	if err != nil || n != len(one) {
		logger.Error().Err(err).Int("n", n).Msg("wakeup write")
	}
}

// handleWakeup 清空 wakeup 描述符的 8 字节计数。
func (l *EventLoop) handleWakeup(time.Time) {
	var one [8]byte
	n, err := unix.Read(l.wakeupFd, one[:])
	if err != nil || n != len(one) {
		logger.Error().Err(err).Int("n", n).Msg("wakeup read")
	}
}

// doPendingFunctors 先换出整个队列再逐个执行，临界区 O(1)；
// 执行期间入队的任务留待下一轮，回调可安全地继续投递。
func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors.Store(true)

	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = queue.New()
	l.mu.Unlock()

	for functors.Length() > 0 {
		functors.Remove().(func())()
	}
	l.callingPendingFunctors.Store(false)
}

// UpdateChannel/RemoveChannel/HasChannel 转发给 poller；只允许属主线程调用。
func (l *EventLoop) UpdateChannel(ch *Channel) { l.poller.UpdateChannel(ch) }
func (l *EventLoop) RemoveChannel(ch *Channel) { l.poller.RemoveChannel(ch) }
func (l *EventLoop) HasChannel(ch *Channel) bool {
	return l.poller.HasChannel(ch)
}

// IsInLoopThread 判断当前 goroutine 是否为属主。
func (l *EventLoop) IsInLoopThread() bool { return l.gid == currentGoroutineID() }

// PollReturnTime 返回最近一次 poll 醒来的时刻。
func (l *EventLoop) PollReturnTime() time.Time { return l.pollReturnT }

// SetPollTimeout 调整 poll 超时上限（默认 10s）。
func (l *EventLoop) SetPollTimeout(d time.Duration) {
	if d > 0 {
		l.pollTimeMs.Store(int64(d / time.Millisecond))
	}
}
