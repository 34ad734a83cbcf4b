package nio

import "time"

// 平台无关的事件掩码；由各 Poller 实现与 epoll/kqueue 事件互译。
const (
	kNoneEvent  = 0
	kReadEvent  = 1 << 0 // 可读（含紧急数据）
	kWriteEvent = 1 << 1
	kCloseEvent = 1 << 2 // 对端挂断
	kErrorEvent = 1 << 3
)

// Channel 把一个描述符与其关注事件、就绪事件以及四个回调绑在一起。
// 由唯一的 EventLoop 持有并驱动；自身不拥有描述符。
type Channel struct {
	loop *EventLoop
	fd   int

	events  int // 关注的事件
	revents int // poller 返回的就绪事件
	index   int // poller 侧登记状态：kPollerNew/kPollerAdded/kPollerDeleted

	// tie 保存属主（TcpConnection）的引用；channel 持有该引用，
	// 属主因而存活到回调结束。
	tie  any
	tied bool

	readCallback  func(receiveTime time.Time)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: kPollerNew}
}

func (c *Channel) SetReadCallback(cb func(receiveTime time.Time)) { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb func())                     { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb func())                     { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb func())                     { c.errorCallback = cb }

// Tie 在 TcpConnection 建立时调用，记录属主；此后 tie 被置空时 HandleEvent 跳过分发。
func (c *Channel) Tie(owner any) {
	c.tie = owner
	c.tied = true
}

func (c *Channel) Fd() int     { return c.fd }
func (c *Channel) Events() int { return c.events }

// SetRevents 由 poller 在分发前调用。
func (c *Channel) SetRevents(revents int) { c.revents = revents }

func (c *Channel) EnableReading()  { c.events |= kReadEvent; c.update() }
func (c *Channel) DisableReading() { c.events &^= kReadEvent; c.update() }
func (c *Channel) EnableWriting()  { c.events |= kWriteEvent; c.update() }
func (c *Channel) DisableWriting() { c.events &^= kWriteEvent; c.update() }
func (c *Channel) DisableAll()     { c.events = kNoneEvent; c.update() }

func (c *Channel) IsNoneEvent() bool { return c.events == kNoneEvent }
func (c *Channel) IsWriting() bool   { return c.events&kWriteEvent != 0 }
func (c *Channel) IsReading() bool   { return c.events&kReadEvent != 0 }

func (c *Channel) Index() int         { return c.index }
func (c *Channel) SetIndex(index int) { c.index = index }

// one loop per goroutine
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

// update 经由所属 loop 把关注事件同步进 poller。
func (c *Channel) update() {
	c.loop.UpdateChannel(c)
}

// Remove 把当前 channel 从所属 loop 的 poller 中删除。
func (c *Channel) Remove() {
	c.loop.RemoveChannel(c)
}

// HandleEvent 由所属 loop 在事件就绪后调用。
// 绑定过属主但引用已被解除时跳过分发。
func (c *Channel) HandleEvent(receiveTime time.Time) {
	if c.tied && c.tie == nil {
		return
	}
	c.handleEventWithGuard(receiveTime)
}

// handleEventWithGuard 按固定顺序分发：close -> error -> read -> write。
// 挂断且无可读数据时才走 close，保证同时到达的 close+read
// 在数据读尽之后才收敛为关闭。
func (c *Channel) handleEventWithGuard(receiveTime time.Time) {
	logger.Debug().Int("fd", c.fd).Int("revents", c.revents).Msg("channel handle event")

	if c.revents&kCloseEvent != 0 && c.revents&kReadEvent == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&kErrorEvent != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&kReadEvent != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&kWriteEvent != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
