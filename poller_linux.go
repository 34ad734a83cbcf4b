//go:build linux

package nio

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller 为 Linux 下的水平触发实现。
type epollPoller struct {
	epfd     int
	events   []unix.EpollEvent
	channels channelMap
}

func newDefaultPoller() (Poller, error) {
	return newEpollPoller()
}

func newEpollPoller() (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, kInitEventListSize),
		channels: make(channelMap),
	}, nil
}

func (p *epollPoller) Close() {
	unix.Close(p.epfd)
}

func (p *epollPoller) Poll(timeoutMs int, activeChannels *[]*Channel) time.Time {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	now := time.Now()
	if err != nil {
		if err != unix.EINTR {
			logger.Error().Err(err).Msg("epoll_wait")
		}
		return now
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(eventsFromEpoll(ev.Events))
		*activeChannels = append(*activeChannels, ch)
	}
	// 事件列表装满说明容量偏小，下一轮翻倍
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, 2*len(p.events))
	}
	return now
}

// 调用链：Channel.update -> EventLoop.UpdateChannel -> 此处
func (p *epollPoller) UpdateChannel(ch *Channel) {
	index := ch.Index()
	if index == kPollerNew || index == kPollerDeleted {
		if index == kPollerNew {
			p.channels[ch.Fd()] = ch
		}
		ch.SetIndex(kPollerAdded)
		p.update(unix.EPOLL_CTL_ADD, ch)
	} else {
		if ch.IsNoneEvent() {
			p.update(unix.EPOLL_CTL_DEL, ch)
			ch.SetIndex(kPollerDeleted)
		} else {
			p.update(unix.EPOLL_CTL_MOD, ch)
		}
	}
}

func (p *epollPoller) RemoveChannel(ch *Channel) {
	delete(p.channels, ch.Fd())
	if ch.Index() == kPollerAdded {
		p.update(unix.EPOLL_CTL_DEL, ch)
	}
	ch.SetIndex(kPollerNew)
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	return p.channels.has(ch)
}

func (p *epollPoller) update(op int, ch *Channel) {
	ev := unix.EpollEvent{Events: eventsToEpoll(ch.Events()), Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(p.epfd, op, ch.Fd(), &ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			logger.Error().Err(err).Int("fd", ch.Fd()).Msg("epoll_ctl del")
		} else {
			logger.Fatal().Err(err).Int("fd", ch.Fd()).Msg("epoll_ctl add/mod")
		}
	}
}

func eventsToEpoll(events int) uint32 {
	var e uint32
	if events&kReadEvent != 0 {
		e |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if events&kWriteEvent != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func eventsFromEpoll(e uint32) int {
	var events int
	if e&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		events |= kReadEvent
	}
	if e&unix.EPOLLOUT != 0 {
		events |= kWriteEvent
	}
	if e&unix.EPOLLHUP != 0 {
		events |= kCloseEvent
	}
	if e&unix.EPOLLERR != 0 {
		events |= kErrorEvent
	}
	return events
}
