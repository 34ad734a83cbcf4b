//go:build darwin

package nio

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller 为 Darwin 下的水平触发实现（不带 EV_CLEAR）。
// 读写两个 filter 始终登记，用 EV_ENABLE/EV_DISABLE 表达关注集，
// 避免对未登记 filter 执行 EV_DELETE 报错。
type kqueuePoller struct {
	kq       int
	events   []unix.Kevent_t
	channels channelMap
}

func newDefaultPoller() (Poller, error) {
	return newKqueuePoller()
}

func newKqueuePoller() (*kqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:       kq,
		events:   make([]unix.Kevent_t, kInitEventListSize),
		channels: make(channelMap),
	}, nil
}

func (p *kqueuePoller) Close() {
	unix.Close(p.kq)
}

func (p *kqueuePoller) Poll(timeoutMs int, activeChannels *[]*Channel) time.Time {
	ts := unix.NsecToTimespec(int64(timeoutMs) * int64(time.Millisecond))
	n, err := unix.Kevent(p.kq, nil, p.events, &ts)
	now := time.Now()
	if err != nil {
		if err != unix.EINTR {
			logger.Error().Err(err).Msg("kevent wait")
		}
		return now
	}
	// 同一 fd 的读写 filter 会产生两条 kevent，先归并为一份 revents
	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		revents := eventsFromKevent(ev)
		if seen[fd] {
			ch.SetRevents(ch.revents | revents)
			continue
		}
		seen[fd] = true
		ch.SetRevents(revents)
		*activeChannels = append(*activeChannels, ch)
	}
	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, 2*len(p.events))
	}
	return now
}

func (p *kqueuePoller) UpdateChannel(ch *Channel) {
	index := ch.Index()
	if index == kPollerNew || index == kPollerDeleted {
		if index == kPollerNew {
			p.channels[ch.Fd()] = ch
		}
		ch.SetIndex(kPollerAdded)
		p.apply(ch)
	} else {
		if ch.IsNoneEvent() {
			p.apply(ch)
			ch.SetIndex(kPollerDeleted)
		} else {
			p.apply(ch)
		}
	}
}

func (p *kqueuePoller) RemoveChannel(ch *Channel) {
	delete(p.channels, ch.Fd())
	if ch.Index() == kPollerAdded {
		changes := []unix.Kevent_t{
			{Ident: uint64(ch.Fd()), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
			{Ident: uint64(ch.Fd()), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
		}
		// filter 可能本就未登记，删除失败不作处理
		_, _ = unix.Kevent(p.kq, changes, nil, nil)
	}
	ch.SetIndex(kPollerNew)
}

func (p *kqueuePoller) HasChannel(ch *Channel) bool {
	return p.channels.has(ch)
}

func (p *kqueuePoller) apply(ch *Channel) {
	flag := func(on bool) uint16 {
		if on {
			return unix.EV_ADD | unix.EV_ENABLE
		}
		return unix.EV_ADD | unix.EV_DISABLE
	}
	changes := []unix.Kevent_t{
		{Ident: uint64(ch.Fd()), Filter: unix.EVFILT_READ, Flags: flag(ch.IsReading())},
		{Ident: uint64(ch.Fd()), Filter: unix.EVFILT_WRITE, Flags: flag(ch.IsWriting())},
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		logger.Fatal().Err(err).Int("fd", ch.Fd()).Msg("kevent change")
	}
}

func eventsFromKevent(ev unix.Kevent_t) int {
	var events int
	switch ev.Filter {
	case unix.EVFILT_READ:
		events |= kReadEvent
	case unix.EVFILT_WRITE:
		events |= kWriteEvent
	}
	if ev.Flags&unix.EV_EOF != 0 {
		events |= kCloseEvent
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		events |= kErrorEvent
	}
	return events
}
