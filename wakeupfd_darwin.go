//go:build darwin

package nio

import "golang.org/x/sys/unix"

// newWakeupFd 在无 eventfd 的平台用非阻塞管道对代替，
// 读端注册进 poller，写端用于唤醒。
func newWakeupFd() (rfd, wfd int, err error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	rfd, wfd = p[0], p[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	unix.CloseOnExec(rfd)
	unix.CloseOnExec(wfd)
	return rfd, wfd, nil
}

func closeWakeupFd(rfd, wfd int) {
	unix.Close(rfd)
	unix.Close(wfd)
}
