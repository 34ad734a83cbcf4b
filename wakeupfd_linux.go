//go:build linux

package nio

import "golang.org/x/sys/unix"

// newWakeupFd 创建非阻塞 CLOEXEC 的 eventfd；读写共用同一描述符。
func newWakeupFd() (rfd, wfd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func closeWakeupFd(rfd, wfd int) {
	unix.Close(rfd)
}
