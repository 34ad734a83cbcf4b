//go:build linux || darwin

package nio

import "golang.org/x/sys/unix"

// ReadFd 用 readv 一次读入（可写区，64KiB 栈上溢出区）两段。
// 单次系统调用即可吃下大突发，又不必预先撑大缓冲；
// 溢出区命中的部分再经 Append 落回缓冲。
// 返回读到的字节数；出错时返回 -1 与错误。
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [64 << 10]byte
	writable := b.WritableBytes()
	iov := [][]byte{b.buf[b.writerIndex:], extra[:]}
	n, err := unix.Readv(fd, iov)
	if err != nil {
		return -1, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// WriteFd 把可读区写入 fd；不推进 readerIndex，由调用方按返回值 Retrieve。
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n < 0 {
		n = 0
	}
	return n, err
}
