// Package client 提供一个最小的阻塞式客户端，走标准库 net 与 protocol 帧，
// 作为 reactor 服务端的对端，用于示例与联调。
package client

import (
	"net"
	"sync"

	"github.com/legamerdc/nio/protocol"
	"github.com/rs/zerolog/log"
)

type Handler interface {
	OnOpen(c *Client)
	OnMessage(c *Client, payload []byte)
	OnClose(c *Client, err error)
}

type Client struct {
	conn net.Conn
	mu   sync.Mutex
	// 接收缓冲，跨多次 Read 累积，避免半帧丢失
	rb []byte
}

func Dial(network, address string, h Handler) (*Client, error) {
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: nc}
	go h.OnOpen(c)
	go c.readLoop(h)
	return c, nil
}

func (c *Client) readLoop(h Handler) {
	buf := make([]byte, 64<<10)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.rb = append(c.rb, buf[:n]...)
			for {
				consumed, perr := protocol.Parse(c.rb, func(payload []byte) error {
					h.OnMessage(c, payload)
					return nil
				})
				if perr != nil {
					log.Error().Err(perr).Msg("client: parse")
				}
				if consumed == 0 {
					break
				}
				// 滑动缓冲：保留未消费部分
				c.rb = append(c.rb[:0], c.rb[consumed:]...)
			}
		}
		if err != nil {
			h.OnClose(c, err)
			return
		}
	}
}

// Write 编一帧并写出；compressed 为真时帧体压缩。
func (c *Client) Write(payload []byte, compressed bool) error {
	frame, err := protocol.Encode(payload, compressed)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

func (c *Client) Close() error { return c.conn.Close() }
