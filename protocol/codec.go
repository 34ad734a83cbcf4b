// Package protocol 在原始字节流之上提供可选的帧定界：
// 变长头（含压缩标记）+ 帧体，压缩走 zstd。
// 服务端核心不强加任何帧格式；该包供需要消息边界的应用叠加使用。
package protocol

import "errors"

// ErrIncomplete 表示字节不足一个完整头部；流式调用方续读即可。
var ErrIncomplete = errors.New("protocol: incomplete frame")

// Encode 把 payload 编为单帧；compressed 为真时帧体经 zstd 压缩。
func Encode(payload []byte, compressed bool) ([]byte, error) {
	body := payload
	if compressed {
		zw := getEncoder()
		body = zw.EncodeAll(payload, nil)
		putEncoder(zw)
	}
	hdr, _, err := EncodeHeader(len(body), compressed)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(hdr)+len(body))
	out = append(out, hdr...)
	out = append(out, body...)
	return out, nil
}

// Parse 从 buf 中解析尽可能多的完整帧，对每帧回调 onFrame；
// 返回已消费的字节数。半帧留在 buf 尾部等待更多数据。
func Parse(buf []byte, onFrame func(payload []byte) error) (consumed int, _ error) {
	i := 0
	for {
		if len(buf[i:]) < 2 {
			return i, nil
		}
		c, length, compressed, err := DecodeHeader(buf[i:])
		if err != nil {
			if err == ErrIncomplete {
				// 半个头：等待更多数据，不算错误
				return i, nil
			}
			return i, err
		}
		if len(buf[i+c:]) < length {
			return i, nil
		}
		payload := buf[i+c : i+c+length]
		if compressed {
			dz := getDecoder()
			out, derr := dz.DecodeAll(payload, nil)
			putDecoder(dz)
			if derr != nil {
				return i, derr
			}
			payload = out
		}
		if err := onFrame(payload); err != nil {
			return i, err
		}
		i += c + length
	}
}
