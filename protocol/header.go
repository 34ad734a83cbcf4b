package protocol

import (
	"encoding/binary"
	"errors"
)

// 帧头编码（网络字节序）：
// 短头（2B）：
//   bit15: Compressed
//   bit14: Ext=0 (短头)
//   bit13..0: Len14 (0..16383)
// 长头（4B）：
//   bit31: Compressed
//   bit30: Ext=1 (长头)
//   bit29..0: Len30
// 帧体为原始字节流，库核心不感知该格式；编解码留给需要定界的使用方。

const (
	shortHeadMaxLen = (1 << 14) - 1
	longHeadMaxLen  = (1 << 30) - 1
)

var errLengthOutOfRange = errors.New("protocol: length out of range")

// EncodeHeader 返回 2 或 4 字节的头部与是否为长头。
func EncodeHeader(length int, compressed bool) (hdr []byte, isLong bool, _ error) {
	if length < 0 || length > longHeadMaxLen {
		return nil, false, errLengthOutOfRange
	}
	if length <= shortHeadMaxLen {
		var v uint16
		if compressed {
			v |= 1 << 15
		}
		// bit14=0 表示短头
		v |= uint16(length) & 0x3FFF
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, v)
		return buf, false, nil
	}
	v := uint32(1) << 30 // Ext=1
	if compressed {
		v |= 1 << 31
	}
	v |= uint32(length) & 0x3FFFFFFF
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf, true, nil
}

// DecodeHeader 解码头部，返回已消费字节数、帧体长度与压缩标记。
// 字节不足以容纳头部时返回 ErrIncomplete。
func DecodeHeader(b []byte) (consumed int, length int, compressed bool, _ error) {
	if len(b) < 2 {
		return 0, 0, false, ErrIncomplete
	}
	v16 := binary.BigEndian.Uint16(b[:2])
	ext := (v16>>14)&0x1 == 1
	if !ext {
		compressed = (v16>>15)&0x1 == 1
		length = int(v16 & 0x3FFF)
		return 2, length, compressed, nil
	}
	if len(b) < 4 {
		return 0, 0, false, ErrIncomplete
	}
	v32 := binary.BigEndian.Uint32(b[:4])
	compressed = (v32>>31)&0x1 == 1
	length = int(v32 & 0x3FFFFFFF)
	return 4, length, compressed, nil
}
