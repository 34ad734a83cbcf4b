package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundtrip(t *testing.T) {
	frame, err := Encode([]byte("hello"), false)
	require.NoError(t, err)
	// 短头 2 字节 + 帧体
	assert.Equal(t, 2+5, len(frame))

	var got [][]byte
	consumed, err := Parse(frame, func(payload []byte) error {
		got = append(got, append([]byte(nil), payload...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(frame), consumed)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("hello"), got[0])
}

func TestEncodeLongHeader(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, shortHeadMaxLen+1)
	frame, err := Encode(payload, false)
	require.NoError(t, err)
	assert.Equal(t, 4+len(payload), len(frame))

	var got []byte
	consumed, err := Parse(frame, func(p []byte) error {
		got = append([]byte(nil), p...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, payload, got)
}

func TestEncodeCompressed(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 4096)
	frame, err := Encode(payload, true)
	require.NoError(t, err)
	// 重复数据压缩后帧应明显小于原文
	assert.Less(t, len(frame), len(payload)/2)

	var got []byte
	consumed, err := Parse(frame, func(p []byte) error {
		got = append([]byte(nil), p...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, payload, got)
}

// 半帧驻留缓冲，补齐后一次性吐出；一个缓冲内的多帧逐一回调。
func TestParsePartialAndMultiple(t *testing.T) {
	f1, err := Encode([]byte("first"), false)
	require.NoError(t, err)
	f2, err := Encode([]byte("second"), false)
	require.NoError(t, err)

	stream := append(append([]byte(nil), f1...), f2...)

	var got []string
	onFrame := func(p []byte) error {
		got = append(got, string(p))
		return nil
	}

	// 只给半个头
	consumed, err := Parse(stream[:1], onFrame)
	require.NoError(t, err)
	assert.Zero(t, consumed)
	assert.Empty(t, got)

	// 给到第一帧中途
	consumed, err = Parse(stream[:len(f1)-2], onFrame)
	require.NoError(t, err)
	assert.Zero(t, consumed)
	assert.Empty(t, got)

	// 完整喂入：两帧都出
	consumed, err = Parse(stream, onFrame)
	require.NoError(t, err)
	assert.Equal(t, len(stream), consumed)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestHeaderBounds(t *testing.T) {
	_, _, err := EncodeHeader(-1, false)
	assert.Error(t, err)
	_, _, err = EncodeHeader(longHeadMaxLen+1, false)
	assert.Error(t, err)

	hdr, isLong, err := EncodeHeader(shortHeadMaxLen, true)
	require.NoError(t, err)
	assert.False(t, isLong)
	c, length, compressed, err := DecodeHeader(hdr)
	require.NoError(t, err)
	assert.Equal(t, 2, c)
	assert.Equal(t, shortHeadMaxLen, length)
	assert.True(t, compressed)

	// 头部本身不完整
	_, _, _, err = DecodeHeader(hdr[:1])
	assert.ErrorIs(t, err, ErrIncomplete)

	longHdr, isLong, err := EncodeHeader(shortHeadMaxLen+1, false)
	require.NoError(t, err)
	assert.True(t, isLong)
	_, _, _, err = DecodeHeader(longHdr[:3])
	assert.ErrorIs(t, err, ErrIncomplete)
}
