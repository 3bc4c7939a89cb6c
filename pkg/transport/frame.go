package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize 单条消息的最大字节数
const MaxFrameSize = 4096

var (
	// ErrFrameTooLarge 长度前缀超过 MaxFrameSize
	ErrFrameTooLarge = errors.New("消息过大")
	// ErrEmptyFrame 长度为 0 的帧
	ErrEmptyFrame = errors.New("空消息")
)

// WriteFrame 写入 4 字节大端长度前缀与消息体，合并为一次 Write
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame 读取一条消息。长度为 0 的帧返回 ErrEmptyFrame，调用方可以跳过继续读
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("读取消息体失败: %w", err)
	}
	return data, nil
}
