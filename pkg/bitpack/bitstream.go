package bitpack

import (
	"errors"
	"math"
)

// ErrShortBuffer 读取越过数据末尾
var ErrShortBuffer = errors.New("bitpack: 数据不足")

// ErrBitCount 位数超出 1..64 范围
var ErrBitCount = errors.New("bitpack: 非法位数")

// Writer 按位写入缓冲区（高位优先）
type Writer struct {
	buf  []byte
	nbit int
}

// NewWriter 创建写入器，capHint 为预估字节数
func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

// Len 已写入的位数
func (w *Writer) Len() int {
	return w.nbit
}

// Bytes 返回写入结果，末尾不足一字节的部分补零
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reset 清空缓冲区以便复用
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.nbit = 0
}

// WriteBool 写入 1 位
func (w *Writer) WriteBool(b bool) {
	if w.nbit%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[len(w.buf)-1] |= 0x80 >> uint(w.nbit%8)
	}
	w.nbit++
}

// WriteBits 写入 v 的低 n 位
func (w *Writer) WriteBits(v uint64, n int) {
	if n <= 0 || n > 64 {
		panic(ErrBitCount)
	}
	for i := n - 1; i >= 0; i-- {
		w.WriteBool(v&(1<<uint(i)) != 0)
	}
}

// WriteFloat32 写入 IEEE754 单精度
func (w *Writer) WriteFloat32(f float32) {
	w.WriteBits(uint64(math.Float32bits(f)), 32)
}

// WriteFloat64 写入 IEEE754 双精度
func (w *Writer) WriteFloat64(f float64) {
	w.WriteBits(math.Float64bits(f), 64)
}

// Reader 按位读取（与 Writer 对应）
// 出错后所有读取返回零值，调用方最后检查 Err
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader 创建读取器
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err 返回第一次读取失败的错误
func (r *Reader) Err() error {
	return r.err
}

// Remaining 剩余可读位数
func (r *Reader) Remaining() int {
	return len(r.buf)*8 - r.pos
}

// ReadBool 读取 1 位
func (r *Reader) ReadBool() bool {
	if r.err != nil {
		return false
	}
	if r.pos >= len(r.buf)*8 {
		r.err = ErrShortBuffer
		return false
	}
	b := r.buf[r.pos/8]&(0x80>>uint(r.pos%8)) != 0
	r.pos++
	return b
}

// ReadBits 读取 n 位无符号整数
func (r *Reader) ReadBits(n int) uint64 {
	if n <= 0 || n > 64 {
		if r.err == nil {
			r.err = ErrBitCount
		}
		return 0
	}
	if r.err == nil && r.Remaining() < n {
		r.err = ErrShortBuffer
	}
	if r.err != nil {
		return 0
	}
	var v uint64
	for i := 0; i < n; i++ {
		v <<= 1
		if r.ReadBool() {
			v |= 1
		}
	}
	return v
}

// ReadFloat32 读取单精度
func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(uint32(r.ReadBits(32)))
}

// ReadFloat64 读取双精度
func (r *Reader) ReadFloat64() float64 {
	return math.Float64frombits(r.ReadBits(64))
}
