package spec

import (
	"errors"
	"fmt"
)

var ErrBufferBounds = errors.New("mapfile: read past buffer bounds")

// ReadBuffer is a positioned cursor over a fixed byte slice. Every read
// advances the cursor and fails with ErrBufferBounds instead of reading
// past the end.
type ReadBuffer struct {
	data []byte
	pos  int
}

func NewReadBuffer(data []byte) *ReadBuffer {
	return &ReadBuffer{data: data}
}

func (b *ReadBuffer) Size() int {
	return len(b.data)
}

func (b *ReadBuffer) Position() int {
	return b.pos
}

func (b *ReadBuffer) SetPosition(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return fmt.Errorf("%w: position %d, size %d", ErrBufferBounds, pos, len(b.data))
	}
	b.pos = pos
	return nil
}

func (b *ReadBuffer) Skip(n int) error {
	return b.SetPosition(b.pos + n)
}

func (b *ReadBuffer) Remaining() int {
	return len(b.data) - b.pos
}

func (b *ReadBuffer) ReadByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, fmt.Errorf("%w: position %d, size %d", ErrBufferBounds, b.pos, len(b.data))
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *ReadBuffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.pos+n > len(b.data) {
		return nil, fmt.Errorf("%w: %d bytes at position %d, size %d", ErrBufferBounds, n, b.pos, len(b.data))
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

// ReadUintN reads a big-endian unsigned integer of 1 to 8 bytes.
func (b *ReadBuffer) ReadUintN(n int) (uint64, error) {
	if n < 1 || n > 8 {
		return 0, fmt.Errorf("mapfile: invalid integer width %d", n)
	}
	raw, err := b.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range raw {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func (b *ReadBuffer) ReadUint16() (uint16, error) {
	v, err := b.ReadUintN(2)
	return uint16(v), err
}

func (b *ReadBuffer) ReadUint32() (uint32, error) {
	v, err := b.ReadUintN(4)
	return uint32(v), err
}

func (b *ReadBuffer) ReadUint64() (uint64, error) {
	return b.ReadUintN(8)
}

// ReadVarUint reads a variable-length unsigned integer. The most
// significant bit of each byte flags a continuation.
func (b *ReadBuffer) ReadVarUint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		c, err := b.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift > 63 {
			return 0, fmt.Errorf("mapfile: variable integer overflow at position %d", b.pos)
		}
		if c&0x80 == 0 {
			return v | uint64(c)<<shift, nil
		}
		v |= uint64(c&0x7f) << shift
		shift += 7
	}
}

// ReadVarInt reads a variable-length signed integer. Continuation bytes
// carry 7 value bits; the final byte carries 6 value bits and the sign in
// bit 6.
func (b *ReadBuffer) ReadVarInt() (int64, error) {
	var v int64
	var shift uint
	for {
		c, err := b.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift > 63 {
			return 0, fmt.Errorf("mapfile: variable integer overflow at position %d", b.pos)
		}
		if c&0x80 == 0 {
			v |= int64(c&0x3f) << shift
			if c&0x40 != 0 {
				v = -v
			}
			return v, nil
		}
		v |= int64(c&0x7f) << shift
		shift += 7
	}
}

// ReadString reads a string prefixed with its byte length as a
// variable-length unsigned integer.
func (b *ReadBuffer) ReadString() (string, error) {
	length, err := b.ReadVarUint()
	if err != nil {
		return "", err
	}
	if length > uint64(b.Remaining()) {
		return "", fmt.Errorf("%w: string of %d bytes at position %d, size %d", ErrBufferBounds, length, b.pos, len(b.data))
	}
	raw, err := b.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
