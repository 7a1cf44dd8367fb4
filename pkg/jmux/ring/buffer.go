// Package ring provides a fixed-size ring buffer used to back JMUX channel
// receive windows.
package ring

import (
	"errors"
	"io"
)

// ErrBufferFull is the error returned by Buffer if a storage operation can't
// be completed due to a lack of space in the buffer.
var ErrBufferFull = errors.New("buffer full")

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Buffer is a fixed-size ring buffer for storing bytes. Its behavior is
// designed to match that of bytes.Buffer as closely as possible. The zero
// value for Buffer is a buffer with zero capacity.
type Buffer struct {
	// storage is the buffer's underlying storage.
	storage []byte
	// size is the storage buffer size, cached for performance.
	size int
	// start is the data start index, restricted to the range [0, size).
	start int
	// used is the number of bytes currently stored, restricted to [0, size].
	used int
}

// NewBuffer creates a new ring buffer with the specified size. If size is
// less than or equal to 0, then a buffer with zero capacity is created.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		return &Buffer{}
	}
	return &Buffer{
		storage: make([]byte, size),
		size:    size,
	}
}

// Size returns the size of the buffer.
func (b *Buffer) Size() int {
	return b.size
}

// Used returns how many bytes currently reside in the buffer.
func (b *Buffer) Used() int {
	return b.used
}

// Free returns the unused buffer capacity.
func (b *Buffer) Free() int {
	return b.size - b.used
}

// Reset clears all data within the buffer.
func (b *Buffer) Reset() {
	b.start = 0
	b.used = 0
}

// Write implements io.Writer.
func (b *Buffer) Write(data []byte) (int, error) {
	var result int
	for len(data) > 0 && b.used != b.size {
		freeStart := (b.start + b.used) % b.size
		free := b.storage[freeStart:min(freeStart+(b.size-b.used), b.size)]
		copied := copy(free, data)
		result += copied
		data = data[copied:]
		b.used += copied
	}
	if len(data) > 0 && b.used == b.size {
		return result, ErrBufferFull
	}
	return result, nil
}

// WriteByte implements io.ByteWriter.
func (b *Buffer) WriteByte(value byte) error {
	if b.used == b.size {
		return ErrBufferFull
	}
	freeStart := (b.start + b.used) % b.size
	b.storage[freeStart] = value
	b.used++
	return nil
}

// ReadNFrom reads exactly n bytes from reader into the buffer, unless storage
// is exhausted or a read error (including io.EOF) occurs first. It exists
// because a limited-capacity buffer can't reliably detect EOF arriving
// exactly when its storage fills via the ordinary io.ReaderFrom contract.
func (b *Buffer) ReadNFrom(reader io.Reader, n int) (int, error) {
	var read, result int
	var err error
	for n > 0 && b.used != b.size && err == nil {
		freeStart := (b.start + b.used) % b.size
		free := b.storage[freeStart:min(freeStart+(b.size-b.used), b.size)]
		if len(free) > n {
			free = free[:n]
		}
		read, err = reader.Read(free)
		result += read
		b.used += read
		n -= read
	}
	if n > 0 && b.used == b.size && err == nil {
		err = ErrBufferFull
	}
	if err == io.EOF && n == 0 {
		err = nil
	}
	return result, err
}

// Read implements io.Reader.
func (b *Buffer) Read(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	} else if b.used == 0 {
		return 0, io.EOF
	}
	var result int
	for len(buffer) > 0 && b.used > 0 {
		data := b.storage[b.start:min(b.start+b.used, b.size)]
		copied := copy(buffer, data)
		result += copied
		buffer = buffer[copied:]
		b.start += copied
		b.start %= b.size
		b.used -= copied
	}
	if b.used == 0 {
		b.start = 0
	}
	return result, nil
}

// ReadByte implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	if b.used == 0 {
		return 0, io.EOF
	}
	result := b.storage[b.start]
	b.start++
	b.start %= b.size
	b.used--
	if b.used == 0 {
		b.start = 0
	}
	return result, nil
}

// WriteTo implements io.WriterTo.
func (b *Buffer) WriteTo(writer io.Writer) (int64, error) {
	var written int
	var result int64
	var err error
	for b.used > 0 && err == nil {
		data := b.storage[b.start:min(b.start+b.used, b.size)]
		written, err = writer.Write(data)
		result += int64(written)
		b.start += written
		b.start %= b.size
		b.used -= written
	}
	if b.used == 0 {
		b.start = 0
	}
	return result, err
}
