package ring

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// operation represents an operation on a Buffer.
type operation interface {
	perform(buffer *Buffer) error
}

type write struct {
	data   []byte
	result int
	err    error
}

func (w *write) perform(buffer *Buffer) error {
	if result, err := buffer.Write(w.data); err != w.err {
		if err == nil {
			return errors.New("unexpectedly nil error")
		}
		return err
	} else if result != w.result {
		return errors.New("Write returned unexpected count")
	}
	return nil
}

type writeByte struct {
	value byte
	err   error
}

func (w *writeByte) perform(buffer *Buffer) error {
	if err := buffer.WriteByte(w.value); err != w.err {
		if err == nil {
			return errors.New("unexpectedly nil error")
		}
		return err
	}
	return nil
}

type readNFrom struct {
	data   []byte
	n      int
	result int
	err    error
}

func (r *readNFrom) perform(buffer *Buffer) error {
	source := bytes.NewReader(r.data)
	if result, err := buffer.ReadNFrom(source, r.n); err != r.err {
		if err == nil {
			return errors.New("unexpectedly nil error")
		}
		return err
	} else if result != r.result {
		return errors.New("ReadNFrom returned unexpected count")
	} else if result+source.Len() != len(r.data) {
		return errors.New("ReadNFrom reported incorrect number of bytes")
	}
	return nil
}

// sameCallEOFReader fills a buffer and returns io.EOF on the same call.
type sameCallEOFReader struct{}

func (r *sameCallEOFReader) Read(buffer []byte) (int, error) {
	return len(buffer), io.EOF
}

type readNFromEOFSameCall struct {
	n int
}

func (r *readNFromEOFSameCall) perform(buffer *Buffer) error {
	if result, err := buffer.ReadNFrom(&sameCallEOFReader{}, r.n); err != nil {
		return err
	} else if result != r.n {
		return errors.New("unexpected result count")
	}
	return nil
}

type read struct {
	buffer   []byte
	expected []byte
	result   int
	err      error
}

func (r *read) perform(buffer *Buffer) error {
	if len(r.buffer) != len(r.expected) {
		return errors.New("invalid read operation specification")
	} else if result, err := buffer.Read(r.buffer); err != r.err {
		if err == nil {
			return errors.New("unexpectedly nil error")
		}
		return err
	} else if result != r.result {
		return errors.New("Read returned unexpected count")
	} else if !bytes.Equal(r.buffer, r.expected) {
		return errors.New("Read results do not match expected")
	}
	return nil
}

type readByte struct {
	result byte
	err    error
}

func (r *readByte) perform(buffer *Buffer) error {
	if result, err := buffer.ReadByte(); err != r.err {
		if err == nil {
			return errors.New("unexpectedly nil error")
		}
		return err
	} else if result != r.result {
		return errors.New("ReadByte returned unexpected value")
	}
	return nil
}

type writeTo struct {
	expected []byte
}

func (w *writeTo) perform(buffer *Buffer) error {
	destination := &bytes.Buffer{}
	if result, err := buffer.WriteTo(destination); err != nil {
		return err
	} else if result != int64(destination.Len()) {
		return errors.New("WriteTo reported incorrect number of bytes")
	} else if destination.Len() != len(w.expected) {
		return errors.New("number of bytes written does not match expected")
	} else if !bytes.Equal(destination.Bytes(), w.expected) {
		return errors.New("bytes written do not match expected")
	}
	return nil
}

// TestBuffer exercises Buffer across its zero value, fresh allocations, and
// pre-populated wraparound states, following the same state-machine-style
// fixture the channel receive buffers rely on in production.
func TestBuffer(t *testing.T) {
	tests := []struct {
		buffer     *Buffer
		size       int
		operations []operation
		expected   *Buffer
	}{
		{&Buffer{}, 0, []operation{&write{nil, 0, nil}}, &Buffer{}},

		{nil, -1, nil, &Buffer{}},
		{nil, 0, nil, &Buffer{}},
		{nil, 1, nil, &Buffer{storage: make([]byte, 1), size: 1}},
		{nil, 4, nil, &Buffer{storage: make([]byte, 4), size: 4}},

		{
			nil, 1,
			[]operation{&write{[]byte{1}, 1, nil}},
			&Buffer{storage: []byte{1}, size: 1, used: 1},
		},
		{
			nil, 1,
			[]operation{
				&write{[]byte{1}, 1, nil},
				&write{[]byte{2}, 0, ErrBufferFull},
			},
			&Buffer{storage: []byte{1}, size: 1, used: 1},
		},
		{
			nil, 2,
			[]operation{&write{[]byte{1, 2}, 2, nil}},
			&Buffer{storage: []byte{1, 2}, size: 2, used: 2},
		},
		{
			&Buffer{storage: []byte{0, 0, 1, 0}, size: 4, start: 2, used: 1}, 0,
			[]operation{
				&write{[]byte{2, 3}, 2, nil},
				&write{[]byte{4, 5}, 1, ErrBufferFull},
			},
			&Buffer{storage: []byte{3, 4, 1, 2}, size: 4, start: 2, used: 4},
		},

		{
			nil, 1,
			[]operation{&writeByte{1, nil}},
			&Buffer{storage: []byte{1}, size: 1, used: 1},
		},
		{
			nil, 1,
			[]operation{
				&writeByte{1, nil},
				&writeByte{2, ErrBufferFull},
			},
			&Buffer{storage: []byte{1}, size: 1, used: 1},
		},

		{
			nil, 1,
			[]operation{&readNFrom{[]byte{1}, 1, 1, nil}},
			&Buffer{storage: []byte{1}, size: 1, used: 1},
		},
		{
			nil, 1,
			[]operation{&readNFrom{[]byte{1, 2}, 2, 1, ErrBufferFull}},
			&Buffer{storage: []byte{1}, size: 1, used: 1},
		},
		{
			&Buffer{storage: []byte{2, 0, 0, 1}, size: 4, start: 3, used: 2}, 0,
			[]operation{&readNFromEOFSameCall{2}},
			&Buffer{storage: []byte{2, 0, 0, 1}, size: 4, start: 3, used: 4},
		},

		{
			nil, 0,
			[]operation{&read{[]byte{0}, []byte{0}, 0, io.EOF}},
			&Buffer{},
		},
		{
			&Buffer{storage: []byte{1, 2, 3, 4}, size: 4, used: 4}, 0,
			[]operation{&read{[]byte{0, 0, 0, 0}, []byte{1, 2, 3, 4}, 4, nil}},
			&Buffer{storage: []byte{1, 2, 3, 4}, size: 4},
		},
		{
			&Buffer{storage: []byte{1, 2, 3, 4}, size: 4, used: 4}, 0,
			[]operation{&read{[]byte{0, 0}, []byte{1, 2}, 2, nil}},
			&Buffer{storage: []byte{1, 2, 3, 4}, size: 4, start: 2, used: 2},
		},
		{
			&Buffer{storage: []byte{3, 4, 1, 2}, size: 4, start: 2, used: 4}, 0,
			[]operation{&read{[]byte{0, 0, 0, 0}, []byte{1, 2, 3, 4}, 4, nil}},
			&Buffer{storage: []byte{3, 4, 1, 2}, size: 4},
		},

		{
			nil, 0,
			[]operation{&readByte{0, io.EOF}},
			&Buffer{},
		},
		{
			&Buffer{storage: []byte{1, 2}, size: 2, used: 2}, 0,
			[]operation{
				&readByte{1, nil},
				&readByte{2, nil},
			},
			&Buffer{storage: []byte{1, 2}, size: 2},
		},

		{
			nil, 0,
			[]operation{&writeTo{[]byte{}}},
			&Buffer{},
		},
		{
			&Buffer{storage: []byte{1, 2}, size: 2, used: 2}, 0,
			[]operation{&writeTo{[]byte{1, 2}}},
			&Buffer{storage: []byte{1, 2}, size: 2},
		},
		{
			&Buffer{storage: []byte{3, 4, 1, 2}, size: 4, start: 2, used: 4}, 0,
			[]operation{&writeTo{[]byte{1, 2, 3, 4}}},
			&Buffer{storage: []byte{3, 4, 1, 2}, size: 4},
		},
	}

ProcessTests:
	for i, test := range tests {
		buffer := test.buffer
		if buffer == nil {
			buffer = NewBuffer(test.size)
		}

		for o, op := range test.operations {
			if err := op.perform(buffer); err != nil {
				t.Errorf("test index %d, operation index %d: unexpected error: %s", i, o, err)
				continue ProcessTests
			}
		}

		var invalid bool
		if !bytes.Equal(buffer.storage, test.expected.storage) {
			t.Errorf("test index %d: resulting buffer storage does not match expected", i)
			invalid = true
		}
		if buffer.size != test.expected.size {
			t.Errorf("test index %d: resulting cached buffer size does not match expected: %d != %d", i, buffer.size, test.expected.size)
			invalid = true
		}
		if buffer.start != test.expected.start {
			t.Errorf("test index %d: resulting buffer start index does not match expected: %d != %d", i, buffer.start, test.expected.start)
			invalid = true
		}
		if buffer.used != test.expected.used {
			t.Errorf("test index %d: resulting buffer data count does not match expected: %d != %d", i, buffer.used, test.expected.used)
			invalid = true
		}
		if invalid {
			continue
		}

		if bs := buffer.Size(); bs != buffer.size {
			t.Errorf("test index %d: size accessor returned incorrect value: %d != %d", i, bs, buffer.size)
		}
		if bu := buffer.Used(); bu != buffer.used {
			t.Errorf("test index %d: used accessor returned incorrect value: %d != %d", i, bu, buffer.used)
		}
		if bf := buffer.Free(); bf != (buffer.size - buffer.used) {
			t.Errorf("test index %d: free accessor returned incorrect value: %d != %d", i, bf, buffer.size-buffer.used)
		}

		buffer.Reset()
		if buffer.start != 0 {
			t.Errorf("test index %d: buffer start index non-0 after reset: %d", i, buffer.start)
		}
		if buffer.used != 0 {
			t.Errorf("test index %d: buffer data count non-0 after reset: %d", i, buffer.used)
		}
	}
}
