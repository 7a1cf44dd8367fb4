package jmux

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MessageType identifies a JMUX wire message kind (spec §4.1).
type MessageType byte

const (
	// MessageOpen opens a new channel to a destination URL.
	MessageOpen MessageType = 100
	// MessageOpenSuccess accepts a previously opened channel.
	MessageOpenSuccess MessageType = 101
	// MessageOpenFailure rejects a previously opened channel.
	MessageOpenFailure MessageType = 102
	// MessageWindowAdjust reclaims receive window credit.
	MessageWindowAdjust MessageType = 103
	// MessageData carries channel payload bytes.
	MessageData MessageType = 104
	// MessageEOF signals half-closure (no more data will be sent).
	MessageEOF MessageType = 105
	// MessageClose signals full channel teardown.
	MessageClose MessageType = 106
)

// String renders a MessageType for diagnostics.
func (t MessageType) String() string {
	switch t {
	case MessageOpen:
		return "OPEN"
	case MessageOpenSuccess:
		return "OPEN_SUCCESS"
	case MessageOpenFailure:
		return "OPEN_FAILURE"
	case MessageWindowAdjust:
		return "WINDOW_ADJUST"
	case MessageData:
		return "DATA"
	case MessageEOF:
		return "EOF"
	case MessageClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("unknown(%#02x)", byte(t))
	}
}

const (
	// headerSize is the size, in bytes, of the fixed frame header.
	headerSize = 4
	// maximumFrameSize is the largest legal encoded frame, imposed by the
	// 16-bit total-size header field.
	maximumFrameSize = 0xFFFF
	// maximumDataPayload is the largest transfer_data payload that fits in a
	// single DATA frame alongside its header and recipient channel id.
	maximumDataPayload = maximumFrameSize - headerSize - 4
)

// Header is the fixed 4-byte frame header (spec §4.1).
type Header struct {
	Type  MessageType
	Size  uint16
	Flags byte
}

// Message is implemented by every decodable/encodable JMUX wire message.
type Message interface {
	// Kind returns the message's wire type.
	Kind() MessageType
	// Encode appends the wire encoding of the message (including its 4-byte
	// header) to buf, returning the extended slice.
	Encode(buf []byte) ([]byte, error)
}

// ChannelOpen is the OPEN message (100).
type ChannelOpen struct {
	SenderChannelID   uint32
	InitialWindowSize uint32
	MaximumPacketSize uint16
	DestinationURL    string
}

func (m *ChannelOpen) Kind() MessageType { return MessageOpen }

func (m *ChannelOpen) Encode(buf []byte) ([]byte, error) {
	body := len(m.DestinationURL) + 4 + 4 + 2
	total := headerSize + body
	if total > maximumFrameSize {
		return nil, errOversized(total)
	}
	buf = appendHeader(buf, MessageOpen, total)
	buf = appendUint32(buf, m.SenderChannelID)
	buf = appendUint32(buf, m.InitialWindowSize)
	buf = appendUint16(buf, m.MaximumPacketSize)
	buf = append(buf, m.DestinationURL...)
	return buf, nil
}

// ChannelOpenSuccess is the OPEN_SUCCESS message (101).
type ChannelOpenSuccess struct {
	RecipientChannelID uint32
	SenderChannelID    uint32
	InitialWindowSize  uint32
	MaximumPacketSize  uint16
}

func (m *ChannelOpenSuccess) Kind() MessageType { return MessageOpenSuccess }

func (m *ChannelOpenSuccess) Encode(buf []byte) ([]byte, error) {
	total := headerSize + 4 + 4 + 4 + 2
	buf = appendHeader(buf, MessageOpenSuccess, total)
	buf = appendUint32(buf, m.RecipientChannelID)
	buf = appendUint32(buf, m.SenderChannelID)
	buf = appendUint32(buf, m.InitialWindowSize)
	buf = appendUint16(buf, m.MaximumPacketSize)
	return buf, nil
}

// ChannelOpenFailure is the OPEN_FAILURE message (102).
type ChannelOpenFailure struct {
	RecipientChannelID uint32
	ReasonCode         ReasonCode
	Description        string
}

func (m *ChannelOpenFailure) Kind() MessageType { return MessageOpenFailure }

func (m *ChannelOpenFailure) Encode(buf []byte) ([]byte, error) {
	body := 4 + 4 + len(m.Description)
	total := headerSize + body
	if total > maximumFrameSize {
		return nil, errOversized(total)
	}
	buf = appendHeader(buf, MessageOpenFailure, total)
	buf = appendUint32(buf, m.RecipientChannelID)
	buf = appendUint32(buf, uint32(m.ReasonCode))
	buf = append(buf, m.Description...)
	return buf, nil
}

// ChannelWindowAdjust is the WINDOW_ADJUST message (103).
type ChannelWindowAdjust struct {
	RecipientChannelID uint32
	WindowAdjustment   uint32
}

func (m *ChannelWindowAdjust) Kind() MessageType { return MessageWindowAdjust }

func (m *ChannelWindowAdjust) Encode(buf []byte) ([]byte, error) {
	total := headerSize + 4 + 4
	buf = appendHeader(buf, MessageWindowAdjust, total)
	buf = appendUint32(buf, m.RecipientChannelID)
	buf = appendUint32(buf, m.WindowAdjustment)
	return buf, nil
}

// ChannelData is the DATA message (104).
type ChannelData struct {
	RecipientChannelID uint32
	TransferData       []byte
}

func (m *ChannelData) Kind() MessageType { return MessageData }

func (m *ChannelData) Encode(buf []byte) ([]byte, error) {
	total := headerSize + 4 + len(m.TransferData)
	if total > maximumFrameSize {
		return nil, errOversized(total)
	}
	buf = appendHeader(buf, MessageData, total)
	buf = appendUint32(buf, m.RecipientChannelID)
	buf = append(buf, m.TransferData...)
	return buf, nil
}

// ChannelEOF is the EOF message (105).
type ChannelEOF struct {
	RecipientChannelID uint32
}

func (m *ChannelEOF) Kind() MessageType { return MessageEOF }

func (m *ChannelEOF) Encode(buf []byte) ([]byte, error) {
	buf = appendHeader(buf, MessageEOF, headerSize+4)
	return appendUint32(buf, m.RecipientChannelID), nil
}

// ChannelClose is the CLOSE message (106).
type ChannelClose struct {
	RecipientChannelID uint32
}

func (m *ChannelClose) Kind() MessageType { return MessageClose }

func (m *ChannelClose) Encode(buf []byte) ([]byte, error) {
	buf = appendHeader(buf, MessageClose, headerSize+4)
	return appendUint32(buf, m.RecipientChannelID), nil
}

func errOversized(total int) error {
	return errors.Errorf("packet oversized: max is %d, got %d", maximumFrameSize, total)
}

func appendHeader(buf []byte, kind MessageType, size int) []byte {
	buf = append(buf, byte(kind))
	buf = appendUint16(buf, uint16(size))
	return append(buf, 0)
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// DecodeHeader decodes the fixed 4-byte frame header from buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, errors.Errorf(
			"not enough bytes provided to decode header: received %d bytes, expected %d bytes",
			len(buf), headerSize,
		)
	}
	h := Header{
		Type:  MessageType(buf[0]),
		Size:  binary.BigEndian.Uint16(buf[1:3]),
		Flags: buf[3],
	}
	if h.Flags != 0 {
		return Header{}, errors.Errorf("non-zero reserved flags: %#02x", h.Flags)
	}
	if h.Size < 8 {
		return Header{}, errors.Errorf("frame size %d smaller than minimum 8", h.Size)
	}
	return h, nil
}

// DecodeMessage decodes a complete frame (header and body) from buf. The
// slice must contain exactly one frame's worth of bytes, as indicated by a
// prior call to DecodeHeader.
func DecodeMessage(buf []byte) (Message, error) {
	header, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if int(header.Size) != len(buf) {
		return nil, errors.Errorf("frame size %d does not match provided buffer of %d bytes", header.Size, len(buf))
	}
	body := buf[headerSize:]

	switch header.Type {
	case MessageOpen:
		if len(body) < 10 {
			return nil, errors.New("OPEN body too short")
		}
		destinationURL := body[10:]
		if !utf8.Valid(destinationURL) {
			return nil, newWireError(errors.New("OPEN destination_url is not valid UTF-8"))
		}
		return &ChannelOpen{
			SenderChannelID:   binary.BigEndian.Uint32(body[0:4]),
			InitialWindowSize: binary.BigEndian.Uint32(body[4:8]),
			MaximumPacketSize: binary.BigEndian.Uint16(body[8:10]),
			DestinationURL:    string(destinationURL),
		}, nil
	case MessageOpenSuccess:
		if len(body) != 14 {
			return nil, errors.New("OPEN_SUCCESS body has wrong length")
		}
		return &ChannelOpenSuccess{
			RecipientChannelID: binary.BigEndian.Uint32(body[0:4]),
			SenderChannelID:    binary.BigEndian.Uint32(body[4:8]),
			InitialWindowSize:  binary.BigEndian.Uint32(body[8:12]),
			MaximumPacketSize:  binary.BigEndian.Uint16(body[12:14]),
		}, nil
	case MessageOpenFailure:
		if len(body) < 8 {
			return nil, errors.New("OPEN_FAILURE body too short")
		}
		description := body[8:]
		if !utf8.Valid(description) {
			return nil, newWireError(errors.New("OPEN_FAILURE description is not valid UTF-8"))
		}
		return &ChannelOpenFailure{
			RecipientChannelID: binary.BigEndian.Uint32(body[0:4]),
			ReasonCode:         ReasonCode(binary.BigEndian.Uint32(body[4:8])),
			Description:        string(description),
		}, nil
	case MessageWindowAdjust:
		if len(body) != 8 {
			return nil, errors.New("WINDOW_ADJUST body has wrong length")
		}
		return &ChannelWindowAdjust{
			RecipientChannelID: binary.BigEndian.Uint32(body[0:4]),
			WindowAdjustment:   binary.BigEndian.Uint32(body[4:8]),
		}, nil
	case MessageData:
		if len(body) < 4 {
			return nil, errors.New("DATA body too short")
		}
		data := make([]byte, len(body)-4)
		copy(data, body[4:])
		return &ChannelData{
			RecipientChannelID: binary.BigEndian.Uint32(body[0:4]),
			TransferData:       data,
		}, nil
	case MessageEOF:
		if len(body) != 4 {
			return nil, errors.New("EOF body has wrong length")
		}
		return &ChannelEOF{RecipientChannelID: binary.BigEndian.Uint32(body[0:4])}, nil
	case MessageClose:
		if len(body) != 4 {
			return nil, errors.New("CLOSE body has wrong length")
		}
		return &ChannelClose{RecipientChannelID: binary.BigEndian.Uint32(body[0:4])}, nil
	default:
		return nil, errors.Errorf("received unknown message kind: %#02x", byte(header.Type))
	}
}
