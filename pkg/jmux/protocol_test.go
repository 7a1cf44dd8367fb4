package jmux

import (
	"bytes"
	"testing"
)

func TestChannelOpenEncode(t *testing.T) {
	m := &ChannelOpen{
		SenderChannelID:   1,
		InitialWindowSize: 65535,
		MaximumPacketSize: 32768,
		DestinationURL:    "tcp://localhost:22",
	}
	encoded, err := m.Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	expected := []byte{
		byte(MessageOpen), 0, 0, 0, // header, size patched below
	}
	body := len(m.DestinationURL) + 10
	total := headerSize + body
	expected[1] = byte(total >> 8)
	expected[2] = byte(total)
	expected = append(expected, 0, 0, 0, 1) // sender channel id
	expected = append(expected, 0, 0, 0xff, 0xff) // initial window size
	expected = append(expected, 0x80, 0x00) // maximum packet size
	expected = append(expected, m.DestinationURL...)

	if !bytes.Equal(encoded, expected) {
		t.Fatalf("unexpected encoding:\n  got:  %x\n  want: %x", encoded, expected)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	open, ok := decoded.(*ChannelOpen)
	if !ok {
		t.Fatalf("decoded message has wrong type: %T", decoded)
	}
	if *open != *m {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", *open, *m)
	}
}

func TestChannelOpenSuccessRoundtrip(t *testing.T) {
	m := &ChannelOpenSuccess{
		RecipientChannelID: 7,
		SenderChannelID:    9,
		InitialWindowSize:  1 << 16,
		MaximumPacketSize:  1 << 15,
	}
	encoded, err := m.Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(encoded) != headerSize+14 {
		t.Fatalf("unexpected encoded length: %d", len(encoded))
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	got, ok := decoded.(*ChannelOpenSuccess)
	if !ok {
		t.Fatalf("decoded message has wrong type: %T", decoded)
	}
	if *got != *m {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", *got, *m)
	}
}

func TestChannelOpenFailureRoundtrip(t *testing.T) {
	m := &ChannelOpenFailure{
		RecipientChannelID: 3,
		ReasonCode:         ReasonConnectionRefused,
		Description:        "connection refused",
	}
	encoded, err := m.Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	got, ok := decoded.(*ChannelOpenFailure)
	if !ok {
		t.Fatalf("decoded message has wrong type: %T", decoded)
	}
	if *got != *m {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", *got, *m)
	}
}

func TestChannelWindowAdjustRoundtrip(t *testing.T) {
	m := &ChannelWindowAdjust{RecipientChannelID: 42, WindowAdjustment: 4096}
	encoded, err := m.Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(encoded) != headerSize+8 {
		t.Fatalf("unexpected encoded length: %d", len(encoded))
	}
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	got := decoded.(*ChannelWindowAdjust)
	if *got != *m {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", *got, *m)
	}
}

func TestChannelDataRoundtrip(t *testing.T) {
	m := &ChannelData{RecipientChannelID: 11, TransferData: []byte("hello, jmux")}
	encoded, err := m.Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	got, ok := decoded.(*ChannelData)
	if !ok {
		t.Fatalf("decoded message has wrong type: %T", decoded)
	}
	if got.RecipientChannelID != m.RecipientChannelID || !bytes.Equal(got.TransferData, m.TransferData) {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", *got, *m)
	}
}

func TestChannelEOFAndCloseRoundtrip(t *testing.T) {
	eof := &ChannelEOF{RecipientChannelID: 5}
	encoded, err := eof.Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(encoded) != headerSize+4 {
		t.Fatalf("unexpected encoded length: %d", len(encoded))
	}
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if got := decoded.(*ChannelEOF); *got != *eof {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", *got, *eof)
	}

	cls := &ChannelClose{RecipientChannelID: 6}
	encoded, err = cls.Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err = DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if got := decoded.(*ChannelClose); *got != *cls {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", *got, *cls)
	}
}

func TestEncodeOversizedPacketRejected(t *testing.T) {
	m := &ChannelData{RecipientChannelID: 1, TransferData: make([]byte, maximumFrameSize)}
	_, err := m.Encode(nil)
	if err == nil {
		t.Fatal("expected error for oversized packet, got nil")
	}
	want := "packet oversized: max is 65535, got 65543"
	if err.Error() != want {
		t.Fatalf("unexpected error message: got %q, want %q", err.Error(), want)
	}
}

func TestDecodeHeaderRejectsNonZeroFlags(t *testing.T) {
	buf := []byte{byte(MessageEOF), 0, 8, 1}
	_, err := DecodeHeader(buf)
	if err == nil {
		t.Fatal("expected error for non-zero reserved flags")
	}
}

func TestDecodeHeaderRejectsUndersizedFrame(t *testing.T) {
	buf := []byte{byte(MessageEOF), 0, 4, 0}
	_, err := DecodeHeader(buf)
	if err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestDecodeMessageRejectsUnknownType(t *testing.T) {
	buf := []byte{0xFF, 0, 8, 0, 0, 0, 0, 1}
	_, err := DecodeMessage(buf)
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestMessageTypeString(t *testing.T) {
	cases := map[MessageType]string{
		MessageOpen:         "OPEN",
		MessageOpenSuccess:  "OPEN_SUCCESS",
		MessageOpenFailure:  "OPEN_FAILURE",
		MessageWindowAdjust: "WINDOW_ADJUST",
		MessageData:         "DATA",
		MessageEOF:          "EOF",
		MessageClose:        "CLOSE",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("MessageType(%d).String() = %q, want %q", kind, got, want)
		}
	}
	if got := MessageType(200).String(); got != "unknown(0xc8)" {
		t.Errorf("unknown MessageType.String() = %q", got)
	}
}
