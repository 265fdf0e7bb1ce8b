package bolt

import (
	"bytes"
	"testing"
)

func TestChunkBeginEndMessageRoundTrip(t *testing.T) {
	buf := NewBuffer()
	cur := &buf.Write

	slot := BeginMessage(buf, cur)
	payload := []byte{0xB1, byte(MsgSuccess), 0xA0}
	buf.WriteBytes(cur, payload)
	EndMessage(buf, cur, slot)

	msg, err := ReadChunkedMessage(buf, &buf.Read)
	if err != nil {
		t.Fatalf("ReadChunkedMessage: %v", err)
	}
	if !bytes.Equal(msg, payload) {
		t.Errorf("got %x, want %x", msg, payload)
	}
}

func TestChunkWriteChunkedMessageRoundTrip(t *testing.T) {
	buf := NewBuffer()
	payload := []byte("a small bolt message")

	WriteChunkedMessage(buf, &buf.Write, payload)

	msg, err := ReadChunkedMessage(buf, &buf.Read)
	if err != nil {
		t.Fatalf("ReadChunkedMessage: %v", err)
	}
	if !bytes.Equal(msg, payload) {
		t.Errorf("got %q, want %q", msg, payload)
	}
}

func TestChunkSplitsAcrossMultipleChunks(t *testing.T) {
	buf := NewBuffer()
	payload := bytes.Repeat([]byte{0x07}, maxChunkPayload+10)

	WriteChunkedMessage(buf, &buf.Write, payload)

	msg, err := ReadChunkedMessage(buf, &buf.Read)
	if err != nil {
		t.Fatalf("ReadChunkedMessage: %v", err)
	}
	if !bytes.Equal(msg, payload) {
		t.Errorf("multi-chunk message not reassembled correctly")
	}
}

func TestChunkMultipleMessagesInSequence(t *testing.T) {
	buf := NewBuffer()
	first := []byte("first")
	second := []byte("second")

	WriteChunkedMessage(buf, &buf.Write, first)
	WriteChunkedMessage(buf, &buf.Write, second)

	got1, err := ReadChunkedMessage(buf, &buf.Read)
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if !bytes.Equal(got1, first) {
		t.Errorf("first message: got %q, want %q", got1, first)
	}

	got2, err := ReadChunkedMessage(buf, &buf.Read)
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if !bytes.Equal(got2, second) {
		t.Errorf("second message: got %q, want %q", got2, second)
	}
}

func TestSplitMessageTinyStruct(t *testing.T) {
	msg := []byte{0xB1, byte(MsgSuccess), 0xA0}
	msgType, data, err := SplitMessage(msg)
	if err != nil {
		t.Fatalf("SplitMessage: %v", err)
	}
	if msgType != MsgSuccess {
		t.Errorf("got %s, want SUCCESS", msgType)
	}
	if !bytes.Equal(data, []byte{0xA0}) {
		t.Errorf("got %x, want %x", data, []byte{0xA0})
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	_, _, err := SplitMessage(nil)
	if err == nil {
		t.Errorf("expected an error for an empty message")
	}
}
