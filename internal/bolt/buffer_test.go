package bolt

import (
	"bytes"
	"io"
	"net"
	"testing"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	buf := NewBuffer()
	want := []byte("hello bolt")

	start := buf.NewCursor()
	buf.Index(start, 0)
	buf.WriteBytes(&buf.Write, want)

	got, err := buf.ReadBytes(&buf.Read, len(want))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBufferStraddle(t *testing.T) {
	// Position the write cursor 2 bytes before the end of chunk 0, then
	// write 4096 bytes: the first 2 land in chunk 0, the remaining 4094
	// in chunk 1. Read must recover the original bytes regardless.
	buf := NewBuffer()
	buf.Index(&buf.Write, ChunkSize-2)
	buf.Index(&buf.Read, ChunkSize-2)

	payload := make([]byte, ChunkSize)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	buf.WriteBytes(&buf.Write, payload)

	if buf.chunks[0][ChunkSize-2] != payload[0] || buf.chunks[0][ChunkSize-1] != payload[1] {
		t.Fatalf("first 2 bytes did not land in chunk 0")
	}
	if len(buf.chunks) < 2 {
		t.Fatalf("expected write to allocate a second chunk")
	}
	if !bytes.Equal(buf.chunks[1][:ChunkSize-2], payload[2:]) {
		t.Fatalf("remaining bytes did not land in chunk 1")
	}

	got, err := buf.ReadBytes(&buf.Read, ChunkSize)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("straddled read did not recover original bytes")
	}
}

func TestBufferReadUint16Straddle(t *testing.T) {
	buf := NewBuffer()
	buf.Index(&buf.Write, ChunkSize-1)
	buf.Index(&buf.Read, ChunkSize-1)

	buf.WriteUint16(&buf.Write, 0xBEEF)

	got, err := buf.ReadUint16(&buf.Read)
	if err != nil {
		t.Fatalf("ReadUint16: %v", err)
	}
	if got != 0xBEEF {
		t.Errorf("got 0x%04X, want 0xBEEF", got)
	}
}

func TestDiff(t *testing.T) {
	buf := NewBuffer()
	a := buf.NewCursor()
	b := buf.NewCursor()
	buf.Index(a, 10)
	buf.Index(b, 4)

	if d := Diff(a, b); d != 6 {
		t.Errorf("Diff(a,b) = %d, want 6", d)
	}
	if d := Diff(b, a); d != -6 {
		t.Errorf("Diff(b,a) = %d, want -6 (misordered pair is reported, not asserted)", d)
	}
}

func TestDiffZeroMeansNoPendingBytes(t *testing.T) {
	buf := NewBuffer()
	if d := Diff(&buf.Write, &buf.Read); d != 0 {
		t.Errorf("fresh buffer should have no pending bytes, got diff %d", d)
	}

	buf.WriteUint8(&buf.Write, 0x01)
	if d := Diff(&buf.Write, &buf.Read); d == 0 {
		t.Errorf("after a write, diff should be non-zero")
	}
}

func TestBufferCopy(t *testing.T) {
	src := NewBuffer()
	dst := NewBuffer()

	payload := bytes.Repeat([]byte{0xAB}, ChunkSize+10)
	src.WriteBytes(&src.Write, payload)

	srcCur := src.NewCursor()
	src.Index(srcCur, 0)

	// Copy advances only the cursors it is given, so copying through dst's
	// own Write cursor is what makes the bytes readable from dst.Read.
	Copy(&dst.Write, srcCur, len(payload))

	got, err := dst.ReadBytes(&dst.Read, len(payload))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("copy did not transfer bytes faithfully")
	}
}

func TestBufferSocketRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := bytes.Repeat([]byte{0x42}, ChunkSize+500)

	done := make(chan error, 1)
	go func() {
		_, err := client.Write(payload)
		done <- err
	}()

	buf := NewBuffer()
	total := 0
	for total < len(payload) {
		ok, err := buf.SocketRead(server)
		if !ok {
			if err == io.EOF {
				break
			}
			t.Fatalf("SocketRead: %v", err)
		}
		total = Diff(&buf.Write, &buf.Read)
	}
	if err := <-done; err != nil {
		t.Fatalf("client write: %v", err)
	}

	got, err := buf.ReadBytes(&buf.Read, len(payload))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("socket round trip did not preserve bytes")
	}
}

func TestBufferFree(t *testing.T) {
	buf := NewBuffer()
	buf.WriteUint8(&buf.Write, 1)
	buf.Free()
	if buf.chunks != nil {
		t.Errorf("Free should release all chunks")
	}
}
