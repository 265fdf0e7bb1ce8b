package bolt

import "fmt"

// maxChunkPayload is the largest payload a single Bolt chunk can carry:
// the length prefix is a 16-bit network-order integer.
const maxChunkPayload = 0xFFFF

// The wire length prefix is explicitly big-endian (network byte order,
// "htons" in the original), independent of Buffer's own ReadUint16/
// WriteUint16 helpers, which are little-endian general-purpose accessors
// with no wire-format meaning of their own.

func writeUint16BE(buf *Buffer, cur *Cursor, v uint16) {
	buf.WriteBytes(cur, []byte{byte(v >> 8), byte(v)})
}

func readUint16BE(buf *Buffer, cur *Cursor) (uint16, error) {
	b, err := buf.ReadBytes(cur, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// BeginMessage reserves the 2-byte chunk length slot at cur and returns a
// cursor pinned to it, so the caller can serialize the response structure
// immediately afterward and patch the real length in with EndMessage once
// it's known. This mirrors bolt_client_reply_for's pattern of reserving
// the length slot before the structure is written rather than building
// the structure separately and measuring it.
func BeginMessage(buf *Buffer, cur *Cursor) Cursor {
	slot := *cur
	writeUint16BE(buf, cur, 0)
	return slot
}

// EndMessage patches the length slot returned by BeginMessage with the
// number of payload bytes written since, then appends the zero-length
// terminator chunk that closes a Bolt message.
func EndMessage(buf *Buffer, cur *Cursor, slot Cursor) {
	n := Diff(cur, &slot) - 2
	patch := slot
	writeUint16BE(buf, &patch, uint16(n))
	writeUint16BE(buf, cur, 0)
}

// WriteChunkedMessage writes payload as one or more length-prefixed
// chunks followed by the zero-length terminator, splitting across
// multiple wire chunks if payload exceeds a single chunk's 16-bit length
// limit. Every response this server sends (SUCCESS/FAILURE/IGNORED/
// RECORD) fits in one chunk in practice; this still honors the framer's
// general contract for callers that don't know that in advance.
func WriteChunkedMessage(buf *Buffer, cur *Cursor, payload []byte) {
	for len(payload) > 0 {
		n := len(payload)
		if n > maxChunkPayload {
			n = maxChunkPayload
		}
		writeUint16BE(buf, cur, uint16(n))
		buf.WriteBytes(cur, payload[:n])
		payload = payload[n:]
	}
	writeUint16BE(buf, cur, 0)
}

// ReadChunkedMessage decodes one full Bolt message starting at cur: a
// sequence of length-prefixed chunks terminated by a zero-length chunk.
// It returns the reassembled payload and leaves cur positioned just past
// the terminator.
func ReadChunkedMessage(buf *Buffer, cur *Cursor) ([]byte, error) {
	var msg []byte
	for {
		n, err := readUint16BE(buf, cur)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		chunk, err := buf.ReadBytes(cur, int(n))
		if err != nil {
			return nil, err
		}
		msg = append(msg, chunk...)
	}
	return msg, nil
}

// SplitMessage separates a reassembled message payload into its Bolt
// message type (the PackStream structure signature) and the remaining
// field bytes, following the tiny-struct marker convention (0xB0-0xBF)
// every Bolt request and response uses. A marker outside that range is
// treated as a bare signature byte, the same fallback the original
// session's message parsing takes.
func SplitMessage(msg []byte) (MessageType, []byte, error) {
	if len(msg) < 1 {
		return 0, nil, fmt.Errorf("bolt: empty message")
	}
	marker := msg[0]
	if marker >= 0xB0 && marker <= 0xBF {
		if len(msg) < 2 {
			return 0, nil, fmt.Errorf("bolt: truncated structure header")
		}
		return MessageType(msg[1]), msg[2:], nil
	}
	return MessageType(marker), msg[1:], nil
}
