package bolt

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"strings"
)

// wsGUID is the fixed RFC 6455 magic string used to derive
// Sec-WebSocket-Accept from the client's Sec-WebSocket-Key.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// wsOpBinary is the opcode this server always uses for outgoing frames:
// every Bolt message is framed as a single binary, FIN frame.
const wsOpBinary = 0x2

// WSHandshake inspects the bytes staged in req (an HTTP/1.1 upgrade
// request) and, if it is a well-formed WebSocket upgrade, writes a 101
// Switching Protocols response into resp and returns true. It returns
// false without consuming req if the bytes don't look like a WebSocket
// handshake at all, so the caller can fall back to treating the
// connection as raw Bolt.
//
// Unlike the original (ws_handshake declared in ws.h with no shipped
// implementation — even the reference server hand-rolls this), this
// works directly against the request's raw header text rather than a
// general HTTP parser, since a Bolt-over-WebSocket client only ever
// sends the fixed handful of headers RFC 6455 requires.
func WSHandshake(req []byte) (response []byte, ok bool) {
	if !bytes.HasPrefix(req, []byte("GET ")) {
		return nil, false
	}
	headerEnd := bytes.Index(req, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, false
	}
	headers := parseHTTPHeaders(string(req[:headerEnd]))

	if !strings.EqualFold(headers["upgrade"], "websocket") {
		return nil, false
	}
	key := headers["sec-websocket-key"]
	if key == "" {
		return nil, false
	}

	accept := wsAccept(key)
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	buf.WriteString("Sec-WebSocket-Accept: " + accept + "\r\n")
	buf.WriteString("\r\n")
	return buf.Bytes(), true
}

// wsAccept computes Sec-WebSocket-Accept from a client's
// Sec-WebSocket-Key per RFC 6455 section 4.2.2.
func wsAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func parseHTTPHeaders(head string) map[string]string {
	lines := strings.Split(head, "\r\n")
	out := make(map[string]string, len(lines))
	for _, line := range lines[1:] { // skip the request line
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		out[name] = value
	}
	return out
}

// WSFrame is a single parsed incoming WebSocket frame: its opcode and
// unmasked payload. Control frames (close/ping/pong) are reported with
// their opcode so the caller can react; this server only ever expects
// binary frames carrying Bolt chunks.
type WSFrame struct {
	Opcode  byte
	Final   bool
	Payload []byte
}

const (
	WSOpContinuation = 0x0
	WSOpText         = 0x1
	WSOpBinary       = 0x2
	WSOpClose        = 0x8
	WSOpPing         = 0x9
	WSOpPong         = 0xA
)

// WSReadFrame decodes one WebSocket frame starting at cur and advances
// cur past it. A masked payload is unmasked with the frame's key; an
// unmasked frame is accepted and returned as-is, not rejected.
func WSReadFrame(buf *Buffer, cur *Cursor) (*WSFrame, error) {
	b0, err := buf.ReadUint8(cur)
	if err != nil {
		return nil, err
	}
	b1, err := buf.ReadUint8(cur)
	if err != nil {
		return nil, err
	}

	final := b0&0x80 != 0
	opcode := b0 & 0x0F
	masked := b1&0x80 != 0
	length := uint64(b1 & 0x7F)

	switch length {
	case 126:
		v, err := buf.ReadBytes(cur, 2)
		if err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(v))
	case 127:
		v, err := buf.ReadBytes(cur, 8)
		if err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(v)
	}

	var maskKey [4]byte
	if masked {
		key, err := buf.ReadBytes(cur, 4)
		if err != nil {
			return nil, err
		}
		copy(maskKey[:], key)
	}

	payload, err := buf.ReadBytes(cur, int(length))
	if err != nil {
		return nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return &WSFrame{Opcode: opcode, Final: final, Payload: payload}, nil
}

// WSWriteFrame appends a single FIN binary frame carrying payload at cur,
// unmasked (servers never mask outgoing frames per RFC 6455).
func WSWriteFrame(buf *Buffer, cur *Cursor, payload []byte) {
	wsWriteFrameOp(buf, cur, wsOpBinary, payload)
}

func wsWriteFrameOp(buf *Buffer, cur *Cursor, opcode byte, payload []byte) {
	buf.WriteUint8(cur, 0x80|opcode)

	switch {
	case len(payload) < 126:
		buf.WriteUint8(cur, byte(len(payload)))
	case len(payload) <= 0xFFFF:
		buf.WriteUint8(cur, 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(len(payload)))
		buf.WriteBytes(cur, ext[:])
	default:
		buf.WriteUint8(cur, 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(len(payload)))
		buf.WriteBytes(cur, ext[:])
	}

	buf.WriteBytes(cur, payload)
}

// WSCloseFrame appends a close control frame with the given status code.
func WSCloseFrame(buf *Buffer, cur *Cursor, code uint16) {
	var payload [2]byte
	binary.BigEndian.PutUint16(payload[:], code)
	wsWriteFrameOp(buf, cur, WSOpClose, payload[:])
}

// wsFrameHeaderLen reports how many header bytes (opcode/flags byte plus
// the length field) wsWriteFrameOp emits for an outgoing frame of the given
// payload length. Outgoing frames carry no mask key.
func wsFrameHeaderLen(payloadLen int) int {
	switch {
	case payloadLen < 126:
		return 2
	case payloadLen <= 0xFFFF:
		return 4
	default:
		return 10
	}
}
