package bolt

import (
	"errors"
	"fmt"
	"net"
)

// Magic is the four-byte Bolt handshake preamble every client sends
// before its version proposals, per section 6's external interface.
const Magic uint32 = 0x6060B017

// SupportedVersions lists the (major, minor) pairs this server can
// negotiate, in the order a client's four proposals are scanned. The
// original (bolt_read_supported_version) only ever looked at the
// client's first proposal; we scan all four it sends but still pick the
// first one we recognize rather than hunting for the numerically
// highest, matching that narrow behavior (see SPEC_FULL.md §12).
var SupportedVersions = [][2]byte{
	{4, 4},
	{4, 3},
	{4, 2},
	{4, 1},
	{4, 0},
}

var (
	// ErrBadHandshake is returned when the client's opening bytes are
	// neither a WebSocket upgrade nor a valid Bolt magic + version
	// proposal block.
	ErrBadHandshake = errors.New("bolt: invalid handshake")
	// ErrNoSupportedVersion means none of the client's four proposals
	// matched a version this server speaks; the connection is closed
	// after echoing an all-zero rejection.
	ErrNoSupportedVersion = errors.New("bolt: no supported protocol version")
)

// WriteReadyFunc registers the connection's interest in being told when
// its socket is next writable. The host event loop is expected to call
// Send when it fires. It should be registered edge-triggered (only while
// bytes are pending) per spec.md's Design Notes, a policy enforced by the
// caller of FinishWrite, not by Connection itself.
type WriteReadyFunc func()

// Connection is the per-client Bolt protocol handler: component E of the
// design. It owns the socket, the three buffers, the current protocol
// State, and the reset/shutdown/processing flags, and orchestrates the
// chunk framer (C), the WebSocket framer (B), and the state machine (D)
// around them. It does not itself run a goroutine or dispatch requests
// to a query engine — that orchestration belongs to the server that
// embeds it (pkg/bolt.Server), which is the thing actually driven by the
// host's event loop.
type Connection struct {
	Conn net.Conn
	WS   bool

	ReadBuf  *Buffer // raw Bolt byte stream (post WS-unwrap, if any)
	WriteBuf *Buffer // outgoing, pre WS-wrap; flushed by Send
	MsgBuf   *Buffer // staging buffer for a request payload being reassembled

	State State

	// Reset marks a pending RESET response; FlushReset clears it.
	// PreResetState is the state that was current the moment the server
	// decided to honor the reset, so FlushReset's IGNORED preamble
	// decision doesn't have to be re-derived from whatever State has
	// drifted to by flush time (the next state itself comes from Step on
	// the current State). This is the "store the pre-reset state" design
	// noted in spec.md's Design Notes #5, replacing a single ambiguous flag.
	Reset         bool
	PreResetState State

	Shutdown   bool
	Processing bool

	onWritable WriteReadyFunc
}

// NewConnection allocates a Connection's three buffers and sets its
// initial state to NEGOTIATION. onWritable may be nil for tests that
// drive Send synchronously.
func NewConnection(conn net.Conn, onWritable WriteReadyFunc) *Connection {
	return &Connection{
		Conn:       conn,
		ReadBuf:    NewBuffer(),
		WriteBuf:   NewBuffer(),
		MsgBuf:     NewBuffer(),
		State:      StateNegotiation,
		onWritable: onWritable,
	}
}

// Close frees all three buffers. The Connection must not be used again
// afterward; any outstanding cursors into its buffers become invalid.
func (c *Connection) Close() {
	c.ReadBuf.Free()
	c.WriteBuf.Free()
	c.MsgBuf.Free()
	c.Conn.Close()
}

// Handshake performs the Bolt (and, transparently, WebSocket) opening
// exchange: it detects an HTTP Upgrade request and answers it first if
// present, then reads the four-byte magic and the client's four version
// proposals and echoes the chosen (major, minor) pair, or an all-zero
// rejection if none match.
func (c *Connection) Handshake() (major, minor byte, err error) {
	if err := c.fillAtLeast(4); err != nil {
		return 0, 0, err
	}
	if looksLikeHTTPUpgrade(c.peekAll()) {
		if err := c.handleWSUpgrade(); err != nil {
			return 0, 0, err
		}
	}

	raw, err := c.readHandshakeBytes()
	if err != nil {
		return 0, 0, err
	}
	if len(raw) < 20 {
		return 0, 0, ErrBadHandshake
	}
	magic := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	if magic != Magic {
		return 0, 0, ErrBadHandshake
	}

	for i := 0; i < 4; i++ {
		p := raw[4+i*4 : 8+i*4]
		// fields are reserved, reserved, minor, major (section 6).
		candMinor, candMajor := p[2], p[3]
		for _, sv := range SupportedVersions {
			if sv[0] == candMajor && sv[1] == candMinor {
				if err := c.sendVersionReply(candMajor, candMinor); err != nil {
					return 0, 0, err
				}
				return candMajor, candMinor, nil
			}
		}
	}
	_ = c.sendVersionReply(0, 0)
	return 0, 0, ErrNoSupportedVersion
}

// sendVersionReply writes the chosen (or, on rejection, all-zero)
// 4-byte version directly to the socket. Once a connection has upgraded
// to WebSocket, this — like every other Bolt byte that follows the 101
// response — is wrapped in a single binary frame, per spec.md §6.
func (c *Connection) sendVersionReply(major, minor byte) error {
	reply := []byte{0x00, 0x00, minor, major}
	if !c.WS {
		return writeAll(c.Conn, reply)
	}

	scratch := NewBuffer()
	WSWriteFrame(scratch, &scratch.Write, reply)
	framed, err := scratch.ReadBytes(&scratch.Read, Diff(&scratch.Write, &scratch.Read))
	scratch.Free()
	if err != nil {
		return err
	}
	return writeAll(c.Conn, framed)
}

// peekAll returns the bytes currently staged in ReadBuf between Read and
// Write without consuming them.
func (c *Connection) peekAll() []byte {
	save := c.ReadBuf.Read
	n := Diff(&c.ReadBuf.Write, &save)
	if n <= 0 {
		return nil
	}
	b, _ := c.ReadBuf.ReadBytes(&save, n)
	return b
}

func looksLikeHTTPUpgrade(b []byte) bool {
	return len(b) >= 4 && b[0] == 'G' && b[1] == 'E' && b[2] == 'T' && b[3] == ' '
}

// handleWSUpgrade reads until the end of the HTTP header block, answers
// it with a 101 response, and marks the connection as WebSocket from
// here on.
func (c *Connection) handleWSUpgrade() error {
	for {
		resp, ok := WSHandshake(c.peekAll())
		if ok {
			if err := writeAll(c.Conn, resp); err != nil {
				return err
			}
			// Consume the header bytes we just answered.
			req := c.peekAll()
			headerLen := indexCRLFCRLF(req) + 4
			if _, err := c.ReadBuf.ReadBytes(&c.ReadBuf.Read, headerLen); err != nil {
				return err
			}
			c.WS = true
			return nil
		}
		if more, err := c.fillMore(); !more {
			if err != nil {
				return err
			}
			return ErrBadHandshake
		}
	}
}

func indexCRLFCRLF(b []byte) int {
	for i := 0; i+3 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			return i
		}
	}
	return -1
}

// readHandshakeBytes returns the 20-byte magic+versions block, unwrapping
// one WebSocket frame first if the connection has been upgraded.
func (c *Connection) readHandshakeBytes() ([]byte, error) {
	if !c.WS {
		if err := c.fillAtLeast(20); err != nil {
			return nil, err
		}
		return c.ReadBuf.ReadBytes(&c.ReadBuf.Read, 20)
	}
	frame, err := c.readWSFrame()
	if err != nil {
		return nil, err
	}
	return frame.Payload, nil
}

// fillAtLeast drains the socket into ReadBuf until at least n bytes are
// available to read, or an error/EOF occurs.
func (c *Connection) fillAtLeast(n int) error {
	for Diff(&c.ReadBuf.Write, &c.ReadBuf.Read) < n {
		if _, err := c.fillMore(); err != nil {
			return err
		}
	}
	return nil
}

// fillMore performs one SocketRead. The bool return mirrors
// Buffer.SocketRead's "keep going" signal.
func (c *Connection) fillMore() (bool, error) {
	ok, err := c.ReadBuf.SocketRead(c.Conn)
	if !ok {
		return false, err
	}
	return true, nil
}

// readWSFrame decodes one WebSocket frame from ReadBuf, growing the
// buffer from the socket as needed. A short-data condition mid-header or
// mid-payload rewinds the read cursor and tries again after reading
// more, since WSReadFrame's partial advance on failure would otherwise
// corrupt the next attempt's starting position.
func (c *Connection) readWSFrame() (*WSFrame, error) {
	for {
		save := c.ReadBuf.Read
		frame, err := WSReadFrame(c.ReadBuf, &c.ReadBuf.Read)
		if err == nil {
			return frame, nil
		}
		c.ReadBuf.Read = save
		if !errors.Is(err, ErrShortRead) {
			return nil, err
		}
		if _, ferr := c.fillMore(); ferr != nil {
			return nil, ferr
		}
	}
}

// ReadMessage blocks until one full Bolt message has been reassembled
// (unwrapping WebSocket framing transparently if c.WS) and returns its
// message type and field bytes, per the tiny-struct convention SplitMessage
// implements.
func (c *Connection) ReadMessage() (MessageType, []byte, error) {
	if !c.WS {
		for {
			msg, err := c.readChunkedFromReadBuf()
			if err == nil {
				return SplitMessage(msg)
			}
			if !errors.Is(err, ErrShortRead) {
				return 0, nil, err
			}
			if _, ferr := c.fillMore(); ferr != nil {
				return 0, nil, ferr
			}
		}
	}

	// WebSocket path: one or more binary frames' payloads are staged in
	// MsgBuf (the data model's cross-chunk-boundary staging buffer) until
	// they assemble into one complete chunk-framed Bolt message.
	c.MsgBuf.Free()
	c.MsgBuf = NewBuffer()
	dst := &c.MsgBuf.Write

	for {
		frame, err := c.readWSFrame()
		if err != nil {
			return 0, nil, err
		}
		c.MsgBuf.WriteBytes(dst, frame.Payload)

		msg, err := c.drainChunkedFromMsgBuf()
		if err == nil {
			return SplitMessage(msg)
		}
		if !errors.Is(err, ErrShortRead) {
			return 0, nil, err
		}
		// Not a complete message yet; read another WS frame and append.
	}
}

// readChunkedFromReadBuf attempts to decode one chunk-framed message
// directly out of ReadBuf (the non-WS path), rewinding on short data so
// the caller can top it up and retry.
func (c *Connection) readChunkedFromReadBuf() ([]byte, error) {
	save := c.ReadBuf.Read
	msg, err := ReadChunkedMessage(c.ReadBuf, &c.ReadBuf.Read)
	if err != nil {
		c.ReadBuf.Read = save
		return nil, err
	}
	return msg, nil
}

// drainChunkedFromMsgBuf attempts to decode one chunk-framed message out
// of the WS-unwrapped bytes accumulated so far in MsgBuf.
func (c *Connection) drainChunkedFromMsgBuf() ([]byte, error) {
	save := c.MsgBuf.Read
	msg, err := ReadChunkedMessage(c.MsgBuf, &c.MsgBuf.Read)
	if err != nil {
		c.MsgBuf.Read = save
		return nil, err
	}
	return msg, nil
}

// structHeader returns the PackStream tiny-struct header (marker + tag)
// for a response with the given field count.
func structHeader(arity int, tag MessageType) []byte {
	return []byte{0xB0 + byte(arity), byte(tag)}
}

// EncodeSuccess builds a SUCCESS{metadata} structure.
func EncodeSuccess(metadata map[string]any) []byte {
	return append(structHeader(1, MsgSuccess), EncodeMap(metadata)...)
}

// EncodeFailure builds a FAILURE{code, message} structure.
func EncodeFailure(code, message string) []byte {
	return append(structHeader(1, MsgFailure), EncodeMap(map[string]any{
		"code":    code,
		"message": message,
	})...)
}

// EncodeIgnored builds an IGNORED{} structure (zero fields).
func EncodeIgnored() []byte {
	return structHeader(0, MsgIgnored)
}

// EncodeRecord builds a RECORD{fields} structure.
func EncodeRecord(fields []any) []byte {
	return append(structHeader(1, MsgRecord), EncodeList(fields)...)
}

// ReplyFor serializes a response structure, frames it as one Bolt
// message (wrapped in a WebSocket binary frame if c.WS), and advances
// c.State via Step. Co-locating the wire emission with the state
// transition, as spec.md §4.D describes, means the two can never diverge:
// there is no path that sends a response without also stepping the state
// machine for it. An illegal (state, request, response) triple is
// reported, not silently swallowed: the response bytes are already staged
// in WriteBuf, c.State is left unchanged, and the *IllegalTransitionError
// is returned for the caller to handle.
func (c *Connection) ReplyFor(request, response MessageType, structPayload []byte) error {
	if err := c.emit(structPayload); err != nil {
		return err
	}
	next, err := Step(c.State, request, response)
	if err != nil {
		return err
	}
	c.State = next
	return nil
}

// emit frames structPayload as one Bolt chunk-message into WriteBuf
// (through the WebSocket framer first, if enabled) without touching
// c.State. It is the wire-only half of ReplyFor, also used directly by
// FlushReset's IGNORED preamble, which spec.md §4.E does not pass
// through Step.
func (c *Connection) emit(structPayload []byte) error {
	scratch := NewBuffer()
	WriteChunkedMessage(scratch, &scratch.Write, structPayload)
	framed, err := scratch.ReadBytes(&scratch.Read, Diff(&scratch.Write, &scratch.Read))
	scratch.Free()
	if err != nil {
		return err
	}

	if c.WS {
		WSWriteFrame(c.WriteBuf, &c.WriteBuf.Write, framed)
	} else {
		c.WriteBuf.WriteBytes(&c.WriteBuf.Write, framed)
	}
	return nil
}

// FlushReset implements the reset flush policy of spec.md §4.E: if the
// connection was FAILED when the reset was honored, a single IGNORED
// frame is emitted first (draining the failed request's outstanding
// reply), then SUCCESS{}; otherwise a lone SUCCESS{} is emitted. Either
// way the RESET response itself goes through ReplyFor so Step drives the
// state to READY, and the Reset bookkeeping flag is cleared.
func (c *Connection) FlushReset() error {
	if c.PreResetState == StateFailed {
		if err := c.emit(EncodeIgnored()); err != nil {
			return err
		}
	}
	if err := c.ReplyFor(MsgReset, MsgSuccess, EncodeSuccess(nil)); err != nil {
		return err
	}
	c.Reset = false
	return nil
}

// Send implements the normal flush path: write every byte staged in
// WriteBuf (from offset 0 up to the current Write cursor) to the socket,
// then rewind both cursors to the start so the buffer's chunks are
// reused for the next message rather than growing without bound.
func (c *Connection) Send() error {
	ok, err := c.WriteBuf.SocketWrite(&c.WriteBuf.Write, c.Conn)
	if !ok {
		return fmt.Errorf("bolt: send: %w", err)
	}
	c.WriteBuf.Read = Cursor{buf: c.WriteBuf}
	c.WriteBuf.Write = Cursor{buf: c.WriteBuf}
	return nil
}

// Pending reports whether WriteBuf holds bytes not yet flushed.
func (c *Connection) Pending() bool {
	return Diff(&c.WriteBuf.Write, &c.WriteBuf.Read) > 0
}

// FinishWrite asks the host event loop to call Send again once the
// socket is writable. Per spec.md's Design Notes, callers should only
// invoke this while Pending is true and should stop re-registering once
// a Send drains the buffer, to avoid busy wakeups.
func (c *Connection) FinishWrite() {
	if c.onWritable != nil {
		c.onWritable()
	}
}
