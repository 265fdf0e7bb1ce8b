// Package bolt implements a Bolt protocol server on top of internal/bolt's
// connection handler. It owns the parts internal/bolt deliberately leaves
// out: accepting connections, running one goroutine pair per client, and
// dispatching each decoded message to a query executor supplied by the
// caller.
//
// Query execution itself is out of scope: every RUN is handed to a
// QueryExecutor the caller injects. This package only speaks Bolt.
package bolt

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	ibolt "github.com/orneryd/nornicdb/internal/bolt"
	"github.com/orneryd/nornicdb/internal/log"
)

// QueryExecutor executes a query for the Bolt server. The server is
// decoupled from any particular query language or storage engine: it
// only ever calls Execute and formats whatever QueryResult comes back.
type QueryExecutor interface {
	Execute(ctx context.Context, query string, params map[string]any) (*QueryResult, error)
}

// TransactionalExecutor extends QueryExecutor with transaction support. If
// the executor implements this, BEGIN/COMMIT/ROLLBACK drive real
// transactions; otherwise they are acknowledged but have no effect.
type TransactionalExecutor interface {
	QueryExecutor
	BeginTransaction(ctx context.Context, metadata map[string]any) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
}

// FlushableExecutor extends QueryExecutor with deferred commit support,
// for executors that buffer writes until a PULL finishes streaming.
type FlushableExecutor interface {
	QueryExecutor
	Flush() error
}

// DeferrableExecutor extends FlushableExecutor with control over whether
// deferred flush mode is active at all.
type DeferrableExecutor interface {
	FlushableExecutor
	SetDeferFlush(enabled bool)
}

// QueryResult holds one query's result set.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// BoltAuthenticator validates the credentials a LOGON message carries.
// scheme is "basic" or "none"; principal/credentials are empty for "none".
type BoltAuthenticator interface {
	Authenticate(scheme, principal, credentials string) (*BoltAuthResult, error)
}

// BoltAuthResult is what a successful authentication produces: the
// username and the roles it carries.
type BoltAuthResult struct {
	Authenticated bool
	Username      string
	Roles         []string
}

// HasRole reports whether r carries role.
func (r *BoltAuthResult) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

var rolePermissions = map[string][]string{
	"admin":  {"read", "write", "create", "delete", "admin", "schema", "user_manage"},
	"editor": {"read", "write", "create", "delete"},
	"viewer": {"read"},
}

// HasPermission reports whether any of r's roles grant perm.
func (r *BoltAuthResult) HasPermission(perm string) bool {
	for _, role := range r.Roles {
		for _, p := range rolePermissions[role] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// Config holds the Bolt server's own settings, separate from the wire
// protocol details internal/bolt.Connection already owns.
type Config struct {
	Port           int
	MaxConnections int
	LogQueries     bool

	Authenticator   BoltAuthenticator
	RequireAuth     bool
	AllowAnonymous  bool
	// AllowWebSocket lets the WebSocket-upgrade path internal/bolt.Connection
	// detects transparently actually complete; when false, an upgraded
	// connection is closed once Handshake returns (after the 101 response
	// and the Bolt version reply have been sent) since Connection itself
	// has no toggle to refuse the upgrade before answering it.
	AllowWebSocket bool
}

// DefaultConfig returns Neo4j-compatible defaults: port 7687, no auth, 100
// max connections, WebSocket transport allowed.
func DefaultConfig() *Config {
	return &Config{
		Port:           7687,
		MaxConnections: 100,
		AllowWebSocket: true,
	}
}

// Server accepts Bolt connections and runs one Session per client.
type Server struct {
	config   *Config
	listener net.Listener
	mu       sync.RWMutex
	closed   atomic.Bool
	executor QueryExecutor
}

// New builds a Server. config may be nil to use DefaultConfig.
func New(config *Config, executor QueryExecutor) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{config: config, executor: executor}
}

// ListenAndServe binds config.Port and serves until Close is called.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bolt: listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Infof("listening on bolt://localhost:%d", s.config.Port)
	return s.serve()
}

// Port returns the port the listener actually bound, useful when
// config.Port is 0 and the OS assigned one.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.config.Port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) serve() error {
	for {
		if s.closed.Load() {
			return nil
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

// Close stops accepting new connections. Connections already in flight
// run to completion or until their own read/write fails.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (s *Server) IsClosed() bool {
	return s.closed.Load()
}

func (s *Server) handleConnection(netConn net.Conn) {
	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	conn := ibolt.NewConnection(netConn, nil)
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered from panic in connection handler: %v", r)
		}
	}()

	if _, _, err := conn.Handshake(); err != nil {
		log.Warnf("handshake failed: %v", err)
		return
	}
	if conn.WS && !s.config.AllowWebSocket {
		log.Warnf("rejecting WebSocket connection from %s (disabled)", netConn.RemoteAddr())
		return
	}

	session := &Session{conn: conn, server: s, executor: s.executor}

	if deferrable, ok := s.executor.(DeferrableExecutor); ok {
		deferrable.SetDeferFlush(true)
		defer deferrable.SetDeferFlush(false)
	}
	defer func() {
		if flushable, ok := s.executor.(FlushableExecutor); ok {
			flushable.Flush()
		}
	}()

	if err := session.run(); err != nil && err != io.EOF {
		errStr := err.Error()
		if !strings.Contains(errStr, "connection reset") &&
			!strings.Contains(errStr, "broken pipe") &&
			!strings.Contains(errStr, "use of closed network connection") {
			log.Errorf("session error: %v", err)
		}
	}
}

// Session is one client's connection state: the wire handler plus
// whatever authentication, transaction, and streaming-result bookkeeping
// the messages flowing over it require.
type Session struct {
	conn     *ibolt.Connection
	server   *Server
	executor QueryExecutor

	authenticated bool
	authResult    *BoltAuthResult

	inTransaction bool
	txMetadata    map[string]any

	lastResult  *QueryResult
	resultIndex int

	pendingFlush     bool
	queryID          int64
	lastQueryIsWrite bool

	// resetRequested is set by the reader goroutine the instant a RESET
	// arrives, and cleared once the processor goroutine actually answers
	// it. Any other message the processor dequeues while it is set gets
	// IGNORED instead of being dispatched, implementing the "INTERRUPTED
	// drains pending requests as IGNORED until RESET is answered" rule
	// without requiring the processor to block on the socket itself.
	resetRequested atomic.Bool
}

type rawMessage struct {
	msgType ibolt.MessageType
	data    []byte
	err     error
}

// run splits reading from processing into two goroutines so a RESET
// queued behind other pipelined requests can be noticed immediately
// rather than only after the processor works through everything ahead of
// it on the socket.
func (s *Session) run() error {
	msgCh := make(chan rawMessage, 16)
	go s.readLoop(msgCh)

	for raw := range msgCh {
		if raw.err != nil {
			return raw.err
		}
		if err := s.process(raw.msgType, raw.data); err != nil {
			return err
		}
		if err := s.conn.Send(); err != nil {
			return err
		}
		if s.conn.State == ibolt.StateDefunct {
			return io.EOF
		}
	}
	return nil
}

func (s *Session) readLoop(msgCh chan<- rawMessage) {
	defer close(msgCh)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			msgCh <- rawMessage{err: err}
			return
		}
		if msgType == ibolt.MsgReset {
			s.resetRequested.Store(true)
		}
		msgCh <- rawMessage{msgType: msgType, data: data}
		if msgType == ibolt.MsgGoodbye {
			return
		}
	}
}

func (s *Session) process(msgType ibolt.MessageType, data []byte) error {
	s.conn.Processing = true
	defer func() { s.conn.Processing = false }()

	switch msgType {
	case ibolt.MsgGoodbye:
		s.conn.Shutdown = true
		s.conn.State, _ = ibolt.Step(s.conn.State, ibolt.MsgGoodbye, ibolt.MsgSuccess)
		return io.EOF
	case ibolt.MsgReset:
		s.conn.PreResetState = s.conn.State
		s.rollbackTransaction()
		s.resetRequested.Store(false)
		return s.conn.FlushReset()
	}

	if s.resetRequested.Load() {
		if s.conn.State != ibolt.StateFailed {
			s.conn.State = ibolt.StateInterrupted
		}
		return s.conn.ReplyFor(msgType, ibolt.MsgIgnored, ibolt.EncodeIgnored())
	}

	switch msgType {
	case ibolt.MsgHello:
		return s.handleHello(data)
	case ibolt.MsgLogon:
		return s.handleLogon(data)
	case ibolt.MsgLogoff:
		return s.handleLogoff()
	case ibolt.MsgRun:
		return s.handleRun(data)
	case ibolt.MsgPull:
		return s.handlePull(data)
	case ibolt.MsgDiscard:
		return s.handleDiscard()
	case ibolt.MsgBegin:
		return s.handleBegin(data)
	case ibolt.MsgCommit:
		return s.handleCommit()
	case ibolt.MsgRollback:
		return s.handleRollback()
	case ibolt.MsgRoute:
		return s.handleRoute()
	default:
		return fmt.Errorf("bolt: unknown message type 0x%02X", byte(msgType))
	}
}

// fail replies FAILURE to request. When the current state does not accept
// request at all, the client has committed a protocol violation: the
// FAILURE is still sent and the connection moves to FAILED.
func (s *Session) fail(request ibolt.MessageType, code, message string) error {
	err := s.conn.ReplyFor(request, ibolt.MsgFailure, ibolt.EncodeFailure(code, message))
	if _, illegal := err.(*ibolt.IllegalTransitionError); illegal {
		s.conn.State = ibolt.StateFailed
		return nil
	}
	return err
}

func (s *Session) succeed(request ibolt.MessageType, metadata map[string]any) error {
	return s.conn.ReplyFor(request, ibolt.MsgSuccess, ibolt.EncodeSuccess(metadata))
}

// decodeExtraMap decodes the single-field extra map a HELLO/LOGON/BEGIN/
// PULL/DISCARD message carries. data is already past the struct header
// (ReadMessage/SplitMessage strips it), so it starts directly at the map.
func decodeExtraMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	m, _, err := ibolt.DecodeMap(data, 0)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// handleHello acknowledges the protocol hello. Bolt 5.1+ moved
// credentials out of HELLO and into a follow-up LOGON, which is the model
// the connection state machine (internal/bolt) implements; this server
// only ever speaks that two-step form regardless of which legacy 4.x
// version number the handshake negotiated.
func (s *Session) handleHello(data []byte) error {
	extra, err := decodeExtraMap(data)
	if err != nil {
		return s.fail(ibolt.MsgHello, "Neo.ClientError.Request.Invalid", fmt.Sprintf("malformed HELLO: %v", err))
	}
	if s.server.config.LogQueries {
		log.Infof("HELLO from %s (user_agent=%v)", s.conn.Conn.RemoteAddr(), extra["user_agent"])
	}
	return s.succeed(ibolt.MsgHello, map[string]any{
		"server":        "boltgraphd/1.0",
		"connection_id": fmt.Sprintf("conn-%p", s),
	})
}

// handleLogon validates the credentials a LOGON's extra map carries and
// moves the session from AUTHENTICATION to READY on success.
func (s *Session) handleLogon(data []byte) error {
	extra, err := decodeExtraMap(data)
	if err != nil {
		return s.fail(ibolt.MsgLogon, "Neo.ClientError.Request.Invalid", fmt.Sprintf("malformed LOGON: %v", err))
	}
	scheme, _ := extra["scheme"].(string)
	principal, _ := extra["principal"].(string)
	credentials, _ := extra["credentials"].(string)

	switch {
	case s.server.config.Authenticator != nil:
		switch scheme {
		case "none", "":
			if !s.server.config.AllowAnonymous {
				return s.fail(ibolt.MsgLogon, "Neo.ClientError.Security.Unauthorized", "authentication required")
			}
			s.authenticated = true
			s.authResult = &BoltAuthResult{Authenticated: true, Username: "anonymous", Roles: []string{"viewer"}}
		case "basic":
			result, err := s.server.config.Authenticator.Authenticate(scheme, principal, credentials)
			if err != nil {
				if s.server.config.LogQueries {
					log.Warnf("auth failed for %q from %s: %v", principal, s.conn.Conn.RemoteAddr(), err)
				}
				return s.fail(ibolt.MsgLogon, "Neo.ClientError.Security.Unauthorized", "invalid credentials")
			}
			s.authenticated = true
			s.authResult = result
		default:
			return s.fail(ibolt.MsgLogon, "Neo.ClientError.Security.Unauthorized", fmt.Sprintf("unsupported auth scheme: %s", scheme))
		}
	case s.server.config.RequireAuth:
		return s.fail(ibolt.MsgLogon, "Neo.ClientError.Security.Unauthorized", "authentication required but not configured")
	default:
		s.authenticated = true
		s.authResult = &BoltAuthResult{Authenticated: true, Username: "anonymous", Roles: []string{"admin"}}
	}

	if s.server.config.LogQueries {
		log.Infof("auth success: user=%s roles=%v from=%s",
			s.authResult.Username, s.authResult.Roles, s.conn.Conn.RemoteAddr())
	}
	return s.succeed(ibolt.MsgLogon, nil)
}

// handleLogoff drops back to AUTHENTICATION, per the state table's
// {READY, LOGOFF, SUCCESS} -> AUTHENTICATION entry, so a client can
// present different credentials with a fresh LOGON without reconnecting.
func (s *Session) handleLogoff() error {
	s.authenticated = false
	s.authResult = nil
	return s.succeed(ibolt.MsgLogoff, nil)
}

func (s *Session) handleRun(data []byte) error {
	if s.server.config.RequireAuth && !s.authenticated {
		return s.fail(ibolt.MsgRun, "Neo.ClientError.Security.Unauthorized", "not authenticated")
	}

	query, params, err := parseRunMessage(data)
	if err != nil {
		return s.fail(ibolt.MsgRun, "Neo.ClientError.Request.Invalid", fmt.Sprintf("failed to parse RUN: %v", err))
	}

	upper := strings.ToUpper(query)
	isWrite := strings.Contains(upper, "CREATE") || strings.Contains(upper, "DELETE") ||
		strings.Contains(upper, "SET ") || strings.Contains(upper, "MERGE") || strings.Contains(upper, "REMOVE ")
	isSchema := strings.Contains(upper, "INDEX") || strings.Contains(upper, "CONSTRAINT")

	if s.authResult != nil {
		if isSchema && !s.authResult.HasPermission("schema") {
			return s.fail(ibolt.MsgRun, "Neo.ClientError.Security.Forbidden", "schema operations require schema permission")
		}
		if isWrite && !s.authResult.HasPermission("write") {
			return s.fail(ibolt.MsgRun, "Neo.ClientError.Security.Forbidden", "write operations require write permission")
		}
		if !s.authResult.HasPermission("read") {
			return s.fail(ibolt.MsgRun, "Neo.ClientError.Security.Forbidden", "read operations require read permission")
		}
	}

	if s.server.config.LogQueries {
		log.Infof("%s@%s: %s", s.username(), s.conn.Conn.RemoteAddr(), truncateQuery(query, 200))
	}

	result, err := s.executor.Execute(context.Background(), query, params)
	if err != nil {
		return s.fail(ibolt.MsgRun, "Neo.ClientError.Statement.SyntaxError", err.Error())
	}

	if isWrite {
		s.pendingFlush = true
	}
	s.lastQueryIsWrite = isWrite
	s.lastResult = result
	s.resultIndex = 0
	s.queryID++

	metadata := map[string]any{"fields": result.Columns, "t_first": int64(0)}
	if s.inTransaction {
		metadata["qid"] = s.queryID
	}
	return s.succeed(ibolt.MsgRun, metadata)
}

func (s *Session) username() string {
	if s.authResult == nil {
		return "unknown"
	}
	return s.authResult.Username
}

func truncateQuery(q string, maxLen int) string {
	if len(q) <= maxLen {
		return q
	}
	return q[:maxLen] + "..."
}

// parseRunMessage decodes RUN's [query, parameters, extra] fields. The
// trailing extra map (bookmarks, tx_timeout) is left unparsed; nothing in
// this server consumes it yet.
func parseRunMessage(data []byte) (string, map[string]any, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("empty RUN message")
	}
	query, n, err := ibolt.DecodeString(data, 0)
	if err != nil {
		return "", nil, fmt.Errorf("query: %w", err)
	}
	offset := n

	params := map[string]any{}
	if offset < len(data) {
		if p, consumed, err := ibolt.DecodeMap(data, offset); err == nil {
			params = p
			offset += consumed
		}
	}
	return query, params, nil
}

func (s *Session) handlePull(data []byte) error {
	if s.lastResult == nil {
		return s.succeed(ibolt.MsgPull, map[string]any{})
	}

	pullN := -1
	if extra, err := decodeExtraMap(data); err == nil {
		if n, ok := extra["n"]; ok {
			switch v := n.(type) {
			case int64:
				pullN = int(v)
			case int:
				pullN = v
			}
		}
	}

	for pullN != 0 && s.resultIndex < len(s.lastResult.Rows) {
		row := s.lastResult.Rows[s.resultIndex]
		if err := s.conn.ReplyFor(ibolt.MsgPull, ibolt.MsgRecord, ibolt.EncodeRecord(row)); err != nil {
			return err
		}
		s.resultIndex++
		if pullN > 0 {
			pullN--
		}
	}

	if s.resultIndex < len(s.lastResult.Rows) {
		return s.succeed(ibolt.MsgPull, map[string]any{"has_more": true})
	}

	s.lastResult = nil
	s.resultIndex = 0
	if s.pendingFlush {
		if flushable, ok := s.executor.(FlushableExecutor); ok {
			_ = flushable.Flush()
		}
		s.pendingFlush = false
	}

	queryType := "r"
	if s.lastQueryIsWrite {
		queryType = "w"
	}
	return s.succeed(ibolt.MsgPull, map[string]any{
		"bookmark": "boltgraphd:tx:auto",
		"type":     queryType,
		"t_last":   int64(0),
		"db":       "neo4j",
	})
}

func (s *Session) handleDiscard() error {
	s.lastResult = nil
	s.resultIndex = 0
	return s.succeed(ibolt.MsgDiscard, map[string]any{})
}

func (s *Session) handleRoute() error {
	return s.succeed(ibolt.MsgRoute, map[string]any{
		"rt": map[string]any{"ttl": 300, "servers": []any{}},
	})
}

func (s *Session) handleBegin(data []byte) error {
	metadata, err := decodeExtraMap(data)
	if err != nil {
		return s.fail(ibolt.MsgBegin, "Neo.ClientError.Request.Invalid", fmt.Sprintf("malformed BEGIN: %v", err))
	}
	s.txMetadata = metadata

	if txExec, ok := s.executor.(TransactionalExecutor); ok {
		if err := txExec.BeginTransaction(context.Background(), metadata); err != nil {
			return s.fail(ibolt.MsgBegin, "Neo.TransactionError.Begin", err.Error())
		}
	}
	s.inTransaction = true
	return s.succeed(ibolt.MsgBegin, nil)
}

func (s *Session) handleCommit() error {
	if !s.inTransaction {
		return s.fail(ibolt.MsgCommit, "Neo.ClientError.Transaction.TransactionNotFound", "no transaction to commit")
	}
	if txExec, ok := s.executor.(TransactionalExecutor); ok {
		if err := txExec.CommitTransaction(context.Background()); err != nil {
			s.inTransaction = false
			s.txMetadata = nil
			return s.fail(ibolt.MsgCommit, "Neo.TransactionError.Commit", err.Error())
		}
	}
	s.inTransaction = false
	s.txMetadata = nil
	return s.succeed(ibolt.MsgCommit, map[string]any{"bookmark": "boltgraphd:bookmark:1"})
}

func (s *Session) handleRollback() error {
	if !s.inTransaction {
		return s.succeed(ibolt.MsgRollback, nil)
	}
	if txExec, ok := s.executor.(TransactionalExecutor); ok {
		if err := txExec.RollbackTransaction(context.Background()); err != nil {
			s.inTransaction = false
			s.txMetadata = nil
			return s.fail(ibolt.MsgRollback, "Neo.TransactionError.Rollback", err.Error())
		}
	}
	s.inTransaction = false
	s.txMetadata = nil
	return s.succeed(ibolt.MsgRollback, nil)
}

func (s *Session) rollbackTransaction() {
	if s.inTransaction {
		if txExec, ok := s.executor.(TransactionalExecutor); ok {
			_ = txExec.RollbackTransaction(context.Background())
		}
	}
	s.inTransaction = false
	s.txMetadata = nil
	s.lastResult = nil
	s.resultIndex = 0
}
