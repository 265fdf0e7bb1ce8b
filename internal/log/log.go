// Package log is the small stdout logger the Bolt server writes through.
// It keeps the teacher's own register, timestamped "[BOLT] ..." lines
// written straight to stdout, behind a couple of named functions so call
// sites read log.Infof(...) instead of scattering raw fmt.Printf calls.
package log

import (
	"log"
	"os"
)

var std = log.New(os.Stdout, "", log.LstdFlags)

// Infof logs a routine line: connections accepted, handshakes, auth
// successes, query dispatch.
func Infof(format string, args ...any) {
	std.Printf("[BOLT] "+format, args...)
}

// Warnf logs a line worth a human's attention but not fatal to the
// connection: a rejected auth attempt, a disabled WebSocket upgrade.
func Warnf(format string, args ...any) {
	std.Printf("[BOLT] WARN: "+format, args...)
}

// Errorf logs a line describing a failure: a panic recovered from a
// connection handler, a session ending on an unexpected error.
func Errorf(format string, args ...any) {
	std.Printf("[BOLT] ERROR: "+format, args...)
}

// Errorln is a convenience for logging a bare error value.
func Errorln(context string, err error) {
	std.Printf("[BOLT] ERROR: %s: %v", context, err)
}
