package util

import (
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging backed by the pterm default logger. Extra arguments are
// alternating key/value pairs rendered after the message, e.g.
//
//	util.LogInfo("peer connected", "remote", remoteID)

func LogDebug(msg string, kv ...any) {
	pterm.DefaultLogger.Debug(msg, pterm.DefaultLogger.Args(kv...))
}

func LogInfo(msg string, kv ...any) {
	pterm.DefaultLogger.Info(msg, pterm.DefaultLogger.Args(kv...))
}

// LogSuccess is LogInfo with a leading check mark, used for milestones the
// user is waiting on (peer connected, transfer finished).
func LogSuccess(msg string, kv ...any) {
	pterm.DefaultLogger.Info("✓ "+msg, pterm.DefaultLogger.Args(kv...))
}

func LogWarning(msg string, kv ...any) {
	pterm.DefaultLogger.Warn(msg, pterm.DefaultLogger.Args(kv...))
}

func LogError(msg string, kv ...any) {
	pterm.DefaultLogger.Error(msg, pterm.DefaultLogger.Args(kv...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects all log output, e.g. to io.Discard in tests.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
