// Package logging sets up the process-wide structured logger used
// across the turn engine, session store, and tool dispatch.
package logging

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup points the global zerolog logger at an append-only file
// under <dataDir>/logs/ted.log and sets the process log level. Verbose
// turns on debug-level logging; otherwise info and above are kept.
func Setup(dataDir string, verbose bool) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "ted.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	log.Logger = log.Output(file).Level(level)
	zerolog.SetGlobalLevel(level)
	return nil
}

// Session returns a logger scoped to a single session, with
// session_id attached to every entry.
func Session(sessionID string) zerolog.Logger {
	return log.With().Str("session_id", sessionID).Logger()
}

// Turn returns a logger scoped to one turn within a session.
func Turn(sessionID string, turn int) zerolog.Logger {
	return log.With().Str("session_id", sessionID).Int("turn", turn).Logger()
}

// Tool returns a logger scoped to a single tool invocation.
func Tool(sessionID, toolName, toolUseID string) zerolog.Logger {
	return log.With().
		Str("session_id", sessionID).
		Str("tool", toolName).
		Str("tool_use_id", toolUseID).
		Logger()
}
