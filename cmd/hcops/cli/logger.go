// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates the logger handed to every command. When
// stderr is a terminal it uses slog.TextHandler; when stderr is piped
// or redirected it uses slog.JSONHandler so scripts can parse it.
// Verbose lowers the level to debug.
func NewCommandLogger(verbose bool) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		options.Level = slog.LevelDebug
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
