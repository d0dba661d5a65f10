// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
)

// DefaultSignature matches the conductor executable.
const DefaultSignature = `^holochain$`

// Process is a running process that matched a signature and listens on
// at least one TCP port. Processes are snapshots: each scan builds new
// ones.
type Process struct {
	PID         int      `json:"pid"`
	Executable  string   `json:"executable,omitempty"`
	CommandLine []string `json:"command_line"`

	// ListeningPorts are the distinct listening ports, ascending.
	ListeningPorts []uint16 `json:"listening_ports"`

	// Sockets carries the bound address for each listening port.
	Sockets []Socket `json:"sockets"`

	// MatchedSignature is set when a signature matched. Scan only
	// returns matching processes, so it is true for every result;
	// it stays explicit for callers that build Process values from
	// other sources.
	MatchedSignature bool `json:"matched_signature"`

	// Signature is the pattern that matched.
	Signature string `json:"signature,omitempty"`
}

// AdminPort returns the single listening port when there is exactly
// one. With several, the caller must disambiguate (see ProbeAdminPort).
func (p Process) AdminPort() (uint16, bool) {
	if len(p.ListeningPorts) != 1 {
		return 0, false
	}
	return p.ListeningPorts[0], true
}

// Diagnostic explains why a process was skipped, or why the scan
// produced nothing.
type Diagnostic struct {
	// PID is zero when the diagnostic concerns the whole scan.
	PID     int    `json:"pid,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.PID == 0 {
		return d.Message
	}
	return fmt.Sprintf("pid %d: %s", d.PID, d.Message)
}

// Result is the outcome of one scan.
type Result struct {
	Processes   []Process    `json:"processes"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	// Enumerator reads the process table. Nil means ProcFS at /proc.
	Enumerator ProcessEnumerator

	// Signatures are regular expressions. Empty means DefaultSignature.
	Signatures []string

	// Logger receives per-process skip reasons at debug level.
	Logger *slog.Logger
}

// Scanner finds conductor candidates.
type Scanner struct {
	enumerator ProcessEnumerator
	signatures []*regexp.Regexp
	logger     *slog.Logger
}

// NewScanner compiles the signatures. An invalid pattern is an error.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	scanner := &Scanner{enumerator: cfg.Enumerator, logger: cfg.Logger}
	if scanner.enumerator == nil {
		scanner.enumerator = ProcFS{}
	}
	if scanner.logger == nil {
		scanner.logger = slog.New(slog.DiscardHandler)
	}

	patterns := cfg.Signatures
	if len(patterns) == 0 {
		patterns = []string{DefaultSignature}
	}
	for _, pattern := range patterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("discover: signature %q: %w", pattern, err)
		}
		scanner.signatures = append(scanner.signatures, compiled)
	}
	return scanner, nil
}

// Scan takes a snapshot of matching processes, ordered by PID.
func (s *Scanner) Scan(ctx context.Context) Result {
	var result Result

	for info, err := range s.enumerator.Processes(ctx) {
		if err != nil {
			var enumErr *EnumerationError
			if errors.As(err, &enumErr) && enumErr.PID == 0 {
				s.logger.Warn("process table unreadable", "error", err)
				return Result{Diagnostics: []Diagnostic{{Message: err.Error()}}}
			}
			s.logger.Debug("skipping process", "pid", info.PID, "error", err)
			result.Diagnostics = append(result.Diagnostics, Diagnostic{PID: info.PID, Message: err.Error()})
			continue
		}

		signature := s.match(info)
		if signature == "" {
			continue
		}

		sockets, err := s.enumerator.ListeningSockets(ctx, info.PID)
		if err != nil {
			s.logger.Debug("skipping matched process", "pid", info.PID, "error", err)
			result.Diagnostics = append(result.Diagnostics, Diagnostic{PID: info.PID, Message: err.Error()})
			continue
		}
		if len(sockets) == 0 {
			s.logger.Debug("matched process has no listening sockets", "pid", info.PID)
			continue
		}

		result.Processes = append(result.Processes, Process{
			PID:              info.PID,
			Executable:       info.Executable,
			CommandLine:      info.CommandLine,
			ListeningPorts:   portsOf(sockets),
			Sockets:          sockets,
			MatchedSignature: true,
			Signature:        signature,
		})
	}

	slices.SortFunc(result.Processes, func(a, b Process) int { return a.PID - b.PID })
	return result
}

// match returns the first signature matching the executable base name,
// comm, or any command-line argument (arguments also by base name, so
// "/usr/bin/holochain" matches ^holochain$).
func (s *Scanner) match(info ProcessInfo) string {
	candidates := []string{info.Comm}
	if info.Executable != "" {
		candidates = append(candidates, filepath.Base(info.Executable))
	}
	for _, argument := range info.CommandLine {
		candidates = append(candidates, argument, filepath.Base(argument))
	}
	for _, signature := range s.signatures {
		for _, candidate := range candidates {
			if candidate != "" && signature.MatchString(candidate) {
				return signature.String()
			}
		}
	}
	return ""
}

func portsOf(sockets []Socket) []uint16 {
	ports := make([]uint16, 0, len(sockets))
	for _, socket := range sockets {
		ports = append(ports, socket.Port)
	}
	slices.Sort(ports)
	return slices.Compact(ports)
}
