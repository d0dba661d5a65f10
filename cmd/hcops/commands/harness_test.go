// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/config"
	"github.com/bureau-foundation/hcops/lib/discover/discovertest"
	"github.com/bureau-foundation/hcops/lib/storage"
)

// harness runs commands against an isolated configuration: its own
// tag store, fixture /proc and conductor data root.
type harness struct {
	t      *testing.T
	app    *App
	stdout *bytes.Buffer
	stdin  *bytes.Buffer
	proc   *discovertest.Tree
	layout storage.Layout
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	tagStore := filepath.Join(dir, "tags.sqlite3")
	t.Setenv(config.EnvTagStore, tagStore)

	h := &harness{
		t:      t,
		stdout: &bytes.Buffer{},
		stdin:  &bytes.Buffer{},
		proc:   discovertest.New(t),
		layout: storage.Layout{Root: filepath.Join(dir, "conductor")},
	}

	configPath := filepath.Join(dir, "hcops.yaml")
	contents := fmt.Sprintf(`tag_store: %s
discovery:
  process_names: [holochain]
  proc_root: %s
connection:
  dial_timeout: 2s
  request_timeout: 5s
storage:
  data_root: %s
`, tagStore, h.proc.Root(), h.layout.Root)
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	h.app = &App{ConfigPath: configPath, Stdout: h.stdout, Stdin: h.stdin}
	return h
}

// run executes one command line and returns its output.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	h.stdout.Reset()
	err := Root(h.app).Execute(context.Background(), args, nil)
	return h.stdout.String(), err
}

// mustRun is run for commands that must succeed.
func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	output, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("hcops %s: %v", strings.Join(args, " "), err)
	}
	return output
}

// runJSON runs a command with --json appended and decodes its output.
func (h *harness) runJSON(out any, args ...string) {
	h.t.Helper()
	output := h.mustRun(append(args, "--json")...)
	if err := decodeJSON(output, out); err != nil {
		h.t.Fatalf("decoding output of hcops %s: %v\n%s", strings.Join(args, " "), err, output)
	}
}

func decodeJSON(output string, out any) error {
	return json.Unmarshal([]byte(output), out)
}

// requireCategory fails unless err is a ToolError of the category.
func requireCategory(t *testing.T, err error, want cli.ErrorCategory) *cli.ToolError {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", want)
	}
	var toolErr *cli.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error %v (%T) is not a ToolError", err, err)
	}
	if toolErr.Category != want {
		t.Fatalf("category = %s, want %s (error: %v)", toolErr.Category, want, err)
	}
	return toolErr
}

// requireExit fails unless err is an ExitError with code.
func requireExit(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want ExitError", err)
	}
	if exitErr.ExitCode() != code {
		t.Fatalf("exit code = %d, want %d", exitErr.ExitCode(), code)
	}
}
