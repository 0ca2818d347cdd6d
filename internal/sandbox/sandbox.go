// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package sandbox runs allowlisted read-only commands with capped output.
// The policy is an explicit allowlist; there is no OS-level confinement.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	apperrors "toolrun/internal/errors"
)

const (
	// MaxTokens bounds the argv length of a sandboxed command.
	MaxTokens = 64
	// DefaultOutputCap bounds combined stdout+stderr bytes.
	DefaultOutputCap = 24 * 1024
)

var defaultBinaries = []string{
	"rg", "grep", "ls", "cat", "find", "head", "tail", "sed", "wc", "stat", "pwd",
}

var gitSubcommands = []string{
	"status", "diff", "show", "log", "rev-parse", "ls-files",
}

// Policy is the read-command allowlist.
type Policy struct {
	binaries map[string]bool
	gitSub   map[string]bool
}

// DefaultPolicy returns the built-in allowlist, optionally widened with
// extra binary names from configuration.
func DefaultPolicy(extra ...string) Policy {
	p := Policy{
		binaries: make(map[string]bool, len(defaultBinaries)+len(extra)+1),
		gitSub:   make(map[string]bool, len(gitSubcommands)),
	}
	for _, name := range defaultBinaries {
		p.binaries[name] = true
	}
	for _, name := range extra {
		name = strings.TrimSpace(name)
		if name != "" && !strings.ContainsAny(name, "/\\") {
			p.binaries[name] = true
		}
	}
	p.binaries["git"] = true
	for _, sub := range gitSubcommands {
		p.gitSub[sub] = true
	}
	return p
}

// Tokenize splits a command line honoring quoted spans.
func Tokenize(cmdline string) ([]string, error) {
	parser := shellwords.NewParser()
	tokens, err := parser.Parse(cmdline)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidPayload, "cannot tokenize command", err)
	}
	if len(tokens) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidPayload, "empty command")
	}
	if len(tokens) > MaxTokens {
		return nil, apperrors.Newf(apperrors.CodeInvalidPayload, "command exceeds %d tokens", MaxTokens)
	}
	return tokens, nil
}

// Check rejects a tokenized command that falls outside the allowlist.
func (p Policy) Check(tokens []string) error {
	name := tokens[0]
	if strings.ContainsAny(name, "/\\") {
		return apperrors.Newf(apperrors.CodeCommandBlocked, "command %q must not contain a path separator", name)
	}
	if !p.binaries[name] {
		return apperrors.Newf(apperrors.CodeCommandBlocked, "command %q is not allowlisted for read access", name)
	}
	if name == "git" {
		if len(tokens) < 2 {
			return apperrors.New(apperrors.CodeCommandBlocked, "git requires an allowlisted subcommand")
		}
		if !p.gitSub[tokens[1]] {
			return apperrors.Newf(apperrors.CodeCommandBlocked, "git subcommand %q is not allowlisted", tokens[1])
		}
	}
	return nil
}

// Result carries the outcome of a sandboxed command.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	Hint      string
}

// Runner executes allowlisted commands in a fixed working directory.
type Runner struct {
	Policy    Policy
	WorkDir   string
	OutputCap int
}

// NewRunner builds a runner with the default policy and output cap.
func NewRunner(workdir string, extra ...string) *Runner {
	return &Runner{
		Policy:    DefaultPolicy(extra...),
		WorkDir:   workdir,
		OutputCap: DefaultOutputCap,
	}
}

// Run tokenizes, validates and executes a command line to completion. The
// binary is spawned directly, never through a shell. A non-zero exit is not
// an error; it is reported in the result.
func (r *Runner) Run(ctx context.Context, cmdline string) (*Result, error) {
	tokens, err := Tokenize(cmdline)
	if err != nil {
		return nil, err
	}
	if err := r.Policy.Check(tokens); err != nil {
		return nil, err
	}

	limit := r.OutputCap
	if limit <= 0 {
		limit = DefaultOutputCap
	}
	budget := &outputBudget{remaining: limit}
	stdout := budget.writer()
	stderr := budget.writer()

	if _, lookErr := exec.LookPath(tokens[0]); lookErr != nil {
		return r.runFallback(ctx, tokens, budget, stdout, stderr)
	}

	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	cmd.Dir = r.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: budget.exhausted(),
	}
	if res.Truncated {
		res.Hint = overflowHint(tokens[0], limit)
	}
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("failed to run %q", tokens[0]), runErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// overflowHint picks a tool-specific suggestion when the output cap is hit.
func overflowHint(binary string, limit int) string {
	switch binary {
	case "rg", "grep":
		return fmt.Sprintf("output exceeded %d bytes; narrow the pattern or add a glob filter", limit)
	case "cat":
		return fmt.Sprintf("output exceeded %d bytes; use read_file with max_bytes instead", limit)
	default:
		return fmt.Sprintf("output exceeded %d bytes; refine the command to produce less output", limit)
	}
}

// outputBudget caps combined bytes across the stdout and stderr writers.
// Excess bytes are counted but not stored.
type outputBudget struct {
	mu        sync.Mutex
	remaining int
	overflow  bool
}

func (b *outputBudget) writer() *cappedWriter {
	return &cappedWriter{budget: b}
}

func (b *outputBudget) exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

type cappedWriter struct {
	budget *outputBudget
	buf    bytes.Buffer
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	w.budget.mu.Lock()
	defer w.budget.mu.Unlock()
	if w.budget.remaining <= 0 {
		if len(p) > 0 {
			w.budget.overflow = true
		}
		return len(p), nil
	}
	store := p
	if len(store) > w.budget.remaining {
		store = store[:w.budget.remaining]
		w.budget.overflow = true
	}
	w.budget.remaining -= len(store)
	w.buf.Write(store)
	return len(p), nil
}

func (w *cappedWriter) String() string {
	w.budget.mu.Lock()
	defer w.budget.mu.Unlock()
	return w.buf.String()
}
