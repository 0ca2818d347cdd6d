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

// Package tools dispatches tool invocations to their parser and executor.
// Every call resolves to a single text blob headed by "[<tool>-result]";
// invalid payloads and execution failures degrade to an "error:" line and
// never abort the host process.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"toolrun/internal/config"
	"toolrun/internal/discover"
	"toolrun/internal/patch"
	"toolrun/internal/payload"
	"toolrun/internal/sandbox"
	"toolrun/internal/session"
)

// Tool names understood by Dispatch.
const (
	ToolRead          = "read"
	ToolListDir       = "list_dir"
	ToolReadFile      = "read_file"
	ToolGrepFiles     = "grep_files"
	ToolProjectSearch = "project_search"
	ToolApplyPatch    = "apply_patch"
	ToolExecCommand   = "exec_command"
	ToolWriteStdin    = "write_stdin"
)

type handler func(r *Registry, ctx context.Context, raw string) (string, error)

var handlers = map[string]handler{
	ToolRead:          (*Registry).runRead,
	ToolListDir:       (*Registry).runListDir,
	ToolReadFile:      (*Registry).runReadFile,
	ToolGrepFiles:     (*Registry).runGrep,
	ToolProjectSearch: (*Registry).runSearch,
	ToolApplyPatch:    (*Registry).runPatch,
	ToolExecCommand:   (*Registry).runExec,
	ToolWriteStdin:    (*Registry).runWriteStdin,
}

// Registry wires every tool to the shared runtime state: working directory,
// limits, sandbox runner and the session registry.
type Registry struct {
	log      zerolog.Logger
	workdir  string
	limits   payload.Limits
	runner   *sandbox.Runner
	disc     *discover.Discoverer
	sessions *session.Registry
}

// NewRegistry builds the dispatch registry for one working directory.
func NewRegistry(log zerolog.Logger, workdir string, cfg config.Config) *Registry {
	cfg = cfg.Normalize()
	runner := sandbox.NewRunner(workdir, cfg.Sandbox.ExtraBinaries...)
	runner.OutputCap = cfg.Sandbox.OutputCapBytes
	return &Registry{
		log:      log,
		workdir:  workdir,
		limits:   cfg.Limits,
		runner:   runner,
		disc:     discover.New(workdir),
		sessions: session.NewRegistry(log, workdir, cfg.Sessions.Capacity),
	}
}

// Sessions exposes the session registry for host shutdown.
func (r *Registry) Sessions() *session.Registry {
	return r.sessions
}

// ToolNames lists the dispatchable tools, sorted.
func ToolNames() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves one tool invocation to its text result.
func (r *Registry) Dispatch(ctx context.Context, name, rawPayload string) string {
	started := time.Now()
	h, ok := handlers[name]
	if !ok {
		return fmt.Sprintf("[%s-result]\nerror: unknown tool %q (available: %s)\n",
			name, name, strings.Join(ToolNames(), ", "))
	}
	body, err := h(r, ctx, rawPayload)
	elapsed := time.Since(started)
	if err != nil {
		r.log.Debug().Str("tool", name).Dur("elapsed", elapsed).Err(err).Msg("tool failed")
		return fmt.Sprintf("[%s-result]\nerror: %v\n", name, err)
	}
	r.log.Debug().Str("tool", name).Dur("elapsed", elapsed).Msg("tool done")
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return fmt.Sprintf("[%s-result]\n%s", name, body)
}

func (r *Registry) runRead(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParseRead(raw)
	if err != nil {
		return "", err
	}
	res, err := r.runner.Run(ctx, args.Cmd)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "cmd: %s\n", args.Cmd)
	fmt.Fprintf(&b, "exit_code: %d\n", res.ExitCode)
	if res.Hint != "" {
		fmt.Fprintf(&b, "hint: %s\n", res.Hint)
	}
	writeStream(&b, "stdout", res.Stdout)
	writeStream(&b, "stderr", res.Stderr)
	return b.String(), nil
}

func (r *Registry) runListDir(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParseListDir(raw, r.limits)
	if err != nil {
		return "", err
	}
	res, err := r.disc.ListDir(ctx, args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", res.Path)
	fmt.Fprintf(&b, "entries: %d\n", res.Shown)
	if res.Truncated {
		fmt.Fprintf(&b, "note: listing truncated at %d entries; more exist\n", res.Shown)
	}
	for _, line := range res.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (r *Registry) runReadFile(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParseReadFile(raw, r.limits)
	if err != nil {
		return "", err
	}
	res, err := r.disc.ReadFile(ctx, args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", res.Path)
	fmt.Fprintf(&b, "size: %d\n", res.Size)
	if res.Binary {
		b.WriteString("binary: true\n")
		b.WriteString("note: binary content omitted\n")
		return b.String(), nil
	}
	b.WriteString("content:\n")
	b.WriteString(res.Content)
	return b.String(), nil
}

func (r *Registry) runGrep(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParseGrep(raw, r.limits)
	if err != nil {
		return "", err
	}
	res, err := r.disc.Grep(ctx, args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "query: %s\n", res.Query)
	fmt.Fprintf(&b, "matches: %d\n", res.Matches)
	if res.NoMatches {
		b.WriteString("note: no matches found\n")
		return b.String(), nil
	}
	fmt.Fprintf(&b, "emitted: %d\n", len(res.Emitted))
	fmt.Fprintf(&b, "hidden: %d\n", res.Hidden)
	for _, line := range res.Emitted {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (r *Registry) runSearch(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParseSearch(raw, r.limits)
	if err != nil {
		return "", err
	}
	res, err := r.disc.Search(ctx, args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "query: %s\n", res.Query)
	if res.NoMatches {
		b.WriteString("files: 0\n")
		b.WriteString("note: no matches found\n")
		return b.String(), nil
	}
	fmt.Fprintf(&b, "files: %d\n", len(res.Rows))
	fmt.Fprintf(&b, "omitted_files: %d\n", res.OmittedFiles)
	fmt.Fprintf(&b, "omitted_matches: %d\n", res.OmittedMatches)
	for _, row := range res.Rows {
		b.WriteString(discover.FormatRow(row))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (r *Registry) runPatch(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParsePatch(raw)
	if err != nil {
		return "", err
	}
	doc, err := patch.Parse(args.Patch)
	if err != nil {
		return "", err
	}
	stats, applyErr := patch.Apply(doc, r.workdir)
	if applyErr != nil {
		// No rollback: writes before the failure stay on disk.
		var b strings.Builder
		fmt.Fprintf(&b, "error: %v\n", applyErr)
		if len(stats.Committed) > 0 {
			b.WriteString("note: operations applied before the failure remain committed\n")
			b.WriteString("committed:\n")
			for _, row := range stats.Committed {
				b.WriteString(row)
				b.WriteByte('\n')
			}
		}
		return b.String(), nil
	}
	r.log.Info().Int("added", stats.Added).Int("updated", stats.Updated).
		Int("deleted", stats.Deleted).Int("moved", stats.Moved).Msg("patch applied")
	var b strings.Builder
	b.WriteString("status: ok\n")
	fmt.Fprintf(&b, "operations: %d\n", len(doc.Operations))
	fmt.Fprintf(&b, "added: %d\n", stats.Added)
	fmt.Fprintf(&b, "updated: %d\n", stats.Updated)
	fmt.Fprintf(&b, "deleted: %d\n", stats.Deleted)
	fmt.Fprintf(&b, "moved: %d\n", stats.Moved)
	b.WriteString("plan:\n")
	for _, row := range patch.Plan(doc) {
		b.WriteString(row)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (r *Registry) runExec(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParseExec(raw, r.limits)
	if err != nil {
		return "", err
	}
	rep, err := r.sessions.Exec(args.Cmd, time.Duration(args.YieldMs)*time.Millisecond)
	if err != nil {
		return "", err
	}
	return formatSessionReport(rep, false), nil
}

func (r *Registry) runWriteStdin(ctx context.Context, raw string) (string, error) {
	args, err := payload.ParseStdin(raw, r.limits)
	if err != nil {
		return "", err
	}
	rep, err := r.sessions.WriteStdin(args.SessionID, args.Chars, time.Duration(args.YieldMs)*time.Millisecond)
	if err != nil {
		return "", err
	}
	return formatSessionReport(rep, true), nil
}

func formatSessionReport(rep *session.Report, withChars bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session: %d\n", rep.ID)
	fmt.Fprintf(&b, "cmd: %s\n", rep.CommandLine)
	state := "running"
	if rep.Finished {
		state = "finished"
	}
	fmt.Fprintf(&b, "state: %s\n", state)
	if rep.Finished && rep.Exit != nil {
		fmt.Fprintf(&b, "exit_code: %d\n", rep.Exit.Code)
		fmt.Fprintf(&b, "exit: %s\n", rep.Exit.Description)
	}
	if withChars {
		fmt.Fprintf(&b, "chars_written: %d\n", rep.CharsWritten)
	}
	writeStream(&b, "stdout", rep.Stdout)
	writeStream(&b, "stderr", rep.Stderr)
	return b.String()
}

// writeStream emits a labelled output section, reporting emptiness
// explicitly rather than printing nothing.
func writeStream(b *strings.Builder, label, text string) {
	b.WriteString(label)
	b.WriteString(":\n")
	if text == "" {
		b.WriteString("(no output)\n")
		return
	}
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}
}
