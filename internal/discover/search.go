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

package discover

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"toolrun/internal/payload"

	apperrors "toolrun/internal/errors"
)

// searchFlags are fixed so results stay deterministic across environments.
var searchFlags = []string{"--line-number", "--column", "--no-heading", "--smart-case"}

const maxSearchLineBytes = 1024 * 1024

// GrepResult carries match lines plus the counts needed to report hidden
// output honestly.
type GrepResult struct {
	Query     string
	Matches   int
	Emitted   []string
	Hidden    int
	NoMatches bool
}

// Grep shells the search tool and returns up to MaxMatches lines while
// counting every match. Exit code 1 means no matches, not failure.
func (d *Discoverer) Grep(ctx context.Context, args *payload.GrepArgs) (*GrepResult, error) {
	res := &GrepResult{Query: args.Query}
	err := d.runSearch(ctx, args.Query, args.Glob, func(line string) {
		res.Matches++
		if len(res.Emitted) < args.MaxMatches {
			res.Emitted = append(res.Emitted, line)
		}
	})
	if err != nil {
		return nil, err
	}
	res.Hidden = res.Matches - len(res.Emitted)
	res.NoMatches = res.Matches == 0
	return res, nil
}

// FileHits aggregates every match within one file.
type FileHits struct {
	Path      string
	Hits      int
	FirstLine int
	FirstCol  int
	Snippet   string
}

// SearchResult carries per-file aggregated rows and both omission counts.
type SearchResult struct {
	Query          string
	Rows           []FileHits
	OmittedFiles   int
	OmittedMatches int
	NoMatches      bool
}

// Search aggregates matches per file: hit count, earliest line/column and
// the snippet at the earliest match. Rows sort by hits desc, then first
// line asc, then path asc. Parsing stops counting detail after MaxMatches
// lines; files beyond MaxFiles are dropped from the rows. Both omission
// counts are reported independently.
func (d *Discoverer) Search(ctx context.Context, args *payload.SearchArgs) (*SearchResult, error) {
	res := &SearchResult{Query: args.Query}
	byPath := make(map[string]*FileHits)
	parsed := 0

	err := d.runSearch(ctx, args.Query, args.Glob, func(line string) {
		if parsed >= args.MaxMatches {
			res.OmittedMatches++
			return
		}
		path, lineNo, col, text, ok := splitMatchLine(line)
		if !ok {
			return
		}
		parsed++
		hit, exists := byPath[path]
		if !exists {
			hit = &FileHits{Path: path, FirstLine: lineNo, FirstCol: col, Snippet: text}
			byPath[path] = hit
		} else if lineNo < hit.FirstLine || (lineNo == hit.FirstLine && col < hit.FirstCol) {
			hit.FirstLine = lineNo
			hit.FirstCol = col
			hit.Snippet = text
		}
		hit.Hits++
	})
	if err != nil {
		return nil, err
	}

	rows := make([]FileHits, 0, len(byPath))
	for _, hit := range byPath {
		rows = append(rows, *hit)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Hits != rows[j].Hits {
			return rows[i].Hits > rows[j].Hits
		}
		if rows[i].FirstLine != rows[j].FirstLine {
			return rows[i].FirstLine < rows[j].FirstLine
		}
		return rows[i].Path < rows[j].Path
	})
	if len(rows) > args.MaxFiles {
		res.OmittedFiles = len(rows) - args.MaxFiles
		rows = rows[:args.MaxFiles]
	}
	res.Rows = rows
	res.NoMatches = parsed == 0 && res.OmittedMatches == 0
	return res, nil
}

// runSearch streams search tool output line by line into sink. A missing
// search binary and genuine failures (exit >1) are errors; exit 1 simply
// produces no lines.
func (d *Discoverer) runSearch(ctx context.Context, query, glob string, sink func(string)) error {
	binary, err := exec.LookPath("rg")
	if err != nil {
		return apperrors.New(apperrors.CodeToolExecution, "ripgrep (rg) not found on PATH")
	}

	argv := append([]string{}, searchFlags...)
	if glob != "" {
		argv = append(argv, "--glob", glob)
	}
	argv = append(argv, "--", query, ".")

	cmd := exec.CommandContext(ctx, binary, argv...)
	cmd.Dir = d.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeToolExecution, "cannot open search output", err)
	}
	if err := cmd.Start(); err != nil {
		return apperrors.Wrap(apperrors.CodeToolExecution, "cannot start search", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSearchLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		sink(line)
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return apperrors.Wrap(apperrors.CodeToolExecution, "search failed", err)
		}
		if exitErr.ExitCode() != 1 {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			return apperrors.Newf(apperrors.CodeToolExecution, "search failed (exit %d): %s", exitErr.ExitCode(), detail)
		}
	}
	if scanErr != nil {
		return apperrors.Wrap(apperrors.CodeToolExecution, "search output unreadable", scanErr)
	}
	return nil
}

// splitMatchLine parses "path:line:col:text" rows.
func splitMatchLine(line string) (path string, lineNo, col int, text string, ok bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) != 4 {
		return "", 0, 0, "", false
	}
	lineNo, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, "", false
	}
	col, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, 0, "", false
	}
	return parts[0], lineNo, col, strings.TrimSpace(parts[3]), true
}

// FormatRow renders one aggregated search row.
func FormatRow(row FileHits) string {
	return fmt.Sprintf("%s  hits:%d line:%d col:%d  %s", row.Path, row.Hits, row.FirstLine, row.FirstCol, row.Snippet)
}
