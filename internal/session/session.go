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

// Package session tracks interactive subprocesses spawned through a shell.
// A session supports incremental stdin writes and bounded drains: each
// drain collects output accumulated since the previous one, waiting at most
// the yield window for a first byte. The child keeps running between calls;
// the model polls with further drains.
package session

import (
	"bytes"
	"io"
	"os/exec"
	"sync"
	"time"
)

// drainGrace is the short extra wait after output arrives, so commands that
// exit immediately (echo, pwd) report finished within one call.
const drainGrace = 50 * time.Millisecond

// ExitInfo describes a finished process.
type ExitInfo struct {
	Code        int
	Description string
}

// Session is one tracked subprocess. Running -> Finished is the only state
// transition; a finished session stays queryable until pruned.
type Session struct {
	ID          int
	CommandLine string
	StartedAt   time.Time

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer

	notify   chan struct{}
	procDone chan struct{}

	finished bool
	exit     *ExitInfo
}

// Output is what one drain collected.
type Output struct {
	Stdout   string
	Stderr   string
	Finished bool
	Exit     *ExitInfo
}

func spawn(id int, cmdline, workdir string) (*Session, error) {
	cmd := shellCommand(cmdline)
	cmd.Dir = workdir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:          id,
		CommandLine: cmdline,
		StartedAt:   time.Now(),
		cmd:         cmd,
		stdin:       stdin,
		notify:      make(chan struct{}, 1),
		procDone:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readPipe(stdoutPipe, &s.stdout, &readers)
	go s.readPipe(stderrPipe, &s.stderr, &readers)
	go func() {
		// Wait must run after both pipes hit EOF.
		readers.Wait()
		_ = cmd.Wait()
		close(s.procDone)
	}()
	return s, nil
}

func (s *Session) readPipe(pipe io.Reader, buf *bytes.Buffer, readers *sync.WaitGroup) {
	defer readers.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := pipe.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			buf.Write(chunk[:n])
			s.mu.Unlock()
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

// Drain collects buffered output, waiting up to yield for the first byte.
// It marks the session finished once the process has exited and no data
// remains buffered.
func (s *Session) Drain(yield time.Duration) Output {
	if !s.hasOutput() && !s.processDone() {
		timer := time.NewTimer(yield)
		select {
		case <-s.notify:
		case <-s.procDone:
		case <-timer.C:
		}
		timer.Stop()
	}
	if s.hasOutput() && !s.processDone() {
		// Grace so a command that produced output and exited right away is
		// reported finished in the same call.
		timer := time.NewTimer(drainGrace)
		select {
		case <-s.procDone:
		case <-timer.C:
		}
		timer.Stop()
	}

	done := s.processDone()

	s.mu.Lock()
	out := Output{Stdout: s.stdout.String(), Stderr: s.stderr.String()}
	s.stdout.Reset()
	s.stderr.Reset()
	if done && !s.finished {
		s.finished = true
		s.exit = exitInfo(s.cmd)
	}
	out.Finished = s.finished
	out.Exit = s.exit
	s.mu.Unlock()
	return out
}

// Write sends bytes to the child's stdin. A broken pipe is not fatal: the
// handle is closed and cleared, and the caller keeps draining.
func (s *Session) Write(chars string) int {
	if s.stdin == nil {
		return 0
	}
	n, err := io.WriteString(s.stdin, chars)
	if err != nil {
		// Broken pipe: the child closed its end. Keep the session; later
		// drains still report whatever output it produced.
		_ = s.stdin.Close()
		s.stdin = nil
	}
	return n
}

// Finished reports whether the session reached its terminal state.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Session) hasOutput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout.Len() > 0 || s.stderr.Len() > 0
}

func (s *Session) processDone() bool {
	select {
	case <-s.procDone:
		return true
	default:
		return false
	}
}

func exitInfo(cmd *exec.Cmd) *ExitInfo {
	state := cmd.ProcessState
	if state == nil {
		return &ExitInfo{Code: -1, Description: "unknown"}
	}
	return &ExitInfo{Code: state.ExitCode(), Description: state.String()}
}
