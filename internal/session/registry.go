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

package session

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "toolrun/internal/errors"
)

// DefaultCapacity bounds how many sessions the registry tracks at once.
const DefaultCapacity = 16

// Report is the outcome of one Exec or WriteStdin call.
type Report struct {
	ID           int
	CommandLine  string
	Finished     bool
	Exit         *ExitInfo
	Stdout       string
	Stderr       string
	CharsWritten int
}

// Registry owns all command sessions. The surrounding agent loop issues one
// tool call at a time, so registry mutation is effectively serialized; the
// mutex only guards against a stray concurrent host.
type Registry struct {
	log      zerolog.Logger
	workdir  string
	capacity int

	nextID   int
	sessions map[int]*Session
}

// NewRegistry builds a session registry rooted at workdir.
func NewRegistry(log zerolog.Logger, workdir string, capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		log:      log,
		workdir:  workdir,
		capacity: capacity,
		nextID:   1,
		sessions: make(map[int]*Session),
	}
}

// Exec prunes for capacity, spawns the command through a shell and performs
// one drain bounded by yield before returning, so fast commands finish
// within the same call.
func (r *Registry) Exec(cmdline string, yield time.Duration) (*Report, error) {
	if err := r.prune(); err != nil {
		return nil, err
	}

	id := r.nextID
	s, err := spawn(id, cmdline, r.workdir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeToolExecution, "cannot spawn command", err)
	}
	r.nextID++
	r.sessions[id] = s
	r.log.Debug().Int("session", id).Str("cmd", cmdline).Msg("session spawned")

	out := s.Drain(yield)
	return report(s, out, 0), nil
}

// WriteStdin writes to a session's stdin and drains once. An unknown id is
// an error; a finished session reports zero chars written with no I/O.
func (r *Registry) WriteStdin(id int, chars string, yield time.Duration) (*Report, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeSessionNotFound, "session not found: %d", id)
	}
	written := 0
	if !s.Finished() {
		written = s.Write(chars)
	}
	out := s.Drain(yield)
	return report(s, out, written), nil
}

// Kill terminates a session's process group and removes it.
func (r *Registry) Kill(id int) error {
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.Newf(apperrors.CodeSessionNotFound, "session not found: %d", id)
	}
	if !s.Finished() {
		killGroup(s.cmd)
	}
	delete(r.sessions, id)
	r.log.Debug().Int("session", id).Msg("session killed")
	return nil
}

// Close terminates every running session. Used at host shutdown.
func (r *Registry) Close() {
	for id, s := range r.sessions {
		if !s.Finished() {
			killGroup(s.cmd)
			r.log.Debug().Int("session", id).Msg("session terminated at shutdown")
		}
		delete(r.sessions, id)
	}
}

// Len reports how many sessions are tracked.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// prune evicts the oldest finished sessions while over capacity, counting
// sessions whose process already exited even if no drain observed it yet.
// Running sessions are never force-killed here; when every session is still
// running the new spawn is rejected instead.
func (r *Registry) prune() error {
	if len(r.sessions) < r.capacity {
		return nil
	}
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if len(r.sessions) < r.capacity {
			return nil
		}
		s := r.sessions[id]
		if !s.Finished() && s.processDone() {
			// Abandoned session: the process exited after its last drain.
			// Settle its state so it counts as finished, not running.
			s.Drain(0)
		}
		if s.Finished() {
			delete(r.sessions, id)
			r.log.Debug().Int("session", id).Msg("finished session evicted")
		}
	}
	if len(r.sessions) >= r.capacity {
		return apperrors.Newf(apperrors.CodeSessionCapacity,
			"session capacity reached (%d running); wait for one to finish or kill it", len(r.sessions))
	}
	return nil
}

func report(s *Session, out Output, written int) *Report {
	return &Report{
		ID:           s.ID,
		CommandLine:  s.CommandLine,
		Finished:     out.Finished,
		Exit:         out.Exit,
		Stdout:       out.Stdout,
		Stderr:       out.Stderr,
		CharsWritten: written,
	}
}
