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

package sandbox

import (
	"context"
	"strings"

	"github.com/u-root/u-root/pkg/core"
	corecat "github.com/u-root/u-root/pkg/core/cat"
	corels "github.com/u-root/u-root/pkg/core/ls"

	apperrors "toolrun/internal/errors"
)

// coreFallbacks maps binaries with a pure-Go backend used when the host
// binary is not on PATH.
var coreFallbacks = map[string]func() core.Command{
	"cat": func() core.Command { return corecat.New() },
	"ls":  func() core.Command { return corels.New() },
}

// runFallback executes an allowlisted command through its u-root core
// implementation. Commands without a fallback fail with a blocked error so
// the model learns the binary is unavailable.
func (r *Runner) runFallback(ctx context.Context, tokens []string, budget *outputBudget, stdout, stderr *cappedWriter) (*Result, error) {
	builder, ok := coreFallbacks[tokens[0]]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeToolExecution, "command %q not found on PATH", tokens[0])
	}

	cmd := builder()
	cmd.SetIO(strings.NewReader(""), stdout, stderr)
	cmd.SetWorkingDir(r.WorkDir)

	res := &Result{}
	if err := cmd.RunContext(ctx, tokens[1:]...); err != nil {
		// Core commands do not carry exit codes; report failure as exit 1.
		res.ExitCode = 1
		if strings.TrimSpace(stderr.String()) == "" {
			res.Stderr = err.Error()
		}
	}
	res.Stdout = stdout.String()
	if res.Stderr == "" {
		res.Stderr = stderr.String()
	}
	res.Truncated = budget.exhausted()
	if res.Truncated {
		limit := r.OutputCap
		if limit <= 0 {
			limit = DefaultOutputCap
		}
		res.Hint = overflowHint(tokens[0], limit)
	}
	return res, nil
}
