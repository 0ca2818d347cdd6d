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

package tools

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

type toolSpec struct {
	name        string
	description string
	parameters  map[string]interface{}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

func objectParams(required []string, props map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return params
}

var toolSpecs = []toolSpec{
	{
		name:        ToolRead,
		description: "Run an allowlisted read-only command (rg, grep, ls, cat, find, head, tail, sed, wc, stat, pwd, git status/diff/show/log/rev-parse/ls-files) with capped output",
		parameters: objectParams([]string{"cmd"}, map[string]interface{}{
			"cmd": stringProp("The command line to run"),
		}),
	},
	{
		name:        ToolListDir,
		description: "List directory entries, optionally recursive, bounded and numbered",
		parameters: objectParams(nil, map[string]interface{}{
			"path":        stringProp("Directory to list (default: working directory)"),
			"recursive":   boolProp("Recurse into subdirectories"),
			"max_entries": intProp("Maximum entries to emit"),
		}),
	},
	{
		name:        ToolReadFile,
		description: "Read a text file up to a byte cap; binary content is flagged and omitted",
		parameters: objectParams([]string{"path"}, map[string]interface{}{
			"path":      stringProp("File to read"),
			"max_bytes": intProp("Maximum bytes to read"),
		}),
	},
	{
		name:        ToolGrepFiles,
		description: "Search file contents with ripgrep; reports total, emitted and hidden match counts",
		parameters: objectParams([]string{"query"}, map[string]interface{}{
			"query":       stringProp("Pattern to search for"),
			"glob":        stringProp("Optional glob limiting files (e.g. *.go)"),
			"max_matches": intProp("Maximum match lines to emit"),
		}),
	},
	{
		name:        ToolProjectSearch,
		description: "Search the project and aggregate matches per file, sorted by hit count",
		parameters: objectParams([]string{"query"}, map[string]interface{}{
			"query":     stringProp("Pattern to search for"),
			"glob":      stringProp("Optional glob limiting files"),
			"max_files": intProp("Maximum file rows to emit"),
		}),
	},
	{
		name:        ToolApplyPatch,
		description: "Apply a patch document (*** Begin Patch ... *** End Patch) with Add/Delete/Update File operations",
		parameters: objectParams([]string{"patch"}, map[string]interface{}{
			"patch": stringProp("The patch document"),
		}),
	},
	{
		name:        ToolExecCommand,
		description: "Spawn an interactive shell command as a tracked session and drain its first output",
		parameters: objectParams([]string{"cmd"}, map[string]interface{}{
			"cmd":      stringProp("The shell command line to spawn"),
			"yield_ms": intProp("Milliseconds to wait for the first output"),
		}),
	},
	{
		name:        ToolWriteStdin,
		description: "Write characters to a session's stdin and drain output accumulated since the last call",
		parameters: objectParams([]string{"session_id"}, map[string]interface{}{
			"session_id": intProp("Session id returned by exec_command"),
			"chars":      stringProp("Characters to write to stdin"),
			"yield_ms":   intProp("Milliseconds to wait for the first output"),
		}),
	},
}

// OpenAITools returns the tool set as OpenAI function definitions, so the
// host chat loop can advertise them without translation.
func OpenAITools() []openai.Tool {
	defs := make([]openai.Tool, 0, len(toolSpecs))
	for _, spec := range toolSpecs {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.name,
				Description: spec.description,
				Parameters:  spec.parameters,
			},
		})
	}
	return defs
}

// ExecuteOpenAIToolCall dispatches an OpenAI tool call payload. The raw
// argument string is handed to the per-tool parser untouched.
func (r *Registry) ExecuteOpenAIToolCall(ctx context.Context, call openai.ToolCall) string {
	name := call.Function.Name
	if name == "" {
		return "[unknown_tool-result]\nerror: tool call missing function name\n"
	}
	return r.Dispatch(ctx, name, call.Function.Arguments)
}
