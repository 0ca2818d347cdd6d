//go:build !windows

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"toolrun/internal/config"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zerolog.Nop(), t.TempDir(), config.Default())
	t.Cleanup(r.Sessions().Close)
	return r
}

func TestDispatchUnknownTool(t *testing.T) {
	r := testRegistry(t)
	out := r.Dispatch(context.Background(), "make_coffee", "{}")
	if !strings.HasPrefix(out, "[make_coffee-result]\nerror: unknown tool") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "apply_patch") || !strings.Contains(out, "write_stdin") {
		t.Fatalf("expected available tool list, got: %q", out)
	}
}

func TestDispatchInvalidPayloadDegrades(t *testing.T) {
	r := testRegistry(t)
	for _, raw := range []string{`{"broken`, `{"cmd": 42}`, ""} {
		out := r.Dispatch(context.Background(), ToolRead, raw)
		if !strings.HasPrefix(out, "[read-result]\nerror:") {
			t.Fatalf("payload %q: expected error blob, got %q", raw, out)
		}
	}
}

func TestDispatchReadAllowedCommand(t *testing.T) {
	r := testRegistry(t)
	if err := os.WriteFile(filepath.Join(r.workdir, "hello.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	out := r.Dispatch(context.Background(), ToolRead, "ls")
	if !strings.HasPrefix(out, "[read-result]\n") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "exit_code: 0") || !strings.Contains(out, "hello.txt") {
		t.Fatalf("unexpected body: %q", out)
	}
}

func TestDispatchReadBlockedCommand(t *testing.T) {
	r := testRegistry(t)
	out := r.Dispatch(context.Background(), ToolRead, "rm -rf /")
	if !strings.Contains(out, "error:") || !strings.Contains(out, "not allowlisted") {
		t.Fatalf("expected blocked command error, got: %q", out)
	}
}

func TestDispatchReadFileTooBig(t *testing.T) {
	r := testRegistry(t)
	path := filepath.Join(r.workdir, "big.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	out := r.Dispatch(context.Background(), ToolReadFile, `{"path": "big.txt", "max_bytes": 8}`)
	if !strings.Contains(out, "file too big (max_bytes:8)") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDispatchListDir(t *testing.T) {
	r := testRegistry(t)
	if err := os.WriteFile(filepath.Join(r.workdir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	out := r.Dispatch(context.Background(), ToolListDir, ".")
	if !strings.Contains(out, "entries: 1") || !strings.Contains(out, "1. [file] a.txt") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDispatchPatchLifecycle(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	add := "*** Begin Patch\n*** Add File: notes.txt\n+hello\n+world\n*** End Patch"
	out := r.Dispatch(ctx, ToolApplyPatch, add)
	if !strings.Contains(out, "status: ok") || !strings.Contains(out, "added: 1") {
		t.Fatalf("add failed: %q", out)
	}
	if !strings.Contains(out, "A notes.txt") {
		t.Fatalf("expected plan row, got: %q", out)
	}

	update := "*** Begin Patch\n*** Update File: notes.txt\n@@\n hello\n-world\n+patch\n*** End Patch"
	out = r.Dispatch(ctx, ToolApplyPatch, update)
	if !strings.Contains(out, "updated: 1") {
		t.Fatalf("update failed: %q", out)
	}
	content, err := os.ReadFile(filepath.Join(r.workdir, "notes.txt"))
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(content) != "hello\npatch\n" {
		t.Fatalf("unexpected content: %q", content)
	}

	del := "*** Begin Patch\n*** Delete File: notes.txt\n*** End Patch"
	out = r.Dispatch(ctx, ToolApplyPatch, del)
	if !strings.Contains(out, "deleted: 1") {
		t.Fatalf("delete failed: %q", out)
	}
	if _, err := os.Stat(filepath.Join(r.workdir, "notes.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, got: %v", err)
	}
}

func TestDispatchPatchFailureReportsCommitted(t *testing.T) {
	r := testRegistry(t)
	doc := "*** Begin Patch\n" +
		"*** Add File: ok.txt\n+fine\n" +
		"*** Update File: missing.txt\n@@\n-gone\n+here\n" +
		"*** End Patch"
	out := r.Dispatch(context.Background(), ToolApplyPatch, doc)
	if !strings.Contains(out, "error:") {
		t.Fatalf("expected failure, got: %q", out)
	}
	if !strings.Contains(out, "committed:") || !strings.Contains(out, "A ok.txt") {
		t.Fatalf("expected committed section, got: %q", out)
	}
	if _, err := os.Stat(filepath.Join(r.workdir, "ok.txt")); err != nil {
		t.Fatalf("committed file should remain: %v", err)
	}
}

func TestDispatchExecCommand(t *testing.T) {
	r := testRegistry(t)
	out := r.Dispatch(context.Background(), ToolExecCommand, `{"cmd": "echo hi", "yield_ms": 2000}`)
	if !strings.Contains(out, "state: finished") {
		t.Fatalf("expected finished state, got: %q", out)
	}
	if !strings.Contains(out, "exit_code: 0") || !strings.Contains(out, "hi") {
		t.Fatalf("unexpected report: %q", out)
	}
}

func TestDispatchWriteStdinUnknownSession(t *testing.T) {
	r := testRegistry(t)
	out := r.Dispatch(context.Background(), ToolWriteStdin, `{"session_id": 404, "chars": "x\n"}`)
	if !strings.Contains(out, "session not found: 404") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDispatchWriteStdinRoundTrip(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	out := r.Dispatch(ctx, ToolExecCommand, `{"cmd": "cat", "yield_ms": 100}`)
	if !strings.Contains(out, "state: running") {
		t.Fatalf("expected running cat session, got: %q", out)
	}
	var id int
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "session: ") {
			fmt.Sscanf(line, "session: %d", &id)
		}
	}
	if id == 0 {
		t.Fatalf("no session id in report: %q", out)
	}

	out = r.Dispatch(ctx, ToolWriteStdin, fmt.Sprintf(`{"session_id": %d, "chars": "ping\n", "yield_ms": 2000}`, id))
	if !strings.Contains(out, "chars_written: 5") || !strings.Contains(out, "ping") {
		t.Fatalf("unexpected round trip: %q", out)
	}
}

func TestOpenAIToolDefinitions(t *testing.T) {
	defs := OpenAITools()
	if len(defs) != len(handlers) {
		t.Fatalf("expected %d tool definitions, got %d", len(handlers), len(defs))
	}
	for _, def := range defs {
		if def.Type != openai.ToolTypeFunction || def.Function == nil {
			t.Fatalf("malformed definition: %+v", def)
		}
		if _, ok := handlers[def.Function.Name]; !ok {
			t.Fatalf("definition for undispatched tool %q", def.Function.Name)
		}
	}
}

func TestExecuteOpenAIToolCall(t *testing.T) {
	r := testRegistry(t)
	call := openai.ToolCall{
		Function: openai.FunctionCall{Name: ToolListDir, Arguments: `{"path": "."}`},
	}
	out := r.ExecuteOpenAIToolCall(context.Background(), call)
	if !strings.HasPrefix(out, "[list_dir-result]\n") {
		t.Fatalf("unexpected output: %q", out)
	}

	out = r.ExecuteOpenAIToolCall(context.Background(), openai.ToolCall{})
	if !strings.Contains(out, "missing function name") {
		t.Fatalf("unexpected output: %q", out)
	}
}
