package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "toolrun/internal/errors"
)

func mustParse(t *testing.T, text string) *Document {
	t.Helper()
	doc, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return doc
}

func parseCode(t *testing.T, text string) apperrors.Code {
	t.Helper()
	_, err := Parse(text)
	if err == nil {
		t.Fatal("expected parse error")
	}
	return apperrors.CodeOf(err)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
		code apperrors.Code
	}{
		{"missing begin", "*** Add File: a\n*** End Patch", apperrors.CodeMissingBeginPatch},
		{"missing end", "*** Begin Patch\n*** Delete File: a", apperrors.CodeMissingEndPatch},
		{"empty operations", "*** Begin Patch\n*** End Patch", apperrors.CodeEmptyPatchOperations},
		{"bad header", "*** Begin Patch\nnonsense\n*** End Patch", apperrors.CodeInvalidPatchHeader},
		{"empty add path", "*** Begin Patch\n*** Add File: \n+x\n*** End Patch", apperrors.CodeInvalidPatchPath},
		{"empty delete path", "*** Begin Patch\n*** Delete File: \n*** End Patch", apperrors.CodeInvalidPatchPath},
		{"bad add line", "*** Begin Patch\n*** Add File: a.txt\nhello\n*** End Patch", apperrors.CodeInvalidAddFileLine},
		{"bad update line", "*** Begin Patch\n*** Update File: a.txt\n@@\n*bad\n*** End Patch", apperrors.CodeInvalidUpdateLine},
		{"update without hunks", "*** Begin Patch\n*** Update File: a.txt\n*** End Patch", apperrors.CodeEmptyPatchOperations},
		{"line before hunk marker", "*** Begin Patch\n*** Update File: a.txt\n ctx\n*** End Patch", apperrors.CodeInvalidUpdateLine},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseCode(t, tc.text); got != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, got)
			}
		})
	}
}

func TestParseAddFile(t *testing.T) {
	doc := mustParse(t, "*** Begin Patch\n*** Add File: note.txt\n+hello\n+world\n*** End Patch")
	if len(doc.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(doc.Operations))
	}
	op := doc.Operations[0]
	if op.Kind != OpAdd || op.Path != "note.txt" {
		t.Fatalf("unexpected operation: %+v", op)
	}
	if len(op.Lines) != 2 || op.Lines[0] != "hello" || op.Lines[1] != "world" {
		t.Fatalf("unexpected body: %v", op.Lines)
	}
}

func TestParseUpdateWithMove(t *testing.T) {
	doc := mustParse(t, "*** Begin Patch\n*** Update File: a.txt\n*** Move to: b.txt\n*** End Patch")
	op := doc.Operations[0]
	if op.Kind != OpUpdate || op.MoveTo != "b.txt" || len(op.Hunks) != 0 {
		t.Fatalf("unexpected operation: %+v", op)
	}
}

func TestAddUpdateDeleteScenario(t *testing.T) {
	dir := t.TempDir()

	add := "*** Begin Patch\n*** Add File: note.txt\n+hello\n+world\n*** End Patch"
	if _, err := Apply(mustParse(t, add), dir); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "note.txt"))
	if err != nil {
		t.Fatalf("cannot read added file: %v", err)
	}
	if string(content) != "hello\nworld\n" {
		t.Fatalf("unexpected content after add: %q", content)
	}

	update := "*** Begin Patch\n*** Update File: note.txt\n@@\n hello\n-world\n+zolt\n*** End Patch"
	if _, err := Apply(mustParse(t, update), dir); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	content, err = os.ReadFile(filepath.Join(dir, "note.txt"))
	if err != nil {
		t.Fatalf("cannot read updated file: %v", err)
	}
	if string(content) != "hello\nzolt\n" {
		t.Fatalf("unexpected content after update: %q", content)
	}

	del := "*** Begin Patch\n*** Delete File: note.txt\n*** End Patch"
	if _, err := Apply(mustParse(t, del), dir); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Open(filepath.Join(dir, "note.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected file absent after delete, got: %v", err)
	}
}

func TestAddTargetExistsLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	original := []byte("keep me exactly\n")
	path := filepath.Join(dir, "exists.txt")
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	add := "*** Begin Patch\n*** Add File: exists.txt\n+overwritten\n*** End Patch"
	_, err := Apply(mustParse(t, add), dir)
	if apperrors.CodeOf(err) != apperrors.CodeAddTargetExists {
		t.Fatalf("expected add_target_exists, got: %v", err)
	}
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("cannot re-read file: %v", readErr)
	}
	if string(content) != string(original) {
		t.Fatalf("existing file was modified: %q", content)
	}
}

func TestDeleteTargetMissing(t *testing.T) {
	del := "*** Begin Patch\n*** Delete File: ghost.txt\n*** End Patch"
	_, err := Apply(mustParse(t, del), t.TempDir())
	if apperrors.CodeOf(err) != apperrors.CodeDeleteTargetMissing {
		t.Fatalf("expected delete_target_missing, got: %v", err)
	}
}

func TestUpdateTargetMissing(t *testing.T) {
	update := "*** Begin Patch\n*** Update File: ghost.txt\n@@\n-x\n+y\n*** End Patch"
	_, err := Apply(mustParse(t, update), t.TempDir())
	if apperrors.CodeOf(err) != apperrors.CodeUpdateTargetMissing {
		t.Fatalf("expected update_target_missing, got: %v", err)
	}
}

func TestUpdatePreservesMissingTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.txt")
	if err := os.WriteFile(path, []byte("alpha\nbeta"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	update := "*** Begin Patch\n*** Update File: raw.txt\n@@\n alpha\n-beta\n+gamma\n*** End Patch"
	if _, err := Apply(mustParse(t, update), dir); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read file: %v", err)
	}
	if string(content) != "alpha\ngamma" {
		t.Fatalf("expected no trailing newline preserved, got %q", content)
	}
}

func TestUpdateEmptyFileStaysNewlineFree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	update := "*** Begin Patch\n*** Update File: empty.txt\n@@\n+head\n*** End Patch"
	if _, err := Apply(mustParse(t, update), dir); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read file: %v", err)
	}
	if string(content) != "head" {
		t.Fatalf("expected insertion without invented trailing newline, got %q", content)
	}
}

func TestBlankHunkLineIsEmptyContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gap.txt")
	if err := os.WriteFile(path, []byte("one\n\ntwo\n"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	// The blank separator line carries no leading space; it must still match
	// the empty line between "one" and "two".
	update := "*** Begin Patch\n*** Update File: gap.txt\n@@\n one\n\n-two\n+three\n*** End Patch"
	if _, err := Apply(mustParse(t, update), dir); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read file: %v", err)
	}
	if string(content) != "one\n\nthree\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestUpdateContextNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	update := "*** Begin Patch\n*** Update File: a.txt\n@@\n-three\n+four\n*** End Patch"
	_, err := Apply(mustParse(t, update), dir)
	if apperrors.CodeOf(err) != apperrors.CodePatchContextNotFound {
		t.Fatalf("expected patch_context_not_found, got: %v", err)
	}
}

func TestHunksApplyInOrderWithMonotonicCursor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seq.txt")
	source := "a\nx\nb\nx\nc\n"
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// Both hunks remove an "x"; the second must match after the first.
	update := "*** Begin Patch\n*** Update File: seq.txt\n@@\n a\n-x\n+1\n@@\n b\n-x\n+2\n*** End Patch"
	if _, err := Apply(mustParse(t, update), dir); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read file: %v", err)
	}
	if string(content) != "a\n1\nb\n2\nc\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestPureInsertionHunk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ins.txt")
	if err := os.WriteFile(path, []byte("tail\n"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	update := "*** Begin Patch\n*** Update File: ins.txt\n@@\n+head\n*** End Patch"
	if _, err := Apply(mustParse(t, update), dir); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read file: %v", err)
	}
	if string(content) != "head\ntail\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestUpdateWithMoveTarget(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.txt"), []byte("data\n"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	update := "*** Begin Patch\n*** Update File: old.txt\n*** Move to: sub/new.txt\n@@\n-data\n+moved\n*** End Patch"
	stats, err := Apply(mustParse(t, update), dir)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if stats.Moved != 1 || stats.Updated != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.txt")); !os.IsNotExist(err) {
		t.Fatal("expected original removed after move")
	}
	content, err := os.ReadFile(filepath.Join(dir, "sub", "new.txt"))
	if err != nil {
		t.Fatalf("cannot read moved file: %v", err)
	}
	if string(content) != "moved\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestEarlierOperationsStayCommittedOnFailure(t *testing.T) {
	dir := t.TempDir()
	text := "*** Begin Patch\n" +
		"*** Add File: first.txt\n+ok\n" +
		"*** Delete File: ghost.txt\n" +
		"*** End Patch"
	stats, err := Apply(mustParse(t, text), dir)
	if err == nil {
		t.Fatal("expected delete failure")
	}
	if len(stats.Committed) != 1 || !strings.HasPrefix(stats.Committed[0], "A ") {
		t.Fatalf("expected the add to stay committed, got %v", stats.Committed)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "first.txt")); statErr != nil {
		t.Fatalf("expected first.txt on disk: %v", statErr)
	}
}
