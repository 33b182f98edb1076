package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSFixture(t *testing.T) (*Registry, context.Context, string) {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterFilesystemTools(r))

	root := t.TempDir()
	ctx := WithRunContext(context.Background(), RunContext{
		TaskID:        "task-1",
		WorkspaceRoot: root,
	})
	return r, ctx, root
}

func TestFilesystemWriteThenRead(t *testing.T) {
	r, ctx, root := newFSFixture(t)

	out, err := r.Run(ctx, "filesystem.write_text",
		json.RawMessage(`{"path":"notes/todo.md","content":"hello"}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"bytes":5`)

	data, err := os.ReadFile(filepath.Join(root, "notes", "todo.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	out, err = r.Run(ctx, "filesystem.read_text", json.RawMessage(`{"path":"notes/todo.md"}`))
	require.NoError(t, err)
	var res struct {
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "hello", res.Content)
	assert.False(t, res.Truncated)
}

func TestFilesystemListAndStat(t *testing.T) {
	r, ctx, root := newFSFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aaa"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	out, err := r.Run(ctx, "filesystem.list", json.RawMessage(`{"path":"."}`))
	require.NoError(t, err)
	var listed struct {
		Entries []struct {
			Name  string `json:"name"`
			IsDir bool   `json:"is_dir"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(out, &listed))
	require.Len(t, listed.Entries, 2)

	out, err = r.Run(ctx, "filesystem.stat", json.RawMessage(`{"path":"a.txt"}`))
	require.NoError(t, err)
	var stat struct {
		Size  int64 `json:"size"`
		IsDir bool  `json:"is_dir"`
	}
	require.NoError(t, json.Unmarshal(out, &stat))
	assert.Equal(t, int64(3), stat.Size)
	assert.False(t, stat.IsDir)
}

func TestFilesystemMoveAndDelete(t *testing.T) {
	r, ctx, root := newFSFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o644))

	_, err := r.Run(ctx, "filesystem.move", json.RawMessage(`{"src":"old.txt","dst":"dir/new.txt"}`))
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "old.txt"))
	assert.FileExists(t, filepath.Join(root, "dir", "new.txt"))

	_, err = r.Run(ctx, "filesystem.delete", json.RawMessage(`{"path":"dir"}`))
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(root, "dir"))
}

func TestFilesystemRejectsEscape(t *testing.T) {
	r, ctx, _ := newFSFixture(t)

	for _, path := range []string{"../outside.txt", "a/../../outside.txt"} {
		args, err := json.Marshal(map[string]string{"path": path, "content": "x"})
		require.NoError(t, err)
		_, err = r.Run(ctx, "filesystem.write_text", args)
		require.Error(t, err, "path %q", path)
		assert.Contains(t, err.Error(), "escapes the workspace")
	}
}

func TestFilesystemRequiresRunContext(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterFilesystemTools(r))

	_, err := r.Run(context.Background(), "filesystem.read_text", json.RawMessage(`{"path":"a.txt"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workspace bound")
}

func TestFilesystemReadTruncatesLargeFiles(t *testing.T) {
	r, ctx, root := newFSFixture(t)
	big := make([]byte, maxReadBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), big, 0o644))

	out, err := r.Run(ctx, "filesystem.read_text", json.RawMessage(`{"path":"big.txt"}`))
	require.NoError(t, err)
	var res struct {
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal(out, &res))
	assert.True(t, res.Truncated)
	assert.Len(t, res.Content, maxReadBytes)
}
