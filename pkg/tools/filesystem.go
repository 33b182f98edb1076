package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes bounds filesystem.read_text results.
const maxReadBytes = 512 * 1024

// RegisterFilesystemTools adds the workspace-confined file tools.
func RegisterFilesystemTools(r *Registry) error {
	specs := []Spec{
		{
			Name:        "filesystem.list",
			Description: "List directory entries under a workspace-relative path.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, nil),
			Handler: fsList,
		},
		{
			Name:        "filesystem.read_text",
			Description: "Read a UTF-8 text file from the workspace.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Handler: fsReadText,
		},
		{
			Name:        "filesystem.stat",
			Description: "Stat a workspace path: size, mode, modification time.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Handler: fsStat,
		},
		{
			Name:        "filesystem.write_text",
			Description: "Write (replace) a UTF-8 text file in the workspace.",
			InputSchema: objectSchema(map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			}, []string{"path", "content"}),
			Handler: fsWriteText,
		},
		{
			Name:        "filesystem.mkdir",
			Description: "Create a directory (and parents) in the workspace.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Handler: fsMkdir,
		},
		{
			Name:        "filesystem.move",
			Description: "Rename or move a file within the workspace.",
			InputSchema: objectSchema(map[string]any{
				"src": map[string]any{"type": "string"},
				"dst": map[string]any{"type": "string"},
			}, []string{"src", "dst"}),
			Handler: fsMove,
		},
		{
			Name:        "filesystem.delete",
			Description: "Delete a file or directory tree in the workspace. Irreversible.",
			InputSchema: objectSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Risky:   true,
			Handler: fsDelete,
		},
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func objectSchema(props map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, s := range required {
			req[i] = s
		}
		schema["required"] = req
	}
	return schema
}

// resolveWorkspacePath joins rel onto the workspace root and rejects any
// path that escapes it.
func resolveWorkspacePath(ctx context.Context, rel string) (string, error) {
	rc, ok := RunContextFrom(ctx)
	if !ok || rc.WorkspaceRoot == "" {
		return "", fmt.Errorf("no workspace bound to this call")
	}
	root, err := filepath.Abs(rc.WorkspaceRoot)
	if err != nil {
		return "", fmt.Errorf("bad workspace root: %w", err)
	}
	full := filepath.Clean(filepath.Join(root, rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return full, nil
}

type pathArgs struct {
	Path string `json:"path"`
}

func fsList(ctx context.Context, args json.RawMessage) (any, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	dir, err := resolveWorkspacePath(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type entry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"is_dir"`
		Size  int64  `json:"size"`
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		info, infoErr := e.Info()
		var size int64
		if infoErr == nil {
			size = info.Size()
		}
		out = append(out, entry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	return map[string]any{"entries": out}, nil
}

func fsReadText(ctx context.Context, args json.RawMessage) (any, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	return map[string]any{"content": string(data), "truncated": truncated}, nil
}

func fsStat(ctx context.Context, args json.RawMessage) (any, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mode":     info.Mode().String(),
		"modified": info.ModTime().UTC(),
	}, nil
}

func fsWriteText(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return nil, err
	}
	return map[string]any{"path": a.Path, "bytes": len(a.Content)}, nil
}

func fsMkdir(ctx context.Context, args json.RawMessage) (any, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return map[string]any{"path": a.Path}, nil
}

func fsMove(ctx context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	src, err := resolveWorkspacePath(ctx, a.Src)
	if err != nil {
		return nil, err
	}
	dst, err := resolveWorkspacePath(ctx, a.Dst)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, err
	}
	return map[string]any{"src": a.Src, "dst": a.Dst}, nil
}

func fsDelete(ctx context.Context, args json.RawMessage) (any, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, err
	}
	return map[string]any{"path": a.Path, "deleted": true}, nil
}
