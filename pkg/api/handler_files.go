package api

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/tools"
)

// taskFile is one entry in the task file index. The id encodes the root
// ("a" artifacts, "o" outputs) and the relative path, so the raw endpoint
// can resolve it without a second walk.
type taskFile struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Rel   string  `json:"rel"`
	Kind  string  `json:"kind"`
	Size  int64   `json:"size"`
	MTime float64 `json:"mtime"`
	Group string  `json:"group"`
}

type openTaskFileRequest struct {
	FileID string `json:"file_id" binding:"required"`
	Reveal bool   `json:"reveal"`
}

func encodeTaskFileID(root, rel string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(root + ":" + rel))
}

func decodeTaskFileID(fileID string) (root, rel string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(fileID, "="))
	if err != nil {
		return "", "", fmt.Errorf("invalid file id")
	}
	root, rel, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", fmt.Errorf("invalid file id")
	}
	return strings.ToLower(strings.TrimSpace(root)), filepath.ToSlash(strings.TrimSpace(rel)), nil
}

// safeRel rejects traversal attempts in a decoded relative path.
func safeRel(rel string) (string, error) {
	s := strings.TrimLeft(filepath.ToSlash(rel), "/")
	if s == "" {
		return "", fmt.Errorf("empty path")
	}
	for _, part := range strings.Split(s, "/") {
		if part == ".." {
			return "", fmt.Errorf("path traversal")
		}
		if strings.Contains(part, ":") {
			return "", fmt.Errorf("invalid path")
		}
	}
	return s, nil
}

// taskOutputsRoot is where the run report and generated outputs live:
// <workspace>/outputs/<task-id>.
func (s *Server) taskOutputsRoot(c *gin.Context, task *models.Task) string {
	if ws, err := s.deps.Workspaces.Get(c.Request.Context(), task.WorkspaceID); err == nil {
		return filepath.Join(ws.Path, "outputs", task.ID)
	}
	return filepath.Join(s.deps.Settings.WorkspacesDir, "default", "outputs", task.ID)
}

func (s *Server) resolveTaskFile(c *gin.Context, task *models.Task, fileID string) (string, error) {
	root, rel, err := decodeTaskFileID(fileID)
	if err != nil {
		return "", err
	}
	rel, err = safeRel(rel)
	if err != nil {
		return "", err
	}

	var base string
	switch root {
	case "a":
		base = filepath.Join(s.deps.Settings.ArtifactsDir, task.ID)
	case "o":
		base = s.taskOutputsRoot(c, task)
	default:
		return "", fmt.Errorf("unknown root")
	}

	path := filepath.Join(base, filepath.FromSlash(rel))
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside root")
	}
	return absPath, nil
}

func fileKind(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "file"
	}
	return ext
}

// defaultFilePriority orders the index's default selection: presentation
// and document formats first, images and the rest after.
func defaultFilePriority(kind string) int {
	switch kind {
	case "pptx":
		return 0
	case "pdf":
		return 1
	case "html", "htm":
		return 2
	case "md", "markdown":
		return 3
	case "png", "jpg", "jpeg", "gif", "webp", "bmp", "svg":
		return 4
	case "docx":
		return 5
	}
	return 50
}

func pickDefaultFileID(files []taskFile) string {
	if len(files) == 0 {
		return ""
	}
	sorted := make([]taskFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := defaultFilePriority(sorted[i].Kind), defaultFilePriority(sorted[j].Kind)
		if pi != pj {
			return pi < pj
		}
		if sorted[i].MTime != sorted[j].MTime {
			return sorted[i].MTime > sorted[j].MTime
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted[0].ID
}

func collectTaskFiles(root, rootKind, group string) []taskFile {
	var out []taskFile
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		out = append(out, taskFile{
			ID:    encodeTaskFileID(rootKind, rel),
			Name:  d.Name(),
			Rel:   rel,
			Kind:  fileKind(d.Name()),
			Size:  info.Size(),
			MTime: float64(info.ModTime().UnixNano()) / 1e9,
			Group: group,
		})
		return nil
	})
	return out
}

// listTaskFilesHandler handles GET /api/tasks/:id/files: indexes the
// artifacts and outputs trees for the task.
func (s *Server) listTaskFilesHandler(c *gin.Context) {
	task, err := s.deps.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	files := collectTaskFiles(filepath.Join(s.deps.Settings.ArtifactsDir, task.ID), "a", "artifacts")
	files = append(files, collectTaskFiles(s.taskOutputsRoot(c, task), "o", "outputs")...)
	sort.Slice(files, func(i, j int) bool {
		if files[i].Group != files[j].Group {
			return files[i].Group < files[j].Group
		}
		return files[i].Rel < files[j].Rel
	})
	if files == nil {
		files = []taskFile{}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "files": files, "default_id": pickDefaultFileID(files)})
}

// rawTaskFileHandler handles GET /api/tasks/:id/files/raw/:file_id.
// ?download=1 switches the disposition to attachment.
func (s *Server) rawTaskFileHandler(c *gin.Context) {
	task, err := s.deps.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	path, err := s.resolveTaskFile(c, task, c.Param("file_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	disp := "inline"
	if c.Query("download") == "1" {
		disp = "attachment"
	}
	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disp, filepath.Base(path)))
	c.File(path)
}

// openTaskFileHandler handles POST /api/tasks/:id/files/open: best-effort
// open (or reveal) with the host's default application. Only meaningful
// when the server runs on the user's own machine.
func (s *Server) openTaskFileHandler(c *gin.Context) {
	var req openTaskFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.deps.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	path, err := s.resolveTaskFile(c, task, req.FileID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	if err := openWithHost(path, req.Reveal); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func openWithHost(path string, reveal bool) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		if reveal {
			cmd = exec.Command("explorer.exe", "/select,", path)
		} else {
			cmd = exec.Command("cmd", "/c", "start", "", path)
		}
	case "darwin":
		if reveal {
			cmd = exec.Command("open", "-R", path)
		} else {
			cmd = exec.Command("open", path)
		}
	default:
		target := path
		if reveal {
			target = filepath.Dir(path)
		}
		cmd = exec.Command("xdg-open", target)
	}
	tools.ConfigureChild(cmd)
	return cmd.Start()
}
