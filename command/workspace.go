package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Workspace performs file operations relative to a root directory. Every
// method returns a human-readable result; failures are reported in the
// returned text rather than as errors so they can be shown to the user and
// fed back to the model verbatim.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at dir. An empty dir means the
// current working directory.
func NewWorkspace(dir string) *Workspace {
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		} else {
			dir = "."
		}
	}
	return &Workspace{root: dir}
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.root, path)
}

// Create writes content to path, creating parent directories as needed.
func (w *Workspace) Create(path, content string) string {
	resolved := w.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Sprintf("Error creating file: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return fmt.Sprintf("Error creating file: %v", err)
	}
	return "File created: " + path
}

// Read returns the content of path.
func (w *Workspace) Read(path string) string {
	data, err := os.ReadFile(w.resolve(path))
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	return string(data)
}

// List returns the entries of dir, one per line, directories suffixed
// with a slash.
func (w *Workspace) List(dir string) string {
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(w.resolve(dir))
	if err != nil {
		return fmt.Sprintf("Error listing files: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

// Mkdir creates path and any missing parents.
func (w *Workspace) Mkdir(path string) string {
	if err := os.MkdirAll(w.resolve(path), 0755); err != nil {
		return fmt.Sprintf("Error creating folder: %v", err)
	}
	return "Folder created: " + path
}

// Apply performs a file operation. ok is false for kinds the workspace
// does not handle.
func (w *Workspace) Apply(op Operation) (result string, ok bool) {
	switch op.Kind {
	case KindCreate:
		return w.Create(op.Path, op.Content), true
	case KindRead:
		return w.Read(op.Path), true
	case KindList:
		return w.List(op.Path), true
	case KindMkdir:
		return w.Mkdir(op.Path), true
	}
	return "", false
}
