// Package workspace manages per-submission scratch directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

// Manager allocates isolated work directories under a common root.
// Directory names carry a random suffix so concurrent judgments of the
// same submission never collide.
type Manager struct {
	root string
}

// NewManager creates a workspace manager rooted at dir.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, appErr.ValidationError("work_root", "required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create work root failed")
	}
	return &Manager{root: root}, nil
}

// Allocate creates a fresh workspace for one submission.
func (m *Manager) Allocate(submissionID string) (*Workspace, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	dir := filepath.Join(m.root, fmt.Sprintf("%s-%s", submissionID, uuid.NewString()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create workspace failed")
	}
	return &Workspace{root: dir}, nil
}

// Workspace is one submission's scratch area. The compile directory
// holds the source and binary; each testcase gets its own subdirectory.
type Workspace struct {
	root        string
	releaseOnce sync.Once
}

// Root returns the workspace root on the host.
func (w *Workspace) Root() string {
	return w.root
}

// CompileDir returns the directory used for compilation artifacts.
func (w *Workspace) CompileDir() string {
	return filepath.Join(w.root, "build")
}

// CaseDir returns the directory for one testcase execution.
func (w *Workspace) CaseDir(index int) string {
	return filepath.Join(w.root, fmt.Sprintf("case-%d", index))
}

// Release removes the workspace tree. It is safe to call more than
// once and from deferred cleanup paths.
func (w *Workspace) Release() error {
	var err error
	w.releaseOnce.Do(func() {
		err = os.RemoveAll(w.root)
	})
	return err
}
