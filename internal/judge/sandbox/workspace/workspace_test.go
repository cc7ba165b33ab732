package workspace_test

import (
	"os"
	"strings"
	"testing"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/workspace"
)

func TestAllocateCreatesUniqueDirs(t *testing.T) {
	mgr, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	first, err := mgr.Allocate("sub-1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, err := mgr.Allocate("sub-1")
	if err != nil {
		t.Fatalf("allocate again: %v", err)
	}
	if first.Root() == second.Root() {
		t.Fatalf("two workspaces for the same submission share %s", first.Root())
	}
	for _, ws := range []*workspace.Workspace{first, second} {
		if _, err := os.Stat(ws.Root()); err != nil {
			t.Fatalf("workspace root missing: %v", err)
		}
		if !strings.Contains(ws.Root(), "sub-1") {
			t.Fatalf("workspace dir %s does not carry the submission id", ws.Root())
		}
	}
}

func TestDirLayout(t *testing.T) {
	mgr, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ws, err := mgr.Allocate("sub-2")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !strings.HasPrefix(ws.CompileDir(), ws.Root()) {
		t.Fatalf("compile dir %s escapes the workspace", ws.CompileDir())
	}
	if !strings.HasPrefix(ws.CaseDir(3), ws.Root()) {
		t.Fatalf("case dir %s escapes the workspace", ws.CaseDir(3))
	}
	if ws.CaseDir(0) == ws.CaseDir(1) {
		t.Fatalf("case dirs must differ per index")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	mgr, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ws, err := mgr.Allocate("sub-3")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := os.MkdirAll(ws.CompileDir(), 0755); err != nil {
		t.Fatalf("mkdir compile dir: %v", err)
	}

	if err := ws.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(ws.Root()); !os.IsNotExist(err) {
		t.Fatalf("workspace still exists after release")
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestAllocateRejectsEmptySubmission(t *testing.T) {
	mgr, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Allocate(""); err == nil {
		t.Fatal("expected error for empty submission id")
	}
}
