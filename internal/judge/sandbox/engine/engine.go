// Package engine executes sandboxed processes with namespace, cgroup
// and seccomp isolation.
package engine

import (
	"context"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}
