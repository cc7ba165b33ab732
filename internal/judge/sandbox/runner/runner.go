// Package runner implements compile and per-testcase execution on top
// of the sandbox engine.
package runner

import (
	"context"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/profile"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/spec"
)

// CompileRequest describes one compilation task.
type CompileRequest struct {
	SubmissionID string
	Language     profile.LanguageSpec
	Profile      profile.TaskProfile
	// WorkDir is the host directory holding the source and, after a
	// successful compile, the binary.
	WorkDir string
	// SourceCode is written into WorkDir under Language.SourceFile.
	SourceCode string
	// ExtraCompileFlags must be pre-filtered by the caller.
	ExtraCompileFlags []string
	Limits            spec.ResourceLimit
}

// CaseRequest describes one testcase execution.
type CaseRequest struct {
	SubmissionID string
	Index        int
	Language     profile.LanguageSpec
	Profile      profile.TaskProfile
	// BinaryDir is the compile work dir holding the program artifacts.
	BinaryDir string
	// WorkDir is the per-case host directory for input/output files.
	WorkDir string
	// Input is fed to the program on stdin.
	Input string
	// Expected is the answer the program output is compared against.
	Expected string
	Limits   spec.ResourceLimit
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	RunCase(ctx context.Context, req CaseRequest) (result.CaseExecution, error)
}
