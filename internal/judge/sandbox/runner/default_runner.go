package runner

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/engine"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/observer"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/profile"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/spec"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

const (
	containerWorkDir = "/work"
	inputFileName    = "input.txt"
	outputFileName   = "output.txt"
	compileLogName   = "compile.log"
	runtimeLogName   = "runtime.log"
)

// DefaultRunner implements compile/run workflows for supported languages.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by the sandbox engine.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.CompileResult{}, err
	}
	if err := prepareWorkDir(req.WorkDir); err != nil {
		return result.CompileResult{}, err
	}
	if err := writeSourceFile(req.WorkDir, req.SourceCode, req.Language.SourceFile); err != nil {
		return result.CompileResult{}, err
	}
	if !req.Language.CompileEnabled {
		return result.CompileResult{OK: true}, nil
	}

	limits := applyLimits(req.Limits, req.Profile.DefaultLimits, req.Language)
	cmd, err := buildCommand(req.Language.CompileCmdTpl, req.Language, req.ExtraCompileFlags)
	if err != nil {
		return result.CompileResult{}, err
	}

	runSpec := spec.RunSpec{
		SubmissionID: req.SubmissionID,
		TaskID:       "compile",
		WorkDir:      containerWorkDir,
		Cmd:          cmd,
		Env:          req.Language.Env,
		StderrPath:   filepath.Join(containerWorkDir, compileLogName),
		Profile:      profileName(req.Language.ID, req.Profile.TaskType),
		Limits:       limits,
		BindMounts: []spec.MountSpec{{
			Source:   req.WorkDir,
			Target:   containerWorkDir,
			ReadOnly: false,
		}},
	}

	runRes, err := r.eng.Run(ctx, runSpec)
	compileRes := result.CompileResult{
		OK:          runRes.ExitCode == 0 && err == nil,
		ExitCode:    runRes.ExitCode,
		TimeMs:      runRes.TimeMs,
		Diagnostics: runRes.Stderr,
	}
	r.metrics.ObserveCompile(ctx, req.Language.ID, compileRes.OK, compileRes.TimeMs)
	if err != nil {
		compileRes.Error = err.Error()
		return compileRes, err
	}
	return compileRes, nil
}

func (r *DefaultRunner) RunCase(ctx context.Context, req CaseRequest) (result.CaseExecution, error) {
	if err := validateCaseRequest(req); err != nil {
		return result.CaseExecution{}, err
	}
	if err := prepareWorkDir(req.WorkDir); err != nil {
		return result.CaseExecution{}, err
	}
	if err := os.WriteFile(filepath.Join(req.WorkDir, inputFileName), []byte(req.Input), 0644); err != nil {
		return result.CaseExecution{}, appErr.Wrapf(err, appErr.InternalServerError, "write case input failed")
	}

	limits := applyLimits(req.Limits, req.Profile.DefaultLimits, req.Language)
	runSpec, err := r.buildCaseRunSpec(req, limits)
	if err != nil {
		return result.CaseExecution{}, err
	}

	runRes, runErr := r.eng.Run(ctx, runSpec)
	if runErr != nil {
		r.metrics.ObserveRun(ctx, req.Language.ID, string(result.FaultSystem), runRes.TimeMs, runRes.MemoryKB)
		return result.CaseExecution{
			Index: req.Index,
			Fault: result.FaultSystem,
		}, runErr
	}

	exec := result.CaseExecution{
		Index:          req.Index,
		TimeMs:         caseTimeMs(runRes),
		MemoryKB:       runRes.MemoryKB,
		MemoryMeasured: runRes.MemoryMeasured,
		ExitCode:       runRes.ExitCode,
		Stdout:         runRes.Stdout,
		Stderr:         runRes.Stderr,
	}

	// Timeout first, then memory, then crashes. A signal death alone
	// is ambiguous (ExitCode is -1 for kills of every origin) so the
	// engine flags are authoritative.
	switch {
	case runRes.TimedOut || (limits.CPUTimeMs > 0 && runRes.TimeMs > limits.CPUTimeMs):
		exec.TimedOut = true
		exec.Fault = result.FaultTimeout
	case runRes.OomKilled:
		exec.MemoryExceeded = true
		exec.Fault = result.FaultOOM
	case limits.MemoryMB > 0 && runRes.MemoryMeasured && runRes.MemoryKB > limits.MemoryMB*1024:
		exec.MemoryExceeded = true
		exec.Fault = result.FaultOOM
	case runRes.ExitCode != 0:
		exec.Fault = result.FaultSignal
	default:
		exec.Correct = OutputsMatch(runRes.Stdout, req.Expected)
	}

	r.metrics.ObserveRun(ctx, req.Language.ID, string(exec.Fault), exec.TimeMs, exec.MemoryKB)
	return exec, nil
}

// OutputsMatch compares program output against the expected answer.
// Both sides are trimmed of leading and trailing whitespace before an
// exact comparison; interior whitespace is significant.
func OutputsMatch(got, want string) bool {
	return strings.TrimSpace(got) == strings.TrimSpace(want)
}

func (r *DefaultRunner) buildCaseRunSpec(req CaseRequest, limits spec.ResourceLimit) (spec.RunSpec, error) {
	cmd, err := buildCommand(req.Language.RunCmdTpl, req.Language, nil)
	if err != nil {
		return spec.RunSpec{}, err
	}

	mounts := []spec.MountSpec{{
		Source:   req.WorkDir,
		Target:   containerWorkDir,
		ReadOnly: false,
	}}
	// The compiled binary (or the source for interpreted languages)
	// lives in the compile dir and is shared read-only across cases.
	if req.Language.BinaryFile != "" {
		mounts = append(mounts, spec.MountSpec{
			Source:   filepath.Join(req.BinaryDir, req.Language.BinaryFile),
			Target:   filepath.Join(containerWorkDir, req.Language.BinaryFile),
			ReadOnly: true,
		})
	}
	if !req.Language.CompileEnabled && req.Language.SourceFile != "" {
		mounts = append(mounts, spec.MountSpec{
			Source:   filepath.Join(req.BinaryDir, req.Language.SourceFile),
			Target:   filepath.Join(containerWorkDir, req.Language.SourceFile),
			ReadOnly: true,
		})
	}

	return spec.RunSpec{
		SubmissionID: req.SubmissionID,
		TaskID:       fmt.Sprintf("case-%d", req.Index),
		WorkDir:      containerWorkDir,
		Cmd:          cmd,
		Env:          req.Language.Env,
		StdinPath:    filepath.Join(containerWorkDir, inputFileName),
		StdoutPath:   filepath.Join(containerWorkDir, outputFileName),
		StderrPath:   filepath.Join(containerWorkDir, runtimeLogName),
		Profile:      profileName(req.Language.ID, req.Profile.TaskType),
		Limits:       limits,
		BindMounts:   mounts,
	}, nil
}

// caseTimeMs prefers CPU time and falls back to wall time when the
// process was killed before rusage could be collected.
func caseTimeMs(res result.RunResult) int64 {
	if res.TimeMs > 0 {
		return res.TimeMs
	}
	return res.WallTimeMs
}

func validateCompileRequest(req CompileRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.SourceCode == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if req.Profile.TaskType == "" {
		return appErr.ValidationError("task_profile", "required")
	}
	return nil
}

func validateCaseRequest(req CaseRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.Index < 0 {
		return appErr.ValidationError("case_index", "must not be negative")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.BinaryDir == "" {
		return appErr.ValidationError("binary_dir", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if req.Profile.TaskType == "" {
		return appErr.ValidationError("task_profile", "required")
	}
	return nil
}

func buildCommand(tpl string, lang profile.LanguageSpec, extraFlags []string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{src}", filepath.Join(containerWorkDir, lang.SourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(containerWorkDir, lang.BinaryFile))
	if strings.Contains(expanded, "{extraFlags}") {
		expanded = strings.ReplaceAll(expanded, "{extraFlags}", strings.Join(extraFlags, " "))
	}
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func applyLimits(override, defaults spec.ResourceLimit, lang profile.LanguageSpec) spec.ResourceLimit {
	merged := mergeLimits(defaults, override)
	return applyMultipliers(merged, lang)
}

func mergeLimits(base, override spec.ResourceLimit) spec.ResourceLimit {
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryMB > 0 {
		base.MemoryMB = override.MemoryMB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.OutputMB > 0 {
		base.OutputMB = override.OutputMB
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}

func applyMultipliers(limits spec.ResourceLimit, lang profile.LanguageSpec) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, lang.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, lang.TimeMultiplier)
	limits.MemoryMB = scaleLimit(limits.MemoryMB, lang.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func profileName(languageID string, taskType profile.TaskType) string {
	if languageID == "" {
		return string(taskType)
	}
	return fmt.Sprintf("%s-%s", languageID, taskType)
}

func prepareWorkDir(workDir string) error {
	if workDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "create work dir failed")
	}
	return nil
}

func writeSourceFile(workDir, sourceCode, targetName string) error {
	if targetName == "" {
		return appErr.ValidationError("source_file_name", "required")
	}
	targetPath := filepath.Join(workDir, targetName)
	if err := os.WriteFile(targetPath, []byte(sourceCode), 0644); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "write source failed")
	}
	return nil
}
