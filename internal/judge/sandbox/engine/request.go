package engine

import (
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/security"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/spec"
)

// initRequest is the JSON payload handed to the sandbox-init helper
// over stdin.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
