// Package model defines the judge service's wire and storage shapes.
package model

import (
	"encoding/hex"

	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

// JudgeMessage represents the Kafka payload for judge tasks.
// Inputs and ExpectedOutputs are index-aligned; case i reads Inputs[i]
// and is compared against ExpectedOutputs[i]. DataPackKey optionally
// names an object storage archive that replaces the inline arrays.
type JudgeMessage struct {
	SubmissionID    string   `json:"submission_id"`
	LanguageID      string   `json:"language_id"`
	SourceCode      string   `json:"source_code"`
	Inputs          []string `json:"inputs"`
	ExpectedOutputs []string `json:"expected_outputs"`
	TimeLimitMs     int64    `json:"time_limit_ms"`
	MemoryLimitMB   int64    `json:"memory_limit_mb"`

	DataPackKey string `json:"data_pack_key,omitempty"`
	// DataPackSHA256 is the hex digest of the archive named by
	// DataPackKey. When set, the downloaded pack must match it.
	DataPackSHA256 string `json:"data_pack_sha256,omitempty"`

	ExtraCompileFlags []string `json:"extra_compile_flags,omitempty"`

	EnqueuedAt int64 `json:"enqueued_at,omitempty"`
}

// Validate checks structural invariants before judging starts.
func (m *JudgeMessage) Validate() error {
	if m.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if m.LanguageID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if m.SourceCode == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if len(m.Inputs) != len(m.ExpectedOutputs) {
		return appErr.Newf(appErr.InvalidParams,
			"inputs and expected outputs must be index aligned: %d != %d",
			len(m.Inputs), len(m.ExpectedOutputs))
	}
	if m.TimeLimitMs < 0 || m.MemoryLimitMB < 0 {
		return appErr.New(appErr.InvalidParams).WithMessage("limits must not be negative")
	}
	if m.DataPackSHA256 != "" {
		if m.DataPackKey == "" {
			return appErr.ValidationError("data_pack_key", "required when a digest is given")
		}
		if len(m.DataPackSHA256) != 64 {
			return appErr.ValidationError("data_pack_sha256", "must be a 64 character hex digest")
		}
		if _, err := hex.DecodeString(m.DataPackSHA256); err != nil {
			return appErr.ValidationError("data_pack_sha256", "must be a hex digest")
		}
	}
	return nil
}
