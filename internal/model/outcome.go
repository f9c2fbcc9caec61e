package model

import (
	"time"

	"github.com/google/uuid"
)

// State is a step of the acquisition state machine.
type State string

const (
	StateResolving        State = "resolving"
	StateFetchingMetadata State = "fetching_metadata"
	StateMetadataOk       State = "metadata_ok"
	StateFallingBack      State = "falling_back"
	StateFetchingBytes    State = "fetching_bytes"
	StateClassifying      State = "classifying"
	StateRecovering       State = "recovering"
	StateFingerprinting   State = "fingerprinting"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// FailureKind classifies why an acquisition failed.
type FailureKind string

const (
	FailureInvalidURL          FailureKind = "invalid_url"
	FailureResolutionFailed    FailureKind = "resolution_failed"
	FailureFetchFailed         FailureKind = "fetch_failed"
	FailureDeletedOrRestricted FailureKind = "deleted_or_restricted"
	FailureTimeout             FailureKind = "timeout"
	FailureCanceled            FailureKind = "canceled"
)

// Fingerprint identifies downloaded content. PerceptualHash is nil for
// opaque payloads.
type Fingerprint struct {
	ExactHash      string  `json:"exact_hash" yaml:"exact_hash"`
	PerceptualHash *uint64 `json:"perceptual_hash,omitempty" yaml:"perceptual_hash,omitempty"`
}

// AcquisitionOutcome is the sole result of one acquisition.
type AcquisitionOutcome struct {
	Success              bool             `json:"success" yaml:"success"`
	Descriptor           *MediaDescriptor `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
	Fingerprint          *Fingerprint     `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	FingerprintDuplicate *bool            `json:"fingerprint_duplicate,omitempty" yaml:"fingerprint_duplicate,omitempty"`
	FailureKind          FailureKind      `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Error                string           `json:"error,omitempty" yaml:"error,omitempty"`
	RecoveryDegraded     bool             `json:"recovery_degraded,omitempty" yaml:"recovery_degraded,omitempty"`
	FinalState           State            `json:"final_state" yaml:"final_state"`
	States               []State          `json:"states" yaml:"states"`
	Attempts             int              `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Elapsed              time.Duration    `json:"elapsed" yaml:"elapsed"`
}

// Visited reports whether the acquisition passed through s.
func (o *AcquisitionOutcome) Visited(s State) bool {
	for _, v := range o.States {
		if v == s {
			return true
		}
	}
	return false
}

// Record is the persisted form of a successful acquisition.
type Record struct {
	ID          string           `json:"id"`
	SourceURL   string           `json:"source_url"`
	NumericKey  string           `json:"numeric_key"`
	Kind        Kind             `json:"kind"`
	Fingerprint Fingerprint      `json:"fingerprint"`
	Descriptor  *MediaDescriptor `json:"descriptor"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NewRecord builds a record from a successful outcome. It returns nil for
// failed outcomes.
func NewRecord(o *AcquisitionOutcome) *Record {
	if o == nil || !o.Success || o.Descriptor == nil || o.Fingerprint == nil {
		return nil
	}
	return &Record{
		ID:          uuid.NewString(),
		SourceURL:   o.Descriptor.Identifier.SourceURL,
		NumericKey:  o.Descriptor.Identifier.Key(),
		Kind:        o.Descriptor.Kind,
		Fingerprint: *o.Fingerprint,
		Descriptor:  o.Descriptor,
		CreatedAt:   time.Now().UTC(),
	}
}
