// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// JobState is the lifecycle state of a Job.
type JobState string

const (
	JobRegistered JobState = "registered"
	JobRunning    JobState = "running"
	JobCompleted  JobState = "completed"
	JobErrored    JobState = "errored"
	JobCancelled  JobState = "cancelled"
	JobAbandoned  JobState = "abandoned"
)

// IsTerminal reports whether s is a state a job never leaves.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCompleted, JobErrored, JobCancelled, JobAbandoned:
		return true
	}
	return false
}

// CancelRightType names the kind of right required to cancel a job,
// paired with the specific Rights bitmask value it must intersect.
type CancelRightType string

const (
	CancelRightInstance CancelRightType = "instance"
	CancelRightDaemon   CancelRightType = "daemon"
)

// Job is a registered long-running operation: a compile, a repository
// mutation, a session launch, an instance move. Progress is monotonic
// non-decreasing; a job never restarts.
type Job struct {
	ID string `cbor:"1,keyasint" json:"id"`

	// InstanceID is empty for daemon-scope jobs (e.g. a global
	// toolchain cache cleanup).
	InstanceID string `cbor:"2,keyasint,omitempty" json:"instance_id,omitempty"`

	Description string `cbor:"3,keyasint" json:"description"`
	StartedBy   string `cbor:"4,keyasint" json:"started_by"`

	CancelRightType CancelRightType `cbor:"5,keyasint" json:"cancel_right_type"`
	CancelRight     Rights          `cbor:"6,keyasint" json:"cancel_right"`

	State    JobState `cbor:"7,keyasint" json:"state"`
	Progress int      `cbor:"8,keyasint" json:"progress"`

	ErrorKind    string `cbor:"9,keyasint,omitempty" json:"error_kind,omitempty"`
	ErrorMessage string `cbor:"10,keyasint,omitempty" json:"error_message,omitempty"`

	CancellationRequested bool `cbor:"11,keyasint" json:"cancellation_requested"`

	StartedAt time.Time  `cbor:"12,keyasint" json:"started_at"`
	StoppedAt *time.Time `cbor:"13,keyasint,omitempty" json:"stopped_at,omitempty"`
}

// Clamp clamps a progress update to the monotonic non-decreasing
// contract: a lower incoming value than the job's current progress is
// silently floored to the current value.
func (j *Job) Clamp(value int) int {
	if value < j.Progress {
		return j.Progress
	}
	if value > 100 {
		return 100
	}
	return value
}
