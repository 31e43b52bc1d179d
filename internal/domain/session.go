// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/gameward/gameward/internal/apperror"
)

// RebootState is whether a session has been asked to restart or shut
// down at its next natural reboot notification from the bridge.
type RebootState string

const (
	RebootNormal   RebootState = "normal"
	RebootRestart  RebootState = "restart"
	RebootShutdown RebootState = "shutdown"
)

// IsKnown reports whether s is one of the defined RebootState values.
func (s RebootState) IsKnown() bool {
	switch s {
	case RebootNormal, RebootRestart, RebootShutdown:
		return true
	}
	return false
}

// LaunchParameters configure one session launch.
type LaunchParameters struct {
	AllowWebClient bool          `cbor:"1,keyasint" json:"allow_web_client"`
	SecurityLevel  SecurityLevel `cbor:"2,keyasint" json:"security_level"`

	PrimaryPort   int `cbor:"3,keyasint" json:"primary_port"`
	SecondaryPort int `cbor:"4,keyasint" json:"secondary_port"`

	StartupTimeoutSeconds int `cbor:"5,keyasint" json:"startup_timeout_seconds"`
	HeartbeatSeconds      int `cbor:"6,keyasint" json:"heartbeat_seconds"`
}

// Validate checks the invariants spec.md §3 places on LaunchParameters:
// both ports in range, and distinct.
func (p LaunchParameters) Validate() error {
	if !validPort(p.PrimaryPort) || !validPort(p.SecondaryPort) {
		return apperror.ErrPortOutOfRange
	}
	if p.PrimaryPort == p.SecondaryPort {
		return apperror.ErrDuplicatePorts
	}
	return nil
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

// EffectiveSecurityLevel applies the launch-time clamp: the effective
// level is never less permissive than the deployment's minimum.
func EffectiveSecurityLevel(configured, deploymentMinimum SecurityLevel) SecurityLevel {
	return MaxSecurityLevel(configured, deploymentMinimum)
}

// ReattachRecord is a persisted handle that lets the controller rebind
// to a running session after its own restart. Cleared after a
// successful re-attach or when the referenced process disappears.
type ReattachRecord struct {
	InstanceID string `cbor:"1,keyasint" json:"instance_id"`

	ProcessID int `cbor:"2,keyasint" json:"process_id"`

	// AccessIdentifierSealed is the access identifier, age-encrypted
	// at rest. It is decrypted into a lib/secret.Buffer only for the
	// duration of re-registering the bridge.
	AccessIdentifierSealed string `cbor:"3,keyasint" json:"-"`

	BoundPort int         `cbor:"4,keyasint" json:"bound_port"`
	IsPrimary bool        `cbor:"5,keyasint" json:"is_primary"`
	Reboot    RebootState `cbor:"6,keyasint" json:"reboot_state"`
	Security  SecurityLevel `cbor:"7,keyasint" json:"security_level"`

	PersistedAt time.Time `cbor:"8,keyasint" json:"persisted_at"`
}

// Session is one running game-server process, owned by a
// SessionController. Destroyed on terminate.
type Session struct {
	BoundPort int `json:"bound_port"`

	// Session carries no access identifier field, so it is never
	// serialized; the identifier lives only in the owning
	// SessionController's secret.Buffer for the session's lifetime.
	Reboot       RebootState      `json:"reboot_state"`
	DeploymentID string           `json:"deployment_id"`
	Launch       LaunchParameters `json:"launch"`
	Running      bool             `json:"running"`

	LaunchedAt time.Time `json:"launched_at"`
}
