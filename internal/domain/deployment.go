// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// SecurityLevel is the sandboxing strength a deployment requires (or a
// launch is configured for), in the partial order ultrasafe <= safe <=
// trusted.
type SecurityLevel string

const (
	SecurityUltrasafe SecurityLevel = "ultrasafe"
	SecuritySafe      SecurityLevel = "safe"
	SecurityTrusted   SecurityLevel = "trusted"
)

// securityRank orders SecurityLevel values for clamping. Unknown
// values rank below SecurityUltrasafe so a corrupt or missing value
// never silently grants more trust than configured.
var securityRank = map[SecurityLevel]int{
	SecurityUltrasafe: 1,
	SecuritySafe:       2,
	SecurityTrusted:    3,
}

// IsKnown reports whether s is one of the defined SecurityLevel values.
func (s SecurityLevel) IsKnown() bool {
	_, ok := securityRank[s]
	return ok
}

// MaxSecurityLevel returns the more permissive of a and b in the ultrasafe <= safe
// <= trusted order. An unknown level is treated as less permissive
// than any known level.
func MaxSecurityLevel(a, b SecurityLevel) SecurityLevel {
	if securityRank[b] > securityRank[a] {
		return b
	}
	return a
}

// StagingSlot names one of a deployment's two parallel working
// directories.
type StagingSlot string

const (
	SlotPrimary   StagingSlot = "primary"
	SlotSecondary StagingSlot = "secondary"
)

// Deployment is the result of one compile job: a built artifact at a
// specific revision, landed into a primary/secondary directory pair.
type Deployment struct {
	ID         string `cbor:"1,keyasint" json:"id"`
	InstanceID string `cbor:"2,keyasint" json:"instance_id"`

	RevisionSHA      string `cbor:"3,keyasint" json:"revision_sha"`
	OriginSHA        string `cbor:"4,keyasint" json:"origin_sha"`
	ActiveTestMerges []int  `cbor:"5,keyasint,omitempty" json:"active_test_merges,omitempty"`

	MinimumSecurityLevel SecurityLevel `cbor:"6,keyasint" json:"minimum_security_level"`
	CompilerVersion       string        `cbor:"7,keyasint" json:"compiler_version"`
	ArtifactName           string        `cbor:"8,keyasint" json:"artifact_name"`

	// ContentDigest is the BLAKE3 digest of the raw compiled artifact
	// (before compression), used for dedup and integrity checks.
	ContentDigest string `cbor:"9,keyasint" json:"content_digest"`

	PrimaryDir   string `cbor:"10,keyasint" json:"primary_dir"`
	SecondaryDir string `cbor:"11,keyasint" json:"secondary_dir"`

	IsLatest bool `cbor:"12,keyasint" json:"is_latest"`
	IsActive bool `cbor:"13,keyasint" json:"is_active"`

	// RefCount tracks how many live SessionControllers hold this
	// deployment; its directories cannot be removed while positive.
	RefCount int `cbor:"14,keyasint" json:"ref_count"`

	CreatedAt time.Time `cbor:"15,keyasint" json:"created_at"`
}

// Dir returns the deployment's directory for the given slot.
func (d *Deployment) Dir(slot StagingSlot) string {
	if slot == SlotSecondary {
		return d.SecondaryDir
	}
	return d.PrimaryDir
}
