// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// InstanceState is the lifecycle state of an Instance.
type InstanceState string

const (
	InstanceOnline   InstanceState = "online"
	InstanceOffline  InstanceState = "offline"
	InstanceDetached InstanceState = "detached"
)

// IsKnown reports whether s is one of the defined InstanceState values.
func (s InstanceState) IsKnown() bool {
	switch s {
	case InstanceOnline, InstanceOffline, InstanceDetached:
		return true
	}
	return false
}

// AttachSentinel is the name of the marker file left in an instance
// directory on detach, and required (or absent, for a fresh directory)
// before create-or-attach will accept the path.
const AttachSentinel = "GAMEWARD_ALLOW_INSTANCE_ATTACH"

// GlobalInstanceID is the reserved instance_users scope for the
// controller's global administrator accounts, used for root-level
// control-surface login (as opposed to a per-instance InstanceUser's
// rights, which never authenticate directly). No real Instance is ever
// assigned this ID.
const GlobalInstanceID = "global"

// Instance is one game-server deployment unit: a stable id, a unique
// canonical name, and a unique absolute path, plus the settings owned
// by its subsystems.
type Instance struct {
	ID   string `cbor:"1,keyasint" json:"id"`
	Name string `cbor:"2,keyasint" json:"name"`
	Path string `cbor:"3,keyasint" json:"path"`

	State InstanceState `cbor:"4,keyasint" json:"state"`

	// AutoStart governs whether the watchdog starts a session when
	// the instance transitions offline -> online. Cleared for the
	// duration of the instance manager's launch job and restored to
	// its prior value when that job finishes.
	AutoStart bool `cbor:"5,keyasint" json:"auto_start"`

	Repository RepositorySettings `cbor:"6,keyasint" json:"repository"`
	Toolchain  ToolchainSettings  `cbor:"7,keyasint" json:"toolchain"`
	Launch     LaunchParameters   `cbor:"8,keyasint" json:"launch"`

	ChatSettings []ChatSettings `cbor:"9,keyasint,omitempty" json:"chat_settings,omitempty"`

	CreatedAt time.Time `cbor:"10,keyasint" json:"created_at"`
	UpdatedAt time.Time `cbor:"11,keyasint" json:"updated_at"`

	// Compile names what a compile job builds out of the instance's
	// repository, per spec.md §3's "compiler-deploy settings".
	Compile CompileSettings `cbor:"12,keyasint" json:"compile"`
}

// CompileSettings name the project a compile job builds and the
// security level its resulting deployment is stamped with.
type CompileSettings struct {
	// ProjectName is the repository-relative project file path,
	// without extension (e.g. "tools/instance/instance"), passed to
	// the compiler command.
	ProjectName string `cbor:"1,keyasint" json:"project_name"`

	// MinimumSecurityLevel is recorded on every deployment this
	// instance compiles. Defaults to SecuritySafe when empty.
	MinimumSecurityLevel SecurityLevel `cbor:"2,keyasint,omitempty" json:"minimum_security_level,omitempty"`
}

// RepositorySettings are the per-instance version-control configuration
// consumed by the repository engine.
type RepositorySettings struct {
	OriginURL           string `cbor:"1,keyasint" json:"origin_url"`
	CommitterName       string `cbor:"2,keyasint,omitempty" json:"committer_name,omitempty"`
	CommitterEmail      string `cbor:"3,keyasint,omitempty" json:"committer_email,omitempty"`
	AccessTokenSealed   string `cbor:"4,keyasint,omitempty" json:"-"`
	AutoUpdatesKeepTest bool   `cbor:"5,keyasint" json:"auto_updates_keep_test_merges"`

	// AutoUpdateCron is a 5-field cron expression naming when the
	// auto-update poller should fetch and fast-forward this instance's
	// repository. Empty disables scheduled auto-update.
	AutoUpdateCron string `cbor:"6,keyasint,omitempty" json:"auto_update_cron,omitempty"`
}

// ToolchainSettings pin the compiler version an instance's deployments
// build with.
type ToolchainSettings struct {
	Version string `cbor:"1,keyasint" json:"version"`
}

// ChatSettings configures one chat provider adapter for an instance.
type ChatSettings struct {
	ID       string   `cbor:"1,keyasint" json:"id"`
	Provider string   `cbor:"2,keyasint" json:"provider"` // "webhook" | "gateway"
	Enabled  bool     `cbor:"3,keyasint" json:"enabled"`
	Channels []string `cbor:"4,keyasint,omitempty" json:"channels,omitempty"`

	// CredentialSealed is the age-encrypted provider credential
	// (bot token, webhook URL + secret), opaque to JSON output.
	CredentialSealed string `cbor:"5,keyasint,omitempty" json:"-"`
}

// InstanceUser is a per-instance account with a set of granted rights.
type InstanceUser struct {
	ID           string    `cbor:"1,keyasint" json:"id"`
	InstanceID   string    `cbor:"2,keyasint" json:"instance_id"`
	Name         string    `cbor:"3,keyasint" json:"name"`
	PasswordHash string    `cbor:"4,keyasint" json:"-"`
	Rights       Rights    `cbor:"5,keyasint" json:"rights"`
	CreatedAt    time.Time `cbor:"6,keyasint" json:"created_at"`
}

// Rights is a bitmask of granted instance-scoped permissions.
type Rights uint32

const (
	RightRelocate Rights = 1 << iota
	RightRename
	RightSetOnline
	RightSetConfig
	RightSetAutoUpdate
	RightCancelJob
	RightLaunchSession
	RightTerminateSession
	RightCompile
	RightRepository
)

// Has reports whether all bits in want are set in r.
func (r Rights) Has(want Rights) bool {
	return r&want == want
}
