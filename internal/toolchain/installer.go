// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package toolchain

import (
	"context"
	"fmt"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/procexec"
)

// CommandInstaller returns an Installer that shells out to command,
// the way lib/config.ToolchainConfig.InstallerCommand names it. The
// version and destination directory are passed as the only two
// arguments, matching procexec's no-shell exec discipline: the actual
// fetch/extract logic is the external program's business, not this
// controller's. An empty command is a configuration error the
// installer reports per call rather than one New refuses to build,
// since a cache that never installs anything is still a valid
// Manager to hold pre-seeded, out-of-band-installed versions.
func CommandInstaller(command string) Installer {
	return func(ctx context.Context, version, dir string) error {
		if command == "" {
			return apperror.Validation(apperror.CodeNone,
				"no toolchain installer command configured")
		}

		handle, err := procexec.Start(procexec.Spec{
			Path: command,
			Args: []string{version, dir},
		})
		if err != nil {
			return fmt.Errorf("starting toolchain installer: %w", err)
		}
		if err := handle.Wait(ctx); err != nil {
			return fmt.Errorf("toolchain installer %s %s %s: %w", command, version, dir, err)
		}
		return nil
	}
}
