// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package deployment implements the deployment store: per-instance
// compile-job results landed into a primary/secondary staging
// directory pair, a single "latest" pointer set on commit, and
// refcounted deletion so a deployment's directories cannot be removed
// while any SessionController still holds it.
package deployment
