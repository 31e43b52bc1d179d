// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat implements the chat bridge: fan-out delivery of
// classified events (watchdog, dev, admin, game) to N per-instance
// provider adapters, and merging of the custom commands reported by
// providers that implement CommandSource. Commands are not read from
// deployment artifacts. One provider's failure is isolated from the
// others and retried with bounded exponential backoff.
package chat
