// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook implements the outbound-webhook chat provider: a
// send-only chat.Provider that POSTs classified events as signed JSON
// to a configured URL. The target URL and HMAC secret are sourced from
// the instance's sealed ChatSettings credential.
package webhook
