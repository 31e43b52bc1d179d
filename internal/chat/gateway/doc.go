// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the duplex-websocket chat provider: it
// dials a remote chat gateway once, delivers classified events over
// that connection as JSON frames, and reads inbound frames in the
// background to source custom commands registered by the remote side.
// Unlike the webhook provider it implements chat.CommandSource.
package gateway
