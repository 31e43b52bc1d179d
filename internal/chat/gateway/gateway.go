// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gameward/gameward/internal/chat"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/sealed"
	"github.com/gameward/gameward/lib/secret"
)

// credential is the decrypted payload held in ChatSettings.CredentialSealed
// for a gateway provider.
type credential struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// outboundFrame is the JSON frame sent for each delivered event.
type outboundFrame struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	Role       chat.Role `json:"role"`
	Kind       string    `json:"kind"`
	Args       []string  `json:"args"`
	At         time.Time `json:"at"`
	Channels   []string  `json:"channels,omitempty"`
}

// inboundFrame is the JSON frame read from the connection. Only
// "command" frames are acted on; unrecognized types are dropped.
type inboundFrame struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Provider maintains one persistent websocket connection to a remote
// chat gateway and speaks the duplex event/command protocol over it.
type Provider struct {
	settings domain.ChatSettings

	writeMu sync.Mutex
	conn    *websocket.Conn

	commandsMu sync.Mutex
	commands   []chat.Command

	closed chan struct{}
}

// Dial decrypts settings.CredentialSealed with privateKey, opens the
// websocket connection, and starts the background read loop that
// sources custom commands. The caller must call Close when the
// provider is no longer needed.
func Dial(ctx context.Context, settings domain.ChatSettings, privateKey *secret.Buffer) (*Provider, error) {
	plaintext, err := sealed.DecryptJSON(settings.CredentialSealed, privateKey)
	if err != nil {
		return nil, fmt.Errorf("gateway: decrypt credential: %w", err)
	}
	defer plaintext.Close()

	var cred credential
	if err := json.Unmarshal(plaintext.Bytes(), &cred); err != nil {
		return nil, fmt.Errorf("gateway: parse credential: %w", err)
	}
	if cred.URL == "" {
		return nil, fmt.Errorf("gateway: credential has no url")
	}

	header := http.Header{}
	if cred.Token != "" {
		header.Set("Authorization", "Bearer "+cred.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cred.URL, header)
	if err != nil {
		return nil, fmt.Errorf("gateway: dialing %s: %w", settings.ID, err)
	}

	p := &Provider{
		settings: settings,
		conn:     conn,
		closed:   make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// Close terminates the connection and stops the read loop.
func (p *Provider) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
	}
	return p.conn.Close()
}

func (p *Provider) readLoop() {
	defer close(p.closed)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "command" {
			continue
		}

		p.commandsMu.Lock()
		p.commands = append(p.commands, chat.Command{Name: frame.Name, Description: frame.Description})
		p.commandsMu.Unlock()
	}
}

// Deliver sends event to the gateway as a JSON frame. Gorilla's
// websocket.Conn forbids concurrent writers, so writes are serialized
// with writeMu.
func (p *Provider) Deliver(ctx context.Context, event chat.Event) error {
	frame := outboundFrame{
		Type:       "event",
		InstanceID: event.InstanceID,
		Role:       event.Role,
		Kind:       event.Kind,
		Args:       event.Args,
		At:         event.At,
		Channels:   p.settings.Channels,
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("gateway: set write deadline: %w", err)
		}
	}
	if err := p.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("gateway: delivering to %s: %w", p.settings.ID, err)
	}
	return nil
}

// Commands drains and returns every custom command the remote side has
// registered since the last call.
func (p *Provider) Commands(ctx context.Context) ([]chat.Command, error) {
	p.commandsMu.Lock()
	defer p.commandsMu.Unlock()
	drained := p.commands
	p.commands = nil
	return drained, nil
}
