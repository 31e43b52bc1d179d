// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gameward/gameward/internal/chat"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/netutil"
	"github.com/gameward/gameward/lib/sealed"
	"github.com/gameward/gameward/lib/secret"
)

// credential is the decrypted payload held in ChatSettings.CredentialSealed
// for a webhook provider.
type credential struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// Provider POSTs chat.Event deliveries as signed JSON to a fixed URL.
// It implements chat.Provider but not chat.CommandSource: webhooks are
// send-only, so custom commands can only come from another provider
// that implements chat.CommandSource (the gateway).
type Provider struct {
	settings   domain.ChatSettings
	url        string
	secret     []byte
	httpClient *http.Client
}

// New decrypts settings.CredentialSealed with privateKey and returns a
// Provider ready to deliver events to the decrypted URL.
func New(settings domain.ChatSettings, privateKey *secret.Buffer, httpClient *http.Client) (*Provider, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	plaintext, err := sealed.DecryptJSON(settings.CredentialSealed, privateKey)
	if err != nil {
		return nil, fmt.Errorf("webhook: decrypt credential: %w", err)
	}
	defer plaintext.Close()

	var cred credential
	if err := json.Unmarshal(plaintext.Bytes(), &cred); err != nil {
		return nil, fmt.Errorf("webhook: parse credential: %w", err)
	}
	if cred.URL == "" {
		return nil, fmt.Errorf("webhook: credential has no url")
	}

	return &Provider{
		settings:   settings,
		url:        cred.URL,
		secret:     []byte(cred.Secret),
		httpClient: httpClient,
	}, nil
}

type payload struct {
	InstanceID string    `json:"instance_id"`
	Role       chat.Role `json:"role"`
	Kind       string    `json:"kind"`
	Args       []string  `json:"args"`
	At         time.Time `json:"at"`
	Channels   []string  `json:"channels,omitempty"`
}

// Deliver POSTs event to the provider's configured URL, signed with an
// HMAC-SHA256 over the JSON body so the receiving endpoint can verify
// the delivery came from this controller. A non-2xx response is
// treated as a delivery failure and returned for the caller's retry
// policy to act on.
func (p *Provider) Deliver(ctx context.Context, event chat.Event) error {
	body, err := json.Marshal(payload{
		InstanceID: event.InstanceID,
		Role:       event.Role,
		Kind:       event.Kind,
		Args:       event.Args,
		At:         event.At,
		Channels:   p.settings.Channels,
	})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if len(p.secret) > 0 {
		request.Header.Set("X-Gameward-Signature", "sha256="+p.sign(body))
	}

	response, err := p.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("webhook: delivering to %s: %w", p.settings.ID, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("webhook: delivering to %s: HTTP %d: %s",
			p.settings.ID, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	return nil
}

func (p *Provider) sign(body []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
