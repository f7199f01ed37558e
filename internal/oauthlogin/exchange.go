// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oauthlogin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAuthURL and DefaultTokenURL point at the chat service's
// authorization-code endpoints.
const (
	DefaultAuthURL  = "https://slack.com/oauth/v2/authorize"
	DefaultTokenURL = "https://slack.com/api/oauth.v2.access"
)

// exchangeTimeout bounds the authorization-code exchange itself, not
// the wait for the user to complete the browser flow.
const exchangeTimeout = 20 * time.Second

// Exchanger trades a callback code for workspace credentials.
type Exchanger struct {
	conf *oauth2.Config
}

// NewExchanger builds an Exchanger against the chat service's OAuth
// endpoints, redirecting to the local listener on redirectPort.
func NewExchanger(clientID, clientSecret string, redirectPort int, scopes []string) *Exchanger {
	return &Exchanger{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  fmt.Sprintf("http://127.0.0.1:%d/", redirectPort),
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  DefaultAuthURL,
				TokenURL: DefaultTokenURL,
			},
		},
	}
}

// AuthCodeURL builds the browser URL to send the user to, paired with a
// random state value the caller should verify on return if the chat
// service's callback echoes it.
func (e *Exchanger) AuthCodeURL() (url, state string, err error) {
	state, err = randomState()
	if err != nil {
		return "", "", err
	}
	return e.conf.AuthCodeURL(state), state, nil
}

// Exchange trades code for a token, bounded by exchangeTimeout
// regardless of the caller's own context deadline.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	token, err := e.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauthlogin: exchange code: %w", err)
	}
	return token, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauthlogin: generate state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
