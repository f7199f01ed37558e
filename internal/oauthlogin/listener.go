// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package oauthlogin runs the local HTTP callback listener and
// authorization-code exchange for onboarding a new workspace.
package oauthlogin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrCallbackTimeout is returned by WaitForCode when no callback
// arrives before the deadline.
var ErrCallbackTimeout = errors.New("oauthlogin: timed out waiting for callback")

const shutdownGrace = 2 * time.Second

// Listener accepts exactly one GET /?code=... callback on
// 127.0.0.1:port, then shuts itself down. It never calls os.Exit or any
// other process-exit primitive; callers own the process lifecycle.
type Listener struct {
	srv    *http.Server
	result chan callbackResult
}

type callbackResult struct {
	code string
	err  error
}

// Start binds 127.0.0.1:port and begins serving in the background.
// Call WaitForCode to block for the single callback, then Shutdown (or
// let WaitForCode's internal shutdown handle it).
func Start(port int) (*Listener, error) {
	l := &Listener{result: make(chan callbackResult, 1)}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleCallback)
	l.srv = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("oauthlogin: listen on port %d: %w", port, err)
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case l.result <- callbackResult{err: fmt.Errorf("oauthlogin: serve: %w", err)}:
			default:
			}
		}
	}()

	return l, nil
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		select {
		case l.result <- callbackResult{err: fmt.Errorf("oauthlogin: authorization denied: %s", errMsg)}:
		default:
		}
		fmt.Fprint(w, "Authorization was denied. You can close this window.")
		return
	}
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}

	select {
	case l.result <- callbackResult{code: code}:
	default:
	}
	fmt.Fprint(w, "Authorization complete. You can close this window.")
}

// WaitForCode blocks until the callback arrives, ctx is done, or
// deadline elapses, then shuts the listener down regardless of outcome.
func (l *Listener) WaitForCode(ctx context.Context, deadline time.Duration) (string, error) {
	defer l.Shutdown()

	select {
	case res := <-l.result:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(deadline):
		return "", ErrCallbackTimeout
	}
}

// Shutdown gracefully stops the listener. Safe to call more than once.
func (l *Listener) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = l.srv.Shutdown(ctx)
}
