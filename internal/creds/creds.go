// Package creds abstracts bearer-token access for the REST client and the
// realtime connection. Token issuance belongs to the identity collaborator;
// this package only reads and refreshes.
package creds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoToken is returned when no credential is available at all.
var ErrNoToken = errors.New("no credential available")

// Provider supplies the current bearer token and refreshes it when the
// server rejects it. Refresh returns the new token or fails, in which case
// the caller must treat the credential as expired.
type Provider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Static is a fixed-token provider for tests and short-lived tools.
// Refresh fails: a static token cannot be renewed.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

func (s Static) Refresh(context.Context) (string, error) {
	return "", fmt.Errorf("static credential cannot be refreshed")
}

// FileProvider reads the token file the identity collaborator maintains.
// Refresh re-reads the file, so an external re-login picks up without a
// daemon restart; a re-read that yields the same rejected token fails.
type FileProvider struct {
	Path string

	mu   sync.Mutex
	last string
}

// NewFileProvider creates a provider over the given token file path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

func (p *FileProvider) Token(context.Context) (string, error) {
	tok, err := p.read()
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.last = tok
	p.mu.Unlock()
	return tok, nil
}

func (p *FileProvider) Refresh(context.Context) (string, error) {
	tok, err := p.read()
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok == p.last {
		return "", fmt.Errorf("token file unchanged after auth rejection: %w", ErrNoToken)
	}
	p.last = tok
	return tok, nil
}

func (p *FileProvider) read() (string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}
