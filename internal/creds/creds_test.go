package creds

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeToken(t *testing.T, path, token string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestStaticToken(t *testing.T) {
	tok, err := Static("abc").Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "abc" {
		t.Errorf("token = %q, want abc", tok)
	}
	if _, err := Static("abc").Refresh(context.Background()); err == nil {
		t.Error("static Refresh() should fail")
	}
}

func TestFileProviderReadsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeToken(t, path, "tok-1")

	p := NewFileProvider(path)
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q, want tok-1 (trimmed)", tok)
	}
}

func TestFileProviderRefreshPicksUpNewToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeToken(t, path, "tok-1")

	p := NewFileProvider(path)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeToken(t, path, "tok-2")
	tok, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("refreshed token = %q, want tok-2", tok)
	}
}

func TestFileProviderRefreshFailsOnStaleToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeToken(t, path, "tok-1")

	p := NewFileProvider(path)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatal(err)
	}

	// File unchanged: the rejected token would just be rejected again.
	if _, err := p.Refresh(context.Background()); err == nil {
		t.Error("Refresh() with unchanged file should fail")
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "absent"))
	if _, err := p.Token(context.Background()); err == nil {
		t.Error("Token() should fail for missing file")
	}
}
