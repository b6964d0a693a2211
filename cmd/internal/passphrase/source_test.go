package passphrase

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, terminal bool, typed string, readErr error) (*Source, *bytes.Buffer) {
	prompt := &bytes.Buffer{}
	s := NewSource("AUCTION_RPC_TOKEN", "RPC bearer token")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return terminal }
	s.readSecret = func() ([]byte, error) { return []byte(typed), readErr }
	s.prompt = prompt
	return s, prompt
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s, prompt := newTestSource(map[string]string{"AUCTION_RPC_TOKEN": " tok "}, true, "typed", nil)
	got, err := s.Get()
	if err != nil || got != "tok" {
		t.Fatalf("unexpected %q (%v)", got, err)
	}
	if prompt.Len() != 0 {
		t.Fatalf("should not prompt when the variable is set")
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s, _ := newTestSource(map[string]string{"AUCTION_RPC_TOKEN": "  "}, true, "typed", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty variable error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s, prompt := newTestSource(nil, true, "secret", nil)
	got, err := s.Get()
	if err != nil || got != "secret" {
		t.Fatalf("unexpected %q (%v)", got, err)
	}
	if !strings.Contains(prompt.String(), "Enter RPC bearer token") {
		t.Fatalf("missing prompt: %q", prompt.String())
	}
	s.readSecret = func() ([]byte, error) { return nil, errors.New("second read") }
	if again, err := s.Get(); err != nil || again != "secret" {
		t.Fatalf("value should be cached, got %q (%v)", again, err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s, _ := newTestSource(nil, false, "", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "AUCTION_RPC_TOKEN") {
		t.Fatalf("expected guidance to set the variable, got %v", err)
	}
	s, _ = newTestSource(nil, true, "   ", nil)
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected blank input to be rejected")
	}
}
