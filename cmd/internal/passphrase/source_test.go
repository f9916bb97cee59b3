package passphrase

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("SWAP_TEST_PASS", "hunter2")
	src := NewSource("SWAP_TEST_PASS", "keystore")
	src.isTerminal = func(int) bool {
		t.Fatalf("terminal consulted despite environment override")
		return false
	}
	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("unexpected passphrase %q: %v", got, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("SWAP_TEST_PASS", "   ")
	if _, err := NewSource("SWAP_TEST_PASS", "keystore").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	var prompt bytes.Buffer
	src := NewSource("SWAP_TEST_UNSET_PASS", "keystore")
	src.out = &prompt
	src.isTerminal = func(int) bool { return true }
	calls := 0
	src.readPassword = func(int) ([]byte, error) {
		calls++
		return []byte("typed"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "typed" {
			t.Fatalf("unexpected passphrase %q: %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
	if !strings.Contains(prompt.String(), "Enter keystore passphrase") {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("SWAP_TEST_UNSET_PASS", "keystore")
	src.isTerminal = func(int) bool { return false }
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "SWAP_TEST_UNSET_PASS") {
		t.Fatalf("expected missing passphrase error, got %v", err)
	}

	src = NewSource("SWAP_TEST_UNSET_PASS", "keystore")
	src.isTerminal = func(int) bool { return true }
	src.out = &bytes.Buffer{}
	src.readPassword = func(int) ([]byte, error) { return nil, errors.New("eof") }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected read failure")
	}
}
