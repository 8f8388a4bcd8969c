package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_UnknownCommand(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := Run([]string{"aegis", "frobnicate"}, &out, &errBuf)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(errBuf.String(), "unknown command") {
		t.Errorf("expected unknown command message, got %q", errBuf.String())
	}
}

func TestRun_Help(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := Run([]string{"aegis", "help"}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "safety kernel") {
		t.Errorf("expected usage text, got %q", out.String())
	}
}

func TestRunToken_RequiresArgs(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := runToken(nil, &out, &errBuf)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestRunToken_Issues(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "test-secret-material")
	var out, errBuf bytes.Buffer
	code := runToken([]string{"alice", "approver,auditor"}, &out, &errBuf)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, errBuf.String())
	}
	if token := strings.TrimSpace(out.String()); strings.Count(token, ".") != 2 {
		t.Errorf("expected a JWT, got %q", token)
	}
}

func TestRunToken_RejectsUnknownRole(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "test-secret-material")
	var out, errBuf bytes.Buffer
	code := runToken([]string{"alice", "root"}, &out, &errBuf)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}
