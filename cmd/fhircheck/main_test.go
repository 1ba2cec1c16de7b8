package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/config"
	"github.com/ehr/fhircheck/internal/fixture"
	"github.com/ehr/fhircheck/internal/platform/auth"
	"github.com/ehr/fhircheck/internal/sandbox"
)

func startSandbox(t *testing.T, cfg sandbox.Config) string {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	ts := httptest.NewServer(sandbox.New(cfg))
	t.Cleanup(ts.Close)
	return ts.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand_AllSuitesPass(t *testing.T) {
	url := startSandbox(t, sandbox.Config{})
	t.Setenv("AUTH_TOKEN", "")
	t.Setenv("AUTH_SIGNING_KEY", "")

	out, err := execute(t, "run", "all", "--base-uri", url, "--fixtures", "../../testdata", "--log-level", "info")
	if err != nil {
		t.Fatalf("expected success, got %v\n%s", err, out)
	}
	if strings.Count(out, "fixture finished") != 2 {
		t.Errorf("expected two run summaries, got:\n%s", out)
	}
}

func TestRunCommand_FailureExitsNonZero(t *testing.T) {
	url := startSandbox(t, sandbox.Config{ResourceTypes: []string{"Patient"}})
	t.Setenv("AUTH_TOKEN", "")
	t.Setenv("AUTH_SIGNING_KEY", "")

	_, err := execute(t, "run", "condition", "--base-uri", url, "--fixtures", "../../testdata")
	if err == nil || !strings.Contains(err.Error(), "condition") {
		t.Fatalf("expected condition failure, got %v", err)
	}
}

func TestRunCommand_UnknownSuite(t *testing.T) {
	if _, err := execute(t, "run", "observation", "--base-uri", "http://localhost:1"); err == nil {
		t.Error("expected error for unknown suite")
	}
}

func TestRunCommand_SigningKeyAuth(t *testing.T) {
	key := "cli-signing-key-0123456789"
	url := startSandbox(t, sandbox.Config{Auth: &auth.VerifierConfig{SigningKey: []byte(key)}})
	t.Setenv("AUTH_TOKEN", "")
	t.Setenv("AUTH_SIGNING_KEY", key)

	out, err := execute(t, "run", "patient", "--base-uri", url, "--fixtures", "../../testdata")
	if err != nil {
		t.Fatalf("expected success with signed token, got %v\n%s", err, out)
	}
}

func TestPostAndValidateCommands(t *testing.T) {
	url := startSandbox(t, sandbox.Config{})
	t.Setenv("AUTH_TOKEN", "")
	t.Setenv("AUTH_SIGNING_KEY", "")

	out, err := execute(t, "post", "Condition", "../../testdata/sample_condition.json", "--base-uri", url)
	if err != nil {
		t.Fatalf("post: %v\n%s", err, out)
	}
	if !strings.Contains(out, "-> 201") || !strings.Contains(out, "Location:") {
		t.Errorf("unexpected post output:\n%s", out)
	}

	out, err = execute(t, "post", "Bundle", "../../testdata/sample_patient_condition.json", "--base-uri", url)
	if err != nil || !strings.Contains(out, "transaction-response") {
		t.Errorf("bundle post: %v\n%s", err, out)
	}

	out, err = execute(t, "validate", "Condition", "../../testdata/sample_condition.json", "--base-uri", url)
	if err != nil || !strings.Contains(out, "-> 200") {
		t.Errorf("validate: %v\n%s", err, out)
	}

	if _, err := execute(t, "post", "Condition", "missing.json", "--base-uri", url); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTokenSource(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantNil bool
		wantErr bool
	}{
		{"none", config.Config{}, true, false},
		{"static", config.Config{AuthToken: "abc"}, false, false},
		{"signed", config.Config{AuthSigningKey: "0123456789abcdef0123"}, false, false},
		{"short key", config.Config{AuthSigningKey: "short"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := tokenSource(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (src == nil) != tt.wantNil {
				t.Fatalf("source = %v, wantNil %v", src, tt.wantNil)
			}
			if src != nil {
				if tok, err := src.Token(); err != nil || tok == "" {
					t.Errorf("Token() = %q, %v", tok, err)
				}
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	ok := fixture.Summary{Name: "patient", Passed: 3}
	skipped := fixture.Summary{Name: "condition", Passed: 1, Skipped: 2}

	if err := summarize([]fixture.Summary{ok}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	err := summarize([]fixture.Summary{ok, skipped})
	if err == nil || !strings.Contains(err.Error(), "condition (0 failed, 2 skipped)") {
		t.Errorf("unexpected error %v", err)
	}
}
