//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/client"
	"github.com/ehr/fhircheck/internal/config"
	"github.com/ehr/fhircheck/internal/platform/auth"
)

// globalCfg points at the live server, loaded once in TestMain.
var globalCfg *config.Config

func TestMain(m *testing.M) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.BaseURI == "" {
		fmt.Fprintln(os.Stderr, "FHIR_BASE_URI not set, skipping integration tests")
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if os.Getenv("FIXTURES_DIR") == "" {
		cfg.FixturesDir = "../../testdata"
	}
	globalCfg = cfg
	os.Exit(m.Run())
}

func liveClient(t *testing.T, resourceType string) *client.ResourceClient {
	t.Helper()
	var tokens auth.TokenSource
	switch {
	case globalCfg.AuthToken != "":
		tokens = auth.StaticToken(globalCfg.AuthToken)
	case globalCfg.AuthSigningKey != "":
		src, err := auth.NewHS256Source(auth.SignerConfig{
			SigningKey: []byte(globalCfg.AuthSigningKey),
			Issuer:     globalCfg.AuthIssuer,
			Audience:   globalCfg.AuthAudience,
			Subject:    globalCfg.AuthSubject,
		})
		if err != nil {
			t.Fatalf("token source: %v", err)
		}
		tokens = src
	}
	return client.New(client.NewDescriptor(resourceType), client.Config{
		BaseURI:     globalCfg.BaseURI,
		BasePath:    globalCfg.BasePath,
		HTTPClient:  &http.Client{Timeout: globalCfg.HTTPTimeout},
		TokenSource: tokens,
		Logger:      zerolog.Nop(),
	})
}
