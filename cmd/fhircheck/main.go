package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhircheck/internal/client"
	"github.com/ehr/fhircheck/internal/config"
	"github.com/ehr/fhircheck/internal/fixture"
	"github.com/ehr/fhircheck/internal/platform/auth"
	"github.com/ehr/fhircheck/internal/platform/db"
	"github.com/ehr/fhircheck/internal/platform/logging"
	"github.com/ehr/fhircheck/internal/report"
	"github.com/ehr/fhircheck/internal/sandbox"
	"github.com/ehr/fhircheck/internal/suite"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fhircheck",
		Short:         "Run ordered FHIR REST fixtures against a server",
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	pf := rootCmd.PersistentFlags()
	pf.String("base-uri", "", "FHIR server base URI (overrides FHIR_BASE_URI)")
	pf.String("base-path", "", "FHIR base path (overrides FHIR_BASE_PATH)")
	pf.String("log-level", "", "Log level (overrides LOG_LEVEL)")
	pf.String("fixtures", "", "Directory with fixture files (overrides FIXTURES_DIR)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sandboxCmd())
	rootCmd.AddCommand(postCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(reportCmd())
	return rootCmd
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("base-uri"); v != "" {
		cfg.BaseURI = strings.TrimRight(v, "/")
	}
	if v, _ := cmd.Flags().GetString("base-path"); cmd.Flags().Changed("base-path") {
		cfg.BasePath = ""
		if p := strings.Trim(v, "/ "); p != "" {
			cfg.BasePath = "/" + p
		}
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("fixtures"); v != "" {
		cfg.FixturesDir = v
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	return logging.New(cmd.OutOrStdout(), cfg.LogLevel, cfg.IsDev())
}

// tokenSource picks a static token, a self-signed HS256 token, or none.
func tokenSource(cfg *config.Config) (auth.TokenSource, error) {
	switch {
	case cfg.AuthToken != "":
		return auth.StaticToken(cfg.AuthToken), nil
	case cfg.AuthSigningKey != "":
		return auth.NewHS256Source(auth.SignerConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			Subject:    cfg.AuthSubject,
		})
	default:
		return nil, nil
	}
}

func newClient(cfg *config.Config, resourceType string, logger zerolog.Logger) (*client.ResourceClient, error) {
	tokens, err := tokenSource(cfg)
	if err != nil {
		return nil, err
	}
	return client.New(client.NewDescriptor(resourceType), client.Config{
		BaseURI:     cfg.BaseURI,
		BasePath:    cfg.BasePath,
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		TokenSource: tokens,
		Logger:      logger,
	}), nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "run [patient|condition|all]",
		Short:     "Run fixtures and exit non-zero when any step fails or is skipped",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"patient", "condition", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "all"
			if len(args) == 1 {
				name = args[0]
			}
			suites, err := suite.Lookup(name)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			verbose, _ := cmd.Flags().GetBool("verbose")
			record, _ := cmd.Flags().GetBool("record")

			observers := []fixture.Observer{report.NewConsole(logger, verbose)}
			var recorder *report.Recorder
			if record {
				if cfg.DatabaseURL == "" {
					return errors.New("--record needs DATABASE_URL")
				}
				pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
				if err != nil {
					return err
				}
				defer pool.Close()
				recorder = report.NewRecorder(report.NewRunRepo(pool), cfg.ServerURL(), logger)
				observers = append(observers, recorder)
			}

			summaries, err := runSuites(cmd.Context(), cfg, suites, logger, observers...)
			if err != nil {
				return err
			}
			if recorder != nil {
				if err := recorder.Err(); err != nil {
					logger.Warn().Err(err).Msg("some runs were not recorded")
				}
			}
			return summarize(summaries)
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "Log response bodies of failed steps")
	cmd.Flags().Bool("record", false, "Persist run results to DATABASE_URL")
	return cmd
}

// runSuites runs each suite concurrently with its own client and State.
func runSuites(ctx context.Context, cfg *config.Config, suites []suite.Suite, logger zerolog.Logger, observers ...fixture.Observer) ([]fixture.Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runners := make([]*fixture.Runner, len(suites))
	for i, s := range suites {
		c, err := newClient(cfg, s.ResourceType, logger)
		if err != nil {
			return nil, err
		}
		runners[i] = fixture.New(s.Name, c, s.Steps(cfg.FixturesDir),
			fixture.WithObservers(observers...),
			fixture.WithLogger(logger),
		)
	}

	summaries := make([]fixture.Summary, len(runners))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range runners {
		i, r := i, r
		g.Go(func() error {
			summaries[i] = r.Run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func summarize(summaries []fixture.Summary) error {
	var bad []string
	for _, s := range summaries {
		if !s.OK() {
			bad = append(bad, fmt.Sprintf("%s (%d failed, %d skipped)", s.Name, s.Failed, s.Skipped))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("fixtures did not pass: %s", strings.Join(bad, ", "))
	}
	return nil
}

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Start the in-memory FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			if p, _ := cmd.Flags().GetString("port"); p != "" {
				cfg.SandboxPort = p
			}

			scfg := sandbox.Config{BasePath: cfg.BasePath, Logger: logger}
			if cfg.AuthSigningKey != "" {
				scfg.Auth = &auth.VerifierConfig{
					SigningKey: []byte(cfg.AuthSigningKey),
					Issuer:     cfg.AuthIssuer,
					Audience:   cfg.AuthAudience,
				}
			}
			srv := sandbox.New(scfg)

			patients, _ := cmd.Flags().GetInt("seed-patients")
			conditions, _ := cmd.Flags().GetInt("seed-conditions")
			seed, _ := cmd.Flags().GetInt64("seed")
			n, err := srv.Store().Seed(sandbox.SeedConfig{Patients: patients, ConditionsPerPatient: conditions, Seed: seed})
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info().Int("resources", n).Msg("sandbox seeded")
			}

			go func() {
				if err := srv.Start(":" + cfg.SandboxPort); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("sandbox error")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logger.Info().Msg("shutting down sandbox")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("sandbox shutdown failed: %w", err)
			}
			logger.Info().Msg("sandbox stopped")
			return nil
		},
	}
	cmd.Flags().String("port", "", "Listen port (overrides SANDBOX_PORT)")
	cmd.Flags().Int("seed-patients", 0, "Synthetic Patients to load at startup")
	cmd.Flags().Int("seed-conditions", 2, "Synthetic Conditions per seeded Patient")
	cmd.Flags().Int64("seed", 0, "Random seed for synthetic data; 0 is time-based")
	return cmd
}

func postCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <resourceType> <file>",
		Short: "POST a JSON document; Bundles go to the service root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			c, err := newClient(cfg, args[0], newLogger(cmd, cfg))
			if err != nil {
				return err
			}

			var res *client.Result
			if args[0] == "Bundle" {
				res, err = c.TransactionFromFile(cmd.Context(), args[1])
			} else {
				res, err = c.CreateFromFile(cmd.Context(), args[1])
			}
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <resourceType> <file>",
		Short: "Ask the server to $validate a resource file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return &client.IOError{Path: args[1], Err: err}
			}
			var payload client.Payload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("%s is not a JSON object: %w", args[1], err)
			}

			c, err := newClient(cfg, args[0], newLogger(cmd, cfg))
			if err != nil {
				return err
			}
			res, err := c.Validate(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}

// printResult writes the status line and body, and fails on non-2xx.
func printResult(cmd *cobra.Command, res *client.Result) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s -> %d (%dms)\n", res.Method, res.URL, res.StatusCode, res.ElapsedMillis())
	if loc := res.Header.Get("Location"); loc != "" {
		fmt.Fprintf(out, "Location: %s\n", loc)
	}
	fmt.Fprintln(out, res.Pretty())
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("server returned %d", res.StatusCode)
	}
	return nil
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Manage recorded fixture runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the run history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := report.Migrate(cmd.Context(), pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent fixture runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			runs, err := report.NewRunRepo(pool).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s %-10s %-20s %6s %6s %7s\n", "RUN", "FIXTURE", "STARTED", "PASSED", "FAILED", "SKIPPED")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s %-10s %-20s %6d %6d %7d\n",
					r.ID, r.Name, r.StartedAt.Format("2006-01-02 15:04:05"), r.Passed, r.Failed, r.Skipped)
			}
			return nil
		},
	}
	listCmd.Flags().Int("limit", 20, "Number of runs to show")
	cmd.AddCommand(listCmd)

	return cmd
}
