package report

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/fhircheck/internal/platform/db"
)

// Runs only with DATABASE_URL pointing at a disposable database.
func TestRunRepoPG(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, 2, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if _, err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	applied, err := Migrate(ctx, pool)
	if err != nil || applied != 0 {
		t.Fatalf("second migrate should be a no-op, got %d, %v", applied, err)
	}

	repo := NewRunRepo(pool)
	run, err := FromSummary(sampleSummary(), "http://localhost/fhir")
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM fixture_runs WHERE id = $1`, run.ID)
	})

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Failed != 1 || len(got.Steps) != 3 || got.Steps[1].Status != 404 {
		t.Errorf("unexpected run: %+v", got)
	}

	runs, err := repo.ListRuns(ctx, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, r := range runs {
		found = found || r.ID == run.ID
	}
	if !found {
		t.Error("saved run not listed")
	}

	if _, err := repo.GetRun(ctx, uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
