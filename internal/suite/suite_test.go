package suite

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/client"
	"github.com/ehr/fhircheck/internal/fixture"
	"github.com/ehr/fhircheck/internal/sandbox"
)

const fixturesDir = "../../testdata"

func sandboxClient(t *testing.T, resourceType string, types ...string) *client.ResourceClient {
	t.Helper()
	ts := httptest.NewServer(sandbox.New(sandbox.Config{ResourceTypes: types, Logger: zerolog.Nop()}))
	t.Cleanup(ts.Close)
	return client.New(client.NewDescriptor(resourceType), client.Config{
		BaseURI:    ts.URL,
		BasePath:   "/fhir",
		HTTPClient: ts.Client(),
		Logger:     zerolog.Nop(),
	})
}

func TestSuitesPassAgainstSandbox(t *testing.T) {
	for _, s := range All() {
		t.Run(s.Name, func(t *testing.T) {
			c := sandboxClient(t, s.ResourceType)
			summary := fixture.New(s.Name, c, s.Steps(fixturesDir)).Run(context.Background())

			for _, o := range summary.Outcomes {
				if o.Outcome != fixture.OutcomePassed {
					t.Errorf("step %d %q: %s (status %d): %v", o.Index, o.Name, o.Outcome, o.StatusCode(), o.Err)
				}
			}
			if !summary.OK() || summary.Total() != len(s.Steps(fixturesDir)) {
				t.Errorf("unexpected summary: passed=%d failed=%d skipped=%d", summary.Passed, summary.Failed, summary.Skipped)
			}
		})
	}
}

func TestConditionSuite_CreateFailureSkipsDependents(t *testing.T) {
	// Only Patient is served, so every Condition call fails.
	c := sandboxClient(t, "Condition", "Patient")
	summary := fixture.New("condition", c, ConditionSteps(fixturesDir)).Run(context.Background())

	want := map[string]fixture.Outcome{
		"create condition":             fixture.OutcomeFailed,
		"read condition":               fixture.OutcomeSkipped,
		"update condition":             fixture.OutcomeSkipped,
		"patch condition text":         fixture.OutcomeSkipped,
		"search conditions by patient": fixture.OutcomeFailed,
		"validate condition":           fixture.OutcomeFailed,
		"post condition from file":     fixture.OutcomeFailed,
		"read condition from file":     fixture.OutcomeFailed,
		"delete condition from file":   fixture.OutcomeFailed,
		"delete condition":             fixture.OutcomeSkipped,
		"read deleted condition":       fixture.OutcomeSkipped,
	}
	got := make(map[string]fixture.Outcome, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		got[o.Name] = o.Outcome
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if summary.Total() != len(want) {
		t.Errorf("expected every step reported, got %d", summary.Total())
	}
}

func decode(t *testing.T, r *client.Result) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(r.Body, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

var ignoreServerFields = cmpopts.IgnoreMapEntries(func(k string, _ interface{}) bool {
	return k == "id" || k == "meta"
})

func TestRoundTripAndIdempotentRead(t *testing.T) {
	ctx := context.Background()
	c := sandboxClient(t, "Condition")

	payload := BuildCondition(PatientReference, DiagnosisCode, DiagnosisDisplay, DiagnosisText)
	created, err := c.Create(ctx, payload)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.ID()

	first, err := c.Read(ctx, id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	second, err := c.Read(ctx, id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if diff := cmp.Diff(decode(t, first), decode(t, second)); diff != "" {
		t.Errorf("repeated reads differ (-first +second):\n%s", diff)
	}

	var sent map[string]interface{}
	raw, _ := json.Marshal(payload)
	_ = json.Unmarshal(raw, &sent)
	if diff := cmp.Diff(sent, decode(t, first), ignoreServerFields); diff != "" {
		t.Errorf("read does not match created payload (-sent +read):\n%s", diff)
	}
}

func TestPatchThenRead(t *testing.T) {
	ctx := context.Background()
	c := sandboxClient(t, "Condition")

	created, err := c.Create(ctx, BuildCondition(PatientReference, DiagnosisCode, DiagnosisDisplay, DiagnosisText))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Patch(ctx, created.ID(), "/code/text", "X"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	read, err := c.Read(ctx, created.ID())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := read.Get("code.text").String(); got != "X" {
		t.Errorf("expected code.text X, got %q", got)
	}
	if got := read.Get("code.coding.0.code").String(); got != DiagnosisCode {
		t.Errorf("patch touched coding: %q", got)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		want    []string
		wantErr bool
	}{
		{"all", []string{"condition", "patient"}, false},
		{"", []string{"condition", "patient"}, false},
		{"patient", []string{"patient"}, false},
		{"observation", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suites, err := Lookup(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup(%q) error = %v", tt.name, err)
			}
			var names []string
			for _, s := range suites {
				names = append(names, s.Name)
			}
			if diff := cmp.Diff(tt.want, names); diff != "" {
				t.Errorf("names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPatientWithConditionBundle(t *testing.T) {
	b := PatientWithConditionBundle("p-1", "female", "1990-01-01", "Asthma")
	entries := b["entry"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	cond := entries[1].(map[string]interface{})["resource"].(map[string]interface{})
	ref := cond["subject"].(map[string]interface{})["reference"]
	if ref != "Patient/p-1" {
		t.Errorf("unexpected subject reference %v", ref)
	}
	req := entries[0].(map[string]interface{})["request"].(map[string]interface{})
	if req["method"] != "PUT" || req["url"] != "Patient/p-1" {
		t.Errorf("unexpected patient request %v", req)
	}
}
