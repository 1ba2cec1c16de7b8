package sandbox

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"
)

func TestStore_Seed(t *testing.T) {
	s := newTestStore()
	n, err := s.Seed(SeedConfig{Patients: 5, ConditionsPerPatient: 2, Seed: 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 15 {
		t.Errorf("expected 15 resources, got %d", n)
	}

	patients, _ := s.List("Patient")
	conditions, _ := s.List("Condition")
	if len(patients) != 5 || len(conditions) != 10 {
		t.Fatalf("got %d patients and %d conditions", len(patients), len(conditions))
	}

	ids := make(map[string]bool)
	for _, p := range patients {
		doc := p
		if oo := validateResource("Patient", decodeMap(t, doc)); oo.HasErrors() {
			t.Errorf("seeded patient invalid: %+v", oo.Issue)
		}
		ids["Patient/"+gjson.GetBytes(doc, "id").String()] = true
	}
	for _, c := range conditions {
		if oo := validateResource("Condition", decodeMap(t, c)); oo.HasErrors() {
			t.Errorf("seeded condition invalid: %+v", oo.Issue)
		}
		if ref := gjson.GetBytes(c, "subject.reference").String(); !ids[ref] {
			t.Errorf("condition references unknown patient %q", ref)
		}
	}
}

func TestStore_SeedReproducible(t *testing.T) {
	names := func() []string {
		s := newTestStore()
		if _, err := s.Seed(SeedConfig{Patients: 3, Seed: 7}); err != nil {
			t.Fatal(err)
		}
		list, _ := s.List("Patient")
		var out []string
		for _, p := range list {
			out = append(out, gjson.GetBytes(p, "name.0.text").String()+" "+gjson.GetBytes(p, "birthDate").String())
		}
		return out
	}
	if diff := cmp.Diff(names(), names()); diff != "" {
		t.Errorf("same seed produced different data:\n%s", diff)
	}
}

func TestStore_SeedNothing(t *testing.T) {
	s := newTestStore()
	if n, err := s.Seed(SeedConfig{}); n != 0 || err != nil {
		t.Errorf("expected no-op, got %d, %v", n, err)
	}
}
