package fixture

import (
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/ehr/fhircheck/internal/client"
)

const searchBody = `{"resourceType":"Bundle","type":"searchset","entry":[
 {"resource":{"resourceType":"Condition","id":"c1","code":{"text":"Type 2 Diabetes Mellitus"}}},
 {"resource":{"resourceType":"OperationOutcome"}}]}`

func TestChecks(t *testing.T) {
	res := &client.Result{StatusCode: 200, Body: []byte(searchBody)}
	state := &State{VersionTag: "2", Values: map[string]string{}}

	tests := []struct {
		name  string
		check Check
		pass  bool
	}{
		{"equals", FieldEquals("resourceType", "Bundle"), true},
		{"equals mismatch", FieldEquals("type", "history"), false},
		{"equals missing", FieldEquals("total", ""), false},
		{"contains", FieldContains("entry.0.resource.code.text", "Diabetes"), true},
		{"contains mismatch", FieldContains("entry.0.resource.code.text", "Asthma"), false},
		{"body contains", BodyContains(`"id":"c1"`), true},
		{"body missing", BodyContains("Mohanad"), false},
		{"any equals", AnyFieldEquals("entry.#.resource.resourceType", "Condition"), true},
		{"any equals none", AnyFieldEquals("entry.#.resource.resourceType", "Patient"), false},
		{"any equals no entries", AnyFieldEquals("link.#.relation", "self"), false},
		{"state", FieldEqualsState("type", func(*State) string { return "searchset" }), true},
		{"state mismatch", FieldEqualsState("type", func(s *State) string { return s.VersionTag }), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(res, state)
			if tt.pass && err != nil {
				t.Errorf("expected pass, got %v", err)
			}
			if !tt.pass {
				var ce *CheckError
				if !errors.As(err, &ce) {
					t.Errorf("expected CheckError, got %v", err)
				}
			}
		})
	}
}

func TestStatusSet(t *testing.T) {
	s := Expect(204, 200)
	if !s.Contains(200) || !s.Contains(204) || s.Contains(201) {
		t.Errorf("unexpected Contains results for %v", s)
	}
	if s.String() != "200|204" {
		t.Errorf("expected sorted 200|204, got %s", s.String())
	}
	if Expect().Contains(200) {
		t.Error("empty set should accept nothing")
	}
}

func TestRequirementString(t *testing.T) {
	if RequiresResourceID.String() != "resourceId" || RequiresVersionTag.String() != "versionTag" {
		t.Error("unexpected requirement names")
	}
	if Requirement(99).satisfiedBy(newState()) {
		t.Error("unknown requirement should never be satisfied")
	}
}

func TestExtractors_IgnoreEmpty(t *testing.T) {
	s := newState()
	s.ResourceID = "keep"
	s.VersionTag = "1"
	Extractors(ExtractID, ExtractVersionTag, ExtractValue("k", "missing"))(&client.Result{Body: []byte(`{}`)}, s)

	if s.ResourceID != "keep" || s.VersionTag != "1" {
		t.Errorf("empty fields should not overwrite state: %s", s)
	}
	if _, ok := s.Values["k"]; ok {
		t.Error("missing path should not be stored")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"aéb", 2, "a..."},
		{"ééé", 3, "é..."},
		{"日本", 1, "..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8 %q", tt.in, tt.n, got)
		}
	}
}
