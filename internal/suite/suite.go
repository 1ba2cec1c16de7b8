// Package suite holds the Patient and Condition lifecycle fixtures.
package suite

import (
	"fmt"
	"sort"

	"github.com/ehr/fhircheck/internal/fixture"
)

const (
	PatientName      = "Mohanad Al Badri"
	PatientGender    = "male"
	PatientBirthDate = "1992-01-01"

	// PatientReference is the subject the Condition fixture and the bundle
	// steps share.
	PatientReference = "Patient/mohanad-albadri"
	PatientKnownID   = "mohanad-albadri"

	DiagnosisCode    = "44054006"
	DiagnosisDisplay = "Diabetes mellitus type 2"
	DiagnosisText    = "Type 2 Diabetes Mellitus"

	ConditionFile        = "sample_condition.json"
	PatientConditionFile = "sample_patient_condition.json"
)

// Suite is a named fixture for one resource type.
type Suite struct {
	Name         string
	ResourceType string
	// Steps builds the step list; fixturesDir locates file-based inputs.
	Steps func(fixturesDir string) []fixture.Step
}

var registry = map[string]Suite{
	"patient":   {Name: "patient", ResourceType: "Patient", Steps: PatientSteps},
	"condition": {Name: "condition", ResourceType: "Condition", Steps: ConditionSteps},
}

// All returns every suite sorted by name.
func All() []Suite {
	out := make([]Suite, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup resolves a suite name; "all" returns every suite.
func Lookup(name string) ([]Suite, error) {
	if name == "" || name == "all" {
		return All(), nil
	}
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown suite %q", name)
	}
	return []Suite{s}, nil
}
