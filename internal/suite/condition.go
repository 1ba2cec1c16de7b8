package suite

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/ehr/fhircheck/internal/client"
	"github.com/ehr/fhircheck/internal/fixture"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

const (
	conditionUpdatedText = "Updated Type 2 Diabetes"
	conditionPatchedText = "Patched Diagnosis Text"

	// fileConditionKey holds the id of the Condition posted from ConditionFile.
	fileConditionKey  = "file_condition"
	fileConditionText = "Hypertension"
)

func ConditionSteps(fixturesDir string) []fixture.Step {
	return []fixture.Step{
		{
			Name:   "create condition",
			Expect: fixture.Expect(http.StatusCreated),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Create(ctx, BuildCondition(PatientReference, DiagnosisCode, DiagnosisDisplay, DiagnosisText))
			},
			Extract: fixture.Extractors(fixture.ExtractID, fixture.ExtractVersionTag),
		},
		{
			Name:     "read condition",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Read(ctx, s.ResourceID)
			},
			Checks: []fixture.Check{
				fixture.FieldEquals("resourceType", fhirmodels.ResourceCondition),
				fixture.FieldEquals("code.text", DiagnosisText),
				fixture.FieldEquals("code.coding.0.code", DiagnosisCode),
			},
		},
		{
			Name:     "update condition",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Replace(ctx, s.ResourceID, BuildCondition(PatientReference, DiagnosisCode, DiagnosisDisplay, conditionUpdatedText))
			},
			Checks: []fixture.Check{fixture.FieldEquals("code.text", conditionUpdatedText)},
		},
		{
			Name:     "patch condition text",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Patch(ctx, s.ResourceID, "/code/text", conditionPatchedText)
			},
			Checks: []fixture.Check{fixture.FieldEquals("code.text", conditionPatchedText)},
		},
		{
			Name:   "search conditions by patient",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.SearchByReference(ctx, "subject", PatientReference)
			},
			Checks: []fixture.Check{
				fixture.AnyFieldEquals("entry.#.resource.resourceType", fhirmodels.ResourceCondition),
			},
		},
		{
			Name:   "validate condition",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Validate(ctx, client.Payload{
					"resourceType": fhirmodels.ResourceCondition,
					"subject":      map[string]interface{}{"reference": PatientReference},
					"code":         map[string]interface{}{"text": DiagnosisText},
				})
			},
		},
		{
			Name:   "post condition from file",
			Expect: fixture.Expect(http.StatusCreated),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.CreateFromFile(ctx, filepath.Join(fixturesDir, ConditionFile))
			},
			Extract: fixture.ExtractValue(fileConditionKey, "id"),
		},
		{
			Name:   "read condition from file",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Read(ctx, s.Get(fileConditionKey))
			},
			Checks: []fixture.Check{
				fixture.FieldEqualsState("id", func(s *fixture.State) string { return s.Get(fileConditionKey) }),
				fixture.FieldEquals("code.text", fileConditionText),
				fixture.FieldEquals("subject.reference", PatientReference),
			},
		},
		{
			Name:   "delete condition from file",
			Expect: fixture.Expect(http.StatusOK, http.StatusNoContent),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Delete(ctx, s.Get(fileConditionKey))
			},
		},
		{
			Name:     "delete condition",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK, http.StatusNoContent),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Delete(ctx, s.ResourceID)
			},
		},
		{
			Name:     "read deleted condition",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusNotFound, http.StatusGone),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Read(ctx, s.ResourceID)
			},
		},
	}
}
