package suite

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ehr/fhircheck/internal/client"
	"github.com/ehr/fhircheck/internal/fixture"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

const (
	patientUpdatedName = "Mohanad Updated"
	patientPatchedName = "Mohanad Patched"

	bundlePatientBirthDate = "1992-05-15"
)

// PatientSteps walks a Patient through create, read, update, patch, search,
// validate, vread, bundles and delete.
func PatientSteps(fixturesDir string) []fixture.Step {
	return []fixture.Step{
		{
			Name:   "create patient",
			Expect: fixture.Expect(http.StatusCreated),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Create(ctx, BuildPatient(PatientName, PatientGender, PatientBirthDate))
			},
			Extract: fixture.ExtractID,
			Checks:  []fixture.Check{fixture.FieldEquals("resourceType", fhirmodels.ResourcePatient)},
		},
		{
			Name:     "read patient",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Read(ctx, s.ResourceID)
			},
			Extract: fixture.ExtractVersionTag,
			Checks: []fixture.Check{
				fixture.FieldContains("name.0.text", "Mohanad"),
				fixture.FieldEquals("gender", PatientGender),
				fixture.FieldEquals("birthDate", PatientBirthDate),
			},
		},
		{
			Name:     "update patient",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Replace(ctx, s.ResourceID, BuildPatient(patientUpdatedName, PatientGender, PatientBirthDate))
			},
			Checks: []fixture.Check{fixture.FieldEquals("name.0.text", patientUpdatedName)},
		},
		{
			Name:     "patch patient name",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Patch(ctx, s.ResourceID, "/name/0/text", patientPatchedName)
			},
			Checks: []fixture.Check{fixture.FieldEquals("name.0.text", patientPatchedName)},
		},
		{
			Name:   "search patient by name",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Search(ctx, url.Values{"name": {"Mohanad"}})
			},
			Checks: []fixture.Check{
				fixture.FieldEquals("resourceType", fhirmodels.ResourceBundle),
				fixture.BodyContains("Mohanad"),
			},
		},
		{
			Name:   "validate patient",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Validate(ctx, BuildPatient(PatientName, PatientGender, PatientBirthDate))
			},
		},
		{
			Name:     "read patient version",
			Requires: []fixture.Requirement{fixture.RequiresResourceID, fixture.RequiresVersionTag},
			Expect:   fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.ReadVersion(ctx, s.ResourceID, s.VersionTag)
			},
			Checks: []fixture.Check{
				fixture.FieldEqualsState("meta.versionId", func(s *fixture.State) string { return s.VersionTag }),
			},
		},
		{
			Name:   "send transaction bundle",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				patient := client.Payload{"resourceType": fhirmodels.ResourcePatient, "id": uuid.NewString()}
				return c.Transaction(ctx, BuildTransaction(Entry(http.MethodPost, fhirmodels.ResourcePatient, patient)))
			},
			Checks: []fixture.Check{fixture.FieldEquals("type", fhirmodels.BundleTransactionResponse)},
		},
		{
			Name:   "create patient with condition bundle",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Transaction(ctx, PatientWithConditionBundle(PatientKnownID, PatientGender, bundlePatientBirthDate, DiagnosisText))
			},
			Checks: []fixture.Check{
				fixture.FieldContains("entry.0.response.location", PatientReference+"/_history/"),
				fixture.FieldContains("entry.1.response.location", fhirmodels.ResourceCondition+"/"),
			},
		},
		{
			Name:   "read bundle patient",
			Expect: fixture.Expect(http.StatusOK),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Read(ctx, PatientKnownID)
			},
			Checks: []fixture.Check{
				fixture.FieldEquals("id", PatientKnownID),
				fixture.FieldEquals("birthDate", bundlePatientBirthDate),
			},
		},
		{
			Name:   "post bundle from file",
			Expect: fixture.Expect(http.StatusOK, http.StatusCreated),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.TransactionFromFile(ctx, filepath.Join(fixturesDir, PatientConditionFile))
			},
		},
		{
			Name:     "delete patient",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusOK, http.StatusNoContent),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Delete(ctx, s.ResourceID)
			},
		},
		{
			Name:     "read deleted patient",
			Requires: []fixture.Requirement{fixture.RequiresResourceID},
			Expect:   fixture.Expect(http.StatusNotFound, http.StatusGone),
			Call: func(ctx context.Context, c *client.ResourceClient, s *fixture.State) (*client.Result, error) {
				return c.Read(ctx, s.ResourceID)
			},
		},
	}
}
