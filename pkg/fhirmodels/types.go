package fhirmodels

// Common FHIR value set constants used by the fixtures and the sandbox.

// Resource types exercised by the fixtures.
const (
	ResourcePatient          = "Patient"
	ResourceCondition        = "Condition"
	ResourceBundle           = "Bundle"
	ResourceOperationOutcome = "OperationOutcome"
)

// Bundle types per FHIR R4.
const (
	BundleTransaction         = "transaction"
	BundleTransactionResponse = "transaction-response"
	BundleBatch               = "batch"
	BundleBatchResponse       = "batch-response"
	BundleSearchset           = "searchset"
	BundleHistory             = "history"
)

// ConditionClinicalStatus codes.
const (
	ConditionActive     = "active"
	ConditionRecurrence = "recurrence"
	ConditionRelapse    = "relapse"
	ConditionInactive   = "inactive"
	ConditionRemission  = "remission"
	ConditionResolved   = "resolved"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// HumanName use codes.
const (
	NameUseOfficial = "official"
	NameUseUsual    = "usual"
)

// Code systems.
const (
	SystemSNOMED            = "http://snomed.info/sct"
	SystemConditionClinical = "http://terminology.hl7.org/CodeSystem/condition-clinical"
	SystemConditionCategory = "http://terminology.hl7.org/CodeSystem/condition-category"
)

// Media types.
const (
	MIMEFHIRJSON  = "application/fhir+json"
	MIMEJSON      = "application/json"
	MIMEJSONPatch = "application/json-patch+json"
)

var genders = map[string]bool{
	GenderMale:    true,
	GenderFemale:  true,
	GenderOther:   true,
	GenderUnknown: true,
}

// IsValidGender reports whether g is an AdministrativeGender code.
func IsValidGender(g string) bool {
	return genders[g]
}
