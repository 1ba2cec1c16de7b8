package sandbox

import (
	"fmt"
	"regexp"

	"github.com/ehr/fhircheck/internal/platform/fhir"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

var dateRe = regexp.MustCompile(`^\d{4}(-(0[1-9]|1[0-2])(-(0[1-9]|[12]\d|3[01]))?)?$`)

var clinicalStatuses = map[string]bool{
	fhirmodels.ConditionActive:     true,
	fhirmodels.ConditionRecurrence: true,
	fhirmodels.ConditionRelapse:    true,
	fhirmodels.ConditionInactive:   true,
	fhirmodels.ConditionRemission:  true,
	fhirmodels.ConditionResolved:   true,
}

// validateResource checks the structural rules the sandbox enforces on writes and
// $validate. It is not a full profile validator.
func validateResource(resourceType string, doc map[string]interface{}) *fhir.OperationOutcome {
	b := fhir.NewOutcomeBuilder()

	rt, _ := doc["resourceType"].(string)
	switch {
	case rt == "":
		b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeRequired, "resourceType is required", "resourceType")
	case rt != resourceType:
		b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeInvalid,
			fmt.Sprintf("resourceType %q does not match endpoint %s", rt, resourceType), "resourceType")
	}

	if raw, ok := doc["id"]; ok {
		id, isString := raw.(string)
		if !isString || !idRe.MatchString(id) {
			b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeValue, "id is not a valid FHIR id", resourceType+".id")
		}
	}

	switch resourceType {
	case fhirmodels.ResourcePatient:
		validatePatient(b, doc)
	case fhirmodels.ResourceCondition:
		validateCondition(b, doc)
	}

	return b.Build()
}

func validatePatient(b *fhir.OutcomeBuilder, doc map[string]interface{}) {
	if raw, ok := doc["gender"]; ok {
		g, _ := raw.(string)
		if !fhirmodels.IsValidGender(g) {
			b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeValue,
				fmt.Sprintf("gender %v is not one of male, female, other, unknown", raw), "Patient.gender")
		}
	}
	if raw, ok := doc["birthDate"]; ok {
		d, _ := raw.(string)
		if !dateRe.MatchString(d) {
			b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeValue,
				fmt.Sprintf("birthDate %v is not a valid date", raw), "Patient.birthDate")
		}
	}
	if raw, ok := doc["name"]; ok {
		names, isList := raw.([]interface{})
		if !isList {
			b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeStructure, "name must be an array", "Patient.name")
			return
		}
		for i, n := range names {
			if _, isObj := n.(map[string]interface{}); !isObj {
				b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeStructure,
					"name entries must be objects", fmt.Sprintf("Patient.name[%d]", i))
			}
		}
	}
}

func validateCondition(b *fhir.OutcomeBuilder, doc map[string]interface{}) {
	subject, _ := doc["subject"].(map[string]interface{})
	if ref, _ := subject["reference"].(string); ref == "" {
		b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeRequired, "subject.reference is required", "Condition.subject")
	}

	if raw, ok := doc["code"]; ok {
		code, isObj := raw.(map[string]interface{})
		text, _ := code["text"].(string)
		coding, _ := code["coding"].([]interface{})
		if !isObj || (text == "" && len(coding) == 0) {
			b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeValue, "code needs text or coding", "Condition.code")
		}
	}

	if raw, ok := doc["clinicalStatus"]; ok {
		cs, _ := raw.(map[string]interface{})
		coding, _ := cs["coding"].([]interface{})
		for i, c := range coding {
			m, _ := c.(map[string]interface{})
			code, _ := m["code"].(string)
			if !clinicalStatuses[code] {
				b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeValue,
					fmt.Sprintf("clinicalStatus code %q is not recognised", code), fmt.Sprintf("Condition.clinicalStatus.coding[%d]", i))
			}
		}
	}
}
