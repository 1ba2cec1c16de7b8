package suite

import (
	"github.com/google/uuid"

	"github.com/ehr/fhircheck/internal/client"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

// BuildPatient returns a Patient with one official name.
func BuildPatient(name, gender, birthDate string) client.Payload {
	return client.Payload{
		"resourceType": fhirmodels.ResourcePatient,
		"gender":       gender,
		"birthDate":    birthDate,
		"name": []interface{}{
			map[string]interface{}{
				"use":  fhirmodels.NameUseOfficial,
				"text": name,
			},
		},
	}
}

// BuildCondition returns a Condition for subject coded in SNOMED CT.
func BuildCondition(subject, code, display, text string) client.Payload {
	return client.Payload{
		"resourceType": fhirmodels.ResourceCondition,
		"subject":      map[string]interface{}{"reference": subject},
		"code": map[string]interface{}{
			"text": text,
			"coding": []interface{}{
				map[string]interface{}{
					"system":  fhirmodels.SystemSNOMED,
					"code":    code,
					"display": display,
				},
			},
		},
	}
}

// Entry is one transaction entry: a resource plus its request line.
func Entry(method, url string, resource client.Payload) map[string]interface{} {
	return map[string]interface{}{
		"fullUrl":  "urn:uuid:" + uuid.NewString(),
		"resource": map[string]interface{}(resource),
		"request": map[string]interface{}{
			"method": method,
			"url":    url,
		},
	}
}

func BuildTransaction(entries ...map[string]interface{}) client.Payload {
	list := make([]interface{}, len(entries))
	for i, e := range entries {
		list[i] = e
	}
	return client.Payload{
		"resourceType": fhirmodels.ResourceBundle,
		"type":         fhirmodels.BundleTransaction,
		"entry":        list,
	}
}

// PatientWithConditionBundle upserts a Patient at a known id and creates a
// Condition that references it, in one transaction.
func PatientWithConditionBundle(patientID, gender, birthDate, conditionText string) client.Payload {
	ref := fhirmodels.ResourcePatient + "/" + patientID
	patient := client.Payload{
		"resourceType": fhirmodels.ResourcePatient,
		"id":           patientID,
		"gender":       gender,
		"birthDate":    birthDate,
	}
	condition := client.Payload{
		"resourceType": fhirmodels.ResourceCondition,
		"subject":      map[string]interface{}{"reference": ref},
		"code":         map[string]interface{}{"text": conditionText},
	}
	return BuildTransaction(
		Entry("PUT", ref, patient),
		Entry("POST", fhirmodels.ResourceCondition, condition),
	)
}
