package sandbox

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"
)

func raws(docs ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = json.RawMessage(d)
	}
	return out
}

func ids(resources []json.RawMessage) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, gjson.GetBytes(r, "id").String())
	}
	return out
}

func TestFilter_Patient(t *testing.T) {
	patients := raws(
		`{"resourceType":"Patient","id":"a","name":[{"text":"Mohanad Albadri","given":["Mohanad"],"family":"Albadri"}],"gender":"male","birthDate":"1990-05-15"}`,
		`{"resourceType":"Patient","id":"b","name":[{"given":["Grace"],"family":"Hopper"}],"gender":"female","birthDate":"1906-12-09"}`,
		`{"resourceType":"Patient","id":"c","name":[{"text":"Ada Lovelace"}],"gender":"female","birthDate":"1815"}`,
	)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"no params", "", []string{"a", "b", "c"}},
		{"name prefix case insensitive", "name=moh", []string{"a"}},
		{"name matches text word", "name=lovelace", []string{"c"}},
		{"family", "family=Hop", []string{"b"}},
		{"given", "given=grace", []string{"b"}},
		{"gender", "gender=female", []string{"b", "c"}},
		{"or values", "name=Ada,Grace", []string{"b", "c"}},
		{"and params", "gender=female&name=Ada", []string{"c"}},
		{"birthdate eq", "birthdate=1990-05-15", []string{"a"}},
		{"birthdate year prefix", "birthdate=1990", []string{"a"}},
		{"birthdate lt", "birthdate=lt1900-01-01", []string{"c"}},
		{"birthdate ge", "birthdate=ge1906-12-09", []string{"a", "b"}},
		{"id", "_id=b", []string{"b"}},
		{"ignored count", "_count=1", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			got, err := filter("Patient", patients, q)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilter_Condition(t *testing.T) {
	conditions := raws(
		`{"resourceType":"Condition","id":"x","subject":{"reference":"Patient/p1"},"code":{"coding":[{"system":"http://snomed.info/sct","code":"38341003"}]},"clinicalStatus":{"coding":[{"code":"active"}]}}`,
		`{"resourceType":"Condition","id":"y","subject":{"reference":"http://example.org/fhir/Patient/p2"},"code":{"coding":[{"system":"http://hl7.org/fhir/sid/icd-10","code":"E11"}]},"clinicalStatus":{"coding":[{"code":"resolved"}]}}`,
		`{"resourceType":"Condition","id":"z","subject":{"reference":"Group/g1"},"code":{"text":"free text only"}}`,
	)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"subject typed", "subject=Patient/p1", []string{"x"}},
		{"subject absolute", "subject=Patient/p2", []string{"y"}},
		{"patient bare id", "patient=p1", []string{"x"}},
		{"patient excludes group", "patient=g1", []string{}},
		{"code only", "code=E11", []string{"y"}},
		{"system and code", "code=http://snomed.info/sct|38341003", []string{"x"}},
		{"system only", "code=http://hl7.org/fhir/sid/icd-10|", []string{"y"}},
		{"wrong system", "code=http://hl7.org/fhir/sid/icd-10|38341003", []string{}},
		{"clinical status", "clinical-status=active", []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := filter("Condition", conditions, q)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilter_UnknownParam(t *testing.T) {
	q := url.Values{"color": {"blue"}}
	if _, err := filter("Patient", nil, q); err == nil {
		t.Error("expected error for unknown search parameter")
	}
}

func TestCapabilityParams(t *testing.T) {
	got := capabilityParams("Condition")
	var names []string
	for _, p := range got {
		names = append(names, p.Name)
	}
	want := []string{"_id", "clinical-status", "code", "patient", "subject"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}
