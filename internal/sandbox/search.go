package sandbox

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ehr/fhircheck/internal/platform/fhir"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

// matcher reports whether a resource satisfies one search value.
type matcher func(doc gjson.Result, value string) bool

type searchParam struct {
	Type  string
	Match matcher
}

// searchParams lists what each resource type can be searched by. _id is
// available for every type.
var searchParams = map[string]map[string]searchParam{
	fhirmodels.ResourcePatient: {
		"name":      {Type: "string", Match: matchName},
		"family":    {Type: "string", Match: stringPrefix("name.#.family")},
		"given":     {Type: "string", Match: stringPrefix("name.#.given|@flatten")},
		"gender":    {Type: "token", Match: tokenEquals("gender")},
		"birthdate": {Type: "date", Match: matchDate("birthDate")},
	},
	fhirmodels.ResourceCondition: {
		"subject":         {Type: "reference", Match: matchReference("subject.reference", "")},
		"patient":         {Type: "reference", Match: matchReference("subject.reference", fhirmodels.ResourcePatient)},
		"code":            {Type: "token", Match: matchCoding("code")},
		"clinical-status": {Type: "token", Match: matchCoding("clinicalStatus")},
	},
}

// ignoredParams are result-shaping parameters that do not filter. _count and
// _offset are applied by the handler when paging.
var ignoredParams = map[string]bool{
	"_count": true, "_offset": true, "_format": true, "_pretty": true, "_summary": true, "_elements": true, "_sort": true,
}

// capabilityParams describes searchParams for the CapabilityStatement.
func capabilityParams(resourceType string) []fhir.CSSearchParam {
	params := []fhir.CSSearchParam{{Name: "_id", Type: "token"}}
	names := make([]string, 0, len(searchParams[resourceType]))
	for name := range searchParams[resourceType] {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		params = append(params, fhir.CSSearchParam{Name: name, Type: searchParams[resourceType][name].Type})
	}
	return params
}

// filter applies the query to resources. Repeated parameters are ANDed and
// comma-separated values within one parameter are ORed.
func filter(resourceType string, resources []json.RawMessage, query url.Values) ([]json.RawMessage, error) {
	type clause struct {
		match  matcher
		values []string
	}
	var clauses []clause

	for name, raw := range query {
		if ignoredParams[name] {
			continue
		}
		var m matcher
		if name == "_id" {
			m = tokenEquals("id")
		} else {
			p, ok := searchParams[resourceType][name]
			if !ok {
				return nil, fmt.Errorf("unsupported search parameter %q for %s", name, resourceType)
			}
			m = p.Match
		}
		for _, v := range raw {
			clauses = append(clauses, clause{match: m, values: strings.Split(v, ",")})
		}
	}

	out := make([]json.RawMessage, 0, len(resources))
	for _, r := range resources {
		doc := gjson.ParseBytes(r)
		ok := true
		for _, c := range clauses {
			if !anyMatch(c.match, doc, c.values) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func anyMatch(m matcher, doc gjson.Result, values []string) bool {
	for _, v := range values {
		if m(doc, strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// matchName is the FHIR string rule: case-insensitive prefix on any name
// part, including each word of name.text.
func matchName(doc gjson.Result, value string) bool {
	value = strings.ToLower(value)
	for _, name := range doc.Get("name").Array() {
		parts := []string{name.Get("family").String()}
		for _, g := range name.Get("given").Array() {
			parts = append(parts, g.String())
		}
		text := name.Get("text").String()
		parts = append(parts, text)
		parts = append(parts, strings.Fields(text)...)
		for _, p := range parts {
			if p != "" && strings.HasPrefix(strings.ToLower(p), value) {
				return true
			}
		}
	}
	return false
}

func stringPrefix(path string) matcher {
	return func(doc gjson.Result, value string) bool {
		value = strings.ToLower(value)
		for _, v := range doc.Get(path).Array() {
			if strings.HasPrefix(strings.ToLower(v.String()), value) {
				return true
			}
		}
		return false
	}
}

func tokenEquals(path string) matcher {
	return func(doc gjson.Result, value string) bool {
		return doc.Get(path).String() == value
	}
}

// matchReference accepts "Type/id", a bare id (resolved against
// defaultType), or an absolute URL ending in "Type/id".
func matchReference(path, defaultType string) matcher {
	return func(doc gjson.Result, value string) bool {
		ref := doc.Get(path).String()
		if ref == "" {
			return false
		}
		if !strings.Contains(value, "/") && defaultType != "" {
			value = defaultType + "/" + value
		}
		if defaultType != "" && !strings.HasPrefix(ref, defaultType+"/") && !strings.Contains(ref, "/"+defaultType+"/") {
			return false
		}
		if !strings.Contains(value, "/") {
			return strings.HasSuffix(ref, "/"+value)
		}
		return ref == value || strings.HasSuffix(ref, "/"+value)
	}
}

// matchCoding implements token search on a CodeableConcept: "code",
// "system|code" or "system|".
func matchCoding(path string) matcher {
	return func(doc gjson.Result, value string) bool {
		system, code, hasSystem := strings.Cut(value, "|")
		if !hasSystem {
			code, system = value, ""
		}
		for _, c := range doc.Get(path + ".coding").Array() {
			if hasSystem && c.Get("system").String() != system {
				continue
			}
			if code == "" || c.Get("code").String() == code {
				return true
			}
		}
		return false
	}
}

// matchDate compares ISO dates lexically, with the FHIR prefixes eq, ne,
// gt, lt, ge and le. A date with lower precision matches by prefix for eq.
func matchDate(path string) matcher {
	return func(doc gjson.Result, value string) bool {
		got := doc.Get(path).String()
		if got == "" {
			return false
		}
		prefix := "eq"
		if len(value) > 2 && value[0] >= 'a' && value[0] <= 'z' {
			prefix, value = value[:2], value[2:]
		}
		switch prefix {
		case "eq":
			return strings.HasPrefix(got, value)
		case "ne":
			return !strings.HasPrefix(got, value)
		case "gt":
			return got > value && !strings.HasPrefix(got, value)
		case "lt":
			return got < value
		case "ge":
			return got >= value || strings.HasPrefix(got, value)
		case "le":
			return got <= value || strings.HasPrefix(got, value)
		default:
			return false
		}
	}
}
