package client

import "strings"

// Descriptor binds a client to one FHIR resource type.
type Descriptor struct {
	ResourceType   string
	CollectionPath string
}

// NewDescriptor derives the collection path from the resource type, so
// "Condition" maps to "/Condition".
func NewDescriptor(resourceType string) Descriptor {
	resourceType = strings.Trim(strings.TrimSpace(resourceType), "/")
	return Descriptor{
		ResourceType:   resourceType,
		CollectionPath: "/" + resourceType,
	}
}

// Payload is one FHIR resource as a JSON object.
type Payload map[string]interface{}

// Clone returns a deep copy for JSON-shaped values.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Payload:
		return t.Clone()
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []map[string]interface{}:
		s := make([]map[string]interface{}, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv).(map[string]interface{})
		}
		return s
	default:
		return v
	}
}
