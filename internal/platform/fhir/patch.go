package fhir

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// JSON Patch operation kinds (RFC 6902).
const (
	PatchOpAdd     = "add"
	PatchOpRemove  = "remove"
	PatchOpReplace = "replace"
	PatchOpTest    = "test"
)

// PatchOperation represents a single JSON Patch operation (RFC 6902).
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// MarshalJSON keeps "value" on every operation except remove, so that a
// replace with an empty string or zero is still sent.
func (op PatchOperation) MarshalJSON() ([]byte, error) {
	if op.Op == PatchOpRemove {
		return json.Marshal(struct {
			Op   string `json:"op"`
			Path string `json:"path"`
		}{op.Op, op.Path})
	}
	return json.Marshal(struct {
		Op    string      `json:"op"`
		Path  string      `json:"path"`
		Value interface{} `json:"value"`
	}{op.Op, op.Path, op.Value})
}

// ReplaceOp builds a "replace" operation for the given JSON Pointer path.
func ReplaceOp(path string, value interface{}) PatchOperation {
	return PatchOperation{Op: PatchOpReplace, Path: path, Value: value}
}

// MarshalPatch encodes a JSON Patch document.
func MarshalPatch(ops ...PatchOperation) ([]byte, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("patch document must contain at least one operation")
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode patch document: %w", err)
	}
	return data, nil
}

// ParseJSONPatch parses a JSON Patch document from raw JSON.
func ParseJSONPatch(data []byte) ([]PatchOperation, error) {
	var ops []PatchOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("invalid JSON Patch document: %w", err)
	}
	for i, op := range ops {
		if op.Op == "" {
			return nil, fmt.Errorf("patch operation %d: missing 'op' field", i)
		}
		if op.Path == "" {
			return nil, fmt.Errorf("patch operation %d: missing 'path' field", i)
		}
	}
	return ops, nil
}

// ApplyJSONPatch applies a JSON Patch to a FHIR resource map and returns the
// patched copy. The input map is left untouched.
func ApplyJSONPatch(resource map[string]interface{}, ops []PatchOperation) (map[string]interface{}, error) {
	result, err := deepCopyMap(resource)
	if err != nil {
		return nil, err
	}

	for i, op := range ops {
		tokens, err := pointerTokens(op.Path)
		if err != nil {
			return nil, fmt.Errorf("patch operation %d (%s): %w", i, op.Op, err)
		}
		var root interface{} = result
		switch op.Op {
		case PatchOpAdd:
			root, err = setAt(root, tokens, op.Value, true)
		case PatchOpReplace:
			root, err = setAt(root, tokens, op.Value, false)
		case PatchOpRemove:
			root, err = removeAt(root, tokens)
		case PatchOpTest:
			err = testAt(root, tokens, op.Value)
		default:
			err = fmt.Errorf("unsupported patch operation: %s", op.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("patch operation %d (%s) failed: %w", i, op.Op, err)
		}
		result = root.(map[string]interface{})
	}

	return result, nil
}

// pointerTokens splits a JSON Pointer (RFC 6901) into unescaped tokens.
func pointerTokens(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path must start with '/': %q", path)
	}
	parts := strings.Split(path[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts, nil
}

// setAt writes value at tokens below node. With insert set, array tokens
// insert (or append on "-") and missing object members are created;
// otherwise the target must already exist.
func setAt(node interface{}, tokens []string, value interface{}, insert bool) (interface{}, error) {
	key := tokens[0]
	last := len(tokens) == 1

	switch n := node.(type) {
	case map[string]interface{}:
		child, ok := n[key]
		if last {
			if !ok && !insert {
				return nil, fmt.Errorf("path not found: %s", key)
			}
			n[key] = value
			return n, nil
		}
		if !ok {
			return nil, fmt.Errorf("path not found: %s", key)
		}
		updated, err := setAt(child, tokens[1:], value, insert)
		if err != nil {
			return nil, err
		}
		n[key] = updated
		return n, nil
	case []interface{}:
		if last && insert && key == "-" {
			return append(n, value), nil
		}
		idx, err := arrayIndex(key, len(n), last && insert)
		if err != nil {
			return nil, err
		}
		if last {
			if insert {
				out := make([]interface{}, 0, len(n)+1)
				out = append(out, n[:idx]...)
				out = append(out, value)
				return append(out, n[idx:]...), nil
			}
			n[idx] = value
			return n, nil
		}
		updated, err := setAt(n[idx], tokens[1:], value, insert)
		if err != nil {
			return nil, err
		}
		n[idx] = updated
		return n, nil
	default:
		return nil, fmt.Errorf("cannot traverse into non-container at: %s", key)
	}
}

func removeAt(node interface{}, tokens []string) (interface{}, error) {
	key := tokens[0]
	last := len(tokens) == 1

	switch n := node.(type) {
	case map[string]interface{}:
		child, ok := n[key]
		if !ok {
			return nil, fmt.Errorf("path not found: %s", key)
		}
		if last {
			delete(n, key)
			return n, nil
		}
		updated, err := removeAt(child, tokens[1:])
		if err != nil {
			return nil, err
		}
		n[key] = updated
		return n, nil
	case []interface{}:
		idx, err := arrayIndex(key, len(n), false)
		if err != nil {
			return nil, err
		}
		if last {
			out := make([]interface{}, 0, len(n)-1)
			out = append(out, n[:idx]...)
			return append(out, n[idx+1:]...), nil
		}
		updated, err := removeAt(n[idx], tokens[1:])
		if err != nil {
			return nil, err
		}
		n[idx] = updated
		return n, nil
	default:
		return nil, fmt.Errorf("cannot traverse into non-container at: %s", key)
	}
}

func testAt(node interface{}, tokens []string, expected interface{}) error {
	actual, err := lookup(node, tokens)
	if err != nil {
		return fmt.Errorf("test path not found: %w", err)
	}
	// Normalize both sides through JSON so 1 and 1.0 compare equal.
	var a, e interface{}
	aj, _ := json.Marshal(actual)
	ej, _ := json.Marshal(expected)
	_ = json.Unmarshal(aj, &a)
	_ = json.Unmarshal(ej, &e)
	if !reflect.DeepEqual(a, e) {
		return fmt.Errorf("test failed: expected %s but got %s", ej, aj)
	}
	return nil
}

func lookup(node interface{}, tokens []string) (interface{}, error) {
	for _, key := range tokens {
		switch n := node.(type) {
		case map[string]interface{}:
			child, ok := n[key]
			if !ok {
				return nil, fmt.Errorf("path not found: %s", key)
			}
			node = child
		case []interface{}:
			idx, err := arrayIndex(key, len(n), false)
			if err != nil {
				return nil, err
			}
			node = n[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into non-container at: %s", key)
		}
	}
	return node, nil
}

// arrayIndex parses an array token. inclusive allows idx == length, which
// is valid only for insertion.
func arrayIndex(token string, length int, inclusive bool) (int, error) {
	idx, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid array index: %s", token)
	}
	upper := length - 1
	if inclusive {
		upper = length
	}
	if idx < 0 || idx > upper {
		return 0, fmt.Errorf("array index out of bounds: %d", idx)
	}
	return idx, nil
}

func deepCopyMap(m map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("copy resource: %w", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("copy resource: %w", err)
	}
	return result, nil
}
