package fixture

import (
	"strings"
	"unicode/utf8"

	"github.com/ehr/fhircheck/internal/client"
)

// Check asserts on a response. Paths use gjson syntax.
type Check func(r *client.Result, s *State) error

func FieldEquals(path, want string) Check {
	return func(r *client.Result, _ *State) error {
		got := r.Get(path)
		if !got.Exists() || got.String() != want {
			return &CheckError{Check: "field equals", Path: path, Want: want, Got: got.String()}
		}
		return nil
	}
}

func FieldContains(path, substr string) Check {
	return func(r *client.Result, _ *State) error {
		got := r.Get(path)
		if !got.Exists() || !strings.Contains(got.String(), substr) {
			return &CheckError{Check: "field contains", Path: path, Want: substr, Got: got.String()}
		}
		return nil
	}
}

// FieldEqualsState compares a field against a value picked from State, such
// as the version tag captured by an earlier step.
func FieldEqualsState(path string, pick func(*State) string) Check {
	return func(r *client.Result, s *State) error {
		want := pick(s)
		got := r.Get(path)
		if !got.Exists() || got.String() != want {
			return &CheckError{Check: "field equals state", Path: path, Want: want, Got: got.String()}
		}
		return nil
	}
}

func BodyContains(substr string) Check {
	return func(r *client.Result, _ *State) error {
		if !strings.Contains(string(r.Body), substr) {
			return &CheckError{Check: "body contains", Want: substr, Got: truncate(string(r.Body), 120)}
		}
		return nil
	}
}

// AnyFieldEquals passes when at least one value at path equals want. Use a
// "#" path such as "entry.#.resource.resourceType".
func AnyFieldEquals(path, want string) Check {
	return func(r *client.Result, _ *State) error {
		got := r.Get(path)
		values := got.Array()
		for _, v := range values {
			if v.String() == want {
				return nil
			}
		}
		return &CheckError{Check: "any field equals", Path: path, Want: want, Got: got.Raw}
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
