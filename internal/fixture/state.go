package fixture

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ehr/fhircheck/internal/client"
)

// State is the data one run threads from step to step. It is created empty
// at run start and owned by a single runner.
type State struct {
	ResourceID string
	VersionTag string
	Values     map[string]string
}

func newState() *State {
	return &State{Values: make(map[string]string)}
}

func (s *State) Set(key, value string) { s.Values[key] = value }

func (s *State) Get(key string) string { return s.Values[key] }

// Requirement is a State field a step needs before it may run.
type Requirement int

const (
	RequiresResourceID Requirement = iota + 1
	RequiresVersionTag
)

func (r Requirement) String() string {
	switch r {
	case RequiresResourceID:
		return "resourceId"
	case RequiresVersionTag:
		return "versionTag"
	default:
		return "requirement(" + strconv.Itoa(int(r)) + ")"
	}
}

func (r Requirement) satisfiedBy(s *State) bool {
	switch r {
	case RequiresResourceID:
		return s.ResourceID != ""
	case RequiresVersionTag:
		return s.VersionTag != ""
	default:
		return false
	}
}

// StatusSet is the set of HTTP statuses a step accepts.
type StatusSet []int

func Expect(codes ...int) StatusSet {
	return StatusSet(codes)
}

func (s StatusSet) Contains(code int) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

func (s StatusSet) String() string {
	codes := append([]int(nil), s...)
	sort.Ints(codes)
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, "|")
}

// Extractor copies data from a result into State.
type Extractor func(r *client.Result, s *State)

// ExtractID stores the body's id as the resource id. An empty id leaves
// State unchanged.
func ExtractID(r *client.Result, s *State) {
	if id := r.ID(); id != "" {
		s.ResourceID = id
	}
}

// ExtractVersionTag stores meta.versionId as the version tag.
func ExtractVersionTag(r *client.Result, s *State) {
	if v := r.VersionID(); v != "" {
		s.VersionTag = v
	}
}

// ExtractValue stores the value at path under key.
func ExtractValue(key, path string) Extractor {
	return func(r *client.Result, s *State) {
		if v := r.Get(path); v.Exists() {
			s.Set(key, v.String())
		}
	}
}

// Extractors runs each extractor in order.
func Extractors(fns ...Extractor) Extractor {
	return func(r *client.Result, s *State) {
		for _, fn := range fns {
			fn(r, s)
		}
	}
}

func (s *State) String() string {
	return fmt.Sprintf("resourceId=%q versionTag=%q", s.ResourceID, s.VersionTag)
}
