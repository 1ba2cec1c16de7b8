package fixture

import "fmt"

// PreconditionError marks a step skipped because State lacked a field.
type PreconditionError struct {
	Step    string
	Missing Requirement
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("step %q skipped: %s not set", e.Step, e.Missing)
}

// UnexpectedStatusError is a status outside the step's accepted set.
type UnexpectedStatusError struct {
	Step     string
	Got      int
	Expected StatusSet
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("step %q: expected status %s, got %d", e.Step, e.Expected, e.Got)
}

// CheckError is a failed assertion on the response body.
type CheckError struct {
	Check string
	Path  string
	Want  string
	Got   string
}

func (e *CheckError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: want %q, got %q", e.Check, e.Want, e.Got)
	}
	return fmt.Sprintf("%s %s: want %q, got %q", e.Check, e.Path, e.Want, e.Got)
}
