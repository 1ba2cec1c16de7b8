package client

import (
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Result is the normalized response of one HTTP exchange. Non-2xx statuses
// are data, not errors.
type Result struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

// Get looks up a field with a gjson path such as "name.0.text" or
// "meta.versionId".
func (r *Result) Get(path string) gjson.Result {
	if r == nil || len(r.Body) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Body, path)
}

func (r *Result) ID() string { return r.Get("id").String() }

func (r *Result) VersionID() string { return r.Get("meta.versionId").String() }

func (r *Result) ResourceType() string { return r.Get("resourceType").String() }

func (r *Result) ElapsedMillis() int64 { return r.Elapsed.Milliseconds() }

// IsJSON reports whether the body parses as JSON.
func (r *Result) IsJSON() bool {
	return r != nil && len(r.Body) > 0 && gjson.ValidBytes(r.Body)
}

// Pretty returns the body indented for display. Non-JSON bodies are returned
// unchanged.
func (r *Result) Pretty() string {
	if !r.IsJSON() {
		if r == nil {
			return ""
		}
		return string(r.Body)
	}
	return string(pretty.Pretty(r.Body))
}
