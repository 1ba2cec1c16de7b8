package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/fhircheck/internal/platform/fhir"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

type bundleEntry struct {
	index        int
	fullURL      string
	method       string
	resourceType string
	id           string
	resource     map[string]interface{}
}

// entryError carries the status an entry failed with.
type entryError struct {
	index  int
	status int
	err    error
}

func (e *entryError) Error() string {
	return fmt.Sprintf("entry[%d]: %v", e.index, e.err)
}

func (e *entryError) Unwrap() error { return e.err }

func parseBundleEntries(bundle map[string]interface{}) ([]bundleEntry, error) {
	raw, _ := bundle["entry"].([]interface{})
	entries := make([]bundleEntry, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry[%d] is not an object", i)
		}
		req, _ := m["request"].(map[string]interface{})
		method, _ := req["method"].(string)
		target, _ := req["url"].(string)
		if method == "" || target == "" {
			return nil, fmt.Errorf("entry[%d].request needs method and url", i)
		}

		e := bundleEntry{index: i, method: strings.ToUpper(method)}
		e.fullURL, _ = m["fullUrl"].(string)
		e.resource, _ = m["resource"].(map[string]interface{})

		if strings.Contains(target, "?") {
			return nil, fmt.Errorf("entry[%d]: conditional requests are not supported", i)
		}
		parts := strings.Split(strings.Trim(target, "/"), "/")
		e.resourceType = parts[0]
		if len(parts) > 1 {
			e.id = parts[1]
		}
		if len(parts) > 2 {
			return nil, fmt.Errorf("entry[%d]: unsupported url %q", i, target)
		}

		switch e.method {
		case http.MethodPost:
			if e.resource == nil {
				return nil, fmt.Errorf("entry[%d]: POST needs a resource", i)
			}
		case http.MethodPut:
			if e.resource == nil || e.id == "" {
				return nil, fmt.Errorf("entry[%d]: PUT needs a resource and Type/id url", i)
			}
		case http.MethodDelete, http.MethodGet:
			if e.id == "" {
				return nil, fmt.Errorf("entry[%d]: %s needs a Type/id url", i, e.method)
			}
		default:
			return nil, fmt.Errorf("entry[%d]: unsupported method %s", i, e.method)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// resolveReferences assigns ids to POST entries and rewrites references to
// their fullUrl (usually urn:uuid:...) across every entry.
func resolveReferences(entries []bundleEntry) {
	refs := make(map[string]string)
	for i := range entries {
		e := &entries[i]
		if e.method != http.MethodPost {
			continue
		}
		e.id = uuid.NewString()
		if e.fullURL != "" {
			refs[e.fullURL] = e.resourceType + "/" + e.id
		}
	}
	if len(refs) == 0 {
		return
	}
	for _, e := range entries {
		if e.resource != nil {
			rewriteReferences(e.resource, refs)
		}
	}
}

func rewriteReferences(node interface{}, refs map[string]string) {
	switch n := node.(type) {
	case map[string]interface{}:
		for k, v := range n {
			if s, ok := v.(string); ok && k == "reference" {
				if target, found := refs[s]; found {
					n[k] = target
				}
				continue
			}
			rewriteReferences(v, refs)
		}
	case []interface{}:
		for _, v := range n {
			rewriteReferences(v, refs)
		}
	}
}

// processTransaction applies every entry atomically.
func (s *Server) processTransaction(entries []bundleEntry) (*fhir.Bundle, error) {
	resolveReferences(entries)

	for _, e := range entries {
		if e.resource == nil {
			continue
		}
		if oo := validateResource(e.resourceType, e.resource); oo.HasErrors() {
			return nil, &entryError{index: e.index, status: http.StatusBadRequest, err: errors.New(oo.Issue[0].Diagnostics)}
		}
	}

	responses := make([]fhir.BundleEntry, len(entries))
	err := s.store.Transact(func(tx *Tx) error {
		for i, e := range entries {
			resp, err := s.applyEntry(tx, e)
			if err != nil {
				return &entryError{index: e.index, status: statusFor(err), err: err}
			}
			responses[i] = resp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fhir.NewTransactionResponse(fhirmodels.BundleTransaction, responses), nil
}

// processBatch applies entries independently; failures are reported per
// entry.
func (s *Server) processBatch(entries []bundleEntry) *fhir.Bundle {
	responses := make([]fhir.BundleEntry, len(entries))
	for i, e := range entries {
		if e.method == http.MethodPost {
			e.id = uuid.NewString()
		}
		if e.resource != nil {
			if oo := validateResource(e.resourceType, e.resource); oo.HasErrors() {
				responses[i] = failedEntry(http.StatusBadRequest, oo)
				continue
			}
		}

		var resp fhir.BundleEntry
		err := s.store.Transact(func(tx *Tx) error {
			var applyErr error
			resp, applyErr = s.applyEntry(tx, e)
			return applyErr
		})
		if err != nil {
			responses[i] = failedEntry(statusFor(err), outcomeFor(err, e.resourceType, e.id))
			continue
		}
		responses[i] = resp
	}
	return fhir.NewTransactionResponse(fhirmodels.BundleBatch, responses)
}

func (s *Server) applyEntry(tx *Tx, e bundleEntry) (fhir.BundleEntry, error) {
	if !s.store.Supports(e.resourceType) {
		return fhir.BundleEntry{}, ErrUnknownType
	}

	switch e.method {
	case http.MethodPost:
		w, err := tx.Create(e.resourceType, e.id, e.resource)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return s.writtenEntry(e.resourceType, w, http.StatusCreated), nil
	case http.MethodPut:
		w, err := tx.Update(e.resourceType, e.id, e.resource, 0)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		status := http.StatusOK
		if w.Created {
			status = http.StatusCreated
		}
		return s.writtenEntry(e.resourceType, w, status), nil
	case http.MethodDelete:
		if err := tx.Delete(e.resourceType, e.id); err != nil {
			return fhir.BundleEntry{}, err
		}
		return fhir.BundleEntry{Response: &fhir.BundleResponse{Status: statusLine(http.StatusNoContent)}}, nil
	case http.MethodGet:
		body, err := tx.Read(e.resourceType, e.id)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return fhir.BundleEntry{
			FullURL:  s.baseURL + "/" + fhir.FormatReference(e.resourceType, e.id),
			Resource: body,
			Response: &fhir.BundleResponse{Status: statusLine(http.StatusOK)},
		}, nil
	}
	return fhir.BundleEntry{}, fmt.Errorf("unsupported method %s", e.method)
}

func (s *Server) writtenEntry(resourceType string, w *Written, status int) fhir.BundleEntry {
	lastModified := w.LastUpdated
	return fhir.BundleEntry{
		FullURL:  s.baseURL + "/" + fhir.FormatReference(resourceType, w.ID),
		Resource: w.Body,
		Response: &fhir.BundleResponse{
			Status:       statusLine(status),
			Location:     fhir.HistoryPath(resourceType, w.ID, fmt.Sprint(w.Version)),
			Etag:         fhir.FormatETag(w.Version),
			LastModified: &lastModified,
		},
	}
}

func failedEntry(status int, oo *fhir.OperationOutcome) fhir.BundleEntry {
	return fhir.BundleEntry{Response: &fhir.BundleResponse{Status: statusLine(status), Outcome: oo}}
}

func statusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
