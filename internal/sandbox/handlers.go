package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"github.com/ehr/fhircheck/internal/platform/fhir"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
	"github.com/ehr/fhircheck/pkg/pagination"
)

func writeJSON(c echo.Context, status int, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, fhirmodels.MIMEFHIRJSON, body)
}

func (s *Server) writeResource(c echo.Context, status int, resourceType string, w *Written) error {
	h := c.Response().Header()
	h.Set("ETag", fhir.FormatETag(w.Version))
	h.Set("Last-Modified", w.LastUpdated.Format(http.TimeFormat))
	if status == http.StatusCreated {
		h.Set("Location", s.basePath+"/"+fhir.HistoryPath(resourceType, w.ID, fmt.Sprint(w.Version)))
	}
	return c.Blob(status, fhirmodels.MIMEFHIRJSON, w.Body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownType), errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrGone):
		return http.StatusGone
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, ErrVersionConflict):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrExists):
		return http.StatusConflict
	default:
		var ee *entryError
		if errors.As(err, &ee) {
			return ee.status
		}
		return http.StatusBadRequest
	}
}

func outcomeFor(err error, resourceType, id string) *fhir.OperationOutcome {
	switch {
	case errors.Is(err, ErrUnknownType):
		return fhir.NotSupportedOutcome(fmt.Sprintf("resource type %s is not supported", resourceType))
	case errors.Is(err, ErrNotFound):
		return fhir.NotFoundOutcome(resourceType, id)
	case errors.Is(err, ErrVersionNotFound):
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	case errors.Is(err, ErrGone):
		return fhir.GoneOutcome(resourceType, id)
	case errors.Is(err, ErrInvalidID):
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeValue, fmt.Sprintf("%q is not a valid FHIR id", id))
	case errors.Is(err, ErrVersionConflict):
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeProcessing, "If-Match does not match the current version")
	case errors.Is(err, ErrExists):
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeConflict, err.Error())
	default:
		return fhir.ErrorOutcome(err.Error())
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	return writeJSON(c, statusFor(err), outcomeFor(err, c.Param("type"), c.Param("id")))
}

// decodeBody reads a JSON object from the request.
func decodeBody(c echo.Context) (map[string]interface{}, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("request body is not a JSON object: %w", err)
	}
	if doc == nil {
		return nil, errors.New("request body is empty")
	}
	return doc, nil
}

// supported rejects resource types the store does not hold.
func (s *Server) supported(c echo.Context) (string, bool) {
	rt := c.Param("type")
	return rt, s.store.Supports(rt)
}

func ifMatch(c echo.Context) (int, error) {
	h := c.Request().Header.Get("If-Match")
	if h == "" {
		return 0, nil
	}
	return fhir.ParseETag(h)
}

func (s *Server) metadata(c echo.Context) error {
	resources := make([]fhir.CSResource, 0, len(s.types))
	for _, rt := range s.types {
		resources = append(resources, fhir.ResourceCapability(rt, capabilityParams(rt)))
	}
	return writeJSON(c, http.StatusOK, fhir.NewCapabilityStatement(resources))
}

func (s *Server) create(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	doc, err := decodeBody(c)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	// The server owns ids on create.
	delete(doc, "id")
	if oo := validateResource(rt, doc); oo.HasErrors() {
		return writeJSON(c, http.StatusBadRequest, oo)
	}

	w, err := s.store.Create(rt, doc)
	if err != nil {
		return s.fail(c, err)
	}
	return s.writeResource(c, http.StatusCreated, rt, w)
}

func (s *Server) read(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	id := c.Param("id")
	body, err := s.store.Read(rt, id)
	if err != nil {
		return s.fail(c, err)
	}
	if vid := gjson.GetBytes(body, "meta.versionId").String(); vid != "" {
		c.Response().Header().Set("ETag", `W/"`+vid+`"`)
	}
	return c.Blob(http.StatusOK, fhirmodels.MIMEFHIRJSON, body)
}

func (s *Server) update(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	id := c.Param("id")
	doc, err := decodeBody(c)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if bodyID, present := doc["id"]; present && bodyID != id {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(fmt.Sprintf("body id %v does not match url id %s", bodyID, id)))
	}
	if oo := validateResource(rt, doc); oo.HasErrors() {
		return writeJSON(c, http.StatusBadRequest, oo)
	}
	match, err := ifMatch(c)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	w, err := s.store.Update(rt, id, doc, match)
	if err != nil {
		return s.fail(c, err)
	}
	status := http.StatusOK
	if w.Created {
		status = http.StatusCreated
	}
	return s.writeResource(c, status, rt, w)
}

func (s *Server) patch(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	id := c.Param("id")
	if !strings.Contains(c.Request().Header.Get("Content-Type"), "json-patch+json") {
		return writeJSON(c, http.StatusUnsupportedMediaType, fhir.ErrorOutcome("PATCH requires "+fhirmodels.MIMEJSONPatch))
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	ops, err := fhir.ParseJSONPatch(raw)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	match, err := ifMatch(c)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	current, version, err := s.store.Current(rt, id)
	if err != nil {
		return s.fail(c, err)
	}
	if match == 0 {
		match = version
	}
	patched, err := fhir.ApplyJSONPatch(current, ops)
	if err != nil {
		return writeJSON(c, http.StatusUnprocessableEntity, fhir.ErrorOutcome(err.Error()))
	}
	if patched["id"] != id || patched["resourceType"] != rt {
		return writeJSON(c, http.StatusUnprocessableEntity, fhir.ErrorOutcome("patch must not change id or resourceType"))
	}
	if oo := validateResource(rt, patched); oo.HasErrors() {
		return writeJSON(c, http.StatusUnprocessableEntity, oo)
	}

	// Pinning to the version the patch was computed from rejects a
	// concurrent write in between.
	w, err := s.store.Update(rt, id, patched, match)
	if err != nil {
		return s.fail(c, err)
	}
	return s.writeResource(c, http.StatusOK, rt, w)
}

func (s *Server) delete(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	if err := s.store.Delete(rt, c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) vread(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	vid := c.Param("vid")
	body, err := s.store.ReadVersion(rt, c.Param("id"), vid)
	if err != nil {
		return s.fail(c, err)
	}
	c.Response().Header().Set("ETag", `W/"`+vid+`"`)
	return c.Blob(http.StatusOK, fhirmodels.MIMEFHIRJSON, body)
}

func (s *Server) history(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	versions, err := s.store.History(rt, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return writeJSON(c, http.StatusOK, fhir.NewHistoryBundle(versions, s.baseURL))
}

func (s *Server) search(c echo.Context) error {
	return s.runSearch(c, c.QueryParams())
}

// searchPost handles POST {type}/_search with form-encoded parameters.
func (s *Server) searchPost(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	params := url.Values{}
	for k, v := range c.QueryParams() {
		params[k] = append(params[k], v...)
	}
	for k, v := range form {
		params[k] = append(params[k], v...)
	}
	return s.runSearch(c, params)
}

func (s *Server) runSearch(c echo.Context, params url.Values) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	all, err := s.store.List(rt)
	if err != nil {
		return s.fail(c, err)
	}
	matched, err := filter(rt, all, params)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, err.Error()))
	}

	page := pagination.FromValues(params)
	start, end := page.Window(len(matched))
	var links []fhir.BundleLink
	for _, l := range page.Links(s.baseURL+"/"+rt, params, len(matched)) {
		links = append(links, fhir.BundleLink{Relation: l.Relation, URL: l.URL})
	}
	return writeJSON(c, http.StatusOK, fhir.NewSearchBundle(matched[start:end], len(matched), links, s.baseURL))
}

// validate implements $validate. Nothing is stored.
func (s *Server) validate(c echo.Context) error {
	rt, ok := s.supported(c)
	if !ok {
		return s.fail(c, ErrUnknownType)
	}
	doc, err := decodeBody(c)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	// A Parameters wrapper carries the resource in parameter "resource".
	if doc["resourceType"] == "Parameters" {
		doc = unwrapParameters(doc)
	}

	oo := validateResource(rt, doc)
	if oo.HasErrors() {
		return writeJSON(c, http.StatusBadRequest, oo)
	}
	return writeJSON(c, http.StatusOK, oo)
}

func unwrapParameters(doc map[string]interface{}) map[string]interface{} {
	params, _ := doc["parameter"].([]interface{})
	for _, p := range params {
		m, _ := p.(map[string]interface{})
		if m["name"] == "resource" {
			if r, ok := m["resource"].(map[string]interface{}); ok {
				return r
			}
		}
	}
	return map[string]interface{}{}
}

// bundle handles POST to the service root for transaction and batch Bundles.
func (s *Server) bundle(c echo.Context) error {
	doc, err := decodeBody(c)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if doc["resourceType"] != fhirmodels.ResourceBundle {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome("service root accepts only Bundle resources"))
	}
	bundleType, _ := doc["type"].(string)
	if bundleType != fhirmodels.BundleTransaction && bundleType != fhirmodels.BundleBatch {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(fmt.Sprintf("bundle type %q is not transaction or batch", bundleType)))
	}

	entries, err := parseBundleEntries(doc)
	if err != nil {
		return writeJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	if bundleType == fhirmodels.BundleBatch {
		return writeJSON(c, http.StatusOK, s.processBatch(entries))
	}

	resp, err := s.processTransaction(entries)
	if err != nil {
		s.logger.Warn().Err(err).Msg("transaction rolled back")
		return writeJSON(c, statusFor(err), fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeProcessing, err.Error()))
	}
	return writeJSON(c, http.StatusOK, resp)
}
