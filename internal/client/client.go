// Package client is a FHIR REST client bound to a single resource type. It
// returns every HTTP status as data so callers can assert on failures too.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/platform/auth"
	"github.com/ehr/fhircheck/internal/platform/fhir"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	BaseURI  string
	BasePath string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// TokenSource, when set, adds a bearer token to every request.
	TokenSource auth.TokenSource
	Logger      zerolog.Logger
}

type ResourceClient struct {
	desc   Descriptor
	root   string
	http   *http.Client
	tokens auth.TokenSource
	logger zerolog.Logger
}

func New(desc Descriptor, cfg Config) *ResourceClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &ResourceClient{
		desc:   desc,
		root:   strings.TrimRight(cfg.BaseURI, "/") + normalizePath(cfg.BasePath),
		http:   hc,
		tokens: cfg.TokenSource,
		logger: cfg.Logger.With().Str("resource_type", desc.ResourceType).Logger(),
	}
}

func (c *ResourceClient) Descriptor() Descriptor { return c.desc }

// CollectionURL is {baseURI}{basePath}{collectionPath}.
func (c *ResourceClient) CollectionURL() string {
	return c.root + c.desc.CollectionPath
}

func (c *ResourceClient) Read(ctx context.Context, id string) (*Result, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return c.do(ctx, http.MethodGet, c.instanceURL(id), nil, "")
}

// Create posts the payload. The server-assigned id is in Result.ID().
func (c *ResourceClient) Create(ctx context.Context, payload Payload) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.desc.ResourceType, err)
	}
	return c.do(ctx, http.MethodPost, c.CollectionURL(), body, fhirmodels.MIMEFHIRJSON)
}

// Replace sends a full update. The body's id is forced to id; the caller's
// payload is left untouched.
func (c *ResourceClient) Replace(ctx context.Context, id string, payload Payload) (*Result, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	doc := payload.Clone()
	if doc == nil {
		doc = Payload{}
	}
	doc["id"] = id
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.desc.ResourceType, err)
	}
	return c.do(ctx, http.MethodPut, c.instanceURL(id), body, fhirmodels.MIMEFHIRJSON)
}

// Patch sends a single JSON-Patch replace operation. The server decides
// whether the path exists and what the patch means.
func (c *ResourceClient) Patch(ctx context.Context, id, path string, value interface{}) (*Result, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	body, err := fhir.MarshalPatch(fhir.ReplaceOp(path, value))
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	return c.do(ctx, http.MethodPatch, c.instanceURL(id), body, fhirmodels.MIMEJSONPatch)
}

func (c *ResourceClient) Delete(ctx context.Context, id string) (*Result, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return c.do(ctx, http.MethodDelete, c.instanceURL(id), nil, "")
}

// Validate posts to $validate. Nothing is persisted and the status is passed
// through as-is.
func (c *ResourceClient) Validate(ctx context.Context, payload Payload) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.desc.ResourceType, err)
	}
	return c.do(ctx, http.MethodPost, c.CollectionURL()+"/$validate", body, fhirmodels.MIMEFHIRJSON)
}

// SearchByReference runs GET {collection}?{param}={value}. The returned
// bundle is not parsed.
func (c *ResourceClient) SearchByReference(ctx context.Context, param, value string) (*Result, error) {
	return c.Search(ctx, url.Values{param: []string{value}})
}

func (c *ResourceClient) Search(ctx context.Context, params url.Values) (*Result, error) {
	u := c.CollectionURL()
	if q := params.Encode(); q != "" {
		u += "?" + q
	}
	return c.do(ctx, http.MethodGet, u, nil, "")
}

// ReadVersion reads one historical version. Nothing is cached.
func (c *ResourceClient) ReadVersion(ctx context.Context, id, versionID string) (*Result, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	if versionID == "" {
		return nil, fmt.Errorf("version id is required")
	}
	return c.do(ctx, http.MethodGet, c.instanceURL(id)+"/_history/"+url.PathEscape(versionID), nil, "")
}

func (c *ResourceClient) History(ctx context.Context, id string) (*Result, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return c.do(ctx, http.MethodGet, c.instanceURL(id)+"/_history", nil, "")
}

// CreateFromFile posts a JSON document from disk verbatim. A missing or
// unreadable file is an *IOError and nothing is sent.
func (c *ResourceClient) CreateFromFile(ctx context.Context, path string) (*Result, error) {
	body, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, c.CollectionURL(), body, fhirmodels.MIMEFHIRJSON)
}

// Transaction posts a transaction or batch Bundle to the service root.
func (c *ResourceClient) Transaction(ctx context.Context, bundle Payload) (*Result, error) {
	body, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.root+"/", body, fhirmodels.MIMEFHIRJSON)
}

// TransactionFromFile posts a Bundle document from disk verbatim to the
// service root.
func (c *ResourceClient) TransactionFromFile(ctx context.Context, path string) (*Result, error) {
	body, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, c.root+"/", body, fhirmodels.MIMEFHIRJSON)
}

func (c *ResourceClient) instanceURL(id string) string {
	return c.CollectionURL() + "/" + url.PathEscape(id)
}

func (c *ResourceClient) do(ctx context.Context, method, target string, body []byte, contentType string) (*Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}

	rid := uuid.NewString()
	req.Header.Set("Accept", fhirmodels.MIMEFHIRJSON)
	req.Header.Set("X-Request-ID", rid)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("obtain bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", target).Msg("request failed")
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: fmt.Errorf("read response body: %w", err)}
	}

	c.logger.Debug().
		Str("request_id", rid).
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("fhir request")

	return &Result{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		Elapsed:    elapsed,
	}, nil
}

func readDocument(path string) ([]byte, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	return body, nil
}

func normalizePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
