package fhir

import (
	"encoding/json"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status       string      `json:"status"`
	Location     string      `json:"location,omitempty"`
	Etag         string      `json:"etag,omitempty"`
	LastModified *time.Time  `json:"lastModified,omitempty"`
	Outcome      interface{} `json:"outcome,omitempty"`
}

// NewSearchBundle creates a searchset Bundle for one page of already-encoded
// resources. total counts every match, not just this page. fullUrl is derived
// from each resource's resourceType and id.
func NewSearchBundle(resources []json.RawMessage, total int, links []BundleLink, baseURL string) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, raw := range resources {
		entries[i] = BundleEntry{
			FullURL:  fullURL(raw, baseURL),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         links,
		Entry:        entries,
	}
}

// NewHistoryBundle creates a history Bundle, newest version first.
func NewHistoryBundle(versions []json.RawMessage, baseURL string) *Bundle {
	now := time.Now().UTC()
	total := len(versions)
	entries := make([]BundleEntry, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		entries = append(entries, BundleEntry{
			FullURL:  fullURL(versions[i], baseURL),
			Resource: versions[i],
		})
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "history",
		Total:        &total,
		Timestamp:    &now,
		Entry:        entries,
	}
}

// NewTransactionResponse creates a transaction-response (or batch-response)
// Bundle from entry outcomes.
func NewTransactionResponse(bundleType string, entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         bundleType + "-response",
		Timestamp:    &now,
		Entry:        entries,
	}
}

func fullURL(raw json.RawMessage, baseURL string) string {
	var r Resource
	if err := json.Unmarshal(raw, &r); err != nil || r.ResourceType == "" || r.ID == "" {
		return ""
	}
	return baseURL + "/" + FormatReference(r.ResourceType, r.ID)
}

// CapabilityStatement represents the FHIR CapabilityStatement (metadata).
type CapabilityStatement struct {
	ResourceType string   `json:"resourceType"`
	Status       string   `json:"status"`
	Date         string   `json:"date"`
	Kind         string   `json:"kind"`
	FHIRVersion  string   `json:"fhirVersion"`
	Format       []string `json:"format"`
	Rest         []CSRest `json:"rest"`
}

type CSRest struct {
	Mode     string       `json:"mode"`
	Resource []CSResource `json:"resource"`
}

type CSResource struct {
	Type        string          `json:"type"`
	Interaction []CSInteraction `json:"interaction"`
	SearchParam []CSSearchParam `json:"searchParam,omitempty"`
	Versioning  string          `json:"versioning,omitempty"`
	ReadHistory bool            `json:"readHistory,omitempty"`
}

type CSInteraction struct {
	Code string `json:"code"`
}

type CSSearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// NewCapabilityStatement creates the server's capability statement.
func NewCapabilityStatement(resources []CSResource) *CapabilityStatement {
	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format("2006-01-02"),
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"json"},
		Rest:         []CSRest{{Mode: "server", Resource: resources}},
	}
}

// ResourceCapability creates a CSResource with the interactions the sandbox
// implements for every resource type.
func ResourceCapability(resourceType string, searchParams []CSSearchParam) CSResource {
	return CSResource{
		Type: resourceType,
		Interaction: []CSInteraction{
			{Code: "read"},
			{Code: "vread"},
			{Code: "update"},
			{Code: "patch"},
			{Code: "delete"},
			{Code: "history-instance"},
			{Code: "create"},
			{Code: "search-type"},
		},
		SearchParam: searchParams,
		Versioning:  "versioned",
		ReadHistory: true,
	}
}
