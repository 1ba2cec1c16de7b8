package fhir

import (
	"encoding/json"
	"testing"
)

func TestNewSearchBundle(t *testing.T) {
	resources := []json.RawMessage{
		json.RawMessage(`{"resourceType":"Condition","id":"c1"}`),
		json.RawMessage(`{"resourceType":"Condition","id":"c2"}`),
	}
	links := []BundleLink{
		{Relation: "self", URL: "http://x/fhir/Condition?subject=Patient/1&_count=2&_offset=0"},
		{Relation: "next", URL: "http://x/fhir/Condition?subject=Patient/1&_count=2&_offset=2"},
	}
	b := NewSearchBundle(resources, 3, links, "http://x/fhir")

	if b.ResourceType != "Bundle" || b.Type != "searchset" {
		t.Errorf("unexpected bundle header: %s %s", b.ResourceType, b.Type)
	}
	if b.Total == nil || *b.Total != 3 {
		t.Fatalf("expected total 3, got %v", b.Total)
	}
	if len(b.Entry) != 2 {
		t.Fatalf("expected 2 entries on the page, got %d", len(b.Entry))
	}
	if len(b.Link) != 2 || b.Link[1].Relation != "next" {
		t.Errorf("expected self and next links, got %+v", b.Link)
	}
	if b.Entry[0].FullURL != "http://x/fhir/Condition/c1" {
		t.Errorf("unexpected fullUrl %s", b.Entry[0].FullURL)
	}
	if b.Entry[1].Search == nil || b.Entry[1].Search.Mode != "match" {
		t.Errorf("expected search mode match")
	}
}

func TestNewSearchBundle_Empty(t *testing.T) {
	b := NewSearchBundle(nil, 0, nil, "base")
	if *b.Total != 0 || len(b.Entry) != 0 {
		t.Errorf("expected empty bundle, got total=%d entries=%d", *b.Total, len(b.Entry))
	}
	data, _ := json.Marshal(b)
	var parsed map[string]interface{}
	_ = json.Unmarshal(data, &parsed)
	if _, ok := parsed["entry"]; ok {
		t.Error("expected empty entry list to be omitted")
	}
}

func TestFullURL_MissingID(t *testing.T) {
	if got := fullURL(json.RawMessage(`{"resourceType":"Patient"}`), "base"); got != "" {
		t.Errorf("expected empty fullUrl without id, got %s", got)
	}
	if got := fullURL(json.RawMessage(`not json`), "base"); got != "" {
		t.Errorf("expected empty fullUrl for bad JSON, got %s", got)
	}
}

func TestNewHistoryBundle_NewestFirst(t *testing.T) {
	versions := []json.RawMessage{
		json.RawMessage(`{"resourceType":"Patient","id":"p","meta":{"versionId":"1"}}`),
		json.RawMessage(`{"resourceType":"Patient","id":"p","meta":{"versionId":"2"}}`),
	}
	b := NewHistoryBundle(versions, "base")
	if b.Type != "history" || *b.Total != 2 {
		t.Fatalf("unexpected bundle: %s total=%d", b.Type, *b.Total)
	}

	var first Resource
	if err := json.Unmarshal(b.Entry[0].Resource, &first); err != nil {
		t.Fatalf("failed to unmarshal entry: %v", err)
	}
	if first.Meta.VersionID != "2" {
		t.Errorf("expected newest version first, got %s", first.Meta.VersionID)
	}
}

func TestNewTransactionResponse(t *testing.T) {
	entries := []BundleEntry{
		{Response: &BundleResponse{Status: "201 Created", Location: "Patient/1/_history/1", Etag: `W/"1"`}},
	}
	b := NewTransactionResponse("transaction", entries)
	if b.Type != "transaction-response" {
		t.Errorf("expected transaction-response, got %s", b.Type)
	}
	if NewTransactionResponse("batch", nil).Type != "batch-response" {
		t.Error("expected batch-response")
	}
	if b.Entry[0].Response.Status != "201 Created" {
		t.Errorf("unexpected response status %s", b.Entry[0].Response.Status)
	}
}

func TestNewCapabilityStatement(t *testing.T) {
	cs := NewCapabilityStatement([]CSResource{
		ResourceCapability("Patient", []CSSearchParam{{Name: "name", Type: "string"}}),
	})
	if cs.ResourceType != "CapabilityStatement" || cs.FHIRVersion != "4.0.1" {
		t.Errorf("unexpected statement header: %+v", cs)
	}
	if len(cs.Rest) != 1 || cs.Rest[0].Mode != "server" {
		t.Fatalf("expected one server rest block")
	}
	res := cs.Rest[0].Resource[0]
	if res.Type != "Patient" || res.Versioning != "versioned" || !res.ReadHistory {
		t.Errorf("unexpected resource capability: %+v", res)
	}

	codes := make(map[string]bool)
	for _, in := range res.Interaction {
		codes[in.Code] = true
	}
	for _, want := range []string{"read", "vread", "update", "patch", "delete", "create", "search-type", "history-instance"} {
		if !codes[want] {
			t.Errorf("expected interaction %s", want)
		}
	}
}
