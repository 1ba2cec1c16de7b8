package sandbox

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func newTestStore() *Store {
	s := NewStore("Patient", "Condition")
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func patientDoc(text string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"name":         []interface{}{map[string]interface{}{"text": text}},
	}
}

func TestStore_CreateAssignsIDAndMeta(t *testing.T) {
	s := newTestStore()
	w, err := s.Create("Patient", patientDoc("Ada"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.ID == "" || !w.Created || w.Version != 1 {
		t.Fatalf("unexpected write result: %+v", w)
	}
	if got := gjson.GetBytes(w.Body, "meta.versionId").String(); got != "1" {
		t.Errorf("expected versionId 1, got %q", got)
	}
	if got := gjson.GetBytes(w.Body, "meta.lastUpdated").String(); got != "2024-05-01T12:00:00Z" {
		t.Errorf("unexpected lastUpdated %q", got)
	}
	if got := gjson.GetBytes(w.Body, "id").String(); got != w.ID {
		t.Errorf("body id %q does not match %q", got, w.ID)
	}
}

func TestStore_CreateUnknownType(t *testing.T) {
	s := newTestStore()
	if _, err := s.Create("Observation", map[string]interface{}{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestStore_UpdateVersions(t *testing.T) {
	s := newTestStore()
	w, _ := s.Create("Patient", patientDoc("Ada"))

	w2, err := s.Update("Patient", w.ID, patientDoc("Ada Lovelace"), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w2.Version != 2 || w2.Created {
		t.Errorf("expected version 2 update, got %+v", w2)
	}

	if _, err := s.Update("Patient", w.ID, patientDoc("stale"), 1); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for stale If-Match, got %v", err)
	}

	v1, err := s.ReadVersion("Patient", w.ID, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gjson.GetBytes(v1, "name.0.text").String(); got != "Ada" {
		t.Errorf("version 1 changed: %q", got)
	}
	if _, err := s.ReadVersion("Patient", w.ID, "3"); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}

	history, _ := s.History("Patient", w.ID)
	if len(history) != 2 {
		t.Errorf("expected 2 versions, got %d", len(history))
	}
}

func TestStore_UpdateCreatesWithClientID(t *testing.T) {
	s := newTestStore()
	w, err := s.Update("Patient", "pat-1", patientDoc("Ada"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Created || w.ID != "pat-1" {
		t.Errorf("expected create at pat-1, got %+v", w)
	}
	if _, err := s.Update("Patient", "bad id!", patientDoc("Ada"), 0); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestStore_DeleteAndResurrect(t *testing.T) {
	s := newTestStore()
	w, _ := s.Create("Patient", patientDoc("Ada"))

	if err := s.Delete("Patient", w.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete("Patient", w.ID); err != nil {
		t.Errorf("second delete should succeed, got %v", err)
	}
	if _, err := s.Read("Patient", w.ID); !errors.Is(err, ErrGone) {
		t.Errorf("expected ErrGone, got %v", err)
	}
	if err := s.Delete("Patient", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	list, _ := s.List("Patient")
	if len(list) != 0 {
		t.Errorf("deleted resource listed: %d", len(list))
	}

	w2, err := s.Update("Patient", w.ID, patientDoc("Ada"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w2.Created || w2.Version != 2 {
		t.Errorf("expected resurrect as version 2, got %+v", w2)
	}
}

func TestStore_ReadIsStable(t *testing.T) {
	s := newTestStore()
	w, _ := s.Create("Patient", patientDoc("Ada"))
	a, _ := s.Read("Patient", w.ID)
	b, _ := s.Read("Patient", w.ID)
	if string(a) != string(b) {
		t.Errorf("reads differ:\n%s\n%s", a, b)
	}
}

func TestStore_TransactRollsBack(t *testing.T) {
	s := newTestStore()
	existing, _ := s.Create("Patient", patientDoc("Ada"))

	boom := errors.New("boom")
	err := s.Transact(func(tx *Tx) error {
		if _, err := tx.Create("Patient", "tx-1", patientDoc("Grace")); err != nil {
			return err
		}
		if _, err := tx.Update("Patient", existing.ID, patientDoc("changed"), 0); err != nil {
			return err
		}
		if err := tx.Delete("Patient", existing.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.Read("Patient", "tx-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rolled back create, got %v", err)
	}
	body, err := s.Read("Patient", existing.ID)
	if err != nil {
		t.Fatalf("expected existing resource live, got %v", err)
	}
	if got := gjson.GetBytes(body, "name.0.text").String(); got != "Ada" {
		t.Errorf("expected rolled back update, got %q", got)
	}
	history, _ := s.History("Patient", existing.ID)
	if len(history) != 1 {
		t.Errorf("expected 1 version after rollback, got %d", len(history))
	}
}

func decodeMap(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}
