package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownType     = errors.New("resource type not supported")
	ErrNotFound        = errors.New("resource not found")
	ErrGone            = errors.New("resource deleted")
	ErrVersionNotFound = errors.New("version not found")
	ErrInvalidID       = errors.New("invalid resource id")
	ErrVersionConflict = errors.New("version conflict")
	ErrExists          = errors.New("resource already exists")
)

var idRe = regexp.MustCompile(`^[A-Za-z0-9\-\.]{1,64}$`)

// record keeps every version of one resource as encoded JSON. Stored bytes
// are never mutated, so two reads with no write in between are identical.
type record struct {
	versions [][]byte
	deleted  bool
}

func (r *record) current() int { return len(r.versions) }

type table struct {
	records map[string]*record
	order   []string
}

// Store is an in-memory versioned resource store.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	now    func() time.Time
}

func NewStore(resourceTypes ...string) *Store {
	s := &Store{tables: make(map[string]*table), now: time.Now}
	for _, rt := range resourceTypes {
		s.tables[rt] = &table{records: make(map[string]*record)}
	}
	return s
}

// Written describes the outcome of a write.
type Written struct {
	ID          string
	Version     int
	Created     bool
	Body        []byte
	LastUpdated time.Time
}

func (s *Store) Supports(resourceType string) bool {
	_, ok := s.tables[resourceType]
	return ok
}

// Create stores doc under a fresh server-assigned id.
func (s *Store) Create(resourceType string, doc map[string]interface{}) (*Written, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(resourceType, uuid.NewString(), doc)
}

// Update replaces the resource at id, creating it when absent. A non-zero
// ifMatch must equal the current version.
func (s *Store) Update(resourceType, id string, doc map[string]interface{}, ifMatch int) (*Written, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(resourceType, id, doc, ifMatch)
}

func (s *Store) Read(resourceType, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(resourceType, id)
	if err != nil {
		return nil, err
	}
	if rec.deleted {
		return nil, ErrGone
	}
	return rec.versions[len(rec.versions)-1], nil
}

// Current returns the decoded latest version and its number.
func (s *Store) Current(resourceType, id string) (map[string]interface{}, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(resourceType, id)
	if err != nil {
		return nil, 0, err
	}
	if rec.deleted {
		return nil, 0, ErrGone
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.versions[len(rec.versions)-1], &doc); err != nil {
		return nil, 0, err
	}
	return doc, rec.current(), nil
}

// ReadVersion returns a historical version. Versions stay readable after
// delete.
func (s *Store) ReadVersion(resourceType, id, versionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(resourceType, id)
	if err != nil {
		return nil, err
	}
	v, err := strconv.Atoi(versionID)
	if err != nil || v < 1 || v > len(rec.versions) {
		return nil, ErrVersionNotFound
	}
	return rec.versions[v-1], nil
}

// History returns every stored version, oldest first.
func (s *Store) History(resourceType, id string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(resourceType, id)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(rec.versions))
	for i, v := range rec.versions {
		out[i] = v
	}
	return out, nil
}

// Delete marks the resource deleted. Deleting twice is not an error.
func (s *Store) Delete(resourceType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(resourceType, id)
}

// List returns the current version of every live resource in insertion
// order.
func (s *Store) List(resourceType string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[resourceType]
	if !ok {
		return nil, ErrUnknownType
	}
	out := make([]json.RawMessage, 0, len(t.order))
	for _, id := range t.order {
		rec := t.records[id]
		if rec.deleted {
			continue
		}
		out = append(out, rec.versions[len(rec.versions)-1])
	}
	return out, nil
}

// Transact runs fn with exclusive access. If fn fails every write it made
// is rolled back.
func (s *Store) Transact(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&Tx{s: s}); err != nil {
		s.tables = snap
		return err
	}
	return nil
}

// Tx exposes store writes inside Transact.
type Tx struct {
	s *Store
}

func (tx *Tx) Create(resourceType, id string, doc map[string]interface{}) (*Written, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return tx.s.createLocked(resourceType, id, doc)
}

func (tx *Tx) Update(resourceType, id string, doc map[string]interface{}, ifMatch int) (*Written, error) {
	return tx.s.updateLocked(resourceType, id, doc, ifMatch)
}

func (tx *Tx) Delete(resourceType, id string) error {
	return tx.s.deleteLocked(resourceType, id)
}

func (tx *Tx) Read(resourceType, id string) ([]byte, error) {
	rec, err := tx.s.lookup(resourceType, id)
	if err != nil {
		return nil, err
	}
	if rec.deleted {
		return nil, ErrGone
	}
	return rec.versions[len(rec.versions)-1], nil
}

func (s *Store) createLocked(resourceType, id string, doc map[string]interface{}) (*Written, error) {
	t, ok := s.tables[resourceType]
	if !ok {
		return nil, ErrUnknownType
	}
	if _, exists := t.records[id]; exists {
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, ErrExists)
	}
	rec := &record{}
	w, err := s.appendVersion(rec, resourceType, id, doc)
	if err != nil {
		return nil, err
	}
	t.records[id] = rec
	t.order = append(t.order, id)
	w.Created = true
	return w, nil
}

func (s *Store) updateLocked(resourceType, id string, doc map[string]interface{}, ifMatch int) (*Written, error) {
	t, ok := s.tables[resourceType]
	if !ok {
		return nil, ErrUnknownType
	}
	if !idRe.MatchString(id) {
		return nil, ErrInvalidID
	}
	rec, exists := t.records[id]
	if !exists {
		if ifMatch > 0 {
			return nil, ErrVersionConflict
		}
		return s.createLocked(resourceType, id, doc)
	}
	if ifMatch > 0 && ifMatch != rec.current() {
		return nil, ErrVersionConflict
	}
	w, err := s.appendVersion(rec, resourceType, id, doc)
	if err != nil {
		return nil, err
	}
	// Updating a deleted resource brings it back.
	w.Created = rec.deleted
	rec.deleted = false
	return w, nil
}

func (s *Store) deleteLocked(resourceType, id string) error {
	rec, err := s.lookup(resourceType, id)
	if err != nil {
		return err
	}
	rec.deleted = true
	return nil
}

func (s *Store) appendVersion(rec *record, resourceType, id string, doc map[string]interface{}) (*Written, error) {
	version := rec.current() + 1
	now := s.now().UTC()

	stored := make(map[string]interface{}, len(doc)+3)
	for k, v := range doc {
		stored[k] = v
	}
	stored["resourceType"] = resourceType
	stored["id"] = id

	meta := map[string]interface{}{}
	if m, ok := doc["meta"].(map[string]interface{}); ok {
		for k, v := range m {
			meta[k] = v
		}
	}
	meta["versionId"] = strconv.Itoa(version)
	meta["lastUpdated"] = now.Format(time.RFC3339Nano)
	stored["meta"] = meta

	body, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", resourceType, id, err)
	}
	rec.versions = append(rec.versions, body)
	return &Written{ID: id, Version: version, Body: body, LastUpdated: now}, nil
}

func (s *Store) lookup(resourceType, id string) (*record, error) {
	t, ok := s.tables[resourceType]
	if !ok {
		return nil, ErrUnknownType
	}
	rec, ok := t.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// snapshot copies table structure. Version slices are shared because stored
// bytes are immutable; appends after the snapshot do not affect it.
func (s *Store) snapshot() map[string]*table {
	out := make(map[string]*table, len(s.tables))
	for rt, t := range s.tables {
		nt := &table{
			records: make(map[string]*record, len(t.records)),
			order:   append([]string(nil), t.order...),
		}
		for id, rec := range t.records {
			nt.records[id] = &record{
				versions: rec.versions[:len(rec.versions):len(rec.versions)],
				deleted:  rec.deleted,
			}
		}
		out[rt] = nt
	}
	return out
}
