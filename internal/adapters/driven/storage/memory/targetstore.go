package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
)

// Ensure TargetStore implements the interface.
var _ driven.TargetStore = (*TargetStore)(nil)

// firstUserID is the first id handed out; lower ids are reserved.
const firstUserID = 0x20

// data is the committed state. It is only mutated by Commit, under the
// store's write lock.
type data struct {
	nextID     uint64
	relSeq     uint64
	elements   map[string]domain.ElementProps
	codes      map[domain.Code]string
	guids      map[string]string
	aspects    map[string]domain.AspectProps
	aspectKeys map[domain.AspectIdentifier]string
	rels       map[domain.Relationship]uint64
	schemas    map[string]domain.Schema
}

// overlay stages writes to a committed map. Reads fall through to base.
type overlay[K comparable, V any] struct {
	base map[K]V
	puts map[K]V
	dels map[K]struct{}
}

func newOverlay[K comparable, V any](base map[K]V) *overlay[K, V] {
	return &overlay[K, V]{base: base, puts: make(map[K]V), dels: make(map[K]struct{})}
}

func (o *overlay[K, V]) get(k K) (V, bool) {
	if v, ok := o.puts[k]; ok {
		return v, true
	}
	if _, gone := o.dels[k]; gone {
		var zero V
		return zero, false
	}
	v, ok := o.base[k]
	return v, ok
}

func (o *overlay[K, V]) set(k K, v V) {
	delete(o.dels, k)
	o.puts[k] = v
}

func (o *overlay[K, V]) remove(k K) {
	delete(o.puts, k)
	if _, ok := o.base[k]; ok {
		o.dels[k] = struct{}{}
	}
}

// each visits every live entry. fn must not modify the overlay.
func (o *overlay[K, V]) each(fn func(K, V)) {
	for k, v := range o.base {
		if _, gone := o.dels[k]; gone {
			continue
		}
		if _, put := o.puts[k]; put {
			continue
		}
		fn(k, v)
	}
	for k, v := range o.puts {
		fn(k, v)
	}
}

func (o *overlay[K, V]) apply() {
	for k := range o.dels {
		delete(o.base, k)
	}
	for k, v := range o.puts {
		o.base[k] = v
	}
}

// TargetStore is an in-memory implementation of driven.TargetStore.
// Readers see the last committed state; a transaction stages its writes in
// overlays which are applied on commit, so a commit costs only what it wrote.
type TargetStore struct {
	mu      sync.RWMutex
	data    *data
	writeMu sync.Mutex
}

// NewTargetStore creates a store holding only the root subject and dictionary model.
func NewTargetStore() *TargetStore {
	s := &data{
		nextID:     firstUserID,
		elements:   make(map[string]domain.ElementProps),
		codes:      make(map[domain.Code]string),
		guids:      make(map[string]string),
		aspects:    make(map[string]domain.AspectProps),
		aspectKeys: make(map[domain.AspectIdentifier]string),
		rels:       make(map[domain.Relationship]uint64),
		schemas:    make(map[string]domain.Schema),
	}
	for _, e := range reservedElements() {
		s.elements[e.ID] = e
		s.codes[e.Code] = e.ID
		s.guids[e.FederationGUID] = e.ID
	}
	return &TargetStore{data: s}
}

func reservedElements() []domain.ElementProps {
	return []domain.ElementProps{
		{
			ID:             domain.RootSubjectID,
			ClassFullName:  "BisCore:Subject",
			ModelID:        domain.RepositoryModelID,
			Code:           domain.Code{Spec: "bis:Subject", Scope: domain.RootSubjectID, Value: "root"},
			FederationGUID: uuid.NewString(),
		},
		{
			ID:             domain.DictionaryModelID,
			ClassFullName:  "BisCore:DefinitionPartition",
			ModelID:        domain.RepositoryModelID,
			Code:           domain.Code{Spec: "bis:InformationPartitionElement", Scope: domain.RootSubjectID, Value: "dictionary"},
			FederationGUID: uuid.NewString(),
		},
	}
}

// read runs fn against the committed state.
func (t *TargetStore) read(fn func(d *data)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(t.data)
}

// Close releases resources.
func (t *TargetStore) Close() error {
	return nil
}

// GetElement returns an element by id.
func (t *TargetStore) GetElement(_ context.Context, id string) (*domain.ElementProps, error) {
	var e domain.ElementProps
	var ok bool
	t.read(func(d *data) { e, ok = d.elements[id] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

// FindElementByGUID returns an element by federation GUID.
func (t *TargetStore) FindElementByGUID(ctx context.Context, guid string) (*domain.ElementProps, error) {
	var id string
	var ok bool
	t.read(func(d *data) { id, ok = d.guids[guid] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.GetElement(ctx, id)
}

// QueryElementIDByCode returns the id of the element holding code.
func (t *TargetStore) QueryElementIDByCode(_ context.Context, code domain.Code) (string, error) {
	var id string
	var ok bool
	t.read(func(d *data) { id, ok = d.codes[code] })
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

// FindAspectBySource returns the provenance record for key.
func (t *TargetStore) FindAspectBySource(ctx context.Context, key domain.AspectIdentifier) (*domain.AspectProps, error) {
	var id string
	var ok bool
	t.read(func(d *data) { id, ok = d.aspectKeys[key] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.GetAspect(ctx, id)
}

// GetAspect returns a provenance record by id.
func (t *TargetStore) GetAspect(_ context.Context, id string) (*domain.AspectProps, error) {
	var a domain.AspectProps
	var ok bool
	t.read(func(d *data) { a, ok = d.aspects[id] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

// ListAspects returns all provenance records for a scope and kind.
func (t *TargetStore) ListAspects(_ context.Context, scopeID, kind string) ([]domain.AspectProps, error) {
	var out []domain.AspectProps
	t.read(func(d *data) {
		for _, a := range d.aspects {
			if a.ScopeID == scopeID && a.Kind == kind {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

// QueryElements returns elements matching q ordered by id.
func (t *TargetStore) QueryElements(_ context.Context, q domain.ElementQuery) ([]domain.ElementProps, error) {
	var out []domain.ElementProps
	t.read(func(d *data) {
		for _, e := range d.elements {
			if q.ClassFullName != "" && e.ClassFullName != q.ClassFullName {
				continue
			}
			if q.ModelID != "" && e.ModelID != q.ModelID {
				continue
			}
			if q.CodeValuePrefix != "" && !strings.HasPrefix(e.Code.Value, q.CodeValuePrefix) {
				continue
			}
			out = append(out, e)
		}
	})
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListRelationships returns relationships of a class in insertion order; empty class lists all.
func (t *TargetStore) ListRelationships(_ context.Context, classFullName string) ([]domain.Relationship, error) {
	var out []domain.Relationship
	t.read(func(d *data) {
		for r := range d.rels {
			if classFullName == "" || r.ClassFullName == classFullName {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return d.rels[out[i]] < d.rels[out[j]] })
	})
	return out, nil
}

// GetSchema returns an imported schema by name.
func (t *TargetStore) GetSchema(_ context.Context, name string) (*domain.Schema, error) {
	var s domain.Schema
	var ok bool
	t.read(func(d *data) { s, ok = d.schemas[name] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

// Begin opens a write transaction. It blocks while another transaction is open.
func (t *TargetStore) Begin(ctx context.Context) (driven.TargetTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.writeMu.Lock()
	// Holding writeMu means no commit can touch d until this tx finishes.
	d := t.data
	return &tx{
		store:      t,
		nextID:     d.nextID,
		relSeq:     d.relSeq,
		elements:   newOverlay(d.elements),
		codes:      newOverlay(d.codes),
		guids:      newOverlay(d.guids),
		aspects:    newOverlay(d.aspects),
		aspectKeys: newOverlay(d.aspectKeys),
		rels:       newOverlay(d.rels),
		schemas:    newOverlay(d.schemas),
	}, nil
}

// tx implements driven.TargetTx with writes staged over the committed state.
type tx struct {
	store      *TargetStore
	nextID     uint64
	relSeq     uint64
	elements   *overlay[string, domain.ElementProps]
	codes      *overlay[domain.Code, string]
	guids      *overlay[string, string]
	aspects    *overlay[string, domain.AspectProps]
	aspectKeys *overlay[domain.AspectIdentifier, string]
	rels       *overlay[domain.Relationship, uint64]
	schemas    *overlay[string, domain.Schema]
	done       bool
}

var _ driven.TargetTx = (*tx)(nil)

func (x *tx) allocate() string {
	id := domain.FormatID(x.nextID)
	x.nextID++
	return id
}

func (x *tx) checkOpen() error {
	if x.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrInvalidInput)
	}
	return nil
}

// InsertElement assigns an id and returns it.
func (x *tx) InsertElement(_ context.Context, props domain.ElementProps) (string, error) {
	if err := x.checkOpen(); err != nil {
		return "", err
	}
	if !props.Code.IsEmpty() {
		if _, taken := x.codes.get(props.Code); taken {
			return "", fmt.Errorf("%w: %s/%s/%s", domain.ErrDuplicateCode, props.Code.Spec, props.Code.Scope, props.Code.Value)
		}
	}
	if props.FederationGUID == "" {
		props.FederationGUID = uuid.NewString()
	}
	if _, taken := x.guids.get(props.FederationGUID); taken {
		return "", fmt.Errorf("%w: federation guid %s", domain.ErrAlreadyExists, props.FederationGUID)
	}

	props.ID = x.allocate()
	x.elements.set(props.ID, props)
	if !props.Code.IsEmpty() {
		x.codes.set(props.Code, props.ID)
	}
	x.guids.set(props.FederationGUID, props.ID)
	return props.ID, nil
}

// UpdateElement replaces an existing element's properties.
func (x *tx) UpdateElement(_ context.Context, props domain.ElementProps) error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	old, ok := x.elements.get(props.ID)
	if !ok {
		return domain.ErrNotFound
	}
	if props.Code != old.Code && !props.Code.IsEmpty() {
		if owner, taken := x.codes.get(props.Code); taken && owner != props.ID {
			return fmt.Errorf("%w: %s/%s/%s", domain.ErrDuplicateCode, props.Code.Spec, props.Code.Scope, props.Code.Value)
		}
	}
	if props.FederationGUID == "" {
		props.FederationGUID = old.FederationGUID
	}
	if owner, taken := x.guids.get(props.FederationGUID); taken && owner != props.ID {
		return fmt.Errorf("%w: federation guid %s", domain.ErrAlreadyExists, props.FederationGUID)
	}

	if !old.Code.IsEmpty() {
		x.codes.remove(old.Code)
	}
	x.guids.remove(old.FederationGUID)
	x.elements.set(props.ID, props)
	if !props.Code.IsEmpty() {
		x.codes.set(props.Code, props.ID)
	}
	x.guids.set(props.FederationGUID, props.ID)
	return nil
}

// DeleteElement removes an element with its aspects and relationships.
func (x *tx) DeleteElement(_ context.Context, id string) error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	old, ok := x.elements.get(id)
	if !ok {
		return domain.ErrNotFound
	}
	x.elements.remove(id)
	if !old.Code.IsEmpty() {
		x.codes.remove(old.Code)
	}
	x.guids.remove(old.FederationGUID)

	var aspects []domain.AspectProps
	x.aspects.each(func(_ string, a domain.AspectProps) {
		if a.ElementID == id {
			aspects = append(aspects, a)
		}
	})
	for _, a := range aspects {
		x.aspects.remove(a.ID)
		x.aspectKeys.remove(a.Key())
	}
	x.removeRelationships(func(r domain.Relationship) bool {
		return r.SourceID == id || r.TargetID == id
	})
	return nil
}

func (x *tx) removeRelationships(match func(domain.Relationship) bool) {
	var gone []domain.Relationship
	x.rels.each(func(r domain.Relationship, _ uint64) {
		if match(r) {
			gone = append(gone, r)
		}
	})
	for _, r := range gone {
		x.rels.remove(r)
	}
}

// UpsertAspect inserts or updates the aspect keyed by (scope, kind, identifier).
func (x *tx) UpsertAspect(_ context.Context, aspect domain.AspectProps) (string, error) {
	if err := x.checkOpen(); err != nil {
		return "", err
	}
	if _, ok := x.elements.get(aspect.ElementID); !ok {
		return "", fmt.Errorf("aspect owner %s: %w", aspect.ElementID, domain.ErrNotFound)
	}
	if id, ok := x.aspectKeys.get(aspect.Key()); ok {
		aspect.ID = id
	} else {
		aspect.ID = x.allocate()
		x.aspectKeys.set(aspect.Key(), aspect.ID)
	}
	x.aspects.set(aspect.ID, aspect)
	return aspect.ID, nil
}

// InsertRelationship records a relationship once.
func (x *tx) InsertRelationship(_ context.Context, rel domain.Relationship) error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	for _, id := range []string{rel.SourceID, rel.TargetID} {
		if _, ok := x.elements.get(id); !ok {
			return fmt.Errorf("relationship end %s: %w", id, domain.ErrNotFound)
		}
	}
	if _, ok := x.rels.get(rel); !ok {
		x.relSeq++
		x.rels.set(rel, x.relSeq)
	}
	return nil
}

// DeleteRelationships removes every relationship of a class that targets targetID.
func (x *tx) DeleteRelationships(_ context.Context, classFullName, targetID string) error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	x.removeRelationships(func(r domain.Relationship) bool {
		return r.ClassFullName == classFullName && r.TargetID == targetID
	})
	return nil
}

// ImportSchema records a schema.
func (x *tx) ImportSchema(_ context.Context, schema domain.Schema) error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	x.schemas.set(schema.Name, schema)
	return nil
}

// Commit applies the staged writes.
func (x *tx) Commit() error {
	if err := x.checkOpen(); err != nil {
		return err
	}
	x.done = true
	x.store.mu.Lock()
	d := x.store.data
	d.nextID, d.relSeq = x.nextID, x.relSeq
	x.elements.apply()
	x.codes.apply()
	x.guids.apply()
	x.aspects.apply()
	x.aspectKeys.apply()
	x.rels.apply()
	x.schemas.apply()
	x.store.mu.Unlock()
	x.store.writeMu.Unlock()
	return nil
}

// Rollback discards the staged writes.
func (x *tx) Rollback() error {
	if x.done {
		return nil
	}
	x.done = true
	x.store.writeMu.Unlock()
	return nil
}

// idLess orders 0x ids numerically; malformed ids sort last.
func idLess(a, b string) bool {
	na, errA := domain.ParseID(a)
	nb, errB := domain.ParseID(b)
	switch {
	case errA != nil:
		return false
	case errB != nil:
		return true
	default:
		return na < nb
	}
}
