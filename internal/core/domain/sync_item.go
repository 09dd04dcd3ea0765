package domain

// ItemState classifies a SourceItem relative to prior runs.
type ItemState int

const (
	// ItemNew means no provenance record exists for the item.
	ItemNew ItemState = iota

	// ItemChanged means a provenance record exists and its version/checksum differ,
	// or there is nothing to compare against.
	ItemChanged

	// ItemUnchanged means the stored version or checksum equals the incoming one.
	ItemUnchanged
)

// String returns the lower-case name of the state.
func (s ItemState) String() string {
	switch s {
	case ItemNew:
		return "new"
	case ItemChanged:
		return "changed"
	case ItemUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// SourceItem is the identity of an external record as seen by change detection.
// ID is unique within a (scope, kind) pair. Version and Checksum are compared
// for equality only.
type SourceItem struct {
	// ID is the stable external identifier (GUID, natural key, path).
	ID string

	// Version is an opaque version stamp such as a file modification time.
	Version string

	// Checksum is a content hash, used when no reliable version exists.
	Checksum string
}

// Detectable reports whether the item carries anything change detection can compare.
func (i SourceItem) Detectable() bool {
	return i.Version != "" || i.Checksum != ""
}

// AspectIdentifier is the provenance key mapping an external identity to a target element.
type AspectIdentifier struct {
	ScopeID    string `json:"scope"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

// SyncResult is the outcome of a change-only check.
type SyncResult struct {
	// ElementID is the previously associated element, empty when State is ItemNew.
	ElementID string

	// AspectID is the provenance record found, empty when State is ItemNew.
	AspectID string

	// State is the classification.
	State ItemState
}

// SynchronizationResults pairs a converted element with its classification.
// The caller copies a check's ElementID into Element.ID before committing an update.
type SynchronizationResults struct {
	Element ElementProps
	State   ItemState

	// Owners replace, per class, the relationships targeting the element.
	// An empty TargetID means the element itself; an empty SourceID only
	// clears the class.
	Owners []Relationship
}

// OrphanPolicy decides what happens to provenance rows never seen during a run.
type OrphanPolicy string

const (
	// OrphanKeep leaves unseen elements untouched.
	OrphanKeep OrphanPolicy = "keep"

	// OrphanReport logs unseen elements without mutating the store.
	OrphanReport OrphanPolicy = "report"

	// OrphanDelete removes unseen elements together with their aspects.
	OrphanDelete OrphanPolicy = "delete"
)

// ParseOrphanPolicy validates a policy name; empty means OrphanKeep.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(s) {
	case "", OrphanKeep:
		return OrphanKeep, nil
	case OrphanReport, OrphanDelete:
		return OrphanPolicy(s), nil
	default:
		return "", ErrInvalidInput
	}
}
