package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Code is a (spec, scope, value) triple unique within the target store.
type Code struct {
	Spec  string `json:"spec"`
	Scope string `json:"scope"`
	Value string `json:"value"`
}

// IsEmpty reports whether the code carries no value.
func (c Code) IsEmpty() bool {
	return c.Value == ""
}

// ElementProps describes an element in the target store.
// ID is empty until the element is inserted.
type ElementProps struct {
	ID             string          `json:"id,omitempty"`
	ClassFullName  string          `json:"classFullName"`
	ModelID        string          `json:"model"`
	Code           Code            `json:"code"`
	FederationGUID string          `json:"federationGuid,omitempty"`
	UserLabel      string          `json:"userLabel,omitempty"`
	ParentID       string          `json:"parent,omitempty"`
	JSONProperties json.RawMessage `json:"jsonProperties,omitempty"`
}

// AspectProps is a stored ExternalSourceAspect.
type AspectProps struct {
	ID             string          `json:"id"`
	ElementID      string          `json:"element"`
	ScopeID        string          `json:"scope"`
	Kind           string          `json:"kind"`
	Identifier     string          `json:"identifier"`
	Version        string          `json:"version,omitempty"`
	Checksum       string          `json:"checksum,omitempty"`
	JSONProperties json.RawMessage `json:"jsonProperties,omitempty"`
}

// Key returns the provenance key of the aspect.
func (a AspectProps) Key() AspectIdentifier {
	return AspectIdentifier{ScopeID: a.ScopeID, Kind: a.Kind, Identifier: a.Identifier}
}

// Relationship links two elements.
type Relationship struct {
	ClassFullName string `json:"classFullName"`
	SourceID      string `json:"sourceId"`
	TargetID      string `json:"targetId"`
}

// Schema is a domain schema recorded in the target store.
type Schema struct {
	Name    string
	Version string
	Body    string
}

// ElementQuery is a read-only structured filter over elements.
// Zero fields match everything.
type ElementQuery struct {
	ClassFullName   string `json:"classFullName,omitempty"`
	ModelID         string `json:"model,omitempty"`
	CodeValuePrefix string `json:"codeValuePrefix,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// Well-known element ids provisioned by every target store.
const (
	// RootSubjectID is the root of the element tree.
	RootSubjectID = "0x1"

	// RepositoryModelID holds RepositoryLink and subject elements.
	RepositoryModelID = "0x1"

	// DictionaryModelID holds shared definitions by default.
	DictionaryModelID = "0x10"
)

// FormatID renders a numeric element or aspect id the way the store exposes it.
func FormatID(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// ParseID parses a 0x-prefixed hex id.
func ParseID(id string) (uint64, error) {
	s, ok := strings.CutPrefix(id, "0x")
	if !ok || s == "" {
		return 0, fmt.Errorf("%w: id %q", ErrInvalidInput, id)
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", ErrInvalidInput, id)
	}
	return n, nil
}
