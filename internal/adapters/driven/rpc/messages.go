package rpc

import "github.com/custodia-labs/readerbridge/internal/core/domain"

// Control/Data channel messages.

// InitializeRequest asks the reader to open a source.
type InitializeRequest struct {
	Filename        string `json:"filename"`
	ReadBackAddress string `json:"readBackAddress,omitempty"`
}

// InitializeResponse carries a failure reason when the reader rejected the source.
type InitializeResponse struct {
	FailureReason string `json:"failureReason,omitempty"`
}

// GetDataRequest opens the record stream.
type GetDataRequest struct {
	JobID string `json:"jobId"`
}

// RecordMessage is one streamed record. Data is a JSON document embedded as a string.
type RecordMessage struct {
	ObjType string `json:"objType"`
	Data    string `json:"data"`
}

// ShutdownRequest tells the reader to exit.
type ShutdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ShutdownResponse acknowledges a shutdown.
type ShutdownResponse struct{}

// Read-back channel messages.

// ElementSelectorRequest selects an element by exactly one field.
type ElementSelectorRequest struct {
	ID             string                   `json:"id,omitempty"`
	FederationGUID string                   `json:"federationGuid,omitempty"`
	Code           *domain.Code             `json:"code,omitempty"`
	Aspect         *domain.AspectIdentifier `json:"aspect,omitempty"`
}

// ElementPropsResponse answers TryGetElementProps. PropsJSON is empty when Found is false.
type ElementPropsResponse struct {
	Found     bool   `json:"found"`
	PropsJSON string `json:"propsJson,omitempty"`
}

// AspectRequest names a provenance record.
type AspectRequest struct {
	AspectID string `json:"aspectId"`
}

// AspectPropsResponse carries a provenance record as JSON.
type AspectPropsResponse struct {
	PropsJSON string `json:"propsJson"`
}

// DetectChangeMessage asks for the classification of an external record.
type DetectChangeMessage struct {
	Identifier domain.AspectIdentifier `json:"identifier"`
	Version    string                  `json:"version,omitempty"`
	Checksum   string                  `json:"checksum,omitempty"`
}

// DetectChangeReply answers DetectChangeMessage.
type DetectChangeReply struct {
	ElementID string `json:"elementId,omitempty"`
	AspectID  string `json:"aspectId,omitempty"`
	IsChanged bool   `json:"isChanged"`
	State     string `json:"state"`
}

// QueryRequest is a structured element query.
type QueryRequest struct {
	ClassFullName   string `json:"classFullName,omitempty"`
	ModelID         string `json:"model,omitempty"`
	CodeValuePrefix string `json:"codeValuePrefix,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// QueryResponse carries one JSON document per matching element.
type QueryResponse struct {
	RowsJSON []string `json:"rowsJson"`
}

func parseItemState(s string) domain.ItemState {
	switch s {
	case domain.ItemNew.String():
		return domain.ItemNew
	case domain.ItemUnchanged.String():
		return domain.ItemUnchanged
	default:
		return domain.ItemChanged
	}
}
