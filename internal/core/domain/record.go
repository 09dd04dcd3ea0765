package domain

import "encoding/json"

// Record discriminators understood by the orchestrator.
const (
	ObjTypeGroup = "Group"
	ObjTypeTile  = "Tile"
	ObjTypeError = "Error"
)

// Record is one item delivered by the reader's data stream.
// Data is an opaque JSON payload interpreted by the format, not the transport.
type Record struct {
	ObjType string
	Data    json.RawMessage
}

// ErrorDetails is the payload of an in-band {objType:"Error"} record.
type ErrorDetails struct {
	Details string `json:"details"`
}
