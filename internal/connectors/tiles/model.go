package tiles

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Tile types understood by the format. Each maps to TestConnector:<type>.
const (
	SmallSquareTile         = "SmallSquareTile"
	LargeSquareTile         = "LargeSquareTile"
	IsoscelesTriangleTile   = "IsoscelesTriangleTile"
	EquilateralTriangleTile = "EquilateralTriangleTile"
	RightTriangleTile       = "RightTriangleTile"
	RectangleTile           = "RectangleTile"
)

// TileTypes lists every supported tile type.
var TileTypes = []string{
	SmallSquareTile,
	LargeSquareTile,
	IsoscelesTriangleTile,
	EquilateralTriangleTile,
	RightTriangleTile,
	RectangleTile,
}

// IsTileType reports whether t is a supported tile type.
func IsTileType(t string) bool {
	return slices.Contains(TileTypes, t)
}

// Palette is the set of colours that get a render material up front.
// Tiles in other colours get theirs on first use.
var Palette = []string{"Red", "Green", "Blue", "Yellow", "Orange", "Purple", "Magenta", "Black", "White"}

// SourceFile is the on-disk tiles document.
type SourceFile struct {
	Groups []Group  `json:"Groups"`
	Tiles  TileSets `json:"Tiles"`
}

// Group is a named collection of tiles.
type Group struct {
	GUID        string `json:"guid,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TileSet holds the tiles of one type.
type TileSet struct {
	Type  string
	Tiles []json.RawMessage
}

// TileSets keeps the tile types in file order.
type TileSets []TileSet

// UnmarshalJSON decodes the "Tiles" object without losing key order.
func (s *TileSets) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("tiles: expected an object keyed by tile type")
	}

	var out TileSets
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var tiles []json.RawMessage
		if err := dec.Decode(&tiles); err != nil {
			return fmt.Errorf("tiles: %s: %w", name, err)
		}
		out = append(out, TileSet{Type: name, Tiles: tiles})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// Tile is the part of a tile the connector interprets. Every other property
// is carried through to the element's JSON properties.
type Tile struct {
	GUID  string `json:"guid"`
	Color string `json:"color,omitempty"`
	Group string `json:"group,omitempty"`
}

// GroupRecord is the payload of a Group record.
type GroupRecord struct {
	GUID        string `json:"guid,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TileRecord is the payload of a Tile record.
type TileRecord struct {
	// Type is the tile type, e.g. SmallSquareTile.
	Type string `json:"type"`

	// Tile is the tile object exactly as it appears in the source.
	Tile json.RawMessage `json:"tile"`

	// Skip is set by readers that confirmed through read-back that the tile is unchanged.
	Skip bool `json:"skip,omitempty"`

	// ElementID is the element the read-back lookup matched.
	ElementID string `json:"elementId,omitempty"`
}

// Checksum hashes the canonical form of a tile: its type plus the tile
// object re-encoded with sorted keys. Readers and the connector must agree on it.
func Checksum(tileType string, tile json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(tile, &v); err != nil {
		return "", fmt.Errorf("decoding tile: %w", err)
	}
	canonical, err := json.Marshal(map[string]any{"type": tileType, "tile": v})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// GroupChecksum hashes a group record.
func GroupChecksum(g GroupRecord) string {
	data, _ := json.Marshal(g)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
