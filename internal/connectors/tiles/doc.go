// Package tiles is the reader format for tile documents.
//
// A tile document is a JSON file with named groups and tiles of several
// shapes. The reader (internal/reader/tiles) streams one Group record per
// group followed by one Tile record per tile in file order. This package
// converts those records into target store elements:
//
//   - Group records become TestConnector:TestGroup elements, tracked by name.
//   - Tile records become TestConnector:<TileType> elements, tracked by guid
//     with a SHA-256 checksum of the tile's canonical JSON.
//   - Each tile is linked to its group by a TestConnector:GroupOwnsTile
//     relationship. A tile naming a group that was never defined gets a
//     placeholder group, which a later Group record fills in.
//
// Shared definitions (spatial category, render materials and geometry parts)
// are created when a document is first converted and looked up afterwards.
package tiles
