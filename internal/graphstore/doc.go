// Package graphstore is an embedded property graph for learned state.
//
// Nodes and typed edges live in a BadgerDB arena keyed by id. Adjacency is
// kept in outgoing/incoming index keys rather than object references, and a
// label index supports scans by node kind:
//
//	0x01 | nodeID                   -> Node (JSON)
//	0x02 | edgeID                   -> Edge (JSON)
//	0x03 | lower(label) 0x00 nodeID -> {}
//	0x04 | fromID 0x00 edgeID       -> {}
//	0x05 | toID 0x00 edgeID         -> {}
//
// Nodes under a label with a declared vector index are mirrored into a
// VectorIndex (chromem-go in process, or Qdrant) for similarity search.
package graphstore
