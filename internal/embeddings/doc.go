// Package embeddings turns text into vectors for similarity search over
// memories.
//
// Two providers are supported: FastEmbed (local ONNX, requires cgo) and
// TEI (a Text Embeddings Inference HTTP server). NewProvider selects one
// from configuration and reports the vector dimension the graph store
// indexes are created with.
package embeddings
