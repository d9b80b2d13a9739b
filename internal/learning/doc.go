// Package learning implements the interaction learning loop: retrieving
// similar high-quality memories to prime an answer, grading finished
// interactions against a weighted rubric, and turning graded interactions
// into durable memories, query patterns, similarity links and rolling
// statistics in the graph store.
//
// Every component here is stateless apart from its injected dependencies
// and is safe for concurrent use. Coordination across steps lives in the
// pipeline package.
package learning
