package graphstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Node is a labelled vertex with free-form properties.
type Node struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// HasLabel reports whether n carries label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EdgeID derives the id of the single edge of type between from and to.
func EdgeID(typ, from, to string) string {
	return typ + ":" + from + ":" + to
}

// ScoredNode is a vector search hit.
type ScoredNode struct {
	Node  *Node
	Score float32
}

// IndexSpec declares a vector index over nodes carrying Label.
type IndexSpec struct {
	Name      string
	Label     string
	Dimension int
}

// EncodeProperties converts a tagged struct into a property map.
func EncodeProperties(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding properties: %w", err)
	}
	props := map[string]any{}
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("encoding properties: %w", err)
	}
	return props, nil
}

// DecodeProperties fills the struct pointed to by out from props.
func DecodeProperties(props map[string]any, out any) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("decoding properties: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding properties: %w", err)
	}
	return nil
}

func encodeNode(n *Node) ([]byte, error) { return json.Marshal(n) }

func decodeNode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func encodeEdge(e *Edge) ([]byte, error) { return json.Marshal(e) }

func decodeEdge(data []byte) (*Edge, error) {
	var e Edge
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
