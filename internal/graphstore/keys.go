package graphstore

import "strings"

const (
	prefixNode          = byte(0x01)
	prefixEdge          = byte(0x02)
	prefixLabelIndex    = byte(0x03)
	prefixOutgoingIndex = byte(0x04)
	prefixIncomingIndex = byte(0x05)

	separator = byte(0x00)
)

func nodeKey(id string) []byte {
	return append([]byte{prefixNode}, id...)
}

func edgeKey(id string) []byte {
	return append([]byte{prefixEdge}, id...)
}

func labelIndexPrefix(label string) []byte {
	key := make([]byte, 0, len(label)+2)
	key = append(key, prefixLabelIndex)
	key = append(key, strings.ToLower(label)...)
	return append(key, separator)
}

func labelIndexKey(label, nodeID string) []byte {
	return append(labelIndexPrefix(label), nodeID...)
}

func adjacencyPrefix(prefix byte, nodeID string) []byte {
	key := make([]byte, 0, len(nodeID)+2)
	key = append(key, prefix)
	key = append(key, nodeID...)
	return append(key, separator)
}

func outgoingIndexKey(nodeID, edgeID string) []byte {
	return append(adjacencyPrefix(prefixOutgoingIndex, nodeID), edgeID...)
}

func incomingIndexKey(nodeID, edgeID string) []byte {
	return append(adjacencyPrefix(prefixIncomingIndex, nodeID), edgeID...)
}

// suffixAfter returns the part of key following prefix.
func suffixAfter(key, prefix []byte) string {
	if len(key) <= len(prefix) {
		return ""
	}
	return string(key[len(prefix):])
}
