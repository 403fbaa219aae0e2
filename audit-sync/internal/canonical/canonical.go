// Package canonical produces a stable byte form of JSON values so that equal
// payloads hash equally regardless of key order or whitespace.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns v as JSON with object keys sorted at every level.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Normalize(raw)
}

// Normalize rewrites raw JSON into canonical form. Numbers keep their
// textual representation.
func Normalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	var buf bytes.Buffer
	write(&buf, tree)
	return buf.Bytes(), nil
}

// Hash returns the hex SHA-256 of the canonical form of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return digest(b), nil
}

// HashRaw hashes raw JSON canonically, falling back to the bytes themselves
// when they are not JSON.
func HashRaw(raw []byte) string {
	if b, err := Normalize(raw); err == nil {
		return digest(b)
	}
	return digest(raw)
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func write(buf *bytes.Buffer, v interface{}) {
	switch node := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeScalar(buf, k)
			buf.WriteByte(':')
			write(buf, node[k])
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range node {
			if i > 0 {
				buf.WriteByte(',')
			}
			write(buf, elem)
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(node.String())
	default:
		writeScalar(buf, node)
	}
}

func writeScalar(buf *bytes.Buffer, v interface{}) {
	// strings, bools and null cannot fail to encode
	b, _ := json.Marshal(v)
	buf.Write(b)
}
