// Package ragcontext turns raw retrieval results into a numbered dual-view
// representation: lean numbered text for the model and rich metadata for the
// client. The chunk numbers assigned here are the citation contract used by
// the stream adapter and the message-source store.
package ragcontext

import "fmt"

// Reference is a raw retrieval unit before ordering and numbering.
type Reference struct {
	Content     string                 `json:"content"`
	Name        string                 `json:"name,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ChunkNumber int                    `json:"chunk_number,omitempty"` // 0 until assigned by Format
}

// ReferenceGroup is the container shape some upstream events wrap references
// in: a query with its retrieved reference list. Extractors unwrap exactly
// this shape, nothing is probed at runtime.
type ReferenceGroup struct {
	Query      string      `json:"query,omitempty"`
	References []Reference `json:"references"`
}

// NormalizeRaw converts a mixed JSON-decoded reference list (strings and
// objects) into structured References. Malformed entries degrade to
// content-only references rather than failing.
func NormalizeRaw(raw []interface{}) []Reference {
	refs := make([]Reference, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			refs = append(refs, Reference{Content: v})
		case map[string]interface{}:
			ref := Reference{}
			if content, ok := v["content"].(string); ok {
				ref.Content = content
			}
			if name, ok := v["name"].(string); ok {
				ref.Name = name
			}
			if meta, ok := v["metadata"].(map[string]interface{}); ok {
				ref.Metadata = meta
			}
			if n, ok := toInt(v["chunk_number"]); ok {
				ref.ChunkNumber = n
			}
			refs = append(refs, ref)
		default:
			refs = append(refs, Reference{Content: fmt.Sprintf("%v", item)})
		}
	}
	return refs
}

// MetaString returns a string metadata value, or "" when absent.
func (r Reference) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if s, ok := r.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// MetaInt returns an integer metadata value. JSON decoding produces float64
// for all numbers, so both forms are accepted.
func (r Reference) MetaInt(key string) (int, bool) {
	if r.Metadata == nil {
		return 0, false
	}
	return toInt(r.Metadata[key])
}

// MetaFloat returns a float metadata value.
func (r Reference) MetaFloat(key string) (float64, bool) {
	if r.Metadata == nil {
		return 0, false
	}
	switch v := r.Metadata[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	}
	return 0, false
}
