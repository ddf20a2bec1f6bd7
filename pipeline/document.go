package pipeline

import "encoding/json"

// decodeCatalogDoc parses an upstream catalog response, normalizing the
// legacy "metasDetailed" field name to "metas" and lifting the items out
// as editable maps.
func decodeCatalogDoc(raw []byte) (map[string]any, []map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, err
	}

	rawMetas, ok := doc["metas"]
	if !ok {
		if legacy, legacyOK := doc["metasDetailed"]; legacyOK {
			rawMetas = legacy
			ok = true
			delete(doc, "metasDetailed")
		}
	}
	if !ok {
		rawMetas = []any{}
	}

	return doc, toItemSlice(rawMetas), nil
}

func toItemSlice(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// encodeCatalogDoc re-serializes doc with items written back under the
// canonical "metas" key.
func encodeCatalogDoc(doc map[string]any, items []map[string]any) ([]byte, error) {
	clone := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		clone[k] = v
	}
	metas := make([]any, len(items))
	for i, item := range items {
		metas[i] = item
	}
	clone["metas"] = metas
	return json.Marshal(clone)
}

// decodeMetaDoc parses an upstream meta response ({"meta": {...}}).
func decodeMetaDoc(raw []byte) (map[string]any, map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, err
	}
	meta, _ := doc["meta"].(map[string]any)
	return doc, meta, nil
}

func encodeMetaDoc(doc map[string]any, meta map[string]any) ([]byte, error) {
	clone := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		clone[k] = v
	}
	clone["meta"] = meta
	return json.Marshal(clone)
}

// intField reads an integer out of a generically-decoded JSON object,
// tolerating the float64 representation json.Unmarshal produces for
// numbers in an any-typed map.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
