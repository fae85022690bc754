package mcos

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// encodeMetadata serializes a MemoryRecord's metadata map to JSON for
// transport to a vector-store adapter. Using json here (rather than
// gjson/sjson) for the full-map case keeps ordering and typing simple;
// gjson/sjson back the partial get/set helpers below. None of the helpers
// in this file has a caller elsewhere in MCOS.
func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// metadataGetString reads a single field out of a raw JSON metadata
// envelope without unmarshalling the whole document — used when only one
// or two fields of a potentially large, forward-compatible metadata blob
// are needed (e.g. reading "scope" off a retrieved chunk).
func metadataGetString(raw []byte, path string) (string, bool) {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// metadataSetString writes a single field into a raw JSON metadata
// envelope, preserving every other key already present — the
// read-modify-write path a naive map[string]any round-trip would risk
// dropping unknown keys on.
func metadataSetString(raw []byte, path, value string) ([]byte, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return sjson.SetBytes(raw, path, value)
}

// encodeTurn/decodeTurn serialize a Turn for carrying inside a Job payload.
func encodeTurn(t Turn) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTurn(raw []byte) (Turn, error) {
	var t Turn
	if len(raw) == 0 {
		return t, nil
	}
	err := json.Unmarshal(raw, &t)
	return t, err
}

// jobPayloadGet reads a single field from a background job's raw JSON
// payload.
func jobPayloadGet(raw []byte, path string) gjson.Result {
	return gjson.GetBytes(raw, path)
}

// jobPayloadSet writes a single field into a background job's raw JSON
// payload without needing to know its full shape. Queue keeps a job's
// attempt count and runAt in Job fields, not in the payload.
func jobPayloadSet(raw []byte, path string, value any) ([]byte, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return sjson.SetBytes(raw, path, value)
}
