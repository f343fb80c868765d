package timeseries

import (
	"encoding/json"
	"sort"
)

// CanonicalFeatures encodes a features map as the JSON array of
// single-entry objects, sorted by key, stored in the metadata index's
// `features` column: deterministic across hosts and
// independent of map iteration/insertion order.
func CanonicalFeatures(features map[string]string) string {
	if len(features) == 0 {
		return "[]"
	}
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, map[string]string{k: features[k]})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		// entries is a slice of map[string]string; Marshal cannot fail.
		panic(err)
	}
	return string(data)
}
