package metadata

import (
	"encoding/json"

	"infrasys/timeseries"
)

// matchFeatures filters candidates down to those whose Features column
// matches requested, trying three progressive strategies:
// exact canonicalized JSON equality, sorted-features map
// equality, and a per-key substring fallback.
func matchFeatures(candidates []Row, requested map[string]string) []Row {
	if len(requested) == 0 {
		var out []Row
		for _, c := range candidates {
			if c.Features == "[]" {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
		return candidates
	}

	canonical := timeseries.CanonicalFeatures(requested)

	var exact []Row
	for _, c := range candidates {
		if c.Features == canonical {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	var sortedEqual []Row
	for _, c := range candidates {
		if featuresEqual(c.Features, requested) {
			sortedEqual = append(sortedEqual, c)
		}
	}
	if len(sortedEqual) > 0 {
		return sortedEqual
	}

	var substringMatch []Row
	for _, c := range candidates {
		if containsAllFeatures(c.Features, requested) {
			substringMatch = append(substringMatch, c)
		}
	}
	return substringMatch
}

func featuresEqual(canonicalJSON string, requested map[string]string) bool {
	parsed := decodeCanonicalFeatures(canonicalJSON)
	if len(parsed) != len(requested) {
		return false
	}
	for k, v := range requested {
		if parsed[k] != v {
			return false
		}
	}
	return true
}

func containsAllFeatures(canonicalJSON string, requested map[string]string) bool {
	for k, v := range requested {
		needle, _ := json.Marshal(map[string]string{k: v})
		if !jsonArrayContains(canonicalJSON, string(needle)) {
			return false
		}
	}
	return true
}

func decodeCanonicalFeatures(canonicalJSON string) map[string]string {
	var entries []map[string]string
	if err := json.Unmarshal([]byte(canonicalJSON), &entries); err != nil {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		for k, v := range e {
			out[k] = v
		}
	}
	return out
}

// jsonArrayContains reports whether needle (a single-entry object's JSON
// encoding, e.g. `{"scenario":"one"}`) appears verbatim inside haystack (a
// canonical features array). This is the `LIKE '%"k":"v"%'` fallback
// expressed as a Go substring check, since the
// canonical encoding already guarantees a stable byte layout per entry.
func jsonArrayContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
