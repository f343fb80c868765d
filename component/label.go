package component

import "strings"

// ParseLabel splits a "<TypeName>.<name>" label into its two parts. It
// returns ok=false if label does not contain a '.' separating two
// non-empty parts.
func ParseLabel(label string) (typeName, name string, ok bool) {
	dot := strings.Index(label, ".")
	if dot <= 0 || dot >= len(label)-1 {
		return "", "", false
	}
	return label[:dot], label[dot+1:], true
}
