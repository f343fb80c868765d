package serialize

import "fmt"

// applyUpgrades compares the document's data_format_version against
// FormatVersion and, on a mismatch, invokes upgrade exactly once to
// massage the raw decoded document into the current shape before any
// component is constructed. A missing or matching version, or a nil
// handler when the versions already match, is a no-op.
func applyUpgrades(raw map[string]any, upgrade UpgradeHandler) (map[string]any, error) {
	from, _ := raw["data_format_version"].(string)
	if from == "" || from == FormatVersion {
		return raw, nil
	}
	if upgrade == nil {
		return nil, fmt.Errorf("serialize: document format_version %q does not match %q and no upgrade handler was supplied", from, FormatVersion)
	}
	upgraded, err := upgrade(raw, from, FormatVersion)
	if err != nil {
		return nil, fmt.Errorf("serialize: upgrading document from %q to %q: %w", from, FormatVersion, err)
	}
	upgraded["data_format_version"] = FormatVersion
	return upgraded, nil
}
