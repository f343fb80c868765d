package system

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// tomlOptions is the on-disk TOML shape LoadOptionsFile decodes into
// Options.
type tomlOptions struct {
	Name                      string `toml:"name"`
	Description               string `toml:"description"`
	DataFormatVersion         string `toml:"data_format_version"`
	Backend                   string `toml:"backend"`
	AutoAddComposedComponents bool   `toml:"auto_add_composed_components"`
}

// LoadOptions decodes Options from r's TOML content.
func LoadOptions(r io.Reader) (Options, error) {
	var raw tomlOptions
	if _, err := toml.NewDecoder(r).Decode(&raw); err != nil {
		return Options{}, fmt.Errorf("system: decoding options: %w", err)
	}
	return Options{
		Name:                      raw.Name,
		Description:               raw.Description,
		DataFormatVersion:         raw.DataFormatVersion,
		Backend:                   raw.Backend,
		AutoAddComposedComponents: raw.AutoAddComposedComponents,
	}, nil
}

// LoadOptionsFile opens path and decodes it the same way LoadOptions does.
func LoadOptionsFile(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("system: opening %q: %w", path, err)
	}
	defer f.Close()
	return LoadOptions(f)
}
