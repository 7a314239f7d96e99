// Package presets loads named vehicle definitions from JSON catalogs.
//
// Catalogs use the historical field names (numstages, fuelmass, ...) with
// thrust in kgf and estimated range in km; Preset.Vehicle and Preset.Config
// convert to SI units.
package presets

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"
)

//go:embed defaults.json
var defaultCatalog []byte

// Defaults returns the catalog compiled into the binary.
func Defaults(logger *slog.Logger) (*Catalog, error) {
	presets, err := Parse(bytes.NewReader(defaultCatalog), logger)
	if err != nil {
		return nil, fmt.Errorf("embedded presets: %w", err)
	}
	return &Catalog{Source: "embedded", LoadedAt: time.Now(), Presets: presets}, nil
}

// LoadFile reads a catalog from disk.
func LoadFile(path string, logger *slog.Logger) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening preset file: %w", err)
	}
	defer f.Close()

	presets, err := Parse(f, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Catalog{Source: path, LoadedAt: time.Now(), Presets: presets}, nil
}
