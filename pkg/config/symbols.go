package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SymbolOverride carries per-instrument settings that beat the defaults.
type SymbolOverride struct {
	QuantityDecimals *int   `yaml:"quantity_decimals"`
	Leverage         int    `yaml:"leverage"`
	MarginMode       string `yaml:"margin_mode"`
}

// SymbolsFile represents the top-level YAML structure.
type SymbolsFile struct {
	Symbols map[string]SymbolOverride `yaml:"symbols"`
}

// DefaultSymbols is used when no symbols file is configured.
func DefaultSymbols() map[string]SymbolOverride {
	three := 3
	return map[string]SymbolOverride{
		"BTCUSDT": {QuantityDecimals: &three},
	}
}

// LoadSymbols reads per-symbol overrides from a YAML file.
// An empty path yields DefaultSymbols.
func LoadSymbols(path string) (map[string]SymbolOverride, error) {
	if path == "" {
		return DefaultSymbols(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file SymbolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	out := make(map[string]SymbolOverride, len(file.Symbols))
	for sym, o := range file.Symbols {
		o.MarginMode = strings.ToUpper(o.MarginMode)
		out[strings.ToUpper(sym)] = o
	}
	return out, nil
}
