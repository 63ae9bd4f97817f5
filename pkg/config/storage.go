package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
)

// LoadFromFile reads a global_conf style JSON file. C and C++ style comments
// and ${VAR} placeholders, common in shipped packet-forwarder configs, are
// stripped before parsing.
func LoadFromFile(path string) (*concentrator.RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decomments and decodes a config document.
func Parse(data []byte) (*concentrator.RawConfig, error) {
	var fc fileConf
	if err := json.Unmarshal([]byte(Decomment(string(data))), &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return fc.toRaw()
}

// SaveToFile writes a raw configuration back out in the wire format.
func SaveToFile(raw *concentrator.RawConfig, path string) error {
	fc, err := fromRaw(raw)
	if err != nil {
		return err
	}

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Decomment strips C-style block comments, C++-style line comments and
// ${VAR} substitution placeholders (replaced by an empty JSON string) from a
// configuration document. Shipped global_conf files use all three.
func Decomment(src string) string {
	var out strings.Builder
	out.Grow(len(src))

	inLine, inBlock, inVar := false, false, false
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case inLine:
			if ch == '\n' {
				inLine = false
			}
		case inBlock:
			if ch == '*' && next == '/' {
				i++
				inBlock = false
			}
		case inVar:
			if ch == '}' {
				out.WriteString(`""`)
				inVar = false
			}
		case ch == '/' && next == '/':
			i++
			inLine = true
		case ch == '/' && next == '*':
			i++
			inBlock = true
		case ch == '$' && next == '{':
			i++
			inVar = true
		default:
			out.WriteRune(ch)
		}
	}
	return out.String()
}
