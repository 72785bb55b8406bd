package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when present.
const DefaultConfigPath = "~/.emaildash/config.yaml"

// YAMLConfig is a kong configuration loader for YAML files. Keys are flag
// names, e.g.
//
//	server: https://dash.example.com
//	profile: work
func YAMLConfig(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}

	return kong.JSON(bytes.NewReader(data))
}
