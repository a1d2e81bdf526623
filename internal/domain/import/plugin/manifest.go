package plugin

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk adapter artifact. One manifest may declare several
// adapters, each addressed by its symbol.
//
//	protocol: 1
//	version: 2024.03
//	adapters:
//	  Checking:
//	    family: csv
//	    company: Example Bank
//	    config:
//	      date_column: Posted
type Manifest struct {
	Protocol int                    `yaml:"protocol"`
	Version  string                 `yaml:"version"`
	Adapters map[string]AdapterSpec `yaml:"adapters"`
}

// AdapterSpec declares one adapter. Config is decoded by the family factory.
type AdapterSpec struct {
	Family        Family    `yaml:"family"`
	Company       string    `yaml:"company"`
	StatementType string    `yaml:"statement_type"`
	SearchString  string    `yaml:"search_string"`
	Instructions  string    `yaml:"instructions"`
	Config        yaml.Node `yaml:"config"`
}

// DecodeConfig decodes the family-specific config block into v, rejecting
// unknown keys. A missing block leaves v untouched.
func (s AdapterSpec) DecodeConfig(v any) error {
	if s.Config.Kind == 0 {
		return nil
	}
	out, err := yaml.Marshal(&s.Config)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(out))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// DecodeManifest parses a manifest artifact.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Protocol == 0 {
		return nil, fmt.Errorf("decode manifest: missing protocol version")
	}
	return &m, nil
}

// Info describes one resolvable adapter.
type Info struct {
	Identifier    string `json:"identifier"`
	Family        Family `json:"family"`
	Version       string `json:"version,omitempty"`
	Company       string `json:"company,omitempty"`
	StatementType string `json:"statement_type,omitempty"`
	SearchString  string `json:"search_string,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
	Builtin       bool   `json:"builtin"`
}
