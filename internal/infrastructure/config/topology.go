package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// TopologyFile is the on-disk form of a topology. Unset fields leave the
// environment's values alone.
type TopologyFile struct {
	Size     int      `yaml:"size" toml:"size"`
	Peers    []string `yaml:"peers" toml:"peers"`
	Producer *int     `yaml:"producer" toml:"producer"`
	Consumer *int     `yaml:"consumer" toml:"consumer"`
	Tag      *int     `yaml:"tag" toml:"tag"`
}

// LoadTopologyFile reads a YAML (.yaml, .yml) or TOML (.toml) topology.
func LoadTopologyFile(path string) (*TopologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	return ParseTopology(filepath.Ext(path), data)
}

// ParseTopology decodes data according to the file extension ext.
func ParseTopology(ext string, data []byte) (*TopologyFile, error) {
	var f TopologyFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse yaml topology: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse toml topology: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported topology format %q", ErrInvalid, ext)
	}
	return &f, nil
}

// Apply overrides t with the fields set in f. Peers without a size imply
// the size.
func (f *TopologyFile) Apply(t *TopologyConfig) {
	if len(f.Peers) > 0 {
		t.Peers = f.Peers
		t.Size = len(f.Peers)
	}
	if f.Size > 0 {
		t.Size = f.Size
	}
	if f.Producer != nil {
		t.Producer = *f.Producer
	}
	if f.Consumer != nil {
		t.Consumer = *f.Consumer
	}
	if f.Tag != nil {
		t.Tag = *f.Tag
	}
}
