package apiconfig

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
)

// Load decodes and validates a JSON document. Comments and trailing commas are
// accepted.
func Load(data []byte) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	if err := dec.Decode(&doc); err != nil {
		return nil, apierr.ConfigurationWrap(err, "failed to decode config")
	}
	return finish(&doc)
}

// LoadYAML decodes and validates a YAML document with the same schema as Load.
func LoadYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apierr.ConfigurationWrap(err, "failed to decode config")
	}
	return finish(&doc)
}

// LoadFile reads path and picks the decoder from its extension.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.ConfigurationWrap(err, "failed to read config %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return Load(data)
	}
}

func finish(doc *Document) (*Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
