package apiconfig

import (
	"sort"

	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

// Encoding selects how parameters are placed on the wire.
type Encoding string

const (
	EncodingJSON  Encoding = "json"
	EncodingURL   Encoding = "url"
	EncodingForm  Encoding = "form"
	EncodingQuery Encoding = "query"
)

// Valid reports whether e is one of the recognised encodings. Matching is
// exact; "JSON" is not valid.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingJSON, EncodingURL, EncodingForm, EncodingQuery:
		return true
	}
	return false
}

// TaskType distinguishes ordinary requests from file downloads.
type TaskType string

const (
	TaskRequest  TaskType = "request"
	TaskDownload TaskType = "download"
)

// Document is the root of an API configuration file. It is treated as
// immutable once loaded.
type Document struct {
	Version      string                       `json:"version,omitempty" yaml:"version,omitempty"`
	Globals      Globals                      `json:"globals" yaml:"globals"`
	Profiles     map[string]Profile           `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	Operations   map[string]OperationConfig   `json:"operations" yaml:"operations"`
	ParamPresets map[string]map[string]string `json:"param_presets,omitempty" yaml:"param_presets,omitempty"`
}

type Globals struct {
	BaseURL string            `json:"base_url" yaml:"base_url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Timeout in seconds. Advisory: the transport decides whether to honour it.
	Timeout *float64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Profile overrides the base URL and headers for one environment.
type Profile struct {
	BaseURL string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// OperationConfig describes a single named API operation.
type OperationConfig struct {
	Path            string                 `json:"path" yaml:"path"`
	Method          string                 `json:"method" yaml:"method"`
	Headers         map[string]string      `json:"headers,omitempty" yaml:"headers,omitempty"`
	Params          map[string]value.Value `json:"params,omitempty" yaml:"params,omitempty"`
	Body            *value.Value           `json:"body,omitempty" yaml:"body,omitempty"`
	ResponseMapping string                 `json:"response_mapping,omitempty" yaml:"response_mapping,omitempty"`
	UsePresets      []string               `json:"use_presets,omitempty" yaml:"use_presets,omitempty"`
	TaskType        TaskType               `json:"task_type,omitempty" yaml:"task_type,omitempty"`
	Encoding        Encoding               `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Processors      []string               `json:"processors,omitempty" yaml:"processors,omitempty"`
}

// Operation returns the named operation.
func (d *Document) Operation(name string) (OperationConfig, bool) {
	op, ok := d.Operations[name]
	return op, ok
}

// OperationNames returns all operation names sorted.
func (d *Document) OperationNames() []string {
	names := make([]string, 0, len(d.Operations))
	for name := range d.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProfileNames returns all profile names sorted.
func (d *Document) ProfileNames() []string {
	names := make([]string, 0, len(d.Profiles))
	for name := range d.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
