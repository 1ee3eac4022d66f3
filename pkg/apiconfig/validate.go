package apiconfig

import (
	"strings"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
)

// Validate checks the structural requirements and every operation. Operations
// are checked in name order so the reported failure is deterministic.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Globals.BaseURL) == "" {
		return apierr.Configuration("globals.base_url is required")
	}
	if d.Operations == nil {
		return apierr.Configuration("operations is required")
	}
	for _, name := range d.OperationNames() {
		if err := d.ValidateOperation(name); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOperation checks a single named operation against the document's
// presets.
func (d *Document) ValidateOperation(name string) error {
	op, ok := d.Operations[name]
	if !ok {
		return apierr.Configuration("Operation '%s' not found", name)
	}
	return op.validate(name, d.ParamPresets)
}

func (op OperationConfig) validate(name string, presets map[string]map[string]string) error {
	if op.Path == "" {
		return apierr.Configuration("Operation '%s' is missing a path", name)
	}
	if op.Method == "" {
		return apierr.Configuration("Operation '%s' is missing a method", name)
	}

	isGet := strings.EqualFold(op.Method, "GET")
	if op.Encoding != "" {
		if !op.Encoding.Valid() {
			return apierr.Configuration("Operation '%s' has invalid encoding: %s", name, op.Encoding)
		}
		if isGet && (op.Encoding == EncodingJSON || op.Encoding == EncodingForm) {
			return apierr.Configuration("Operation '%s' is GET but has encoding '%s' which implies a body", name, op.Encoding)
		}
	}

	for _, preset := range op.UsePresets {
		if _, ok := presets[preset]; !ok {
			return apierr.Configuration("Operation '%s' references missing preset: %s", name, preset)
		}
	}

	if isGet && op.Body != nil {
		return apierr.Configuration("Operation '%s' is GET but has a body defined", name)
	}
	return nil
}
