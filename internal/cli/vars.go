package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseExtraVars turns repeated -e flags into runtime values.
//
//	-e key=value    string "value"
//	-e key:=json    decoded JSON (number, bool, null, array or object)
//	-e key          empty string
func ParseExtraVars(vars []string) (map[string]any, error) {
	values := make(map[string]any, len(vars))
	for _, ev := range vars {
		if ev == "" {
			continue
		}

		eq := strings.Index(ev, "=")
		if eq < 0 {
			values[ev] = ""
			continue
		}

		if eq > 0 && ev[eq-1] == ':' {
			name := ev[:eq-1]
			if name == "" {
				return nil, fmt.Errorf("invalid variable %q: missing name", ev)
			}
			v, err := decodeJSONVar(ev[eq+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid JSON for variable '%s': %w", name, err)
			}
			values[name] = v
			continue
		}

		name := ev[:eq]
		if name == "" {
			return nil, fmt.Errorf("invalid variable %q: missing name", ev)
		}
		values[name] = ev[eq+1:]
	}
	return values, nil
}

func decodeJSONVar(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}
