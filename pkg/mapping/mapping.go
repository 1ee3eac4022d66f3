// Package mapping decodes HTTP responses into caller types.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jmespath/go-jmespath"
	"github.com/tidwall/gjson"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
)

// Response is the raw outcome of a request handed to a Mapper.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Mapper decodes resp into out, which is a non-nil pointer.
type Mapper interface {
	Map(resp *Response, out any) error
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(resp *Response, out any) error

func (f MapperFunc) Map(resp *Response, out any) error { return f(resp, out) }

// JSON decodes the whole body. It is used when an operation names no mapper.
var JSON Mapper = MapperFunc(func(resp *Response, out any) error {
	return decode(resp.Body, out)
})

// KeyPath decodes the JSON fragment found at a dotted path such as
// "data.user". Path syntax is gjson's.
type KeyPath struct {
	Path string
}

func (m KeyPath) Map(resp *Response, out any) error {
	if !gjson.ValidBytes(resp.Body) {
		return apierr.Mapping("response is not valid JSON", nil)
	}
	res := gjson.GetBytes(resp.Body, m.Path)
	if !res.Exists() {
		return apierr.Mapping(fmt.Sprintf("key path %q not found", m.Path), nil)
	}
	return decode([]byte(res.Raw), out)
}

// JMESPath decodes the result of a JMESPath expression evaluated against the
// body.
type JMESPath struct {
	expr   string
	parsed *jmespath.JMESPath
}

// NewJMESPath compiles expr.
func NewJMESPath(expr string) (*JMESPath, error) {
	parsed, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression %q: %w", expr, err)
	}
	return &JMESPath{expr: expr, parsed: parsed}, nil
}

func (m *JMESPath) Map(resp *Response, out any) error {
	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return apierr.Mapping("failed to parse response", err)
	}
	result, err := m.parsed.Search(data)
	if err != nil {
		return apierr.Mapping(fmt.Sprintf("JMESPath %q failed", m.expr), err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return apierr.Mapping("failed to re-encode JMESPath result", err)
	}
	return decode(raw, out)
}

// Raw copies the body into a *[]byte or *string without decoding.
var Raw Mapper = MapperFunc(func(resp *Response, out any) error {
	switch t := out.(type) {
	case *[]byte:
		*t = append((*t)[:0], resp.Body...)
	case *string:
		*t = string(resp.Body)
	default:
		return apierr.Mapping(fmt.Sprintf("raw mapper cannot fill %T", out), nil)
	}
	return nil
})

func decode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return apierr.Mapping("failed to decode response", err)
	}
	return nil
}
