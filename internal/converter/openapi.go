package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

// OpenAPISpec represents a simplified OpenAPI 3.0 specification
type OpenAPISpec struct {
	OpenAPI    string                     `json:"openapi" yaml:"openapi"`
	Info       OpenAPIInfo                `json:"info" yaml:"info"`
	Servers    []OpenAPIServer            `json:"servers,omitempty" yaml:"servers,omitempty"`
	Paths      map[string]OpenAPIPathItem `json:"paths" yaml:"paths"`
	Components *OpenAPIComponents         `json:"components,omitempty" yaml:"components,omitempty"`
}

// OpenAPIComponents represents reusable components (schemas, etc.)
type OpenAPIComponents struct {
	Schemas map[string]map[string]any `json:"schemas,omitempty" yaml:"schemas,omitempty"`
}

type OpenAPIInfo struct {
	Title   string `json:"title" yaml:"title"`
	Version string `json:"version" yaml:"version"`
}

type OpenAPIServer struct {
	URL string `json:"url" yaml:"url"`
}

type OpenAPIPathItem struct {
	Parameters []OpenAPIParameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Get        *OpenAPIOperation  `json:"get,omitempty" yaml:"get,omitempty"`
	Post       *OpenAPIOperation  `json:"post,omitempty" yaml:"post,omitempty"`
	Put        *OpenAPIOperation  `json:"put,omitempty" yaml:"put,omitempty"`
	Delete     *OpenAPIOperation  `json:"delete,omitempty" yaml:"delete,omitempty"`
	Patch      *OpenAPIOperation  `json:"patch,omitempty" yaml:"patch,omitempty"`
}

type OpenAPIOperation struct {
	OperationID string              `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Summary     string              `json:"summary,omitempty" yaml:"summary,omitempty"`
	Parameters  []OpenAPIParameter  `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *OpenAPIRequestBody `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
}

type OpenAPIParameter struct {
	Name     string `json:"name" yaml:"name"`
	In       string `json:"in" yaml:"in"` // query, path, header, cookie
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

type OpenAPIRequestBody struct {
	Content map[string]OpenAPIMediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

type OpenAPIMediaType struct {
	Schema map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Options controls FromOpenAPI.
type Options struct {
	// BaseURL overrides the first server of the spec. Required when the
	// spec only lists relative servers.
	BaseURL string
	Logger  *zap.Logger
}

var (
	pathParamPattern = regexp.MustCompile(`\{([^{}]+)\}`)
	nonIdentChars    = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
	camelBoundary    = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// LoadOpenAPISpec loads an OpenAPI spec from a file or URL
func LoadOpenAPISpec(ctx context.Context, doer httpclient.HTTPDoer, path string) (*OpenAPISpec, error) {
	var data []byte
	var err error

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		data, err = fetch(ctx, doer, path)
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			err = fmt.Errorf("failed to read spec file: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}
	return ParseOpenAPISpec(data)
}

// ParseOpenAPISpec decodes a JSON or YAML OpenAPI document.
func ParseOpenAPISpec(data []byte) (*OpenAPISpec, error) {
	var spec OpenAPISpec
	if err := json.Unmarshal(data, &spec); err != nil {
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to parse spec as JSON or YAML: %w", err)
		}
	}
	if spec.OpenAPI == "" {
		return nil, fmt.Errorf("not an OpenAPI 3 document (missing openapi field)")
	}
	return &spec, nil
}

func fetch(ctx context.Context, doer httpclient.HTTPDoer, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spec from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch spec from URL: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// FromOpenAPI builds an API document with one operation per path and method.
// Only required parameters become templates; optional ones would make every
// call fail without a value.
func FromOpenAPI(spec *OpenAPISpec, opts Options) (*apiconfig.Document, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		for _, s := range spec.Servers {
			if strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://") {
				baseURL = strings.TrimSuffix(s.URL, "/")
				break
			}
		}
	}
	if baseURL == "" {
		return nil, fmt.Errorf("spec has no absolute server URL; set a base URL")
	}

	doc := &apiconfig.Document{
		Version:    spec.Info.Version,
		Globals:    apiconfig.Globals{BaseURL: baseURL},
		Operations: make(map[string]apiconfig.OperationConfig),
	}

	paths := make([]string, 0, len(spec.Paths))
	for p := range spec.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := spec.Paths[path]
		for _, m := range []struct {
			method string
			op     *OpenAPIOperation
		}{
			{http.MethodGet, item.Get},
			{http.MethodPost, item.Post},
			{http.MethodPut, item.Put},
			{http.MethodPatch, item.Patch},
			{http.MethodDelete, item.Delete},
		} {
			if m.op == nil {
				continue
			}
			name := operationName(m.method, path, m.op)
			if _, dup := doc.Operations[name]; dup {
				name = operationName(m.method, path, &OpenAPIOperation{})
			}
			op, err := convertOperation(m.method, path, item.Parameters, m.op, spec)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", m.method, path, err)
			}
			doc.Operations[name] = op
			logger.Debug("imported operation", zap.String("operation", name), zap.String("method", m.method), zap.String("path", path))
		}
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func convertOperation(method, path string, shared []OpenAPIParameter, operation *OpenAPIOperation, spec *OpenAPISpec) (apiconfig.OperationConfig, error) {
	op := apiconfig.OperationConfig{
		Method: method,
		Path: pathParamPattern.ReplaceAllStringFunc(path, func(m string) string {
			return "$" + identifier(m[1:len(m)-1])
		}),
	}

	query := map[string]value.Value{}
	for _, p := range mergeParameters(shared, operation.Parameters) {
		if !p.Required {
			continue
		}
		switch p.In {
		case "query":
			query[p.Name] = value.String("$" + identifier(p.Name))
		case "header":
			if op.Headers == nil {
				op.Headers = map[string]string{}
			}
			op.Headers[p.Name] = "$" + identifier(p.Name)
		}
	}

	var fields map[string]value.Value
	if operation.RequestBody != nil && method != http.MethodGet {
		contentType, schema := pickContent(operation.RequestBody.Content)
		fields = requiredFields(resolveSchema(schema, spec))
		if contentType == "application/x-www-form-urlencoded" {
			op.Encoding = apiconfig.EncodingForm
		}
	}

	switch {
	case len(fields) > 0 && len(query) > 0:
		// Body object plus query parameters.
		body := value.Object(fields)
		op.Body = &body
		op.Params = query
	case len(fields) > 0:
		op.Params = fields
	case len(query) > 0:
		op.Params = query
		if method != http.MethodGet {
			op.Encoding = apiconfig.EncodingQuery
		}
	}
	return op, nil
}

// mergeParameters lets operation parameters override path-level ones.
func mergeParameters(shared, own []OpenAPIParameter) []OpenAPIParameter {
	seen := make(map[string]bool, len(own))
	out := make([]OpenAPIParameter, 0, len(shared)+len(own))
	for _, p := range own {
		seen[p.In+":"+p.Name] = true
		out = append(out, p)
	}
	for _, p := range shared {
		if !seen[p.In+":"+p.Name] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// pickContent prefers JSON, then form bodies.
func pickContent(content map[string]OpenAPIMediaType) (string, map[string]any) {
	for _, ct := range []string{"application/json", "application/x-www-form-urlencoded"} {
		if mt, ok := content[ct]; ok {
			return ct, mt.Schema
		}
	}
	return "", nil
}

func requiredFields(schema map[string]any) map[string]value.Value {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	required, _ := schema["required"].([]any)

	fields := make(map[string]value.Value, len(required))
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, declared := props[name]; !declared && props != nil {
			continue
		}
		fields[name] = value.String("$" + identifier(name))
	}
	return fields
}

func resolveSchema(schema map[string]any, spec *OpenAPISpec) map[string]any {
	// Handle direct $ref
	if ref, ok := schema["$ref"].(string); ok {
		// Extract component name from $ref (e.g., "#/components/schemas/User")
		parts := strings.Split(ref, "/")
		if len(parts) >= 4 && parts[0] == "#" && parts[1] == "components" && parts[2] == "schemas" {
			schemaName := strings.Join(parts[3:], "/")
			if spec.Components != nil && spec.Components.Schemas != nil {
				if resolved, ok := spec.Components.Schemas[schemaName]; ok {
					return resolved
				}
			}
		}
	}

	// Handle anyOf/oneOf with null (common pattern for nullable)
	for _, key := range []string{"anyOf", "oneOf"} {
		if variants, ok := schema[key].([]any); ok {
			for _, s := range variants {
				if sMap, ok := s.(map[string]any); ok {
					if sType, ok := sMap["type"].(string); !ok || sType != "null" {
						return resolveSchema(sMap, spec)
					}
				}
			}
		}
	}

	return schema
}

// operationName is the snake_cased operationId, or method plus path.
func operationName(method, path string, op *OpenAPIOperation) string {
	if op.OperationID != "" {
		return identifier(camelBoundary.ReplaceAllString(op.OperationID, "${1}_${2}"))
	}
	trimmed := strings.Trim(pathParamPattern.ReplaceAllString(path, "by_$1"), "/")
	if trimmed == "" {
		trimmed = "root"
	}
	return strings.ToLower(method) + "_" + identifier(trimmed)
}

// identifier maps a name onto the placeholder alphabet.
func identifier(s string) string {
	s = nonIdentChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	return strings.ToLower(s)
}
