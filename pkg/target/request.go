package target

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/url"
	"reflect"
	"sort"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/params"
	"github.com/iSoldLeo/DynamicAPI/pkg/value"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded; charset=utf-8"
)

// NewRequest materialises the target as an *http.Request bound to ctx.
func (t *Target) NewRequest(ctx context.Context) (*http.Request, error) {
	u, err := t.URL()
	if err != nil {
		return nil, err
	}

	var (
		body        []byte
		contentType string
		query       = url.Values{}
	)

	placeBody := func(fields map[string]any, enc ParameterEncoding) error {
		switch {
		case enc == JSONEncoding:
			data, err := json.Marshal(fields)
			if err != nil {
				return apierr.Mapping("failed to encode request body", err)
			}
			body, contentType = data, ContentTypeJSON
		case enc.InBody(t.Method):
			body, contentType = []byte(EncodeQuery(fields).Encode()), ContentTypeForm
		default:
			addQuery(query, fields)
		}
		return nil
	}

	switch t.Task.Kind {
	case TaskPlain:
	case TaskParameters:
		if err := placeBody(t.Task.Parameters, t.Task.Encoding); err != nil {
			return nil, err
		}
	case TaskComposite:
		if t.Task.Encoding.InBody(t.Method) {
			if err := placeBody(t.Task.Parameters, t.Task.Encoding); err != nil {
				return nil, err
			}
			addQuery(query, t.Task.URLParameters)
		} else {
			// Both parts end up in the query string; URL parameters win.
			merged := maps.Clone(t.Task.Parameters)
			if merged == nil {
				merged = map[string]any{}
			}
			maps.Copy(merged, t.Task.URLParameters)
			addQuery(query, merged)
		}
	case TaskRaw:
		body, contentType = t.Task.Data, ContentTypeJSON
	case TaskCompositeData:
		body, contentType = t.Task.Data, ContentTypeJSON
		addQuery(query, t.Task.URLParameters)
	case TaskDownload:
		addQuery(query, t.Task.Parameters)
	}

	if len(query) > 0 {
		u.RawQuery = joinQuery(u.RawQuery, query.Encode())
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, t.Method, u.String(), reader)
	if err != nil {
		return nil, apierr.Network("failed to create request", err)
	}
	keys := make([]string, 0, len(t.Headers))
	for k := range t.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Header.Set(k, t.Headers[k])
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// EncodeQuery flattens parameters into url.Values. Arrays use "key[]" and
// nested objects use "key[sub]".
func EncodeQuery(fields map[string]any) url.Values {
	q := url.Values{}
	addQuery(q, fields)
	return q
}

func addQuery(q url.Values, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addComponent(q, k, fields[k])
	}
}

func addComponent(q url.Values, key string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			addComponent(q, key+"["+k+"]", t[k])
		}
		return
	case []any:
		for _, item := range t {
			addComponent(q, key+"[]", item)
		}
		return
	case value.Value:
		addComponent(q, key, t.Interface())
		return
	case []byte:
		q.Add(key, string(t))
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			addComponent(q, key+"[]", rv.Index(i).Interface())
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			q.Add(key, params.Text(v))
			return
		}
		keys := make([]string, 0, rv.Len())
		for _, mk := range rv.MapKeys() {
			keys = append(keys, mk.String())
		}
		sort.Strings(keys)
		for _, k := range keys {
			addComponent(q, key+"["+k+"]", rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
		}
	default:
		q.Add(key, params.Text(v))
	}
}
