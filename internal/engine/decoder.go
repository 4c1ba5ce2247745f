package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"sort"
	"strconv"
)

// Payload is a decoded submission: field name to scalar text value.
type Payload map[string]string

// Value returns the value for key when it is present and non-empty.
func (p Payload) Value(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Keys returns the field names in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodePayload extracts submission fields from a request. It tries, in
// order: the body as a JSON object, the already parsed form fields, and the
// body as a query string. The first source that yields at least one field
// wins. A body that matches none of them produces an empty payload.
func DecodePayload(body []byte, form url.Values) Payload {
	if p := decodeJSONObject(body); len(p) > 0 {
		return p
	}
	if p := fromValues(form); len(p) > 0 {
		return p
	}
	// ParseQuery returns what it could parse alongside the first error.
	q, _ := url.ParseQuery(string(bytes.TrimSpace(body)))
	if p := fromValues(q); len(p) > 0 {
		return p
	}
	return Payload{}
}

func decodeJSONObject(body []byte) Payload {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil
	}
	// trailing data means the body was not a single JSON document
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}

	p := make(Payload, len(obj))
	for k, v := range obj {
		if s, ok := scalarText(v); ok {
			p[k] = s
		}
	}
	return p
}

// scalarText renders a decoded JSON value as field text. Null becomes the
// empty string and nested values keep their compact JSON form.
func scalarText(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// fromValues flattens multi-valued form fields, keeping the last value.
func fromValues(values url.Values) Payload {
	if len(values) == 0 {
		return nil
	}
	p := make(Payload, len(values))
	for k, vs := range values {
		if len(vs) == 0 {
			continue
		}
		p[k] = vs[len(vs)-1]
	}
	return p
}
