// Package spec validates raw OpenAPI documents and coerces them to canonical JSON.
package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidFormat is returned for content that is neither JSON nor YAML, or that
// parses but carries no openapi/swagger version field.
var ErrInvalidFormat = errors.New("invalid spec format")

// Source formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Spec is a validated specification document.
type Spec struct {
	// Version is the value of the openapi or swagger field, e.g. "3.0.3" or "2.0".
	Version string
	// Format is the format the document was parsed from.
	Format string
	// Document is the JSON-compatible decoded document.
	Document map[string]any
	// JSON is the canonical encoding: sorted keys, two-space indent.
	JSON []byte
}

// IsSwagger reports whether the document is a Swagger 2.x document.
func (s *Spec) IsSwagger() bool {
	_, ok := s.Document["swagger"]
	return ok
}

// Normalize parses raw as JSON, then as YAML, and validates the version field.
// hintExt is an optional file extension (".yaml", "yml", ".json"); a YAML hint
// skips the JSON attempt.
func Normalize(raw []byte, hintExt string) (*Spec, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidFormat)
	}

	hint := strings.ToLower(strings.TrimPrefix(hintExt, "."))

	var (
		doc    map[string]any
		format string
	)
	if hint != "yaml" && hint != "yml" {
		if err := json.Unmarshal(raw, &doc); err == nil && doc != nil {
			format = FormatJSON
		}
	}
	if format == "" {
		var err error
		doc, err = decodeYAML(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: not JSON or YAML: %v", ErrInvalidFormat, err)
		}
		format = FormatYAML
	}

	version := versionOf(doc)
	if version == "" {
		return nil, fmt.Errorf("%w: missing openapi or swagger version field", ErrInvalidFormat)
	}

	canonical, err := Canonical(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	return &Spec{Version: version, Format: format, Document: doc, JSON: canonical}, nil
}

// FromDocument validates an already decoded JSON document.
func FromDocument(doc map[string]any) (*Spec, error) {
	version := versionOf(doc)
	if version == "" {
		return nil, fmt.Errorf("%w: missing openapi or swagger version field", ErrInvalidFormat)
	}
	canonical, err := Canonical(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return &Spec{Version: version, Format: FormatJSON, Document: doc, JSON: canonical}, nil
}

// Canonical encodes v as indented JSON. encoding/json sorts map keys, so equal
// documents always encode to equal bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func versionOf(doc map[string]any) string {
	for _, field := range []string{"openapi", "swagger"} {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			// swagger: 2.0 unquoted in YAML
			return fmt.Sprintf("%.1f", t)
		}
	}
	return ""
}

func decodeYAML(raw []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	out, err := toJSONValue(v)
	if err != nil {
		return nil, err
	}
	doc, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, want mapping", v)
	}
	return doc, nil
}

// toJSONValue converts yaml.v3 output into the types encoding/json produces:
// string-keyed maps, []any, float64 numbers.
func toJSONValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			c, err := toJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			c, err := toJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			c, err := toJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	default:
		// string, bool, float64, nil; timestamps become RFC 3339 strings via json.
		if tm, ok := v.(interface{ MarshalText() ([]byte, error) }); ok {
			b, err := tm.MarshalText()
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}
		return v, nil
	}
}
