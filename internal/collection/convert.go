// Package collection converts OpenAPI documents into request collections and
// serializes them as Bruno .bru files.
package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/raphaelgruber/apiharvest/internal/spec"
)

// BaseURLVar is the environment variable request URLs are relative to.
const BaseURLVar = "baseUrl"

// Tree is a request collection.
type Tree struct {
	Name        string
	Version     string
	Description string
	// Environment is nil when the document declares no servers.
	Environment *Environment
	Folders     []*Folder
	// Ungrouped holds requests of untagged operations.
	Ungrouped []*Request
}

// Requests returns every request in the tree, folders first.
func (t *Tree) Requests() []*Request {
	var out []*Request
	for _, f := range t.Folders {
		out = append(out, f.Requests...)
	}
	return append(out, t.Ungrouped...)
}

// Folder groups the requests of one tag.
type Folder struct {
	Name        string
	Description string
	Requests    []*Request
}

// Environment is a named set of variables.
type Environment struct {
	Name string
	Vars []Var
}

// Var is a name/value pair.
type Var struct {
	Name  string
	Value string
}

// Request is one HTTP operation.
type Request struct {
	Name        string
	Method      string
	Path        string
	URL         string
	Seq         int
	Description string
	Query       []Var
	PathParams  []Var
	Headers     []Var
	// BodyType is "json", "form" or "" for requests without a body.
	BodyType string
	Body     string
	Auth     string
}

// ConvertSpec loads a normalized spec with kin-openapi and converts it.
// Swagger 2 documents are upgraded to OpenAPI 3 first.
func ConvertSpec(s *spec.Spec) (*Tree, error) {
	doc, err := Load(s)
	if err != nil {
		return nil, err
	}
	return Convert(doc)
}

// Load parses a normalized spec into an OpenAPI 3 model.
func Load(s *spec.Spec) (*openapi3.T, error) {
	if s.IsSwagger() {
		var doc2 openapi2.T
		if err := json.Unmarshal(s.JSON, &doc2); err != nil {
			return nil, fmt.Errorf("parse swagger document: %w", err)
		}
		doc, err := openapi2conv.ToV3(&doc2)
		if err != nil {
			return nil, fmt.Errorf("upgrade swagger document: %w", err)
		}
		return doc, nil
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(s.JSON)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	return doc, nil
}

// Convert builds a collection tree from doc. Missing tags put operations into the
// ungrouped bucket; missing servers leave the tree without an environment. A
// document without paths (components or webhooks only) yields an empty tree.
func Convert(doc *openapi3.T) (*Tree, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}

	tree := &Tree{Name: "Untitled API"}
	if doc.Info != nil {
		if doc.Info.Title != "" {
			tree.Name = doc.Info.Title
		}
		tree.Version = doc.Info.Version
		tree.Description = doc.Info.Description
	}
	tree.Environment = environment(doc.Servers)

	folders := map[string]*Folder{}
	tagDocs := map[string]string{}
	for _, tag := range doc.Tags {
		if tag != nil {
			tagDocs[tag.Name] = tag.Description
		}
	}

	var paths map[string]*openapi3.PathItem
	if doc.Paths != nil {
		paths = doc.Paths.Map()
	}
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	seq := 0
	for _, p := range keys {
		item := paths[p]
		if item == nil {
			continue
		}
		for _, method := range sortedMethods(item) {
			op := item.GetOperation(method)
			seq++
			req := request(p, method, item, op, seq)

			if len(op.Tags) == 0 || op.Tags[0] == "" {
				tree.Ungrouped = append(tree.Ungrouped, req)
				continue
			}
			tag := op.Tags[0]
			f, ok := folders[tag]
			if !ok {
				f = &Folder{Name: tag, Description: tagDocs[tag]}
				folders[tag] = f
				tree.Folders = append(tree.Folders, f)
			}
			f.Requests = append(f.Requests, req)
		}
	}

	sort.SliceStable(tree.Folders, func(i, j int) bool { return tree.Folders[i].Name < tree.Folders[j].Name })
	return tree, nil
}

var methodOrder = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "TRACE", "CONNECT"}

func sortedMethods(item *openapi3.PathItem) []string {
	ops := item.Operations()
	out := make([]string, 0, len(ops))
	for _, m := range methodOrder {
		if ops[m] != nil {
			out = append(out, m)
		}
	}
	return out
}

func environment(servers openapi3.Servers) *Environment {
	for _, s := range servers {
		if s == nil || s.URL == "" {
			continue
		}
		base := s.URL
		for name, v := range s.Variables {
			if v != nil {
				base = strings.ReplaceAll(base, "{"+name+"}", v.Default)
			}
		}
		base = strings.TrimSuffix(base, "/")

		name := "default"
		if u, err := url.Parse(base); err == nil && u.Host != "" {
			name = u.Host
		}
		return &Environment{Name: name, Vars: []Var{{Name: BaseURLVar, Value: base}}}
	}
	return nil
}

func request(path, method string, item *openapi3.PathItem, op *openapi3.Operation, seq int) *Request {
	req := &Request{
		Method:      method,
		Path:        path,
		URL:         "{{" + BaseURLVar + "}}" + path,
		Seq:         seq,
		Description: op.Description,
		Auth:        "none",
	}
	switch {
	case op.Summary != "":
		req.Name = op.Summary
	case op.OperationID != "":
		req.Name = op.OperationID
	default:
		req.Name = method + " " + path
	}
	if req.Description == "" {
		req.Description = op.Summary
	}

	params := append(openapi3.Parameters{}, item.Parameters...)
	params = append(params, op.Parameters...)
	for _, ref := range params {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		v := Var{Name: p.Name, Value: paramExample(p)}
		switch p.In {
		case openapi3.ParameterInQuery:
			req.Query = append(req.Query, v)
		case openapi3.ParameterInPath:
			req.PathParams = append(req.PathParams, v)
		case openapi3.ParameterInHeader:
			req.Headers = append(req.Headers, v)
		}
	}

	if op.Security != nil && len(*op.Security) > 0 {
		req.Auth = "inherit"
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		content := op.RequestBody.Value.Content
		if mt := content.Get("application/json"); mt != nil {
			req.BodyType = "json"
			req.Body = jsonExample(mt)
			req.Headers = append(req.Headers, Var{Name: "Content-Type", Value: "application/json"})
		} else if mt := content.Get("application/x-www-form-urlencoded"); mt != nil {
			req.BodyType = "form"
		}
	}
	return req
}

func paramExample(p *openapi3.Parameter) string {
	if p.Example != nil {
		return fmt.Sprint(p.Example)
	}
	if p.Schema != nil && p.Schema.Value != nil {
		s := p.Schema.Value
		if s.Example != nil {
			return fmt.Sprint(s.Example)
		}
		if s.Default != nil {
			return fmt.Sprint(s.Default)
		}
		if len(s.Enum) > 0 {
			return fmt.Sprint(s.Enum[0])
		}
	}
	return ""
}

func jsonExample(mt *openapi3.MediaType) string {
	var v any
	switch {
	case mt.Example != nil:
		v = mt.Example
	case mt.Schema != nil:
		v = sample(mt.Schema, 0)
	default:
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

const maxSampleDepth = 6

// sample builds an example value from a schema, stopping at maxSampleDepth to
// survive recursive schemas.
func sample(ref *openapi3.SchemaRef, depth int) any {
	if ref == nil || ref.Value == nil || depth > maxSampleDepth {
		return nil
	}
	s := ref.Value
	if s.Example != nil {
		return s.Example
	}
	if s.Default != nil {
		return s.Default
	}
	if len(s.Enum) > 0 {
		return s.Enum[0]
	}
	if len(s.AllOf) > 0 {
		merged := map[string]any{}
		for _, sub := range s.AllOf {
			if m, ok := sample(sub, depth+1).(map[string]any); ok {
				for k, v := range m {
					merged[k] = v
				}
			}
		}
		return merged
	}
	for _, alt := range [][]*openapi3.SchemaRef{s.OneOf, s.AnyOf} {
		if len(alt) > 0 {
			return sample(alt[0], depth+1)
		}
	}

	switch {
	case s.Type.Is(openapi3.TypeObject) || (s.Type == nil && len(s.Properties) > 0):
		obj := map[string]any{}
		for name, prop := range s.Properties {
			obj[name] = sample(prop, depth+1)
		}
		return obj
	case s.Type.Is(openapi3.TypeArray):
		if item := sample(s.Items, depth+1); item != nil {
			return []any{item}
		}
		return []any{}
	case s.Type.Is(openapi3.TypeString):
		switch s.Format {
		case "date-time":
			return "2024-01-01T00:00:00Z"
		case "date":
			return "2024-01-01"
		case "email":
			return "user@example.com"
		case "uuid":
			return "00000000-0000-0000-0000-000000000000"
		}
		return "string"
	case s.Type.Is(openapi3.TypeInteger):
		return 0
	case s.Type.Is(openapi3.TypeNumber):
		return 0.0
	case s.Type.Is(openapi3.TypeBoolean):
		return false
	}
	return nil
}
