package collection

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/raphaelgruber/apiharvest/internal/models"
)

// Files serializes the tree into a Bruno collection: bruno.json at the root, one
// directory per folder with its folder.bru, one .bru file per request and an
// environments/ directory when the tree has an environment. Keys are slash-separated
// paths relative to the collection root.
func Files(t *Tree) (map[string][]byte, error) {
	files := map[string][]byte{}

	root, err := json.MarshalIndent(map[string]any{
		"version": "1",
		"name":    t.Name,
		"type":    "collection",
		"ignore":  []string{"node_modules", ".git"},
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bruno.json: %w", err)
	}
	files["bruno.json"] = append(root, '\n')
	files["collection.bru"] = []byte(CollectionRoot(t))

	if t.Environment != nil {
		name := fileName(t.Environment.Name, "environment")
		files[path.Join("environments", name+".bru")] = []byte(EnvironmentFile(t.Environment))
	}

	dirs := names{}
	for _, f := range t.Folders {
		dir := dirs.unique(fileName(f.Name, "folder"))
		files[path.Join(dir, "folder.bru")] = []byte(FolderFile(f))

		reqs := names{"folder": 1}
		for _, r := range f.Requests {
			files[path.Join(dir, reqs.unique(fileName(r.Name, "request"))+".bru")] = []byte(RequestFile(r))
		}
	}

	rootReqs := names{"collection": 1}
	for _, r := range t.Ungrouped {
		files[rootReqs.unique(fileName(r.Name, "request"))+".bru"] = []byte(RequestFile(r))
	}
	return files, nil
}

// CollectionRoot renders collection.bru.
func CollectionRoot(t *Tree) string {
	var b strings.Builder
	b.WriteString("meta {\n")
	writeKV(&b, "name", t.Name)
	if t.Version != "" {
		writeKV(&b, "version", t.Version)
	}
	b.WriteString("}\n")
	writeDocs(&b, t.Description)
	return b.String()
}

// FolderFile renders folder.bru.
func FolderFile(f *Folder) string {
	var b strings.Builder
	b.WriteString("meta {\n")
	writeKV(&b, "name", f.Name)
	b.WriteString("}\n")
	writeDocs(&b, f.Description)
	return b.String()
}

// EnvironmentFile renders an environments/*.bru file.
func EnvironmentFile(e *Environment) string {
	var b strings.Builder
	b.WriteString("vars {\n")
	for _, v := range e.Vars {
		writeKV(&b, v.Name, v.Value)
	}
	b.WriteString("}\n")
	return b.String()
}

// RequestFile renders one request.
func RequestFile(r *Request) string {
	var b strings.Builder

	b.WriteString("meta {\n")
	writeKV(&b, "name", r.Name)
	writeKV(&b, "type", "http")
	writeKV(&b, "seq", fmt.Sprint(r.Seq))
	b.WriteString("}\n\n")

	body := r.BodyType
	if body == "" {
		body = "none"
	} else if body == "form" {
		body = "formUrlEncoded"
	}
	fmt.Fprintf(&b, "%s {\n", strings.ToLower(r.Method))
	writeKV(&b, "url", r.URL)
	writeKV(&b, "body", body)
	writeKV(&b, "auth", r.Auth)
	b.WriteString("}\n")

	writeBlock(&b, "params:query", r.Query)
	writeBlock(&b, "params:path", r.PathParams)
	writeBlock(&b, "headers", r.Headers)

	if r.BodyType == "json" && r.Body != "" {
		b.WriteString("\nbody:json {\n")
		b.WriteString(indent(r.Body))
		b.WriteString("}\n")
	}
	writeDocs(&b, r.Description)
	return b.String()
}

func writeKV(b *strings.Builder, k, v string) {
	// Values are single-line in .bru dictionaries.
	v = strings.ReplaceAll(v, "\n", " ")
	fmt.Fprintf(b, "  %s: %s\n", k, v)
}

func writeBlock(b *strings.Builder, name string, vars []Var) {
	if len(vars) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s {\n", name)
	for _, v := range vars {
		writeKV(b, v.Name, v.Value)
	}
	b.WriteString("}\n")
}

func writeDocs(b *strings.Builder, docs string) {
	docs = strings.TrimSpace(docs)
	if docs == "" {
		return
	}
	b.WriteString("\ndocs {\n")
	b.WriteString(indent(docs))
	b.WriteString("}\n")
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

var separators = strings.NewReplacer(".", " ", "/", " ", ":", " ")

func fileName(name, fallback string) string {
	s := models.Slugify(separators.Replace(name))
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if s = strings.Trim(s, "-"); s != "" {
		return s
	}
	return fallback
}

// names hands out unique file names within one directory.
type names map[string]int

func (n names) unique(base string) string {
	n[base]++
	if c := n[base]; c > 1 {
		return fmt.Sprintf("%s-%d", base, c)
	}
	return base
}
