// Package render produces a static documentation site from a request collection.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/raphaelgruber/apiharvest/internal/collection"
	"github.com/raphaelgruber/apiharvest/internal/models"
)

// Themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Options control rendering.
type Options struct {
	Theme     string
	Title     string
	SourceURL string
}

// Site is a rendered static site: relative path to file content.
type Site struct {
	Files map[string][]byte
}

// Renderer renders collection trees to HTML.
type Renderer struct {
	tmpl *template.Template
	md   goldmark.Markdown
}

// New creates a Renderer.
func New() *Renderer {
	r := &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
	r.tmpl = template.Must(template.New("site").Funcs(template.FuncMap{
		"markdown": r.markdown,
		"anchor":   anchor,
		"lower":    strings.ToLower,
		"curl":     curl,
		"baseURL":  baseURL,
		"withBase": withBase,
	}).Parse(siteTemplate))
	return r
}

// Render renders tree into index.html and style.css.
func (r *Renderer) Render(tree *collection.Tree, opts Options) (*Site, error) {
	if tree == nil {
		return nil, fmt.Errorf("render: nil collection")
	}
	if opts.Title == "" {
		opts.Title = tree.Name
	}
	css, ok := themes[opts.Theme]
	if !ok {
		css = themes[ThemeLight]
		opts.Theme = ThemeLight
	}

	data := struct {
		Tree *collection.Tree
		Opts Options
	}{tree, opts}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	return &Site{Files: map[string][]byte{
		"index.html": buf.Bytes(),
		"style.css":  []byte(css),
	}}, nil
}

func (r *Renderer) markdown(text string) template.HTML {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

type opView struct {
	Req  *collection.Request
	Base string
}

func withBase(req *collection.Request, base string) opView {
	return opView{Req: req, Base: base}
}

func anchor(req *collection.Request) string {
	return fmt.Sprintf("op-%d-%s", req.Seq, models.Slugify(req.Name))
}

func baseURL(tree *collection.Tree) string {
	if tree.Environment == nil {
		return ""
	}
	for _, v := range tree.Environment.Vars {
		if v.Name == collection.BaseURLVar {
			return v.Value
		}
	}
	return ""
}

// curl renders a sample curl command for req against base.
func curl(req *collection.Request, base string) string {
	u := req.URL
	if base != "" {
		u = strings.ReplaceAll(u, "{{"+collection.BaseURLVar+"}}", base)
	}
	for _, p := range req.PathParams {
		if p.Value != "" {
			u = strings.ReplaceAll(u, "{"+p.Name+"}", p.Value)
		}
	}
	if len(req.Query) > 0 {
		parts := make([]string, 0, len(req.Query))
		for _, q := range req.Query {
			parts = append(parts, q.Name+"="+q.Value)
		}
		u += "?" + strings.Join(parts, "&")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "curl -X %s '%s'", req.Method, u)
	for _, h := range req.Headers {
		fmt.Fprintf(&b, " \\\n  -H '%s: %s'", h.Name, h.Value)
	}
	if req.BodyType == "json" && req.Body != "" {
		fmt.Fprintf(&b, " \\\n  -d '%s'", strings.ReplaceAll(req.Body, "'", `'\''`))
	}
	return b.String()
}

var themes = map[string]string{
	ThemeLight: baseCSS + `
:root { --bg: #ffffff; --fg: #1f2328; --muted: #59636e; --panel: #f6f8fa; --accent: #0969da; }
`,
	ThemeDark: baseCSS + `
:root { --bg: #0d1117; --fg: #e6edf3; --muted: #9198a1; --panel: #161b22; --accent: #4493f8; }
`,
}

const baseCSS = `* { box-sizing: border-box; }
body { margin: 0; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; line-height: 1.6; background: var(--bg); color: var(--fg); }
header, main, nav { max-width: 960px; margin: 0 auto; padding: 1rem 2rem; }
nav ul { list-style: none; padding-left: 1rem; }
a { color: var(--accent); }
.muted { color: var(--muted); }
.op { border-top: 1px solid var(--panel); padding: 1rem 0; }
.method { font-weight: 600; text-transform: uppercase; margin-right: .5rem; }
pre { background: var(--panel); padding: 1rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { padding: .25rem .75rem; text-align: left; }
`

const siteTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{ .Opts.Title }}</title>
<link rel="stylesheet" href="style.css">
</head>
<body class="theme-{{ .Opts.Theme }}">
<header>
<h1>{{ .Opts.Title }}</h1>
{{- if .Tree.Version }}<p class="muted">Version {{ .Tree.Version }}</p>{{ end }}
{{- if .Opts.SourceURL }}<p class="muted">Source: <a href="{{ .Opts.SourceURL }}">{{ .Opts.SourceURL }}</a></p>{{ end }}
{{- with baseURL .Tree }}<p class="muted">Base URL: <code>{{ . }}</code></p>{{ end }}
{{ markdown .Tree.Description }}
</header>
<nav>
<ul>
{{- range .Tree.Folders }}
<li>{{ .Name }}<ul>{{ range .Requests }}<li><a href="#{{ anchor . }}">{{ .Name }}</a></li>{{ end }}</ul></li>
{{- end }}
{{- range .Tree.Ungrouped }}
<li><a href="#{{ anchor . }}">{{ .Name }}</a></li>
{{- end }}
</ul>
</nav>
<main>
{{- $base := baseURL .Tree }}
{{- range .Tree.Folders }}
<section>
<h2>{{ .Name }}</h2>
{{ markdown .Description }}
{{- range .Requests }}{{ template "op" (withBase . $base) }}{{ end }}
</section>
{{- end }}
{{- if .Tree.Ungrouped }}
<section>
<h2>Other</h2>
{{- range .Tree.Ungrouped }}{{ template "op" (withBase . $base) }}{{ end }}
</section>
{{- end }}
</main>
</body>
</html>
{{ define "op" -}}
<div class="op" id="{{ anchor .Req }}">
<h3><span class="method">{{ lower .Req.Method }}</span><code>{{ .Req.Path }}</code></h3>
<p><strong>{{ .Req.Name }}</strong></p>
{{ markdown .Req.Description }}
{{- if or .Req.PathParams .Req.Query .Req.Headers }}
<table>
<tr><th>Parameter</th><th>In</th><th>Example</th></tr>
{{- range .Req.PathParams }}<tr><td>{{ .Name }}</td><td>path</td><td>{{ .Value }}</td></tr>{{ end }}
{{- range .Req.Query }}<tr><td>{{ .Name }}</td><td>query</td><td>{{ .Value }}</td></tr>{{ end }}
{{- range .Req.Headers }}<tr><td>{{ .Name }}</td><td>header</td><td>{{ .Value }}</td></tr>{{ end }}
</table>
{{- end }}
<pre><code>{{ curl .Req .Base }}</code></pre>
</div>
{{- end }}`
