package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/apiharvest/internal/collection"
)

func sampleTree() *collection.Tree {
	return &collection.Tree{
		Name:        "Pet Store",
		Version:     "1.0.0",
		Description: "A **sample** API.\n\n<script>alert(1)</script>",
		Environment: &collection.Environment{Name: "prod", Vars: []collection.Var{{Name: "baseUrl", Value: "https://api.example.com"}}},
		Folders: []*collection.Folder{{
			Name: "pets",
			Requests: []*collection.Request{{
				Name:       "Get pet",
				Method:     "GET",
				Path:       "/pets/{id}",
				URL:        "{{baseUrl}}/pets/{id}",
				Seq:        1,
				PathParams: []collection.Var{{Name: "id", Value: "42"}},
				Query:      []collection.Var{{Name: "expand", Value: "owner"}},
			}},
		}},
		Ungrouped: []*collection.Request{{
			Name:     "Create thing",
			Method:   "POST",
			Path:     "/things",
			URL:      "{{baseUrl}}/things",
			Seq:      2,
			BodyType: "json",
			Body:     `{"name": "it's"}`,
			Headers:  []collection.Var{{Name: "Content-Type", Value: "application/json"}},
		}},
	}
}

func TestRender(t *testing.T) {
	site, err := New().Render(sampleTree(), Options{Theme: ThemeDark, SourceURL: "https://github.com/acme/pets"})
	require.NoError(t, err)
	require.Len(t, site.Files, 2)

	html := string(site.Files["index.html"])
	assert.Contains(t, html, "<title>Pet Store</title>")
	assert.Contains(t, html, `class="theme-dark"`)
	assert.Contains(t, html, "<strong>sample</strong>")
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, `href="https://github.com/acme/pets"`)
	assert.Contains(t, html, `id="op-1-get-pet"`)
	assert.Contains(t, html, "https://api.example.com/pets/42?expand=owner")
	assert.Contains(t, html, "<h2>Other</h2>")

	assert.Contains(t, string(site.Files["style.css"]), "#0d1117")
}

func TestRender_Defaults(t *testing.T) {
	tree := sampleTree()
	tree.Environment = nil

	site, err := New().Render(tree, Options{Theme: "neon", Title: "Custom"})
	require.NoError(t, err)

	html := string(site.Files["index.html"])
	assert.Contains(t, html, "<title>Custom</title>")
	assert.Contains(t, html, `class="theme-light"`)
	assert.NotContains(t, html, "Base URL")
	assert.Contains(t, html, "{{baseUrl}}/things")
}

func TestRender_NilTree(t *testing.T) {
	_, err := New().Render(nil, Options{})
	assert.Error(t, err)
}

func TestCurl(t *testing.T) {
	req := sampleTree().Ungrouped[0]
	got := curl(req, "https://api.example.com")
	assert.Equal(t, "curl -X POST 'https://api.example.com/things' \\\n  -H 'Content-Type: application/json' \\\n  -d '{\"name\": \"it'\\''s\"}'", got)
}
