package collection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/apiharvest/internal/spec"
)

const petstore = `{
  "openapi": "3.0.3",
  "info": {"title": "Pet Store", "version": "1.2.0", "description": "Sample pets API"},
  "servers": [{"url": "https://{region}.pets.example.com/v1/", "variables": {"region": {"default": "eu"}}}],
  "tags": [{"name": "pets", "description": "Everything about pets"}],
  "paths": {
    "/pets": {
      "get": {
        "tags": ["pets"],
        "summary": "List pets",
        "parameters": [{"name": "limit", "in": "query", "schema": {"type": "integer", "default": 20}}],
        "responses": {"200": {"description": "ok"}}
      },
      "post": {
        "tags": ["pets"],
        "operationId": "createPet",
        "requestBody": {
          "content": {
            "application/json": {
              "schema": {"$ref": "#/components/schemas/Pet"}
            }
          }
        },
        "responses": {"201": {"description": "created"}}
      }
    },
    "/pets/{id}": {
      "parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string", "example": "42"}}],
      "get": {"tags": ["pets"], "summary": "Get pet", "responses": {"200": {"description": "ok"}}}
    },
    "/health": {
      "get": {"responses": {"200": {"description": "ok"}}}
    }
  },
  "components": {
    "schemas": {
      "Pet": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "tags": {"type": "array", "items": {"type": "string"}},
          "born": {"type": "string", "format": "date"}
        }
      }
    }
  }
}`

func mustSpec(t *testing.T, raw string) *spec.Spec {
	t.Helper()
	s, err := spec.Normalize([]byte(raw), "")
	require.NoError(t, err)
	return s
}

func TestConvertSpec(t *testing.T) {
	tree, err := ConvertSpec(mustSpec(t, petstore))
	require.NoError(t, err)

	assert.Equal(t, "Pet Store", tree.Name)
	assert.Equal(t, "1.2.0", tree.Version)

	require.NotNil(t, tree.Environment)
	assert.Equal(t, "eu.pets.example.com", tree.Environment.Name)
	assert.Equal(t, []Var{{Name: "baseUrl", Value: "https://eu.pets.example.com/v1"}}, tree.Environment.Vars)

	require.Len(t, tree.Folders, 1)
	pets := tree.Folders[0]
	assert.Equal(t, "pets", pets.Name)
	assert.Equal(t, "Everything about pets", pets.Description)
	require.Len(t, pets.Requests, 3)

	list := pets.Requests[0]
	assert.Equal(t, "List pets", list.Name)
	assert.Equal(t, "GET", list.Method)
	assert.Equal(t, "{{baseUrl}}/pets", list.URL)
	assert.Equal(t, []Var{{Name: "limit", Value: "20"}}, list.Query)

	create := pets.Requests[1]
	assert.Equal(t, "createPet", create.Name)
	assert.Equal(t, "json", create.BodyType)
	assert.Contains(t, create.Body, `"name": "string"`)
	assert.Contains(t, create.Body, `"born": "2024-01-01"`)

	get := pets.Requests[2]
	assert.Equal(t, []Var{{Name: "id", Value: "42"}}, get.PathParams)

	require.Len(t, tree.Ungrouped, 1)
	assert.Equal(t, "GET /health", tree.Ungrouped[0].Name)
	assert.Len(t, tree.Requests(), 4)
}

func TestConvertSpec_MissingTagsAndServers(t *testing.T) {
	raw := `{"openapi": "3.0.0", "info": {"title": "Bare", "version": "0"},
	  "paths": {"/a": {"get": {"responses": {"200": {"description": "ok"}}}},
	            "/b": {"delete": {"summary": "Remove b", "responses": {"204": {"description": "gone"}}}}}}`

	tree, err := ConvertSpec(mustSpec(t, raw))
	require.NoError(t, err)

	assert.Nil(t, tree.Environment)
	assert.Empty(t, tree.Folders)
	assert.Len(t, tree.Ungrouped, 2)
}

func TestConvertSpec_Swagger2(t *testing.T) {
	raw := `{
	  "swagger": "2.0",
	  "info": {"title": "Legacy", "version": "1"},
	  "host": "legacy.example.com",
	  "basePath": "/api",
	  "schemes": ["https"],
	  "paths": {"/users": {"get": {"tags": ["users"], "summary": "List users", "responses": {"200": {"description": "ok"}}}}}
	}`

	tree, err := ConvertSpec(mustSpec(t, raw))
	require.NoError(t, err)

	assert.Equal(t, "Legacy", tree.Name)
	require.NotNil(t, tree.Environment)
	assert.Equal(t, "https://legacy.example.com/api", tree.Environment.Vars[0].Value)
	require.Len(t, tree.Folders, 1)
	assert.Equal(t, "users", tree.Folders[0].Name)
}

func TestConvertSpec_NoOperations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty paths", `{"openapi": "3.0.0", "info": {"title": "Empty", "version": "1"}, "paths": {}}`},
		{"components only", `{"openapi": "3.0.3", "info": {"title": "Empty", "version": "1"}, "components": {"schemas": {"Pet": {"type": "object"}}}}`},
		{"webhooks only", `{"openapi": "3.1.0", "info": {"title": "Empty", "version": "1"}, "webhooks": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := ConvertSpec(mustSpec(t, tt.raw))
			require.NoError(t, err)
			assert.Equal(t, "Empty", tree.Name)
			assert.Empty(t, tree.Requests())

			files, err := Files(tree)
			require.NoError(t, err)
			assert.Contains(t, files, "bruno.json")
			assert.Contains(t, files, "collection.bru")
		})
	}
}

func TestFiles(t *testing.T) {
	tree, err := ConvertSpec(mustSpec(t, petstore))
	require.NoError(t, err)

	files, err := Files(tree)
	require.NoError(t, err)

	for _, name := range []string{
		"bruno.json",
		"collection.bru",
		"environments/eu-pets-example-com.bru",
		"pets/folder.bru",
		"pets/list-pets.bru",
		"pets/createpet.bru",
		"pets/get-pet.bru",
		"get-health.bru",
	} {
		assert.Contains(t, files, name)
	}
	assert.Len(t, files, 8)

	list := string(files["pets/list-pets.bru"])
	assert.Contains(t, list, "meta {\n  name: List pets\n  type: http\n  seq: 2\n}")
	assert.Contains(t, list, "get {\n  url: {{baseUrl}}/pets\n  body: none\n  auth: none\n}")
	assert.Contains(t, list, "params:query {\n  limit: 20\n}")

	create := string(files["pets/createpet.bru"])
	assert.Contains(t, create, "body:json {\n  {\n")
	assert.Contains(t, create, "headers {\n  Content-Type: application/json\n}")

	env := string(files["environments/eu-pets-example-com.bru"])
	assert.Equal(t, "vars {\n  baseUrl: https://eu.pets.example.com/v1\n}\n", env)

	assert.Contains(t, string(files["bruno.json"]), `"name": "Pet Store"`)
}

func TestFiles_UniqueNames(t *testing.T) {
	tree := &Tree{
		Name: "Dupes",
		Ungrouped: []*Request{
			{Name: "Ping", Method: "GET", URL: "{{baseUrl}}/a", Auth: "none"},
			{Name: "ping", Method: "GET", URL: "{{baseUrl}}/b", Auth: "none"},
			{Name: "???", Method: "GET", URL: "{{baseUrl}}/c", Auth: "none"},
		},
	}

	files, err := Files(tree)
	require.NoError(t, err)
	assert.Contains(t, files, "ping.bru")
	assert.Contains(t, files, "ping-2.bru")
	assert.Contains(t, files, "request.bru")
	assert.True(t, strings.Contains(string(files["ping-2.bru"]), "/b"))
}
