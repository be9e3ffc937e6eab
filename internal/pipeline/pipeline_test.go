package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/apiharvest/internal/artifacts"
	"github.com/raphaelgruber/apiharvest/internal/collection"
	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/render"
	"github.com/raphaelgruber/apiharvest/internal/spec"
)

const validSpec = `openapi: 3.0.0
info:
  title: Orders
  version: "1"
servers:
  - url: https://orders.example.com
paths:
  /orders:
    get:
      tags: [orders]
      summary: List orders
      responses:
        "200":
          description: ok
`

type mapFetcher map[string]string

func (m mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, ok := m[url]
	if !ok {
		return nil, errors.New("dial tcp: connection refused")
	}
	return []byte(body), nil
}

type failingRenderer struct{}

func (failingRenderer) Render(*collection.Tree, render.Options) (*render.Site, error) {
	return nil, errors.New("template exploded")
}

func newPipeline(t *testing.T, cfg Config) (*Pipeline, *artifacts.FS) {
	t.Helper()
	store, err := artifacts.NewFS(t.TempDir())
	require.NoError(t, err)
	cfg.Store = store
	return New(cfg), store
}

func TestProcess_Success(t *testing.T) {
	col := metrics.NewCollector()
	p, store := newPipeline(t, Config{
		Fetcher: mapFetcher{"https://raw.example/orders.yaml": validSpec},
		Metrics: col,
	})

	item := &models.DiscoveredItem{ID: "item-1", Name: "Orders", DownloadURL: "https://raw.example/orders.yaml"}
	res := p.Process(context.Background(), item)

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, "item-1", res.ItemID)
	assert.Equal(t, filepath.Join(store.Root(), "openapi", "item-1", "item-1.json"), res.OpenAPIPath)
	assert.Equal(t, filepath.Join(store.Root(), "collections", "item-1"), res.CollectionPath)
	assert.Equal(t, filepath.Join(store.Root(), "docs", "item-1"), res.DocsPath)
	assert.Equal(t, 1, res.Requests)
	assert.Empty(t, res.ErrorKind)

	data, err := os.ReadFile(res.OpenAPIPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"title": "Orders"`)
	assert.FileExists(t, filepath.Join(res.CollectionPath, "orders", "list-orders.bru"))
	assert.FileExists(t, filepath.Join(res.DocsPath, "index.html"))

	snap := col.Snapshot()
	for _, op := range []string{metrics.OpDownload, metrics.OpNormalize, metrics.OpConvert, metrics.OpRender, metrics.OpStore, metrics.OpProcess} {
		assert.NotNil(t, snap.Operations[op], op)
	}
}

func TestProcess_InlineContent(t *testing.T) {
	p, _ := newPipeline(t, Config{})

	parsed := &models.DiscoveredItem{ID: "a", Name: "A", RawSpec: map[string]any{
		"swagger": "2.0",
		"info":    map[string]any{"title": "A", "version": "1"},
		"paths": map[string]any{"/x": map[string]any{"get": map[string]any{
			"responses": map[string]any{"200": map[string]any{"description": "ok"}},
		}}},
	}}
	res := p.Process(context.Background(), parsed)
	assert.True(t, res.Success, res.ErrorMessage)

	raw := &models.DiscoveredItem{ID: "b", Name: "B", FilePath: "api/openapi.yaml", RawText: []byte(validSpec)}
	res = p.Process(context.Background(), raw)
	assert.True(t, res.Success, res.ErrorMessage)
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		item      *models.DiscoveredItem
		wantKind  Kind
		wantStage Stage
		wantSpec  bool
		wantColl  bool
	}{
		{
			name:      "download fails",
			cfg:       Config{Fetcher: mapFetcher{}},
			item:      &models.DiscoveredItem{ID: "n", DownloadURL: "https://raw.example/missing.json"},
			wantKind:  KindNetwork,
			wantStage: StageAcquire,
		},
		{
			name:      "no content",
			item:      &models.DiscoveredItem{ID: "e"},
			wantKind:  KindNetwork,
			wantStage: StageAcquire,
		},
		{
			name:      "not a spec",
			item:      &models.DiscoveredItem{ID: "f", RawText: []byte(`{"foo": "bar"}`)},
			wantKind:  KindInvalidFormat,
			wantStage: StageAcquire,
		},
		{
			name: "converter panics",
			cfg: Config{Converter: ConverterFunc(func(*spec.Spec) (*collection.Tree, error) {
				panic("nil map")
			})},
			item:      &models.DiscoveredItem{ID: "p", RawText: []byte(validSpec)},
			wantKind:  KindConversion,
			wantStage: StageConvert,
			wantSpec:  true,
		},
		{
			name:      "no operations",
			item:      &models.DiscoveredItem{ID: "o", RawText: []byte(`{"openapi": "3.0.0", "info": {"title": "x", "version": "1"}, "paths": {}}`)},
			wantKind:  KindConversion,
			wantStage: StageConvert,
			wantSpec:  true,
		},
		{
			name:      "render fails",
			cfg:       Config{Renderer: failingRenderer{}},
			item:      &models.DiscoveredItem{ID: "r", RawText: []byte(validSpec)},
			wantKind:  KindRender,
			wantStage: StageRender,
			wantSpec:  true,
			wantColl:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store := newPipeline(t, tt.cfg)

			res := p.Process(context.Background(), tt.item)

			assert.False(t, res.Success)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.wantStage, res.Err.Stage)
			assert.NotEmpty(t, res.ErrorMessage)
			assert.Empty(t, res.DocsPath)

			specPath := store.Location(artifacts.SpecKey(tt.item.ID))
			if tt.wantSpec {
				assert.Equal(t, specPath, res.OpenAPIPath)
				assert.FileExists(t, specPath, "earlier artifacts must be kept")
			} else {
				assert.NoFileExists(t, specPath)
			}
			if tt.wantColl {
				assert.DirExists(t, res.CollectionPath)
			} else {
				assert.Empty(t, res.CollectionPath)
			}
		})
	}
}

func TestProcess_Idempotent(t *testing.T) {
	p, _ := newPipeline(t, Config{})
	item := &models.DiscoveredItem{ID: "same", RawText: []byte(validSpec)}

	first := p.Process(context.Background(), item)
	second := p.Process(context.Background(), item)

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.CollectionPath, second.CollectionPath)
}

func TestProcess_Canceled(t *testing.T) {
	p, _ := newPipeline(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Process(ctx, &models.DiscoveredItem{ID: "c", RawText: []byte(validSpec)})
	assert.False(t, res.Success)
	assert.Equal(t, KindCanceled, res.ErrorKind)
	assert.ErrorIs(t, res.Err, context.Canceled)
}
