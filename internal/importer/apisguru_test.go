package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/apiharvest/internal/fetch"
	"github.com/raphaelgruber/apiharvest/internal/models"
)

const listing = `{
  "zeta.io": {
    "preferred": "2.0",
    "versions": {
      "1.0": {"info": {"title": "Zeta old"}, "swaggerUrl": "https://api.apis.guru/v2/specs/zeta.io/1.0/openapi.json"},
      "2.0": {"info": {"title": "Zeta", "description": "Zeta payments"}, "swaggerUrl": "https://api.apis.guru/v2/specs/zeta.io/2.0/openapi.json", "openapiVer": "3.0.0", "link": "https://api.apis.guru/v2/specs/zeta.io/2.0.json"}
    }
  },
  "alpha.com": {
    "preferred": "missing",
    "versions": {
      "v1": {"info": {"title": "Alpha"}, "swaggerYamlUrl": "https://api.apis.guru/v2/specs/alpha.com/v1/openapi.yaml"}
    }
  },
  "broken.org": {
    "preferred": "1",
    "versions": {"1": {"info": {"title": "No URLs"}}}
  }
}`

func serveListing(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listing))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v2/list.json"
}

func TestAPIsGuru_Discover(t *testing.T) {
	src := NewAPIsGuru(fetch.New(), APIsGuruOptions{URL: serveListing(t)})

	items := slices.Collect(src.Discover(context.Background()))
	require.NoError(t, src.Err())
	require.Len(t, items, 2)

	alpha := items[0]
	assert.Equal(t, "Alpha", alpha.Name)
	assert.Equal(t, "v1", alpha.Version)
	assert.Equal(t, "https://api.apis.guru/v2/specs/alpha.com/v1/openapi.yaml", alpha.DownloadURL)
	assert.Equal(t, "apis.guru/alpha.com/v1", alpha.DedupKey())

	zeta := items[1]
	assert.Equal(t, "Zeta", zeta.Name)
	assert.Equal(t, "Zeta payments", zeta.Description)
	assert.Equal(t, "2.0", zeta.Version)
	assert.Equal(t, models.SourceAPIsGuru, zeta.Source)
	assert.Equal(t, "https://api.apis.guru/v2/specs/zeta.io/2.0.json", zeta.SourceURL)
	assert.Nil(t, zeta.RawSpec)
	assert.NotEmpty(t, zeta.ID)
}

func TestAPIsGuru_KnownAndLimit(t *testing.T) {
	src := NewAPIsGuru(fetch.New(), APIsGuruOptions{
		URL:        serveListing(t),
		MaxResults: 1,
		Known: func(ctx context.Context, key string) (bool, error) {
			return key == "apis.guru/alpha.com/v1", nil
		},
	})

	items := slices.Collect(src.Discover(context.Background()))
	require.NoError(t, src.Err())
	require.Len(t, items, 1)
	assert.Equal(t, "Zeta", items[0].Name)
}

func TestAPIsGuru_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := NewAPIsGuru(fetch.New(), APIsGuruOptions{URL: srv.URL})
	items := slices.Collect(src.Discover(context.Background()))

	assert.Empty(t, items)
	assert.ErrorIs(t, src.Err(), fetch.ErrStatus)
}
