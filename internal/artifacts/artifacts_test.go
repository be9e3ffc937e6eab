package artifacts

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "openapi/abc/abc.json", SpecKey("abc"))
	assert.Equal(t, "collections/abc", CollectionPrefix("abc"))
	assert.Equal(t, "docs/abc", DocsPrefix("abc"))
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"a/b.json", "a/b.json", false},
		{"a/./b/../c", "a/c", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../escape", "", true},
		{"a/../../escape", "", true},
		{".", "", true},
		{`a\b`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cleanKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFS_Put(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	loc, err := store.Put(ctx, SpecKey("id1"), []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "openapi", "id1", "id1.json"), loc)

	_, err = store.Put(ctx, SpecKey("id1"), []byte("v2"))
	require.NoError(t, err)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = store.Put(ctx, "../outside", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFS_ReplaceTreeRemovesStaleFiles(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.ReplaceTree(ctx, "collections/x", map[string][]byte{
		"bruno.json":    []byte("{}"),
		"old/stale.bru": []byte("stale"),
	})
	require.NoError(t, err)

	dir, err := store.ReplaceTree(ctx, "collections/x", map[string][]byte{
		"bruno.json":     []byte(`{"v":2}`),
		"pets/list.bru":  []byte("list"),
		"pets/../up.bru": []byte("normalized"),
	})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "old", "stale.bru"))
	assert.FileExists(t, filepath.Join(dir, "pets", "list.bru"))
	assert.FileExists(t, filepath.Join(dir, "up.bru"))

	data, err := os.ReadFile(filepath.Join(dir, "bruno.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	_, err = store.ReplaceTree(ctx, "docs/y", map[string][]byte{"../../escape.html": nil})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// fakeS3 implements the handful of path-style S3 calls the store issues.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	deletes []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != "artifacts" {
		http.Error(w, "no such bucket", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>artifacts</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>`, prefix, len(keys))
		for _, k := range keys {
			fmt.Fprintf(w, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		fmt.Fprint(w, "</ListBucketResult>")

	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		var req struct {
			Objects []struct {
				Key string `xml:"Key"`
			} `xml:"Object"`
		}
		if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, o := range req.Objects {
			delete(f.objects, o.Key)
			f.deletes = append(f.deletes, o.Key)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)

	default:
		http.Error(w, "unsupported", http.StatusNotImplemented)
	}
}

func TestS3_PutAndReplaceTree(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	store, err := NewS3(ctx, S3Config{
		Bucket:       "artifacts",
		Prefix:       "/harvest/",
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	loc, err := store.Put(ctx, SpecKey("id1"), []byte(`{"openapi":"3.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/harvest/openapi/id1/id1.json", loc)
	assert.Equal(t, `{"openapi":"3.0.0"}`, fake.objects["harvest/openapi/id1/id1.json"])

	fake.objects["harvest/docs/id1/old.html"] = "stale"
	fake.objects["harvest/docs/id10/keep.html"] = "other item"

	loc, err = store.ReplaceTree(ctx, DocsPrefix("id1"), map[string][]byte{
		"index.html": []byte("<html></html>"),
		"style.css":  []byte("body{}"),
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/harvest/docs/id1", loc)

	assert.Equal(t, []string{"harvest/docs/id1/old.html"}, fake.deletes)
	assert.Equal(t, "<html></html>", fake.objects["harvest/docs/id1/index.html"])
	assert.Equal(t, "body{}", fake.objects["harvest/docs/id1/style.css"])
	assert.Equal(t, "other item", fake.objects["harvest/docs/id10/keep.html"])
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}
