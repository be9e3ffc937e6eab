package db

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
)

var testDB *Client

// TestMain starts one SurrealDB container for the package. In -short mode no
// container is started and integration tests skip themselves.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Ryuk causes trouble in some CI environments.
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil, metrics.NewCollector())
	if err != nil {
		log.Fatalf("connect test database: %v", err)
	}
	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("init schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func requireDB(t *testing.T) context.Context {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))
	return ctx
}

func catalogItem(key, name string, stars int, categories ...string) models.CatalogItem {
	return models.CatalogItem{
		DedupKey:        key,
		Source:          string(models.SourceGitHub),
		Name:            name,
		Description:     name + " service API",
		PopularityScore: stars,
		Categories:      categories,
		OpenAPIPath:     "/data/openapi/x/x.json",
		CollectionPath:  "/data/collections/x",
		DocsPath:        "/data/docs/x",
		DiscoveredAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestSchemaIdempotent(t *testing.T) {
	ctx := requireDB(t)
	require.NoError(t, testDB.InitSchema(ctx))
}

func TestUpsertAndGetItem(t *testing.T) {
	ctx := requireDB(t)

	first := catalogItem("acme/pay/openapi.yaml", "Payments", 120, "Finance")
	saved, err := testDB.UpsertItem(ctx, "item-1", first)
	require.NoError(t, err)
	assert.Equal(t, "item-1", models.MustRecordIDString(saved.ID))
	assert.Equal(t, []string{"Finance"}, saved.Categories)

	second := first
	second.PopularityScore = 150
	second.DiscoveredAt = first.DiscoveredAt.Add(time.Hour)
	_, err = testDB.UpsertItem(ctx, "item-1", second)
	require.NoError(t, err)

	got, err := testDB.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 150, got.PopularityScore)
	assert.True(t, first.DiscoveredAt.Equal(got.DiscoveredAt), "discovered_at is kept from the first write")

	_, err = testDB.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertItem_DuplicateDedupKey(t *testing.T) {
	ctx := requireDB(t)

	_, err := testDB.UpsertItem(ctx, "a", catalogItem("acme/pay/openapi.yaml", "A", 1))
	require.NoError(t, err)
	_, err = testDB.UpsertItem(ctx, "b", catalogItem("acme/pay/openapi.yaml", "B", 1))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestHasItem(t *testing.T) {
	ctx := requireDB(t)

	has, err := testDB.HasItem(ctx, "acme/pay/openapi.yaml")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = testDB.UpsertItem(ctx, "a", catalogItem("acme/pay/openapi.yaml", "A", 1))
	require.NoError(t, err)

	has, err = testDB.HasItem(ctx, "acme/pay/openapi.yaml")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestListItems(t *testing.T) {
	ctx := requireDB(t)

	for id, item := range map[string]models.CatalogItem{
		"pay":   catalogItem("acme/pay/openapi.yaml", "Payments", 500, "Finance"),
		"ship":  catalogItem("acme/ship/openapi.yaml", "Shipping", 50, "Logistics"),
		"ledge": catalogItem("acme/ledger/openapi.yaml", "Ledger", 10, "Finance", "Storage"),
	} {
		_, err := testDB.UpsertItem(ctx, id, item)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter models.ItemFilter
		want   []string
	}{
		{"all by popularity", models.ItemFilter{}, []string{"Payments", "Shipping", "Ledger"}},
		{"category", models.ItemFilter{Category: "Finance"}, []string{"Payments", "Ledger"}},
		{"query", models.ItemFilter{Query: "SHIP"}, []string{"Shipping"}},
		{"limit", models.ItemFilter{Limit: 1}, []string{"Payments"}},
		{"source", models.ItemFilter{Source: "apisguru"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := testDB.ListItems(ctx, tt.filter)
			require.NoError(t, err)
			names := make([]string, 0, len(items))
			for _, it := range items {
				names = append(names, it.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	cats, err := testDB.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CategoryCount{
		{Category: "Finance", Count: 2},
		{Category: "Logistics", Count: 1},
		{Category: "Storage", Count: 1},
	}, cats)
}

func TestRunLifecycle(t *testing.T) {
	ctx := requireDB(t)

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, testDB.CreateRun(ctx, "run1", "github", map[string]any{"max_results": 10}, started))

	run, err := testDB.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, testDB.UpdateRunStatus(ctx, "run1", models.RunStatusRunning))
	require.NoError(t, testDB.UpdateRunProgress(ctx, "run1", 3, 2, 1))

	run, err = testDB.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 2, run.ItemsProcessed)

	run.Status = models.RunStatusCompleted
	run.Failures = []string{"Broken: invalid_format"}
	require.NoError(t, testDB.FinishRun(ctx, *run))

	run, err = testDB.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.ItemsFound)
	assert.Equal(t, 1, run.ItemsFailed)
	assert.Equal(t, []string{"Broken: invalid_format"}, run.Failures)
	require.NotNil(t, run.CompletedAt)

	runs, err := testDB.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = testDB.GetRun(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFailInterruptedRuns(t *testing.T) {
	ctx := requireDB(t)

	require.NoError(t, testDB.CreateRun(ctx, "a", "github", nil, time.Now()))
	require.NoError(t, testDB.CreateRun(ctx, "b", "apisguru", nil, time.Now()))
	require.NoError(t, testDB.UpdateRunStatus(ctx, "b", models.RunStatusRunning))

	n, err := testDB.FailInterruptedRuns(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	run, err := testDB.GetRun(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, "interrupted", *run.Error)
}
