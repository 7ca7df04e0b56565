package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudscope/internal/codec"
	"cloudscope/internal/config"
	"cloudscope/internal/domain"
	"cloudscope/internal/storage"
)

const bundleYAML = `
assets:
  - asset_id: aws-compute-web
    asset_type: compute
    provider: aws
    name: web
    tags:
      env: prod
  - asset_id: aws-database-main
    asset_type: database
    provider: aws
    name: main
relationships:
  - relationship_id: rel-000000000001
    source_id: aws-compute-web
    target_id: aws-database-main
    relationship_type: depends_on
    confidence: 0.9
`

func setup(t *testing.T, backend string) (configPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfg := "storage:\n  type: " + backend + "\n  path: " + filepath.Join(dir, "data") + "\n" +
		"  sqlite:\n    path: " + filepath.Join(dir, "cloudscope.db") + "\n" +
		"logging:\n  level: error\n"
	configPath = filepath.Join(dir, "cloudscope.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle.yaml"), []byte(bundleYAML), 0644))
	return configPath, dir
}

func TestImportExportStats(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			configPath, dir := setup(t, backend)
			var stdout, stderr bytes.Buffer

			err := run(ctx, []string{"-config", configPath, "import", filepath.Join(dir, "bundle.yaml")}, &stdout, &stderr)
			require.NoError(t, err, stderr.String())

			stdout.Reset()
			err = run(ctx, []string{"-config", configPath, "export", "-format", "json"}, &stdout, &stderr)
			require.NoError(t, err, stderr.String())

			bundle, err := codec.NewJSONCodec().Parse(&stdout)
			require.NoError(t, err)
			assert.Len(t, bundle.Assets, 2)
			require.Len(t, bundle.Relationships, 1)
			assert.Equal(t, "rel-000000000001", bundle.Relationships[0].ID)

			stdout.Reset()
			err = run(ctx, []string{"-config", configPath, "stats"}, &stdout, &stderr)
			require.NoError(t, err, stderr.String())
			out := stdout.String()
			assert.Contains(t, out, "backend: "+backend)
			assert.Contains(t, out, "total: 2")
			assert.Contains(t, out, "edge_count: 1")
		})
	}
}

func TestImportSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	configPath, dir := setup(t, "file")
	var stdout, stderr bytes.Buffer
	args := []string{"-config", configPath, "import", filepath.Join(dir, "bundle.yaml")}

	require.NoError(t, run(ctx, args, &stdout, &stderr))
	require.NoError(t, run(ctx, args, &stdout, &stderr))

	stdout.Reset()
	require.NoError(t, run(ctx, []string{"-config", configPath, "export", "-format", "yaml"}, &stdout, &stderr))
	bundle, err := codec.NewYAMLCodec().Parse(&stdout)
	require.NoError(t, err)
	assert.Len(t, bundle.Assets, 2)
	assert.Len(t, bundle.Relationships, 1)
}

func TestUsageErrors(t *testing.T) {
	ctx := context.Background()
	configPath, _ := setup(t, "file")
	var stdout, stderr bytes.Buffer

	err := run(ctx, []string{"-config", configPath}, &stdout, &stderr)
	assert.ErrorContains(t, err, "missing command")
	assert.True(t, strings.HasPrefix(stderr.String(), "usage:"))

	err = run(ctx, []string{"-config", configPath, "frobnicate"}, &stdout, &stderr)
	assert.ErrorContains(t, err, "unknown command")

	err = run(ctx, []string{"-config", configPath, "import"}, &stdout, &stderr)
	assert.ErrorContains(t, err, "exactly one FILE")

	err = run(ctx, []string{"-config", configPath, "export", "-format", "csv"}, &stdout, &stderr)
	assert.ErrorContains(t, err, "unknown bundle format")
}

func TestImportUpsert(t *testing.T) {
	ctx := context.Background()
	configPath, dir := setup(t, "sqlite")
	bundlePath := filepath.Join(dir, "bundle.yaml")
	var stdout, stderr bytes.Buffer

	require.NoError(t, run(ctx, []string{"-config", configPath, "import", bundlePath}, &stdout, &stderr))

	cfg, _, err := config.LoadFromPath(configPath)
	require.NoError(t, err)
	stores, err := storage.Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer stores.Close()

	renamed := strings.Replace(bundleYAML, "name: web", "name: web-renamed", 1)
	require.NoError(t, os.WriteFile(bundlePath, []byte(renamed), 0644))
	require.NoError(t, importFile(ctx, stores, codec.NewYAMLCodec(), bundlePath, true, slog.Default()))

	web, err := stores.Assets.FindByID(ctx, "aws-compute-web")
	require.NoError(t, err)
	require.NotNil(t, web)
	assert.Equal(t, "web-renamed", web.Name)

	n, err := stores.Relationships.Count(ctx, domain.RelationshipFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
