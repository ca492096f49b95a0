package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"listdb/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/listdb.yaml")
	require.Error(t, err)

	// run from an empty directory so no config file is picked up
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9090", cfg.Server.TCPAddr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 10000, cfg.Cache.Size)
	assert.Equal(t, 0.2, cfg.Cache.Factor)
	assert.Equal(t, 100, cfg.Cache.PageSize)

	fields, err := cfg.Schema.FieldList()
	require.NoError(t, err)
	assert.Len(t, fields.PrimaryKeys(), 1)
	order, err := cfg.Schema.OrderOf(fields)
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.False(t, order[0].Ascending)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
server:
  addr: ":9000"
  tcp_addr: ":9001"
  rate_limit: 20
storage:
  driver: memory
  table: people
schema:
  fields:
    - {name: id, kind: long, primary_key: true}
    - {name: last_name, alias: last, kind: string, length: 40}
    - {name: born, kind: date}
  order: ["last", "born desc"]
cache:
  size: 500
  factor: 0.5
  page_size: 25
  refresh_delay: 2s
  verify_anchors: true
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 20.0, cfg.Server.RateLimit)
	assert.Equal(t, 50, cfg.Server.RateBurst, "defaulted")
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 500, cfg.Cache.Size)
	assert.True(t, cfg.Cache.VerifyAnchors)
	assert.Equal(t, "debug", cfg.Log.Level)

	d, err := cfg.Cache.RefreshInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	fields, err := cfg.Schema.FieldList()
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "last", fields[1].Alias)
	assert.Equal(t, common.KindDate, fields[2].Kind)

	order, err := cfg.Schema.OrderOf(fields)
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "last_name", order[0].Field.Name)
	assert.True(t, order[0].Ascending)
	assert.False(t, order[1].Ascending)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.toml")
	content := `
[server]
addr = ":7000"

[storage]
driver = "mysql"
dsn = "user:pw@tcp(localhost:3306)/db"

[cache]
size = 2000
scope = "SELECT * FROM records WHERE score > 10"

[[schema.fields]]
name = "id"
kind = "integer"
primary_key = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "mysql", cfg.Storage.Driver)
	assert.Equal(t, 2000, cfg.Cache.Size)
	assert.Equal(t, 0.2, cfg.Cache.Factor)
	assert.Contains(t, cfg.Cache.Scope, "score > 10")

	fields, err := cfg.Schema.FieldList()
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, common.KindInteger, fields[0].Kind)
}

func TestBadInput(t *testing.T) {
	dir := t.TempDir()
	ini := filepath.Join(dir, "x.ini")
	require.NoError(t, os.WriteFile(ini, []byte("a=b"), 0644))
	_, err := Load(ini)
	assert.Error(t, err)

	_, err = CacheConfig{RefreshDelay: "soon"}.RefreshInterval()
	assert.Error(t, err)

	_, err = SchemaConfig{Fields: []FieldConfig{{Name: "x", Kind: "blob"}}}.FieldList()
	assert.Error(t, err)

	fields, err := SchemaConfig{Fields: []FieldConfig{{Name: "x", Kind: "long"}}}.FieldList()
	require.NoError(t, err)
	_, err = SchemaConfig{Order: []string{"x sideways"}}.OrderOf(fields)
	assert.Error(t, err)
	_, err = SchemaConfig{Order: []string{"missing"}}.OrderOf(fields)
	assert.Error(t, err)
}
