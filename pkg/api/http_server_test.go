package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"listdb/pkg/common"
	"listdb/pkg/core"
	"listdb/pkg/core/memory"
	"listdb/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idField    = common.NewField("id", common.KindLong, common.AsPrimaryKey())
	scoreField = common.NewField("score", common.KindDouble)
	fields     = common.FieldList{idField, scoreField}
)

func newTestServer(t *testing.T, n int, rps float64, burst int) *httptest.Server {
	t.Helper()
	mt, err := memory.NewMemTable("t", fields, 8)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		r, err := common.NewRecordOf(fields, []common.Value{common.NewLong(int64(i)), common.NewDouble(float64(i) / 10)})
		require.NoError(t, err)
		_, err = mt.Insert(context.Background(), r)
		require.NoError(t, err)
	}
	list, err := core.NewListPersistor(mt, common.NewOrder(common.Desc(scoreField)), core.WithLogger(logger.Discard()))
	require.NoError(t, err)
	s := NewServer(list, rps, burst)
	s.log = logger.Discard()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = list.Close()
	})
	return ts
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestReadEndpoints(t *testing.T) {
	ts := newTestServer(t, 100, 0, 0)

	code, body := do(t, http.MethodGet, ts.URL+"/api/size", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 100.0, body["size"])

	code, body = do(t, http.MethodGet, ts.URL+"/api/row?index=0", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "100", body["record"].(map[string]any)["id"])

	code, body = do(t, http.MethodGet, ts.URL+"/api/row?index=42", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "58", body["record"].(map[string]any)["id"])

	code, body = do(t, http.MethodGet, ts.URL+"/api/page?offset=95&limit=10", "")
	require.Equal(t, http.StatusOK, code)
	records := body["records"].([]any)
	require.Len(t, records, 5)
	assert.Equal(t, "1", records[4].(map[string]any)["id"])

	code, body = do(t, http.MethodGet, ts.URL+"/api/first", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "100", body["record"].(map[string]any)["id"])
	code, body = do(t, http.MethodGet, ts.URL+"/api/last", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1", body["record"].(map[string]any)["id"])

	code, _ = do(t, http.MethodGet, ts.URL+"/api/row?index=100", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/api/row?index=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/api/page?offset=0&limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPost, ts.URL+"/api/size", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestWriteEndpoints(t *testing.T) {
	ts := newTestServer(t, 10, 0, 0)

	code, body := do(t, http.MethodPost, ts.URL+"/api/records", `{"id":"11","score":"99"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["affected"])

	_, body = do(t, http.MethodGet, ts.URL+"/api/row?index=0", "")
	assert.Equal(t, "11", body["record"].(map[string]any)["id"])

	code, body = do(t, http.MethodDelete, ts.URL+"/api/records?key=11", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["affected"])
	_, body = do(t, http.MethodGet, ts.URL+"/api/size", "")
	assert.Equal(t, 10.0, body["size"])

	code, _ = do(t, http.MethodPost, ts.URL+"/api/records", `{"id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPost, ts.URL+"/api/records", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodDelete, ts.URL+"/api/records", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodPost, ts.URL+"/api/invalidate", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestScopeEndpoint(t *testing.T) {
	ts := newTestServer(t, 50, 0, 0)

	code, body := do(t, http.MethodPost, ts.URL+"/api/scope", `{"query":"SELECT * FROM t WHERE id BETWEEN 10 AND 19"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 10.0, body["size"])
	assert.NotEmpty(t, body["scope"])

	_, body = do(t, http.MethodGet, ts.URL+"/api/row?index=0", "")
	assert.Equal(t, "19", body["record"].(map[string]any)["id"])

	code, body = do(t, http.MethodPost, ts.URL+"/api/scope", `{"query":"SELECT * FROM t"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 50.0, body["size"])

	code, _ = do(t, http.MethodPost, ts.URL+"/api/scope", `{"query":"DROP TABLE t"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatsAndMetrics(t *testing.T) {
	ts := newTestServer(t, 30, 0, 0)
	for i := 0; i < 30; i += 7 {
		code, _ := do(t, http.MethodGet, ts.URL+"/api/row?index="+strconv.Itoa(i), "")
		require.Equal(t, http.StatusOK, code)
	}

	code, body := do(t, http.MethodGet, ts.URL+"/api/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5.0, body["reads"])
	assert.Equal(t, 30.0, body["size"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	for _, m := range []string{
		"# TYPE listdb_reads_total counter",
		"# TYPE listdb_size gauge",
		"listdb_reads_total 5",
		"listdb_cache_hits_total",
		"listdb_count_queries_total",
		"listdb_cache_entries",
		"listdb_size 30",
		"listdb_rw_ratio",
	} {
		assert.Contains(t, string(b), m)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, 5, 0.001, 2)
	var limited int
	for i := 0; i < 5; i++ {
		code, _ := do(t, http.MethodGet, ts.URL+"/api/size", "")
		if code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 3, limited)
}
