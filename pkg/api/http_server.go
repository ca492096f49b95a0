package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"listdb/pkg/common"
	"listdb/pkg/core"
	"listdb/pkg/criteria"
	"listdb/pkg/logger"
	"listdb/pkg/sql"
	"listdb/pkg/storage"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxPageLimit = 1000

type Server struct {
	list     *core.ListPersistor
	limiter  *rate.Limiter
	log      *logrus.Entry
	srv      *http.Server
	registry *prometheus.Registry
}

// NewServer serves list. A positive rps enables token-bucket rate limiting with
// the given burst.
func NewServer(list *core.ListPersistor, rps float64, burst int) *Server {
	s := &Server{list: list, log: logger.Component("api"), registry: newRegistry(list)}
	if rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
	s.srv = &http.Server{ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/size", s.handleSize)
	mux.HandleFunc("/api/row", s.handleRow)
	mux.HandleFunc("/api/page", s.handlePage)
	mux.HandleFunc("/api/first", s.handleFirst)
	mux.HandleFunc("/api/last", s.handleLast)
	mux.HandleFunc("/api/records", s.handleRecords)
	mux.HandleFunc("/api/scope", s.handleScope)
	mux.HandleFunc("/api/invalidate", s.handleInvalidate)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", metricsHandler(s.registry))
	return cors(s.limit(mux))
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// Start serves on addr until Shutdown. A Shutdown that comes first makes Start
// return immediately.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	s.srv.Handler = s.Handler()
	s.log.Infof("Server listening on %s...", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	n, err := s.list.Size(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"size": n})
}

func (s *Server) handleRow(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	index, err := strconv.ParseInt(r.URL.Query().Get("index"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}

	start := time.Now()
	rec, err := s.list.Record(r.Context(), index)
	duration := time.Since(start)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"index":      index,
		"record":     rec,
		"latency_ns": duration.Nanoseconds(),
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	offset, err := strconv.ParseInt(q.Get("offset"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid offset", http.StatusBadRequest)
		return
	}
	limit := int64(100)
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.ParseInt(v, 10, 64); err != nil || limit <= 0 || limit > maxPageLimit {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}
	rows, err := s.list.Page(r.Context(), offset, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"offset": offset, "records": rows})
}

func (s *Server) handleFirst(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	rec, err := s.list.FirstRecord(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"record": rec})
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodGet) {
		return
	}
	rec, err := s.list.LastRecord(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"record": rec})
}

// handleRecords saves (POST, body alias -> text) or deletes (DELETE, ?key=v1,v2
// in primary-key order) one row.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var (
		rec *common.Record
		err error
	)
	switch r.Method {
	case http.MethodPost:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}
		rec, err = common.RecordFromMap(s.list.FieldList(), body)
	case http.MethodDelete:
		rec, err = s.keyRecord(r.URL.Query().Get("key"))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	var n int64
	if r.Method == http.MethodPost {
		n, err = s.list.Save(r.Context(), rec)
	} else {
		n, err = s.list.Delete(r.Context(), rec)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"affected": n})
}

func (s *Server) keyRecord(key string) (*common.Record, error) {
	fields := s.list.FieldList()
	keys := fields.PrimaryKeys()
	parts := strings.Split(key, ",")
	if key == "" || len(parts) != len(keys) {
		return nil, errors.Wrapf(errBadRequest, "key needs %d comma separated values", len(keys))
	}
	rec := common.NewRecord(fields)
	for i, f := range keys {
		v, err := common.ParseValue(f.Kind, parts[i])
		if err != nil {
			return nil, err
		}
		if err := rec.Set(f.Alias, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// handleScope takes {"query": "SELECT * FROM t WHERE ..."}; a query without a
// WHERE clause clears the scope.
func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}
	stmt, err := sql.Parse(req.Query, s.list.FieldList())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.list.SetGlobalCriteria(stmt.Criteria)
	n, err := s.list.Size(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	scope := ""
	if stmt.Criteria != nil {
		scope = stmt.Criteria.String()
	}
	writeJSON(w, map[string]any{"scope": scope, "size": n})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !method(w, r, http.MethodPost) {
		return
	}
	s.list.ClearCache()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.list.Stats())
}

var errBadRequest = errors.New("bad request")

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrIndexOutOfRange), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrBackend):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, sql.ErrSyntax),
		errors.Is(err, criteria.ErrInvalidCondition),
		errors.Is(err, common.ErrParse),
		errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrFieldNotFound),
		errors.Is(err, common.ErrKindMismatch):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func method(w http.ResponseWriter, r *http.Request, want string) bool {
	if r.Method != want {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
