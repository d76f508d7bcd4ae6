// Package server provides the HTTP admin API of the ingestion daemon.
//
// The API is read-only. It reports health, pipeline counters, sink
// statistics, dead-lettered records, lake partitions and Prometheus metrics.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/telemetry/config"
	"github.com/xtxerr/telemetry/internal/deadletter"
	"github.com/xtxerr/telemetry/internal/ingestion"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/quality"
	"github.com/xtxerr/telemetry/internal/storage/dualsink"
	"github.com/xtxerr/telemetry/internal/storage/parquet"
	"github.com/xtxerr/telemetry/internal/storage/query"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// =============================================================================
// Dependencies
// =============================================================================

// Store is the part of the time store the API reads.
type Store interface {
	Name() string
	Health(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	DeviceCounts(ctx context.Context) (map[string]int64, error)
	SchemaVersionCounts(ctx context.Context) (map[telemetry.SchemaVersion]int64, error)
}

// CounterSource provides pipeline counters.
type CounterSource interface {
	Counters() ingestion.Counters
}

// DeadLetters lists dead-lettered records.
type DeadLetters interface {
	ListAll() ([]telemetry.DeadLetterEntry, error)
	Stats() deadletter.Stats
}

// Lake lists lake partitions.
type Lake interface {
	Base() string
	Partitions() ([]parquet.PartitionInfo, error)
	Stats() parquet.LakeStats
}

// LakeQuery runs aggregate queries over the lake.
type LakeQuery interface {
	DeviceSummaries(ctx context.Context, from, to time.Time) ([]query.DeviceSummary, error)
	DailyCounts(ctx context.Context) ([]query.DailyCount, error)
}

// RulesSource exposes the active quality rules.
type RulesSource interface {
	Rules() quality.Rules
}

// SinkStats reports dual-sink outcomes.
type SinkStats interface {
	Stats() dualsink.Stats
}

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "127.0.0.1:8080").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	// HealthTimeout bounds the store health check.
	HealthTimeout time.Duration

	// Components. Nil components are reported as unavailable.
	Store       Store
	Counters    CounterSource
	DeadLetters DeadLetters
	Lake        Lake
	LakeQuery   LakeQuery
	Sinks       SinkStats
	Rules       RulesSource

	// Gatherer serves /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// =============================================================================
// Server
// =============================================================================

// Server is the admin HTTP server.
type Server struct {
	cfg    *Config
	engine *gin.Engine

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// New creates a new server.
func New(cfg *Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultAdminListen
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = config.DefaultHealthTimeout
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{cfg: cfg}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/store/summary", s.handleStoreSummary)
	r.GET("/deadletters", s.handleDeadLetters)
	r.GET("/quality/rules", s.handleRules)
	r.GET("/lake/partitions", s.handlePartitions)
	r.GET("/lake/days", s.handleLakeDays)
	r.GET("/lake/devices", s.handleLakeDevices)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))

	return r
}

// Run listens on cfg.Listen and serves until Shutdown is called.
func (s *Server) Run() error {
	log := logging.Component("server")

	var ln net.Listener
	var err error

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err = tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", ln.Addr().String())
	} else {
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("listening without TLS", "address", ln.Addr().String())
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.listener = ln
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, or "" before Run.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	logging.Component("server").Info("shutting down")
	return srv.Shutdown(ctx)
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	if s.cfg.Store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.HealthTimeout)
	defer cancel()

	if err := s.cfg.Store.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"store":  s.cfg.Store.Name(),
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": s.cfg.Store.Name()})
}

func (s *Server) handleStats(c *gin.Context) {
	out := gin.H{}

	if s.cfg.Counters != nil {
		out["pipeline"] = s.cfg.Counters.Counters()
	}
	if s.cfg.Sinks != nil {
		st := s.cfg.Sinks.Stats()
		out["sinks"] = gin.H{
			"batches":        st.Batches,
			"db_failures":    st.DBFailures,
			"lake_failures":  st.LakeFailures,
			"partial_writes": st.PartialWrites,
		}
	}
	if s.cfg.DeadLetters != nil {
		st := s.cfg.DeadLetters.Stats()
		out["dead_letter"] = gin.H{
			"entries_written": st.EntriesWritten,
			"bytes_written":   st.BytesWritten,
			"syncs":           st.SyncsPerformed,
			"errors":          st.Errors,
			"corrupt_lines":   st.CorruptLines,
		}
	}
	if s.cfg.Lake != nil {
		st := s.cfg.Lake.Stats()
		out["lake"] = gin.H{
			"files_written": st.FilesWritten,
			"rows_written":  st.RowsWritten,
			"errors":        st.Errors,
		}
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStoreSummary(c *gin.Context) {
	if s.cfg.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "time store not configured"})
		return
	}
	ctx := c.Request.Context()

	count, err := s.cfg.Store.Count(ctx)
	if err != nil {
		s.fail(c, "count events", err)
		return
	}
	devices, err := s.cfg.Store.DeviceCounts(ctx)
	if err != nil {
		s.fail(c, "count devices", err)
		return
	}
	versions, err := s.cfg.Store.SchemaVersionCounts(ctx)
	if err != nil {
		s.fail(c, "count schema versions", err)
		return
	}

	byVersion := make(map[string]int64, len(versions))
	for v, n := range versions {
		byVersion[v.String()] = n
	}

	c.JSON(http.StatusOK, gin.H{
		"store":           s.cfg.Store.Name(),
		"events":          count,
		"devices":         devices,
		"schema_versions": byVersion,
	})
}

// handleDeadLetters returns dead-lettered records, oldest first.
// ?limit=N keeps only the newest N.
func (s *Server) handleDeadLetters(c *gin.Context) {
	if s.cfg.DeadLetters == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dead letter sink not configured"})
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := s.cfg.DeadLetters.ListAll()
	if err != nil {
		s.fail(c, "list dead letters", err)
		return
	}

	total := len(entries)
	if limit > 0 && limit < total {
		entries = entries[total-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   total,
		"entries": entries,
	})
}

// handleRules reports the rules events and batches are validated against.
func (s *Server) handleRules(c *gin.Context) {
	if s.cfg.Rules == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "validator not configured"})
		return
	}

	r := s.cfg.Rules.Rules()
	ranges := make(map[string]quality.Range, len(r.Ranges))
	for m, rng := range r.Ranges {
		ranges[string(m)] = rng
	}

	c.JSON(http.StatusOK, gin.H{
		"ranges":           ranges,
		"latitude":         r.Latitude,
		"longitude":        r.Longitude,
		"future_tolerance": r.FutureTolerance.String(),
		"max_age":          r.MaxAge.String(),
		"fail_error_rate":  r.FailErrorRate,
		"warn_error_rate":  r.WarnErrorRate,
	})
}

func (s *Server) handlePartitions(c *gin.Context) {
	if s.cfg.Lake == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lake not configured"})
		return
	}

	parts, err := s.cfg.Lake.Partitions()
	if err != nil {
		s.fail(c, "list partitions", err)
		return
	}

	type partition struct {
		Date string `json:"date"`
		parquet.PartitionInfo
	}
	out := make([]partition, len(parts))
	var rows, bytes int64
	for i, p := range parts {
		out[i] = partition{Date: p.Date.String(), PartitionInfo: p}
		rows += p.Rows
		bytes += p.Bytes
	}

	c.JSON(http.StatusOK, gin.H{
		"base":       s.cfg.Lake.Base(),
		"partitions": out,
		"rows":       rows,
		"bytes":      bytes,
	})
}

func (s *Server) handleLakeDays(c *gin.Context) {
	if s.cfg.LakeQuery == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lake query not configured"})
		return
	}

	days, err := s.cfg.LakeQuery.DailyCounts(c.Request.Context())
	if err != nil {
		s.fail(c, "query daily counts", err)
		return
	}
	if days == nil {
		days = []query.DailyCount{}
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

// handleLakeDevices summarizes lake events per device.
// Optional ?from= and ?to= are RFC3339 bounds of the half-open window.
func (s *Server) handleLakeDevices(c *gin.Context) {
	if s.cfg.LakeQuery == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lake query not configured"})
		return
	}

	var from, to time.Time
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC3339"})
			return
		}
		*p.dst = t.UTC()
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be < to"})
		return
	}

	devices, err := s.cfg.LakeQuery.DeviceSummaries(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, "query devices", err)
		return
	}
	if devices == nil {
		devices = []query.DeviceSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	logging.Component("server").Error("request failed", "path", c.FullPath(), "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}
