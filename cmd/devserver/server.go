package main

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/c0deZ3R0/go-telemetry-kit/analytics"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
)

const maxUploadBytes = 5 << 20

type server struct {
	logger *logging.Logger

	mu           sync.RWMutex
	fixture      *Fixture
	lastModified time.Time
	batches      int
	events       int
}

func newServer(f *Fixture, logger *logging.Logger) *server {
	return &server{
		logger:       logging.OrDefault(logger).WithComponent("devserver"),
		fixture:      f,
		lastModified: time.Now().UTC().Truncate(time.Second),
	}
}

// setFixture swaps the served remote data and bumps Last-Modified.
func (s *server) setFixture(f *Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixture = f
	next := time.Now().UTC().Truncate(time.Second)
	if !next.After(s.lastModified) {
		next = s.lastModified.Add(time.Second)
	}
	s.lastModified = next
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Content-Encoding", "If-Modified-Since"},
		ExposeHeaders: []string{"Last-Modified", analytics.HeaderMaxTotal, analytics.HeaderMaxBatch, analytics.HeaderMinBatchInterval},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "batches": s.batches, "events": s.events})
	})
	r.POST(analytics.UploadPath, s.upload)
	r.GET("/api/remote-data/app/:key/:platform", s.remoteData)
	return r
}

func (s *server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

func (s *server) upload(c *gin.Context) {
	var body io.Reader = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	if c.GetHeader("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gzip body"})
			return
		}
		defer gz.Close()
		body = gz
	}

	var events []json.RawMessage
	if err := json.NewDecoder(body).Decode(&events); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON array of events"})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}

	s.mu.Lock()
	s.batches++
	s.events += len(events)
	tuning := s.fixture.Tuning
	s.mu.Unlock()

	s.logger.Info("batch received",
		slog.String("batch_id", c.GetHeader(analytics.HeaderBatchID)),
		slog.Int("events", len(events)),
		slog.String("package", c.GetHeader(analytics.HeaderPackageName)),
		slog.String("lib_version", c.GetHeader(analytics.HeaderLibVersion)))
	for _, ev := range events {
		s.logger.Debug("event", slog.String("body", string(ev)))
	}

	if tuning.MaxTotalKB > 0 {
		c.Header(analytics.HeaderMaxTotal, strconv.Itoa(tuning.MaxTotalKB))
	}
	if tuning.MaxBatchKB > 0 {
		c.Header(analytics.HeaderMaxBatch, strconv.Itoa(tuning.MaxBatchKB))
	}
	if tuning.MinBatchIntervalMS > 0 {
		c.Header(analytics.HeaderMinBatchInterval, strconv.Itoa(tuning.MinBatchIntervalMS))
	}
	c.Status(http.StatusOK)
}

func (s *server) remoteData(c *gin.Context) {
	s.mu.RLock()
	f := s.fixture
	lastModified := s.lastModified
	s.mu.RUnlock()

	if !f.allowsKey(c.Param("key")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown app key"})
		return
	}
	if ims, err := http.ParseTime(c.GetHeader("If-Modified-Since")); err == nil && !lastModified.After(ims) {
		c.Status(http.StatusNotModified)
		return
	}

	payloads, err := f.payloadsFor(c.Query("language"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Last-Modified", lastModified.Format(http.TimeFormat))
	c.JSON(http.StatusOK, gin.H{"payloads": payloads})
}
