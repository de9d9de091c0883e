package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"screener-engine/src/analysis/core"
	"screener-engine/src/helpers"
	"screener-engine/src/ingest"
	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/refresh"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Store  interfaces.IDatabase
	Ingest *ingest.Pipeline

	// Workers is optional; /api/passes answers 404 without it.
	Workers *refresh.Pool

	engine *gin.Engine
	http   *http.Server
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, store interfaces.IDatabase, pipeline *ingest.Pipeline, logger *logger.Logger) *APIServer {
	// Set Gin mode
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Ingest: pipeline,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.getHealth)
	api.GET("/screener", s.listRows)
	api.GET("/screener/fields", s.listFields)
	api.GET("/screener/:symbol", s.getRow)
	api.GET("/staleness", s.getStaleness)
	api.GET("/passes", s.getPasses)
	api.GET("/bars/:symbol", s.getBars)

	// Ingestion hooks
	api.POST("/bars", s.postBars)
	api.POST("/instruments", s.postInstruments)
	api.DELETE("/instruments/:symbol", s.deleteInstrument)
}

// Handler exposes the router, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Stop is called. It returns nil on a clean shutdown.
func (s *APIServer) Start() error {
	if s.Logger != nil {
		s.Logger.Info("Starting server on %s", s.http.Addr)
	}

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	if err := s.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}

	summary, err := s.Store.StalenessSummary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"staleness": summary,
		"time":      time.Now().UTC(),
	})
}

// -----------------------------------------------------------------------------

// listRows serves ?fields=a,b&sort=-field&limit=n&symbols=A,B.
func (s *APIServer) listRows(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := s.Store.ListRows(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	rows = q.apply(rows)
	out := make([]gin.H, len(rows))
	for i := range rows {
		out[i] = q.project(&rows[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(out),
		"rows":  out,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) listFields(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"schema_version": models.ScreenerSchemaVersion,
		"fields":         models.FieldNames(models.ScreenerFields),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getRow(c *gin.Context) {
	row, err := s.Store.GetRow(c.Request.Context(), strings.ToUpper(c.Param("symbol")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getStaleness(c *gin.Context) {
	ctx := c.Request.Context()
	if symbol := c.Query("symbol"); symbol != "" {
		entry, err := s.Store.GetStaleness(ctx, strings.ToUpper(symbol))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
		return
	}

	summary, err := s.Store.StalenessSummary(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// -----------------------------------------------------------------------------

// getPasses serves the most recent refresh passes of all workers.
func (s *APIServer) getPasses(c *gin.Context) {
	if s.Workers == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no refresh workers in this process"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	passes := s.Workers.RecentPasses(limit)
	c.JSON(http.StatusOK, gin.H{
		"count":  len(passes),
		"passes": passes,
	})
}

// -----------------------------------------------------------------------------

// getBars serves ?resolution=minute&from=RFC3339&to=RFC3339&window=5m. The
// default range is the last day; window resamples the stored bars.
func (s *APIServer) getBars(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	res := models.ResolutionMinute
	if v := c.Query("resolution"); v != "" {
		r, err := models.ParseResolution(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res = r
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		if v := c.Query(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be RFC3339", p.name)})
				return
			}
			*p.dst = t
		}
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is before from"})
		return
	}

	var window time.Duration
	if v := c.Query("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < res.Duration() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a duration no finer than the resolution"})
			return
		}
		window = d
	}

	bars, err := s.Ingest.Bars.RangeBars(c.Request.Context(), symbol, res, from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	if window > 0 {
		bars = core.ResampleBars(bars, window, coarsestWithin(window))
	}
	if bars == nil {
		bars = []models.MBar{}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"count":  len(bars),
		"bars":   bars,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) postBars(c *gin.Context) {
	var bars []models.MBar
	if err := c.ShouldBindJSON(&bars); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.Ingest.Ingest(c.Request.Context(), bars)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// -----------------------------------------------------------------------------

func (s *APIServer) postInstruments(c *gin.Context) {
	var instruments []models.MInstrument
	if err := c.ShouldBindJSON(&instruments); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Ingest.RegisterInstruments(c.Request.Context(), instruments); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": len(instruments)})
}

// -----------------------------------------------------------------------------

func (s *APIServer) deleteInstrument(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := s.Ingest.Deactivate(c.Request.Context(), symbol); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------

// fail maps store errors to status codes.
func (s *APIServer) fail(c *gin.Context, err error) {
	var verr *helpers.ValidationError
	switch {
	case errors.Is(err, helpers.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if s.Logger != nil {
			s.Logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
