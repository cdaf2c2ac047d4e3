// Package api exposes the backtest service over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bandbot/internal/engine"
	"bandbot/internal/market"
	"bandbot/internal/report"
	"bandbot/internal/session"
	"bandbot/internal/store"
	"bandbot/internal/strategy"
)

// Server wires HTTP routes to the session runner and the store.
type Server struct {
	runner *session.Runner
	pool   *session.Pool
	store  store.Store
	log    *zap.Logger
}

func NewServer(runner *session.Runner, pool *session.Pool, st store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{runner: runner, pool: pool, store: st, log: logger}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/strategies", s.handleListStrategies)
		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:id", s.handleGetSession)
		api.POST("/sessions/:id/start", s.handleStartSession)
		api.POST("/sessions/:id/klines", s.handleUploadKlines)
		api.GET("/sessions/:id/trades", s.handleListTrades)
		api.GET("/sessions/:id/trades.csv", s.handleTradesCSV)
		api.GET("/sessions/:id/events", s.handleListEvents)
		api.GET("/sessions/:id/equity", s.handleListEquity)
		api.GET("/sessions/:id/metrics", s.handleGetMetrics)
		api.GET("/sessions/:id/report", s.handleReport)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategy.Names()})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req session.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.runner.Create(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		var cfgErr *engine.ConfigurationError
		if errors.As(err, &cfgErr) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleStartSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if sess.Status != store.StatusCreated {
		c.JSON(http.StatusConflict, gin.H{"error": "session is " + sess.Status + ", not created"})
		return
	}
	if err := s.pool.Submit(id); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "queued"})
}

// handleUploadKlines accepts the candle series a session will replay.
// Candles must be strictly increasing in time; the whole upload is rejected
// otherwise.
func (s *Server) handleUploadKlines(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var body struct {
		Candles []market.Candle `json:"candles" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := market.ValidateSeries(body.Candles); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.InsertKlines(c.Request.Context(), id, body.Candles); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": len(body.Candles)})
}

func (s *Server) handleListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := s.store.ListSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleListTrades(c *gin.Context) {
	trades, err := s.store.ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleTradesCSV(c *gin.Context) {
	id := c.Param("id")
	trades, err := s.store.ListTrades(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="trades-`+id+`.csv"`)
	if err := report.WriteTradesCSV(c.Writer, trades); err != nil {
		s.log.Error("csv export failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (s *Server) handleListEvents(c *gin.Context) {
	events, err := s.store.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleListEquity(c *gin.Context) {
	points, err := s.store.ListEquity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (s *Server) handleGetMetrics(c *gin.Context) {
	m, err := s.store.GetMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleReport(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	m, err := s.store.GetMetrics(c.Request.Context(), id)
	if err != nil {
		m = nil
	}
	c.String(http.StatusOK, report.Summary(sess, m))
}
