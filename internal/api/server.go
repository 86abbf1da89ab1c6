package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appconfig "liqflow/config"
	"liqflow/internal/aggregate"
	"liqflow/internal/models"
	"liqflow/internal/store"
	"liqflow/logger"
)

const noDataMessage = "No liquidation data available yet"

// RollupProvider exposes the most recent aggregation result.
type RollupProvider interface {
	LatestRollup() ([]models.SymbolRollup, bool)
}

// Server exposes the liquidation window and rollup over HTTP.
type Server struct {
	cfg        *appconfig.Config
	store      *store.WindowStore
	rollups    RollupProvider
	log        *logger.Log
	httpServer *http.Server
}

// NewServer creates the HTTP server for the liquidation API.
func NewServer(cfg *appconfig.Config, windowStore *store.WindowStore, rollups RollupProvider) *Server {
	return &Server{
		cfg:     cfg,
		store:   windowStore,
		rollups: rollups,
		log:     logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:    s.cfg.API.Address,
		Handler: router,
	}

	log := s.log.WithComponent("api_server")
	log.WithFields(logger.Fields{"address": s.cfg.API.Address}).Info("starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		log.Info("api server stopped")
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	}
}

func (s *Server) buildRouter() *gin.Engine {
	if appconfig.IsProductionLike(appconfig.AppEnvironment()) {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if s.cfg.API.RequestsPerSecond > 0 {
		router.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(s.cfg.API.RequestsPerSecond), s.rateBurst())))
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/liquidations", s.handleLiquidations)
	router.GET("/liquidations/window", s.handleWindow)
	router.GET("/liquidations/rollup", s.handleRollup)

	return router
}

func (s *Server) rateBurst() int {
	if s.cfg.API.Burst > 0 {
		return s.cfg.API.Burst
	}
	return 1
}

func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"events": s.store.Len(),
	})
}

// handleLiquidations serves the consolidated view of the current window,
// limited to the configured number of top entries by notional value.
func (s *Server) handleLiquidations(c *gin.Context) {
	entries := aggregate.Consolidate(s.store.Snapshot())
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": noDataMessage,
		})
		return
	}
	c.JSON(http.StatusOK, aggregate.TopN(entries, s.topN()))
}

func (s *Server) topN() int {
	if s.cfg.API.TopN > 0 {
		return s.cfg.API.TopN
	}
	return appconfig.DefaultTopN
}

// handleWindow serves the raw retained window in receipt order.
func (s *Server) handleWindow(c *gin.Context) {
	events := s.store.Snapshot()
	if events == nil {
		events = []models.LiquidationEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// handleRollup serves the latest per symbol rollup. The optional sort_by and
// order query parameters re-sort a copy of the cached result.
func (s *Server) handleRollup(c *gin.Context) {
	rollups, ok := s.rollups.LatestRollup()
	if !ok || len(rollups) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": noDataMessage,
		})
		return
	}

	sortBy := c.Query("sort_by")
	order := c.Query("order")
	if sortBy != "" || order != "" {
		aggregate.SortRollups(rollups, sortBy, order)
	}
	c.JSON(http.StatusOK, rollups)
}
