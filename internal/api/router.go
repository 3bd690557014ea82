package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/arena"
	"treasuryarena/internal/engine"
	"treasuryarena/internal/events"
	"treasuryarena/internal/logger"
	"treasuryarena/internal/models"
)

// TradingEngine is the part of the engine exposed over HTTP.
type TradingEngine interface {
	Submit(ctx context.Context, a *agent.Agent, intent models.TradeIntent) (engine.Receipt, error)
	Trade(ctx context.Context, id string) (*models.Trade, error)
	Status(ctx context.Context) (engine.Status, error)
	EmergencyStop(ctx context.Context, reason string)
	EmergencyResume(ctx context.Context, operator string)
}

type Arena interface {
	Agent(id string) (*agent.Agent, error)
	Stats() arena.Stats
	AllAgents() []agent.View
}

type Deps struct {
	Engine  TradingEngine
	Arena   Arena
	Hub     *events.Hub
	// BaseCtx bounds websocket streams; they end when it is cancelled.
	BaseCtx context.Context
	Log     *logger.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	if d.BaseCtx == nil {
		d.BaseCtx = context.Background()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.Log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	(&TradeHandler{Engine: d.Engine, Arena: d.Arena}).Register(r)
	(&ArenaHandler{Arena: d.Arena}).Register(r)
	(&AuditHandler{Hub: d.Hub, BaseCtx: d.BaseCtx}).Register(r)
	return r
}

// Server runs the router until Shutdown.
type Server struct {
	http *http.Server
	log  *logger.Logger
}

func NewServer(addr string, handler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background. Listen errors are logged.
func (s *Server) Start() {
	s.log.WithComponent("api").WithField("addr", s.http.Addr).Info("HTTP сервер запущен.")
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithComponent("api").WithError(err).Error("HTTP сервер остановлен с ошибкой.")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
