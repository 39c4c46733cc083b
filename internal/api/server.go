package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/pkg/logger"
)

// Venue answers connectivity checks for an account's exchange.
type Venue interface {
	Ping(ctx context.Context) error
	GetServerTime(ctx context.Context) (int64, error)
}

// Account is one labelled engine with its venue.
type Account struct {
	Engine *engine.Service
	Venue  Venue
}

// Options configure the HTTP server.
type Options struct {
	Accounts       map[string]Account
	DefaultAccount string // used when a webhook names no account
	Bus            *events.Bus
	Metrics        *monitor.SignalMetrics
	JWTSecret      string
	AllowedIPs     []string
	TrustedProxies []string // only these may set X-Forwarded-For; empty trusts none
	WSOrigins      []string // browser origins allowed on /ws; empty means same host only
	RateLimit      float64  // requests per second per IP; 0 uses the default
	RateBurst      int
	Version        string
}

// Server wires HTTP endpoints around the account engines.
type Server struct {
	Router   *gin.Engine
	opts     Options
	log      *logrus.Entry
	http     *http.Server
	upgrader websocket.Upgrader
}

func NewServer(opts Options, log *logger.Logger) *Server {
	r := gin.New()
	s := &Server{Router: r, opts: opts, log: log.WithComponent("api")}
	s.upgrader = newUpgrader(opts.WSOrigins)

	// client IPs come from the socket unless the peer is a listed proxy
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		s.log.WithError(err).Warn("invalid trusted proxy list, trusting none")
		_ = r.SetTrustedProxies(nil)
	}

	// middleware order matters
	r.Use(gin.RecoveryWithWriter(log.Writer()))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(IPAllowList(opts.AllowedIPs))
	r.Use(RateLimitMiddleware(newIPLimiters(opts.RateLimit, opts.RateBurst)))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/", s.index)
	s.Router.GET("/health", s.health)
	s.Router.GET("/ping", s.ping)
	s.Router.GET("/time", s.serverTime)
	s.Router.GET("/ws", StreamAuthMiddleware(s.opts.JWTSecret), s.websocket)

	s.Router.POST("/message", s.message)
	s.Router.POST("/webhook", s.message)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.opts.JWTSecret))
	{
		api.GET("/accounts", s.listAccounts)
		api.GET("/account", s.getAccount)
		api.GET("/positions/:symbol", s.getPosition)
		api.GET("/state/:family/:symbol", s.getState)
		api.GET("/orders", s.getOrders)
		api.GET("/symbols", s.getSymbolConfigs)
		api.GET("/metrics", s.getMetrics)
	}
}

func (s *Server) accountNames() []string {
	names := make([]string, 0, len(s.opts.Accounts))
	for n := range s.opts.Accounts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", addr).Info("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
