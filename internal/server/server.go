package server

import (
	"time"

	"backend-pawwalk/internal/auth"
	"backend-pawwalk/internal/config"
	"backend-pawwalk/internal/db"
	"backend-pawwalk/internal/stream"
	"backend-pawwalk/internal/tracking"
	"backend-pawwalk/internal/walk"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Redis    *redis.Client
	Stream   *stream.Hub
	Relay    *stream.Relay
	Tracks   *tracking.TrackStore
	Tracking *tracking.Service
	Walks    *walk.Service
}

// NewServer wires the service against a live pool. With a nil pool the
// process still serves /health and every data path answers unavailable.
func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client) *Server {
	if pg == nil {
		return New(cfg, nil, redisClient)
	}
	return New(cfg, pg, redisClient)
}

func New(cfg config.Config, q db.Querier, redisClient *redis.Client) *Server {
	if q == nil {
		q = db.Unavailable()
	}
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	walkRepo := walk.NewRepository(q)
	samples := tracking.NewRepository(q)
	retention := cfg.TrackRetention
	if retention <= 0 {
		retention = tracking.DefaultTrackRetention
	}
	tracks := tracking.NewTrackStore(retention)

	hub := stream.NewHub(walkRepo, samples, stream.Config{
		BroadcastInterval: cfg.BroadcastInterval,
		HistorySize:       cfg.HistorySeedSize,
		LookupTimeout:     cfg.PersistTimeout,
	})
	var relay *stream.Relay
	if redisClient != nil {
		relay = stream.NewRelay(redisClient, hub)
	}

	trackingSvc := tracking.NewService(walkRepo, samples, tracks, hub, tracking.Config{
		PersistTimeout:     cfg.PersistTimeout,
		TrackRetention:     cfg.TrackRetention,
		GeofenceRadiusM:    cfg.GeofenceRadiusM,
		OutlierThresholdM:  cfg.OutlierThresholdM,
		SummarySampleLimit: cfg.SummarySampleLimit,
		IngestRatePerSec:   cfg.IngestRatePerSec,
		IngestBurst:        cfg.IngestBurst,
	})

	s := &Server{
		App:      app,
		Cfg:      cfg,
		Redis:    redisClient,
		Stream:   hub,
		Relay:    relay,
		Tracks:   tracks,
		Tracking: trackingSvc,
		Walks:    walk.NewService(q, hub, trackingSvc),
	}

	registerRoutes(s)
	return s
}

// Services returns the background work the supervisor should keep running.
func (s *Server) Services() []suture.Service {
	services := []suture.Service{
		tracking.NewSweeper(s.sweepInterval(), s.Tracking.Sweepables()...),
	}
	if s.Relay != nil {
		services = append(services, s.Relay)
	}
	return services
}

func (s *Server) sweepInterval() time.Duration {
	if s.Cfg.SweepInterval > 0 {
		return s.Cfg.SweepInterval
	}
	return 5 * time.Minute
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	walks := s.App.Group("/walks")
	walk.RegisterRoutes(walks, s.Walks, jwtMiddleware)
	tracking.RegisterRoutes(walks, s.Tracking, jwtMiddleware)

	secret := s.Cfg.JWTSecret
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, func(token string) (string, error) {
		return auth.ParseToken(secret, token)
	})
}
