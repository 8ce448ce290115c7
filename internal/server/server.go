package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/votefore/livepoll/internal/admin"
	"github.com/votefore/livepoll/internal/api"
	"github.com/votefore/livepoll/internal/event"
	"github.com/votefore/livepoll/internal/marker"
	"github.com/votefore/livepoll/internal/participant"
	"github.com/votefore/livepoll/internal/receipt"
	"github.com/votefore/livepoll/internal/store"
	"github.com/votefore/livepoll/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Store struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Receipts struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Markers struct {
		// Path to the local vote marker file. Empty means in-memory only.
		Path string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		store    store.Store
		markers  marker.Store
	}

	service struct {
		admin       *admin.Service
		participant *participant.Service
		receipts    *receipt.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := s.initMarkers(); err != nil {
		return fmt.Errorf("markers: %w", err)
	}

	s.infra.store = store.NewRedis(store.Config{
		Client: s.infra.redis,
		Prefix: s.c.Redis.Store.Prefix,
	})

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Store.Addrs,
		Password: s.c.Redis.Store.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres.Receipts
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initMarkers() error {
	if s.c.Markers.Path == "" {
		s.infra.markers = marker.NewMemory()
		return nil
	}

	m, err := marker.OpenFile(s.c.Markers.Path)
	if err != nil {
		return err
	}

	s.infra.markers = m
	return nil
}

func (s *Server) initService() {
	telemetry.ObserveEvents(s.eb)

	s.service.receipts = receipt.NewService(receipt.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
	})

	s.service.admin = admin.NewService(admin.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
		Receipts: s.service.receipts,
	})

	s.service.participant = participant.NewService(participant.Config{
		Store:    s.infra.store,
		Markers:  s.infra.markers,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:      e,
		Admin:       s.service.admin,
		Participant: s.service.participant,
		Receipts:    s.service.receipts,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.admin.Shutdown()
	s.eb.Stop()
	s.infra.postgres.Close()

	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
