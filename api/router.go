// Package api contains all endpoints available
package api

import (
	"bitwise74/clip-ingest/aws"
	"bitwise74/clip-ingest/cloudflare"
	"bitwise74/clip-ingest/config"
	"bitwise74/clip-ingest/db"
	"bitwise74/clip-ingest/middleware"
	"bitwise74/clip-ingest/service"
	"bitwise74/clip-ingest/storage"
	"bitwise74/clip-ingest/validators"
	"context"
	"fmt"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

// Multipart framing on top of the payload itself
const multipartOverhead = 1 << 20

type API struct {
	Config     *config.Config
	Router     *gin.Engine
	Videos     db.VideoRepository
	Store      storage.Store
	Ingestor   *service.Ingestor
	Dispatcher service.ClipDispatcher

	policy validators.Policy
	cache  *persist.MemoryStore
	sweep  *cron.Cron
	stop   context.CancelFunc
}

// Deps are the collaborators the API is built on. NewRouter derives them
// from the config, tests pass their own
type Deps struct {
	Videos     db.VideoRepository
	Store      storage.Store
	Dispatcher service.ClipDispatcher
}

// NewRouter sets up logging and every backend named in the config, then
// builds the router on top of them
func NewRouter(ctx context.Context, cfg *config.Config) (*API, error) {
	makeLogger(cfg.App.LogLevel)

	videos, err := db.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata store, %w", err)
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage, %w", err)
	}

	var dispatcher service.ClipDispatcher
	if cfg.Handoff.RedisAddr != "" {
		dispatcher = service.NewAsynqDispatcher(cfg.Handoff.RedisAddr)
	} else {
		q := service.NewLocalDispatcher(cfg.Handoff.Workers, cfg.Handoff.QueueSize, nil)
		q.StartWorkerPool()
		dispatcher = q
	}

	a := New(cfg, Deps{
		Videos:     videos,
		Store:      store,
		Dispatcher: dispatcher,
	})

	if cfg.Storage.SweepSchedule != "" {
		sweeper := service.NewOrphanSweeper(store, videos, cfg.Storage.SweepGrace)

		a.sweep, err = sweeper.Schedule(cfg.Storage.SweepSchedule)
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "s3":
		c, err := aws.NewS3(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(c), nil
	case "r2":
		c, err := cloudflare.NewR2(ctx, cfg.Cloudflare)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(c), nil
	}

	return storage.NewLocalStore(afero.NewOsFs(), cfg.Storage.LocalDir), nil
}

// New wires the routes and middleware around already built dependencies
func New(cfg *config.Config, d Deps) *API {
	policy := validators.Policy{
		AllowedTypes: cfg.Upload.AllowedTypes,
		MaxSize:      cfg.Upload.MaxSize,
	}

	ctx, stop := context.WithCancel(context.Background())

	a := &API{
		Config:     cfg,
		Videos:     d.Videos,
		Store:      d.Store,
		Dispatcher: d.Dispatcher,
		Ingestor:   service.NewIngestor(d.Store, d.Videos, policy),
		policy:     policy,
		cache:      persist.NewMemoryStore(time.Minute),
		stop:       stop,
	}

	router := gin.New()
	a.Router = router

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     cfg.Host.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "TurnstileToken", "Range"},
			ExposeHeaders:    []string{"Content-Length", "Content-Range", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true
	router.MaxMultipartMemory = 5 << 20

	turnstile := middleware.NewTurnstileMiddleware(cfg.Cloudflare.Turnstile)
	rateLimiter := middleware.RateLimiterMiddleware(ctx, middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.Security.RateLimit,
		Burst:             cfg.Security.RateLimit * 2,
	})

	main := router.Group("/api", rateLimiter)
	{
		// HEAD /api/heartbeat 			-> Used to check if the server is alive
		main.HEAD("/heartbeat", a.Heartbeat)
	}

	videos := main.Group("/videos")
	{
		// POST /api/videos/upload		-> Stores an uploaded video and returns its ID
		videos.POST("/upload", turnstile, middleware.BodySizeLimiter(cfg.Upload.MaxSize+multipartOverhead), a.VideoUpload)

		// GET /api/videos/:id			-> Returns a video record
		videos.GET("/:id", a.cacheFor(60), a.VideoFetch)

		// GET /api/videos/:id/stream		-> Serves the video payload
		videos.GET("/:id/stream", a.VideoServe)

		// POST /api/videos/:id/clips		-> Hands a video over to clip generation
		videos.POST("/:id/clips", a.VideoClips)
	}

	return a
}

// Close stops background work. In-flight hand offs are drained first
func (a *API) Close() error {
	a.stop()

	if a.sweep != nil {
		<-a.sweep.Stop().Done()
	}

	if a.Dispatcher != nil {
		return a.Dispatcher.Close()
	}

	return nil
}

func makeLogger(level string) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.DisableStacktrace = true

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)
}

func (a *API) cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(a.cache, time.Second*time.Duration(sec))
}
