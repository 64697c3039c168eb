package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	chatapi "akashshare/server/chat/api"
	chatservice "akashshare/server/chat/service"
	"akashshare/server/common/infra/cache"
	"akashshare/server/common/infra/db"
	"akashshare/server/common/infra/object"
	commonlog "akashshare/server/common/log"
	"akashshare/server/common/middleware"
	"akashshare/server/common/transport/httpresp"
	fileapi "akashshare/server/fileshare/api"
	"akashshare/server/fileshare/blob"
	"akashshare/server/fileshare/repository"
	fileservice "akashshare/server/fileshare/service"
)

const limiterPruneInterval = 5 * time.Minute

type Server struct {
	HTTPServer *http.Server
	Files      *fileservice.FileService
	Chat       *chatservice.Manager

	records   repository.Store
	events    fileservice.Publisher
	closers   []func()
	stop      context.CancelFunc
	workers   sync.WaitGroup
	startedAt time.Time
}

// NewServer wires every backend named in cfg, restores persisted records and
// starts the background workers. ListenAndServe is left to the caller.
func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := &Server{startedAt: time.Now()}
	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	blobs, err := s.buildBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	records, err := s.buildRecordStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.records = records

	events, err := buildPublisher(cfg)
	if err != nil {
		return nil, err
	}
	s.events = events

	limiter, err := s.buildLimiter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.Files = fileservice.NewFileService(fileservice.Config{
		Retention:          cfg.Retention,
		MaxFileBytes:       cfg.MaxFileBytes(),
		AllowedMIMETypes:   cfg.AllowedMIMETypes,
		ThumbnailCacheSize: cfg.ThumbnailCacheSize,
	}, blobs, records, events)
	if err := s.Files.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore records: %w", err)
	}

	hub := chatservice.NewHub(chatservice.HubConfig{})
	s.Chat = chatservice.NewManager(hub, chatservice.ManagerConfig{
		Conn: chatservice.ConnConfig{
			MaxFrameBytes: int64(cfg.ChatMaxFrameBytes),
			RatePerSecond: float64(cfg.ChatMessagesPerSecond),
			RateBurst:     cfg.ChatRateBurst,
		},
	})

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(middleware.Metrics())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpresp.NewHealthResponse(s.startedAt, time.Now()))
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	fileapi.NewHandler(s.Files, limiter).RegisterRoutes(r)
	chatapi.NewHandler(s.Chat, cfg.AllowedOrigins).RegisterRoutes(r)

	// No WriteTimeout: downloads and chat sockets set their own write deadlines.
	s.HTTPServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stop := context.WithCancel(context.Background())
	s.stop = stop
	s.goWorker(func() { s.Files.Run(workerCtx, cfg.SweepInterval) })
	if mem, isMemory := limiter.(*middleware.MemoryLimiter); isMemory {
		s.goWorker(func() { mem.RunPruner(workerCtx, limiterPruneInterval) })
	}

	commonlog.Infof("event=app action=init status=ok blobs=%s records=%s mq=%t redis=%t", cfg.BlobBackend, cfg.RecordStore, cfg.UseMQ, cfg.RedisAddr != "")
	ok = true
	return s, nil
}

func (s *Server) buildBlobStore(ctx context.Context, cfg Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case BlobDisk, "":
		store, err := blob.NewDiskStore(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("initialize disk blob store: %w", err)
		}
		return store, nil
	case BlobMinIO:
		client, err := object.NewClient(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("initialize minio: %w", err)
		}
		if err := object.EnsureBucket(ctx, client, cfg.MinIO.Bucket); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.MinIO.Bucket, err)
		}
		return blob.NewMinIOStore(client, cfg.MinIO.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func (s *Server) buildRecordStore(ctx context.Context, cfg Config) (repository.Store, error) {
	switch cfg.RecordStore {
	case RecordsMemory, "":
		return repository.Nop{}, nil
	case RecordsPostgres:
		if err := repository.Migrate(cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pool, err := db.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres: %w", err)
		}
		return repository.NewPostgresStore(pool), nil
	case RecordsSQLite:
		store, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
	}
}

func buildPublisher(cfg Config) (fileservice.Publisher, error) {
	if !cfg.UseMQ {
		return fileservice.NoopPublisher{}, nil
	}
	p, err := fileservice.NewAMQPPublisher(cfg.LavinMQURL)
	if err != nil {
		return nil, fmt.Errorf("initialize lavinmq: %w", err)
	}
	return p, nil
}

// buildLimiter shares limits through redis when REDIS_ADDR is set and falls
// back to per-process token buckets otherwise.
func (s *Server) buildLimiter(ctx context.Context, cfg Config) (middleware.Limiter, error) {
	if cfg.RedisAddr == "" {
		return middleware.NewMemoryLimiter(cfg.RateLimitPerMinute), nil
	}
	client := cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	counter := cache.NewWindowCounter(client, "share:ratelimit", time.Minute)
	return middleware.NewRedisLimiter(counter, cfg.RateLimitPerMinute), nil
}

func (s *Server) goWorker(fn func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
}

// Shutdown closes chat sockets first so clients see 1001, then drains HTTP and
// releases the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.Chat != nil {
		if err := s.Chat.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("shutdown chat: %w", err)
		}
	}
	if s.HTTPServer != nil {
		if err := s.HTTPServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown http: %w", err)
		}
	}
	if s.stop != nil {
		s.stop()
	}
	s.workers.Wait()
	s.release()
	return firstErr
}

func (s *Server) release() {
	if s.events != nil {
		s.events.Close()
	}
	if s.records != nil {
		if err := s.records.Close(); err != nil {
			commonlog.Warnf("event=app action=close_records status=failed err=%v", err)
		}
	}
	for _, closeFn := range s.closers {
		closeFn()
	}
	s.events, s.records, s.closers = nil, nil, nil
}
