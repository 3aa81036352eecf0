// Command server starts the portfolio admin API.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/billybjork/billybjork.com/internal/analytics"
	"github.com/billybjork/billybjork.com/internal/api"
	"github.com/billybjork/billybjork.com/internal/content"
	"github.com/billybjork/billybjork.com/internal/media"
	"github.com/billybjork/billybjork.com/internal/observability/logging"
	"github.com/billybjork/billybjork.com/internal/server"
	"github.com/billybjork/billybjork.com/internal/storage"
)

func main() {
	// Local development keeps credentials in .env; missing files are fine.
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	contentDir := flag.String("content-dir", "", "content root directory")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	logFile := flag.String("log-file", "", "optional rotating log file path")
	cacheTTL := flag.Duration("cache-ttl", 0, "content cache entry TTL")
	cacheEntries := flag.Int("cache-entries", 0, "content cache entry limit")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix")
	cdnDomain := flag.String("cdn-domain", "", "public CDN domain serving the bucket")
	ffmpegPath := flag.String("ffmpeg", "", "ffmpeg binary path")
	ffprobePath := flag.String("ffprobe", "", "ffprobe binary path")
	workDir := flag.String("work-dir", "", "scratch directory for video processing")
	pipelineWorkers := flag.Int("pipeline-workers", 0, "video pipeline worker count")
	pipelineQueue := flag.Int("pipeline-queue", 0, "video pipeline queue depth")
	uploadConcurrency := flag.Int("upload-concurrency", 0, "parallel rendition uploads per encode")
	cleanupInterval := flag.Duration("cleanup-interval", 0, "interval between expired-media sweeps")
	skipSync := flag.Bool("skip-content-sync", false, "skip the startup content sync from object storage")
	analyticsDSN := flag.String("analytics-postgres-dsn", "", "Postgres DSN for view analytics")
	viewsRedisAddr := flag.String("views-redis-addr", "", "Redis address for the view-event queue")
	viewsRedisUsername := flag.String("views-redis-username", "", "Redis username for the view-event queue")
	viewsRedisPassword := flag.String("views-redis-password", "", "Redis password for the view-event queue")
	viewsRedisStream := flag.String("views-redis-stream", "", "Redis stream key for view events")
	viewsRedisGroup := flag.String("views-redis-group", "", "Redis consumer group for view events")
	flag.Parse()

	logWriter := io.Writer(os.Stdout)
	if file := firstNonEmpty(*logFile, os.Getenv("PORTFOLIO_LOG_FILE")); file != "" {
		logWriter = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("PORTFOLIO_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("PORTFOLIO_LOG_FORMAT")),
		Writer: logWriter,
	})

	listenAddr := firstNonEmpty(*addr, os.Getenv("PORTFOLIO_ADDR"), ":8080")
	dir := firstNonEmpty(*contentDir, os.Getenv("PORTFOLIO_CONTENT_DIR"), "content")
	cdn := firstNonEmpty(*cdnDomain, os.Getenv("PORTFOLIO_CDN_DOMAIN"))

	objects := storage.NewClient(storage.ObjectStorageConfig{
		Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("PORTFOLIO_OBJECT_ENDPOINT")),
		Region:         firstNonEmpty(*objectRegion, os.Getenv("PORTFOLIO_OBJECT_REGION")),
		AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("PORTFOLIO_OBJECT_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("PORTFOLIO_OBJECT_SECRET_KEY")),
		Bucket:         firstNonEmpty(*objectBucket, os.Getenv("PORTFOLIO_OBJECT_BUCKET")),
		UseSSL:         resolveBool(*objectUseSSL, "PORTFOLIO_OBJECT_USE_SSL"),
		Prefix:         firstNonEmpty(*objectPrefix, os.Getenv("PORTFOLIO_OBJECT_PREFIX")),
		PublicEndpoint: cdn,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if objects.Enabled() && !resolveBool(*skipSync, "PORTFOLIO_SKIP_CONTENT_SYNC") {
		syncCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		synced, err := storage.SyncFromRemote(syncCtx, storage.SyncConfig{
			Client:        objects,
			Dir:           dir,
			Logger:        logging.WithComponent(logger, "content-sync"),
			RequireMarker: true,
		})
		cancel()
		if err != nil {
			logger.Error("startup content sync failed", "error", err)
			os.Exit(1)
		}
		logger.Info("startup content sync complete", "files", synced)
	}

	store, err := content.NewStore(content.Config{
		Dir:             dir,
		Logger:          logger,
		Mirror:          storage.NewContentMirror(objects, logger),
		CacheTTL:        resolveDuration(*cacheTTL, "PORTFOLIO_CACHE_TTL", 0),
		CacheMaxEntries: resolveInt(*cacheEntries, "PORTFOLIO_CACHE_ENTRIES"),
	})
	if err != nil {
		logger.Error("failed to open content store", "error", err)
		os.Exit(1)
	}

	registry := storage.NewAssetRegistry(storage.AssetRegistryConfig{
		ContentDir: dir,
		CDNDomain:  cdn,
		Client:     objects,
		Logger:     logging.WithComponent(logger, "assets"),
	})

	pipeline := media.NewPipeline(media.PipelineConfig{
		Workers:   resolveInt(*pipelineWorkers, "PORTFOLIO_PIPELINE_WORKERS"),
		QueueSize: resolveInt(*pipelineQueue, "PORTFOLIO_PIPELINE_QUEUE"),
		Logger:    logging.WithComponent(logger, "pipeline"),
	})
	pipeline.Start()

	mediaService := media.NewService(media.ServiceConfig{
		Client:            objects,
		Pipeline:          pipeline,
		TempVideos:        media.NewTempVideoStore(),
		Sessions:          media.NewSessionStore(),
		Logger:            logger,
		FFmpegPath:        firstNonEmpty(*ffmpegPath, os.Getenv("PORTFOLIO_FFMPEG")),
		FFprobePath:       firstNonEmpty(*ffprobePath, os.Getenv("PORTFOLIO_FFPROBE")),
		WorkDir:           firstNonEmpty(*workDir, os.Getenv("PORTFOLIO_WORK_DIR")),
		CDNDomain:         cdn,
		SavedHLSURL:       savedHLSLookup(store),
		UploadConcurrency: resolveInt(*uploadConcurrency, "PORTFOLIO_UPLOAD_CONCURRENCY"),
	})

	recorder, analyticsShutdown, err := configureAnalytics(ctx, analyticsSettings{
		DSN:           firstNonEmpty(*analyticsDSN, os.Getenv("PORTFOLIO_ANALYTICS_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:     firstNonEmpty(*viewsRedisAddr, os.Getenv("PORTFOLIO_VIEWS_REDIS_ADDR")),
		RedisUsername: firstNonEmpty(*viewsRedisUsername, os.Getenv("PORTFOLIO_VIEWS_REDIS_USERNAME")),
		RedisPassword: firstNonEmpty(*viewsRedisPassword, os.Getenv("PORTFOLIO_VIEWS_REDIS_PASSWORD")),
		RedisStream:   firstNonEmpty(*viewsRedisStream, os.Getenv("PORTFOLIO_VIEWS_REDIS_STREAM")),
		RedisGroup:    firstNonEmpty(*viewsRedisGroup, os.Getenv("PORTFOLIO_VIEWS_REDIS_GROUP")),
	}, logger)
	if err != nil {
		logger.Error("failed to configure analytics", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.Config{
		Store:     store,
		Media:     mediaService,
		Registry:  registry,
		Objects:   objects,
		Analytics: recorder,
		Logger:    logger,
	})

	sweepInterval := resolveDuration(*cleanupInterval, "PORTFOLIO_CLEANUP_INTERVAL", 15*time.Minute)
	stopSweep := startMediaCleanupWorker(ctx, logging.WithComponent(logger, "media-cleanup"), mediaService, sweepInterval)

	srv := server.New(handler, server.Config{Addr: listenAddr, Logger: logger})
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Warn("video pipeline shutdown incomplete", "error", err)
	}
	if analyticsShutdown != nil {
		if err := analyticsShutdown(shutdownCtx); err != nil {
			logger.Warn("analytics shutdown incomplete", "error", err)
		}
	}
	logger.Info("shutdown complete")
}

// savedHLSLookup lets the expiry sweep check which playlist a project
// currently references without the media package importing content.
func savedHLSLookup(store *content.Store) func(slug string) string {
	return func(slug string) string {
		project, err := store.LoadProject(slug)
		if err != nil {
			return ""
		}
		return project.HLSURL
	}
}

type analyticsSettings struct {
	DSN           string
	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisStream   string
	RedisGroup    string
}

func configureAnalytics(ctx context.Context, settings analyticsSettings, logger *slog.Logger) (*analytics.Recorder, func(context.Context) error, error) {
	var store analytics.Store
	if settings.DSN != "" {
		pg, err := analytics.NewPostgresStore(ctx, settings.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = pg
	} else {
		logger.Info("analytics running on in-memory store, counts reset on restart")
		store = analytics.NewMemoryStore()
	}

	var queue analytics.Queue
	if settings.RedisAddr != "" {
		redisQueue, err := analytics.NewRedisQueue(analytics.RedisQueueConfig{
			Addr:     settings.RedisAddr,
			Username: settings.RedisUsername,
			Password: settings.RedisPassword,
			Stream:   settings.RedisStream,
			Group:    settings.RedisGroup,
			Logger:   logging.WithComponent(logger, "views-queue"),
		})
		if err != nil {
			return nil, nil, err
		}
		queue = redisQueue
	}

	recorder := analytics.NewRecorder(queue, store, logger)
	recorder.Start()
	shutdown := func(shutdownCtx context.Context) error {
		err := recorder.Shutdown(shutdownCtx)
		if queue != nil {
			if closeErr := queue.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		if closeErr := store.Close(shutdownCtx); closeErr != nil && err == nil {
			err = closeErr
		}
		return err
	}
	return recorder, shutdown, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
