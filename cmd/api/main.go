package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/face"
	"rollcall/internal/faceclient"
	"rollcall/internal/handler"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/objectstore"
	"rollcall/internal/queue"
	"rollcall/internal/report"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, NoColor: cfg.Production()})

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		logrus.WithError(err).Fatal("api server failed")
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	photos, err := newObjectStore(cfg)
	if err != nil {
		return err
	}
	encoder, detector := newFaceBackend(ctx, cfg)
	matcher, err := face.NewMatcher(cfg.FaceMetric)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	repo := attendance.NewRepository(db.Client)

	var (
		q     queue.Queue
		cache report.Cache
	)
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		cache = report.NewRedisCache(redisClient.Client)
	}
	reports := report.NewBuilder(repo, cache, cfg.ReportCacheTTL)

	// Without redis there is no separate worker, so refresh in-process.
	if cfg.QueueBackend == "memory" {
		msgs, err := q.Consume(ctx)
		if err != nil {
			return fmt.Errorf("consume queue: %w", err)
		}
		go reports.Consume(ctx, msgs)
	}

	workflow := attendance.NewWorkflow(repo, photos, detector, matcher,
		attendance.WithTolerance(cfg.FaceTolerance),
		attendance.WithPublisher(q),
		attendance.WithObserver(m),
		attendance.WithFailedSessions(cfg.RecordFailedSessions),
	)
	svc := attendance.NewService(repo, photos, encoder, cfg.StorageURLExpiry, attendance.WithInvalidator(reports))
	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL)

	limiter := httpmiddleware.NewClientLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go sweepLimiter(ctx, limiter)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    logrus.StandardLogger().Writer(),
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(m.GinMiddleware())
	r.Use(limiter.GinMiddleware())
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db.Healthy(c.Request.Context())
		redisHealthy := cfg.QueueBackend == "memory" || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"db": dbHealthy, "redis": redisHealthy})
	})

	handler.New(svc, workflow, reports, signer, cfg.MaxUploadBytes).Register(r)

	if mem, ok := photos.(*objectstore.Memory); ok {
		r.GET("/photos/*key", func(c *gin.Context) {
			data, contentType, found := mem.Get(c.Param("key")[1:])
			if !found {
				c.Status(http.StatusNotFound)
				return
			}
			c.Data(http.StatusOK, contentType, data)
		})
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logrus.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("server forced shutdown")
	}
	logrus.Info("server exited")
	return nil
}

func newObjectStore(cfg config.App) (objectstore.Store, error) {
	switch cfg.StorageBackend {
	case "memory":
		return objectstore.NewMemory("http://localhost:" + cfg.HTTPPort + "/photos"), nil
	case "s3":
		return objectstore.NewS3(objectstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
			return nil, errors.New("cloudinary storage needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
		return objectstore.NewCloudinary(objectstore.CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryFolder,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newFaceBackend(ctx context.Context, cfg config.App) (face.Encoder, face.Detector) {
	if cfg.FaceBackend == "remote" {
		client := faceclient.New(cfg.FaceServiceURL)
		if err := client.Health(ctx); err != nil {
			logrus.WithError(err).Warn("face service not reachable yet")
		} else {
			logrus.WithField("url", cfg.FaceServiceURL).Info("face service connected")
		}
		return client, client
	}
	return face.SignatureEncoder{}, face.NewGridDetector(cfg.GridRows, cfg.GridCols)
}

func sweepLimiter(ctx context.Context, l *httpmiddleware.ClientLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logrus.WithField("clients", n).Debug("rate limiter swept idle clients")
			}
		}
	}
}
