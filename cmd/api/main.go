package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chamada/internal/attendance"
	"chamada/internal/auth"
	"chamada/internal/config"
	"chamada/internal/enroll"
	"chamada/internal/facepp"
	"chamada/internal/faceset"
	"chamada/internal/httpmiddleware"
	"chamada/internal/identity"
	"chamada/internal/mailer"
	"chamada/internal/metrics"
	"chamada/internal/notifier"
	"chamada/internal/roster"
	"chamada/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	repo := roster.NewRepository(db.Client)
	if err == nil {
		if serr := repo.EnsureSchema(context.Background()); serr != nil {
			log.Printf("warning: schema setup failed: %v", serr)
		}
	}

	var redisClient *store.Redis
	var cacheStore identity.Store
	if cfg.CacheBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		cacheStore = identity.NewRedisStore(redisClient.Client, "")
		log.Printf("identity cache: redis (%s)", cfg.RedisAddr)
	} else {
		cacheStore = identity.NewFileStore(cfg.CacheFile)
		log.Printf("identity cache: file (%s)", cfg.CacheFile)
	}
	cache := identity.NewCache(cacheStore)

	face := facepp.New(cfg.FaceEndpoint, cfg.FaceAPIKey, cfg.FaceAPISecret, cfg.FaceTimeout)
	provisioner := faceset.NewProvisioner(face)
	att := attendance.NewService(repo, cfg.ConfidenceThreshold, cfg.ToggleSoftDelete)
	enroller := enroll.NewService(face, repo, provisioner, cache, cfg.FaceSetID)
	outbound := mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	notify := notifier.NewService(repo, outbound, notifier.LoadTemplate(cfg.TemplatePath), cfg.SendDelay)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db != nil && db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		resp := gin.H{"status": "ok", "db": dbHealthy}
		if redisClient != nil {
			redisHealthy := redisClient.Healthy(c.Request.Context())
			resp["redis"] = redisHealthy
			if !redisHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := repo.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := auth.Issue(req.DeviceID, "kiosk", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token.Value,
			"expires_at":   token.ExpiresAt.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.KioskAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Scan endpoint: one webcam frame in, one toggle decision out.
	authGroup.POST("/scan", func(c *gin.Context) {
		var req struct {
			ImageData string `json:"image_data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no image received"})
			return
		}
		image, err := decodeDataURL(req.ImageData)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image payload"})
			return
		}

		ctx := c.Request.Context()
		scanID := uuid.NewString()

		// reload so enrollments from other processes are visible; the
		// cache is best-effort, a failed load only costs a DB lookup
		if err := cache.Load(ctx); err != nil {
			log.Printf("scan %s: cache load failed: %v", scanID, err)
		}
		provisioner.EnsureExists(ctx, cfg.FaceSetID)

		result, err := face.Search(ctx, cfg.FaceSetID, image)
		if err != nil {
			if facepp.IsKind(err, facepp.KindInvalid) {
				metrics.Scans.WithLabelValues("error").Inc()
				c.JSON(http.StatusBadRequest, gin.H{"scan_id": scanID, "status": "error", "error": err.Error()})
				return
			}
			log.Printf("scan %s: search failed: %v", scanID, err)
			metrics.Scans.WithLabelValues("error").Inc()
			c.JSON(http.StatusBadGateway, gin.H{"scan_id": scanID, "status": "error", "error": "face service unavailable, retry"})
			return
		}
		if len(result.Results) == 0 {
			metrics.Scans.WithLabelValues("no_detection").Inc()
			c.JSON(http.StatusOK, gin.H{"scan_id": scanID, "status": "nao_detectado", "message": "no face detected"})
			return
		}

		best := result.Results[0]
		if !att.Actionable(best.Confidence) {
			metrics.Scans.WithLabelValues("low_confidence").Inc()
			c.JSON(http.StatusOK, gin.H{
				"scan_id":    scanID,
				"status":     "nao_identificado",
				"confidence": best.Confidence,
				"message":    "face detected but confidence too low",
			})
			return
		}

		name, ok := cache.Resolve(best.Token)
		if !ok {
			// the cache is not the enrollment authority; the student may
			// exist in the roster only
			student, serr := repo.StudentByToken(ctx, best.Token)
			if serr != nil {
				metrics.Scans.WithLabelValues("store_error").Inc()
				c.JSON(http.StatusServiceUnavailable, gin.H{"scan_id": scanID, "status": "error", "error": "store unavailable, retry"})
				return
			}
			if student == nil {
				metrics.Scans.WithLabelValues("not_found").Inc()
				c.JSON(http.StatusOK, gin.H{"scan_id": scanID, "status": "desconhecido", "message": "matched face is not enrolled"})
				return
			}
			name = student.Name
		}

		outcome, err := att.RecordOrToggle(ctx, name, best.Confidence)
		metrics.Scans.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case attendance.OutcomeCreated:
			c.JSON(http.StatusOK, gin.H{"scan_id": scanID, "status": "presente", "nome": name, "confidence": best.Confidence})
		case attendance.OutcomeToggled:
			c.JSON(http.StatusOK, gin.H{"scan_id": scanID, "status": "apagada", "nome": name, "message": "attendance retracted (rescan)"})
		case attendance.OutcomeNotFound:
			c.JSON(http.StatusOK, gin.H{"scan_id": scanID, "status": "desconhecido", "message": "student not enrolled"})
		default:
			log.Printf("scan %s: toggle failed for %s: %v", scanID, name, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"scan_id": scanID, "status": "error", "error": "store unavailable, retry"})
		}
	})

	// Enroll one student from an uploaded photo.
	authGroup.POST("/students", func(c *gin.Context) {
		name := strings.TrimSpace(c.PostForm("name"))
		turno := strings.TrimSpace(c.PostForm("turno"))
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
			return
		}
		file, _, err := c.Request.FormFile("photo")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "photo field required"})
			return
		}
		defer file.Close()
		image, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read photo failed"})
			return
		}

		student, err := enroller.One(c.Request.Context(), name, turno, image)
		switch {
		case err == nil:
			metrics.Enrollments.WithLabelValues("enrolled").Inc()
			c.JSON(http.StatusCreated, student)
		case errors.Is(err, enroll.ErrNoFace):
			metrics.Enrollments.WithLabelValues("no_face").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "no face detected in photo"})
		case errors.Is(err, enroll.ErrDuplicate):
			metrics.Enrollments.WithLabelValues("duplicate").Inc()
			c.JSON(http.StatusConflict, gin.H{"error": "student already enrolled"})
		default:
			metrics.Enrollments.WithLabelValues("error").Inc()
			log.Printf("enroll %s failed: %v", name, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "enrollment failed"})
		}
	})

	// Bulk enrollment from the photo directory.
	authGroup.POST("/students/import", func(c *gin.Context) {
		result, err := enroller.Directory(c.Request.Context(), cfg.PhotoDir)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.Enrollments.WithLabelValues("enrolled").Add(float64(result.Enrolled))
		c.JSON(http.StatusOK, result)
	})

	authGroup.GET("/students", func(c *gin.Context) {
		students, err := repo.ListStudents(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"students": students})
	})

	authGroup.PUT("/students/:id/guardian_email", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
			return
		}
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		email := strings.TrimSpace(req.Email)
		if !strings.Contains(email, "@") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guardian email"})
			return
		}
		if err := repo.UpdateGuardianEmail(c.Request.Context(), id, email); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		date, err := parseDateParam(c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, use YYYY-MM-DD"})
			return
		}
		records, err := repo.ListAttendance(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		summary, err := repo.DailySummary(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"date":    date.Format("2006-01-02"),
			"summary": summary,
			"records": records,
		})
	})

	// Operator-triggered notification run (same engine the daily job uses).
	authGroup.POST("/notifications/run", func(c *gin.Context) {
		var req struct {
			Date   string `json:"date"`
			DryRun bool   `json:"dry_run"`
			Turno  string `json:"turno"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, err := parseDateParam(req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, use YYYY-MM-DD"})
			return
		}
		sent, err := notify.Run(c.Request.Context(), date, notifier.Options{DryRun: req.DryRun, Turno: req.Turno})
		if err != nil {
			if errors.Is(err, mailer.ErrMissingCredentials) {
				c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !req.DryRun {
			metrics.NotificationsSent.Add(float64(sent))
		}
		c.JSON(http.StatusOK, gin.H{"sent": sent, "dry_run": req.DryRun})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}

// decodeDataURL strips an optional "data:image/...;base64," prefix and
// decodes the payload.
func decodeDataURL(data string) ([]byte, error) {
	if idx := strings.IndexByte(data, ','); idx >= 0 {
		data = data[idx+1:]
	}
	if data == "" {
		return nil, errors.New("empty image data")
	}
	return base64.StdEncoding.DecodeString(data)
}

// parseDateParam parses YYYY-MM-DD, defaulting to today.
func parseDateParam(s string) (time.Time, error) {
	if s == "" {
		y, m, d := time.Now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse("2006-01-02", s)
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
