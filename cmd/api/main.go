package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sonta/internal/auth"
	"sonta/internal/checkin"
	"sonta/internal/cloudinary"
	"sonta/internal/config"
	"sonta/internal/faceclient"
	"sonta/internal/geofence"
	"sonta/internal/httpmiddleware"
	"sonta/internal/meeting"
	"sonta/internal/metrics"
	"sonta/internal/model"
	"sonta/internal/qrcode"
	"sonta/internal/queue"
	"sonta/internal/store"
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

// memberRegistry is the enrollment surface both backends provide.
type memberRegistry interface {
	InsertSontaHead(ctx context.Context, sh model.SontaHead) error
	ListActiveSontaHeads(ctx context.Context) ([]model.SontaHead, error)
}

// deps is everything the handlers need, wired once at startup.
type deps struct {
	engine   *checkin.Engine
	meetings *meeting.Service
	qr       *qrcode.Manager
	links    *auth.MagicLinks
	members  memberRegistry
	queue    queue.Queue
	cdn      *cloudinary.Client
	redis    *store.Redis
	db       *store.DB
}

// timedMatcher wraps the face client so matcher latency lands in the
// histogram regardless of outcome.
type timedMatcher struct{ inner checkin.Matcher }

func (t timedMatcher) Match(ctx context.Context, image []byte) (string, float64, error) {
	start := time.Now()
	id, conf, err := t.inner.Match(ctx, image)
	metrics.FaceLatency.Observe(time.Since(start).Seconds())
	return id, conf, err
}

func runHTTP(cfg config.App) error {
	redisClient := store.NewRedis(cfg.RedisAddr)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	matcher := timedMatcher{inner: face}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	d := deps{queue: q, redis: redisClient}

	engineCfg := checkin.Config{
		AutoApproveThreshold: cfg.AutoApproveThreshold,
		MinReviewThreshold:   cfg.MinReviewThreshold,
		MaxAttempts:          cfg.MaxVerificationAttempts,
	}
	geo := geofence.NewEvaluator(cfg.GeofenceAccuracyMargin)

	if cfg.StoreBackend == "memory" {
		qrStore := qrcode.NewMemoryStore()
		meetingStore := meeting.NewMemoryStore()
		checkinStore := checkin.NewMemoryStore()
		counter := checkin.NewMemoryCounter(cfg.AttemptWindow)

		if cfg.FaceSkip {
			// Seed the member the mock matcher always returns so a full
			// check-in works locally without the face service or a database.
			checkinStore.AddSontaHead(model.SontaHead{
				ID:             faceclient.SkipMemberID,
				Name:           "Dev Sonta Head",
				Status:         model.SontaHeadActive,
				EnrollmentDate: time.Now().UTC(),
				CreatedAt:      time.Now().UTC(),
			})
		}

		d.qr = qrcode.NewManager(qrStore, meetingStore, cfg.QrTokenTTL)
		d.meetings = meeting.NewService(meetingStore, d.qr)
		d.engine = checkin.NewEngine(d.qr, geo, matcher, meetingStore, checkinStore,
			checkinStore, checkinStore, checkinStore, counter, engineCfg)
		d.links = auth.NewMagicLinks(auth.NewMemoryMagicLinkStore(), cfg.MagicLinkExpiry)
		d.members = checkinStore
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		d.db = db
		pg := store.NewPostgres(db)
		if err := pg.Migrate(context.Background()); err != nil {
			return err
		}
		counter := store.NewRedisAttemptCounter(redisClient, cfg.AttemptWindow)

		d.qr = qrcode.NewManager(pg, pg, cfg.QrTokenTTL)
		d.meetings = meeting.NewService(pg, d.qr)
		d.engine = checkin.NewEngine(d.qr, geo, matcher, pg, pg, pg, pg, pg, counter, engineCfg)
		d.links = auth.NewMagicLinks(pg, cfg.MagicLinkExpiry)
		d.members = pg
	}
	defer func() {
		if d.db != nil {
			_ = d.db.Close()
		}
	}()

	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		d.cdn = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, captured images will not be stored")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := cfg.QueueBackend == "memory" || d.redis.Healthy(c.Request.Context())
		dbHealthy := d.db == nil || d.db.Client.PingContext(c.Request.Context()) == nil
		faceHealthy := face.Health(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "face": faceHealthy})
	})

	registerAuthRoutes(r, d, cfg)
	registerCheckInRoutes(r, d)
	registerAdminRoutes(r, d, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

func registerAuthRoutes(r *gin.Engine, d deps, cfg config.App) {
	r.POST("/v1/auth/magic-link", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required,email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		link, err := d.links.Request(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create login link"})
			return
		}

		// Email delivery is handled out-of-band; in dev the token comes back
		// in the response so login works without a mail pipeline.
		resp := gin.H{"id": link.ID, "expires_at": link.ExpiresAt}
		if cfg.Env != "production" && cfg.Env != "prod" {
			resp["token"] = link.Token
		} else {
			log.Printf("magic link issued for %s (id %s)", req.Email, link.ID)
		}
		c.JSON(http.StatusAccepted, resp)
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if cfg.AdminEmail == "" || cfg.AdminPasswordHash == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "password login not configured"})
			return
		}
		if req.Email != cfg.AdminEmail || !auth.CheckPassword(cfg.AdminPasswordHash, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		tokens, err := auth.Issue(req.Email, "admin", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/verify", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		email, err := d.links.Redeem(c.Request.Context(), req.Token)
		switch {
		case errors.Is(err, auth.ErrLinkNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "login link not found"})
			return
		case errors.Is(err, auth.ErrLinkExpired), errors.Is(err, auth.ErrLinkUsed):
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		tokens, err := auth.Issue(email, "admin", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/refresh", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, err := auth.Parse(req.RefreshToken, cfg.JWTSigningKey, cfg.JWTIssuer)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}

		tokens, err := auth.Issue(claims.Subject, claims.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})
}

func registerCheckInRoutes(r *gin.Engine, d deps) {
	// Validate a scanned token before the client captures a face. The scan
	// is counted on presentation, not on the final outcome.
	r.GET("/v1/qr/:token/validate", func(c *gin.Context) {
		v, err := d.qr.Validate(c.Request.Context(), c.Param("token"))
		if err != nil {
			code := rejectionCode(err)
			metrics.QrValidations.WithLabelValues(code).Inc()
			status := qrErrorStatus(err)
			if status == http.StatusInternalServerError {
				c.JSON(status, gin.H{"error": "validation failed"})
				return
			}
			c.JSON(status, gin.H{"valid": false, "code": code, "error": err.Error()})
			return
		}
		metrics.QrValidations.WithLabelValues("valid").Inc()
		c.JSON(http.StatusOK, gin.H{
			"valid": true,
			"meeting": gin.H{
				"id":            v.Meeting.ID,
				"title":         v.Meeting.Title,
				"location_name": v.Meeting.LocationName,
			},
		})
	})

	r.POST("/v1/checkins", func(c *gin.Context) {
		req, ok := bindCheckInRequest(c)
		if !ok {
			return
		}

		// Store the captured image first so the audit trail and any pending
		// review can reference it. Upload failure never blocks the check-in.
		if d.cdn != nil && len(req.Image) > 0 {
			if up, err := d.cdn.UploadBytes(c.Request.Context(), req.Image, "checkin.jpg"); err == nil {
				req.ImageRef = up.SecureURL
			} else {
				log.Printf("image upload failed: %v", err)
			}
		}

		result, err := d.engine.CheckIn(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, checkin.ErrCapabilityUnavailable) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face verification is temporarily unavailable"})
				return
			}
			log.Printf("check-in failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed"})
			return
		}

		metrics.ObserveOutcome(string(result.Status), result.Code)
		publishOutcome(c.Request.Context(), d.queue, result)

		c.JSON(outcomeStatus(result.Status), result)
	})
}

func registerAdminRoutes(r *gin.Engine, d deps, cfg config.App) {
	admin := r.Group("/v1/admin", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	admin.POST("/meetings", func(c *gin.Context) {
		var req struct {
			Title                    string    `json:"title" binding:"required"`
			LocationName             string    `json:"location_name"`
			Latitude                 float64   `json:"latitude" binding:"required"`
			Longitude                float64   `json:"longitude"`
			GeofenceRadiusMeters     float64   `json:"geofence_radius_meters" binding:"required"`
			ScheduledStart           time.Time `json:"scheduled_start" binding:"required"`
			LateArrivalCutoffMinutes *int      `json:"late_arrival_cutoff_minutes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		m, err := d.meetings.Create(c.Request.Context(), meeting.CreateParams{
			Title:                    req.Title,
			LocationName:             req.LocationName,
			Latitude:                 req.Latitude,
			Longitude:                req.Longitude,
			GeofenceRadiusMeters:     req.GeofenceRadiusMeters,
			ScheduledStart:           req.ScheduledStart,
			LateArrivalCutoffMinutes: req.LateArrivalCutoffMinutes,
		})
		if err != nil {
			c.JSON(meetingErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, m)
	})

	admin.GET("/meetings", func(c *gin.Context) {
		list, err := d.meetings.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"meetings": list})
	})

	admin.GET("/meetings/:id", func(c *gin.Context) {
		m, err := d.meetings.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(meetingErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, m)
	})

	admin.POST("/meetings/:id/activate", func(c *gin.Context) {
		m, code, err := d.meetings.Activate(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(meetingErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"meeting": m, "qr_token": code.Token, "qr_code_id": code.ID})
	})

	admin.POST("/meetings/:id/complete", func(c *gin.Context) {
		m, err := d.meetings.Complete(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(meetingErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, m)
	})

	admin.POST("/meetings/:id/cancel", func(c *gin.Context) {
		m, err := d.meetings.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(meetingErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, m)
	})

	// Rotate the meeting's QR code. Any previous code is atomically retired.
	admin.POST("/meetings/:id/qr", func(c *gin.Context) {
		var req struct {
			MaxScans   *int `json:"max_scans"`
			TTLSeconds int  `json:"ttl_seconds"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		code, err := d.qr.Issue(c.Request.Context(), c.Param("id"), req.MaxScans,
			time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			c.JSON(meetingErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"qr_code_id": code.ID,
			"qr_token":   code.Token,
			"expires_at": code.ExpiresAt,
			"max_scans":  code.MaxScans,
		})
	})

	admin.POST("/qr/:id/invalidate", func(c *gin.Context) {
		if err := d.qr.Invalidate(c.Request.Context(), c.Param("id"), adminID(c)); err != nil {
			if errors.Is(err, qrcode.ErrTokenNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": true})
	})

	admin.GET("/meetings/:id/attendance", func(c *gin.Context) {
		summary, err := d.engine.MeetingAttendance(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(meetingErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	admin.GET("/meetings/:id/pending", func(c *gin.Context) {
		list, err := d.engine.PendingVerifications(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": list})
	})

	admin.POST("/sonta-heads", func(c *gin.Context) {
		var req struct {
			Name               string `json:"name" binding:"required"`
			Phone              string `json:"phone"`
			SontaName          string `json:"sonta_name"`
			Email              string `json:"email"`
			Notes              string `json:"notes"`
			ProfileImageBase64 string `json:"profile_image_base64"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		profileURL := ""
		if req.ProfileImageBase64 != "" && d.cdn != nil {
			if up, err := d.cdn.UploadBase64(c.Request.Context(), req.ProfileImageBase64); err == nil {
				profileURL = up.SecureURL
			} else {
				log.Printf("profile image upload failed: %v", err)
			}
		}

		now := time.Now().UTC()
		sh := model.SontaHead{
			ID:              uuid.NewString(),
			Name:            req.Name,
			Phone:           req.Phone,
			SontaName:       req.SontaName,
			Email:           req.Email,
			Notes:           req.Notes,
			Status:          model.SontaHeadActive,
			ProfileImageURL: profileURL,
			EnrollmentDate:  now,
			CreatedAt:       now,
		}
		if err := d.members.InsertSontaHead(c.Request.Context(), sh); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sh)
	})

	admin.GET("/sonta-heads", func(c *gin.Context) {
		list, err := d.members.ListActiveSontaHeads(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sonta_heads": list})
	})

	admin.POST("/meetings/:id/checkins", func(c *gin.Context) {
		var req struct {
			SontaHeadID string `json:"sonta_head_id" binding:"required"`
			Notes       string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		att, err := d.engine.ManualCheckIn(c.Request.Context(), c.Param("id"), req.SontaHeadID, adminID(c), req.Notes)
		if err != nil {
			c.JSON(checkinErrorStatus(err), gin.H{"error": err.Error()})
			return
		}

		publishAttendance(c.Request.Context(), d.queue, att)
		metrics.ObserveOutcome("approved", "manual")
		c.JSON(http.StatusCreated, att)
	})

	admin.POST("/pending/:id/review", func(c *gin.Context) {
		var req struct {
			Decision string `json:"decision" binding:"required,oneof=approve reject"`
			Notes    string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		att, err := d.engine.Review(c.Request.Context(), c.Param("id"),
			checkin.Decision(req.Decision), adminID(c), req.Notes)
		if err != nil {
			c.JSON(checkinErrorStatus(err), gin.H{"error": err.Error()})
			return
		}

		metrics.Reviews.WithLabelValues(req.Decision).Inc()
		if att != nil {
			publishAttendance(c.Request.Context(), d.queue, att)
			c.JSON(http.StatusOK, gin.H{"decision": req.Decision, "attendance": att})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decision": req.Decision})
	})
}

// bindCheckInRequest accepts either multipart form-data with an "image" file
// or a JSON body with base64 image data.
func bindCheckInRequest(c *gin.Context) (checkin.Request, bool) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		var form struct {
			QRToken        string  `form:"qr_token" binding:"required"`
			Latitude       float64 `form:"latitude"`
			Longitude      float64 `form:"longitude"`
			AccuracyMeters float64 `form:"accuracy_meters"`
			DeviceID       string  `form:"device_id"`
			Platform       string  `form:"platform"`
			AppVersion     string  `form:"app_version"`
		}
		if err := c.ShouldBind(&form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return checkin.Request{}, false
		}

		var image []byte
		if file, _, err := c.Request.FormFile("image"); err == nil {
			defer file.Close()
			if data, rerr := io.ReadAll(file); rerr == nil {
				image = data
			}
		}

		return checkin.Request{
			QRToken:        form.QRToken,
			Latitude:       form.Latitude,
			Longitude:      form.Longitude,
			AccuracyMeters: form.AccuracyMeters,
			Image:          image,
			Device: model.DeviceInfo{
				DeviceID:   form.DeviceID,
				Platform:   form.Platform,
				AppVersion: form.AppVersion,
			},
		}, true
	}

	var body struct {
		QRToken        string           `json:"qr_token" binding:"required"`
		Latitude       float64          `json:"latitude"`
		Longitude      float64          `json:"longitude"`
		AccuracyMeters float64          `json:"accuracy_meters"`
		ImageBase64    string           `json:"image_base64"`
		Device         model.DeviceInfo `json:"device"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return checkin.Request{}, false
	}

	var image []byte
	if body.ImageBase64 != "" {
		data := body.ImageBase64
		if i := strings.Index(data, ","); i >= 0 && strings.HasPrefix(data, "data:") {
			data = data[i+1:]
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image_base64"})
			return checkin.Request{}, false
		}
		image = decoded
	}

	return checkin.Request{
		QRToken:        body.QRToken,
		Latitude:       body.Latitude,
		Longitude:      body.Longitude,
		AccuracyMeters: body.AccuracyMeters,
		Image:          image,
		Device:         body.Device,
	}, true
}

func publishOutcome(ctx context.Context, q queue.Queue, result *checkin.Result) {
	switch result.Status {
	case checkin.StatusApproved:
		publishAttendance(ctx, q, result.Attendance)
	case checkin.StatusPending:
		msg, err := queue.NewPendingReviewMessage(queue.PendingReviewEvent{
			PendingVerificationID: result.PendingVerificationID,
			Confidence:            derefFloat(result.FacialConfidenceScore),
			CreatedAt:             time.Now().UTC(),
		})
		if err == nil {
			if err := q.Publish(ctx, msg); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}
	}
}

func publishAttendance(ctx context.Context, q queue.Queue, att *model.Attendance) {
	if att == nil {
		return
	}
	msg, err := queue.NewAttendanceMessage(queue.AttendanceEvent{
		AttendanceID: att.ID,
		MeetingID:    att.MeetingID,
		SontaHeadID:  att.SontaHeadID,
		Method:       string(att.Method),
		IsLate:       att.IsLate,
		CheckedInAt:  att.CheckInTimestamp,
	})
	if err != nil {
		return
	}
	if err := q.Publish(ctx, msg); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func outcomeStatus(s checkin.Status) int {
	switch s {
	case checkin.StatusApproved:
		return http.StatusCreated
	case checkin.StatusPending:
		return http.StatusAccepted
	default:
		return http.StatusUnprocessableEntity
	}
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, qrcode.ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, qrcode.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, qrcode.ErrTokenInvalidated):
		return "token_invalidated"
	case errors.Is(err, qrcode.ErrScanLimitExceeded):
		return "scan_limit_exceeded"
	case errors.Is(err, qrcode.ErrMeetingNotActive):
		return "meeting_not_active"
	}
	return "error"
}

func qrErrorStatus(err error) int {
	switch {
	case errors.Is(err, qrcode.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, qrcode.ErrTokenExpired),
		errors.Is(err, qrcode.ErrTokenInvalidated),
		errors.Is(err, qrcode.ErrScanLimitExceeded):
		return http.StatusGone
	case errors.Is(err, qrcode.ErrMeetingNotActive):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func meetingErrorStatus(err error) int {
	switch {
	case errors.Is(err, meeting.ErrNotFound), errors.Is(err, qrcode.ErrMeetingNotFound):
		return http.StatusNotFound
	case errors.Is(err, meeting.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, meeting.ErrInvalidGeofence), errors.Is(err, meeting.ErrInvalidLocation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func checkinErrorStatus(err error) int {
	switch {
	case errors.Is(err, checkin.ErrPendingNotFound),
		errors.Is(err, checkin.ErrMemberNotFound),
		errors.Is(err, qrcode.ErrMeetingNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkin.ErrAlreadyResolved),
		errors.Is(err, checkin.ErrAlreadyCheckedIn),
		errors.Is(err, qrcode.ErrMeetingNotActive):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func adminID(c *gin.Context) string {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims.Subject
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
