package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	cron "github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/poofware/attestation-service/internal/app"
	"github.com/poofware/attestation-service/internal/config"
	"github.com/poofware/attestation-service/internal/controllers"
	"github.com/poofware/attestation-service/internal/middleware"
	"github.com/poofware/attestation-service/internal/repositories"
	"github.com/poofware/attestation-service/internal/services"
	"github.com/poofware/attestation-service/internal/utils"
)

func main() {
	utils.InitLogger(config.AppName)
	cfg := config.LoadConfig()

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize application:", err)
	}
	defer application.Close()

	//----------------------------------------------------------------------
	// Repositories
	//----------------------------------------------------------------------
	deviceRepo := repositories.NewDeviceRecordRepository(application.DB)
	rateLimitRepo := repositories.NewRateLimitRepository(application.DB)

	//----------------------------------------------------------------------
	// Services
	//----------------------------------------------------------------------
	trustService := services.NewDeviceTrustService(deviceRepo)

	iosService := services.NewIOSAttestService(services.IOSAttestConfig{
		TeamID:   cfg.IOSTeamID,
		BundleID: cfg.IOSBundleID,
	})

	androidService := services.NewAndroidIntegrityService(services.AndroidIntegrityConfig{
		PackageName:         cfg.AndroidPackageName,
		ServiceAccountEmail: cfg.ServiceAccountEmail,
		ServiceAccountKey:   cfg.ServiceAccountKey,
		TokenURL:            cfg.PlayIntegrityTokenURL,
		DecodeBaseURL:       cfg.PlayIntegrityAPIURL,
	})

	pinService := services.NewCertificatePinService(cfg.PinConfig)
	rateLimitCleanupService := services.NewRateLimitCleanupService(rateLimitRepo)

	//----------------------------------------------------------------------
	// Controllers
	//----------------------------------------------------------------------
	attestationController := controllers.NewAttestationController(iosService, androidService, trustService)
	pinsController := controllers.NewCertificatePinsController(pinService)
	healthController := controllers.NewHealthController(application)

	//----------------------------------------------------------------------
	// Router & Endpoints
	//----------------------------------------------------------------------
	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)

	// Health
	router.HandleFunc("/health", healthController.HealthCheckHandler).Methods("GET")

	// Certificate pins
	router.HandleFunc("/certificate-pins", pinsController.GetPins).Methods("GET")

	// Attestation endpoints are unauthenticated (trust is established here,
	// before any session exists) but rate-limited per client IP.
	rateLimited := middleware.RateLimitMiddleware(rateLimitRepo, cfg.RateLimitPerMinute, cfg.RateLimitWindow)

	attestRouter := router.NewRoute().Subrouter()
	attestRouter.Use(rateLimited)
	attestRouter.HandleFunc("/ios", attestationController.AttestIOS).Methods("POST")
	attestRouter.HandleFunc("/android", attestationController.AttestAndroid).Methods("POST")
	attestRouter.HandleFunc("/", attestationController.AttestAuto).Methods("POST")

	//----------------------------------------------------------------------
	// Setup daily cleanup via cron
	//----------------------------------------------------------------------
	c := cron.New()

	_, schErr := c.AddFunc("10 3 * * *", func() {
		if e := rateLimitCleanupService.CleanupDaily(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Scheduled rate limit counter cleanup failed")
		}
	})
	if schErr != nil {
		utils.Logger.WithError(schErr).Fatal("Failed to schedule rate limit counter cleanup job")
	}

	c.Start()

	co := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AppUrl},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Platform", "X-Client-Platform", "X-App-Version", "X-Request-ID"},
		AllowCredentials: true,
	})

	utils.Logger.Infof("Starting %s on port: %s", cfg.AppName, cfg.AppPort)
	if err := http.ListenAndServe(":"+cfg.AppPort, co.Handler(router)); err != nil {
		utils.Logger.Fatal("Failed to start server:", err)
	}
}
