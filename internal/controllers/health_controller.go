package controllers

import (
	"context"
	"net/http"

	"github.com/poofware/attestation-service/internal/app"
	"github.com/poofware/attestation-service/internal/dtos"
	"github.com/poofware/attestation-service/internal/utils"
)

type HealthController struct {
	app *app.App
}

func NewHealthController(app *app.App) *HealthController {
	return &HealthController{
		app: app,
	}
}

func (c *HealthController) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	// Check database connectivity
	if err := c.app.DB.Ping(context.Background()); err != nil {
		utils.Logger.WithError(err).Error("Database unreachable")
		utils.RespondErrorWithCode(
			w,
			http.StatusServiceUnavailable,
			utils.ErrCodeInternal,
			"Database unreachable",
			nil,
			err,
		)
		return
	}

	capabilities := []string{"ios_app_attest", "ios_device_check", "certificate_pins"}
	if c.app.Config.AndroidPackageName != "" {
		capabilities = append(capabilities, "android_play_integrity", "android_safetynet")
	}

	resp := dtos.HealthCheckResponse{
		Status:       "OK",
		Capabilities: capabilities,
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}
