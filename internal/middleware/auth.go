package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"RaspiSensing.scylla/internal/config"
	"RaspiSensing.scylla/internal/models"
	"RaspiSensing.scylla/internal/utils"
	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
)

// RequireToken returns middleware that only lets through requests with a
// valid HS256 bearer token issued by cfg.JWTIssuer for cfg.JWTAudience.
// This gates who may post; the reading's auth-code is never checked.
func RequireToken(cfg config.AuthConfig, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	keyFunc := func(context.Context) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}
	jwtValidator, err := validator.New(keyFunc, validator.HS256, cfg.JWTIssuer, []string{cfg.JWTAudience})
	if err != nil {
		return nil, fmt.Errorf("failed to set up the JWT validator: %w", err)
	}

	onError := func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("JWT authentication failed", "path", r.URL.Path, "error", err)
		w.Header().Set("WWW-Authenticate", `Bearer realm="ingest"`)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeUnauthorized, "Unauthorized", http.StatusUnauthorized))
	}

	checker := jwtmiddleware.New(jwtValidator.ValidateToken, jwtmiddleware.WithErrorHandler(onError))
	return checker.CheckJWT, nil
}
