package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/timekeep/pkg/httpx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
)

// Pinger is any dependency /readyz probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LivezHandler godoc
//
//	@Summary		Health Check Endpoint
//	@Description	Liveness probe returning status, uptime and version. Always 200 while the process runs.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse	"status, uptime, version"
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe covering the database, the shared cache and the token signer.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	HealthResponse	"service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(startTime time.Time, version string, db, cache Pinger, keys *jwtx.KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{Database: "ok", Cache: "ok", Signer: "ok"}
		status := "ok"
		code := http.StatusOK

		degrade := func(field *string, msg string) {
			*field = "error: " + msg
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		if err := db.Ping(r.Context()); err != nil {
			degrade(&checks.Database, err.Error())
		}
		if err := cache.Ping(r.Context()); err != nil {
			degrade(&checks.Cache, err.Error())
		}
		if !keys.IsReady() {
			degrade(&checks.Signer, "no keys loaded")
		}

		httpx.WriteJSON(w, code, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}

// JWKSHandler exposes the public keys access tokens are signed with.
//
//	@Summary	Get JWKS
//	@Tags		well-known
//	@Produce	json
//	@Success	200	{object}	jwtx.JWKS	"The JSON Web Key Set"
//	@Router		/.well-known/jwks.json [get].
func JWKSHandler(keys *jwtx.KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, keys.JWKS())
	}
}
