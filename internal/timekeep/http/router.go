package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/metrics"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"

	_ "github.com/aussiebroadwan/timekeep/api/docs" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	store        store.Store
	cache        cache.Cache
	clock        clockwork.Clock
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// AuthLimit and APILimit default to the httpx profiles.
	AuthLimit httpx.RateLimitConfig
	APILimit  httpx.RateLimitConfig
	Metrics   *metrics.Metrics

	TokenService     *service.TokenService
	AuthService      *service.AuthService
	MFAService       *service.MFAService
	SessionService   *service.SessionService
	PrincipalService *service.PrincipalService
	TenantService    *service.TenantService
	BootstrapService *service.BootstrapService

	// Realtime serves the websocket upgrade.
	Realtime http.Handler

	guard *tenancy.Guard
	auth  httpx.Middleware
	api   httpx.Middleware
}

func NewRouter(
	keys *jwtx.KeyManager,
	buildVersion string,
	st store.Store,
	c cache.Cache,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		store:        st,
		cache:        c,
		clock:        clock,
		buildVersion: buildVersion,
		startTime:    clock.Now(),
		logger:       logger,
		AuthLimit:    httpx.AuthLimit,
		APILimit:     httpx.APILimit,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

// ApplyRoutes registers every route. Services must be set first.
func (r *Router) ApplyRoutes() {
	r.guard = tenancy.NewGuard(r.TokenService, WriteError)
	r.auth = httpx.RateLimitMiddleware(r.limiter("auth", r.AuthLimit), httpx.IPKeyExtractor)
	r.api = httpx.RateLimitMiddleware(r.limiter("api", r.APILimit),
		httpx.FallbackKeyExtractor(r.principalKey, httpx.IPKeyExtractor),
	)

	r.registerAuth()
	r.registerSessions()
	r.registerPrincipals()
	r.registerMFA()
	r.registerTenant()
	r.registerRealtime()
	r.registerBootstrap()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Timekeep Session Service API
//	@version		0.1.0
//	@description	Device-bound authentication, tenant-scoped work sessions and realtime admin signals for the Timekeep desktop agent.
//	@description
//	@description				Access tokens are JWTs bound to a tenant, a role and a device. Verify them with the JWKS endpoint.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/timekeep
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) limiter(name string, cfg httpx.RateLimitConfig) *httpx.FixedWindow {
	l := httpx.NewFixedWindow(name, r.cache, r.clock, cfg)
	l.OnDecision = r.Metrics.ObserveAdmission
	return l
}

// principalKey keys API admission on the token subject so one principal
// shares a budget across addresses. Unverifiable tokens fall back to IP.
// It checks the signature without logging or counting a rejection; the
// guard does both once the request gets past admission.
func (r *Router) principalKey(req *http.Request) string {
	token, ok := httpx.BearerToken(req)
	if !ok {
		return ""
	}
	claims, err := r.keys.Verify(token, jwtx.TokenUseAccess)
	if err != nil || claims.TenantID == "" {
		return ""
	}
	return claims.TenantID + "/" + claims.Subject
}

// scoped wraps h behind admission and the tenancy guard.
func (r *Router) scoped(roles tenancy.RoleSet, h tenancy.ScopedHandlerFunc) http.Handler {
	return httpx.Chain(r.guard.Protect(roles, h), r.api)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Auth: r.AuthService, Tokens: r.TokenService}

	// Login counts against the strict window before any password hashing.
	r.Mux.Handle("POST /v1/auth/login", httpx.Chain(http.HandlerFunc(h.HandleLogin), r.auth))
	r.Mux.Handle("POST /v1/auth/refresh", httpx.Chain(http.HandlerFunc(h.HandleRefresh), r.api))
	r.Mux.Handle("POST /v1/auth/logout", r.scoped(tenancy.AnyRole, h.HandleLogout))
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Sessions: r.SessionService}

	r.Mux.Handle("POST /v1/sessions", r.scoped(tenancy.AnyRole, h.HandleStart))
	r.Mux.Handle("GET /v1/sessions/current", r.scoped(tenancy.AnyRole, h.HandleCurrent))
	r.Mux.Handle("GET /v1/sessions/{id}", r.scoped(tenancy.AnyRole, h.HandleGet))
	r.Mux.Handle("POST /v1/sessions/{id}/pause", r.scoped(tenancy.AnyRole, h.HandlePause))
	r.Mux.Handle("POST /v1/sessions/{id}/resume", r.scoped(tenancy.AnyRole, h.HandleResume))
	r.Mux.Handle("POST /v1/sessions/{id}/end", r.scoped(tenancy.AnyRole, h.HandleEnd))
	r.Mux.Handle("POST /v1/sessions/{id}/idle", r.scoped(tenancy.AnyRole, h.HandleIdle))

	r.Mux.Handle("GET /v1/admin/sessions", r.scoped(tenancy.Admins, h.HandleList))
	r.Mux.Handle("POST /v1/admin/sessions/{id}/force-end", r.scoped(tenancy.Admins, h.HandleForceEnd))
}

func (r *Router) registerPrincipals() {
	h := &PrincipalsHandler{Principals: r.PrincipalService}

	r.Mux.Handle("GET /v1/me", r.scoped(tenancy.AnyRole, h.HandleMe))

	r.Mux.Handle("POST /v1/admin/principals", r.scoped(tenancy.Admins, h.HandleCreate))
	r.Mux.Handle("GET /v1/admin/principals", r.scoped(tenancy.Admins, h.HandleList))
	r.Mux.Handle("PUT /v1/admin/principals/{id}/role", r.scoped(tenancy.TenantAdmins, h.HandleChangeRole))
	r.Mux.Handle("POST /v1/admin/principals/{id}/suspend", r.scoped(tenancy.Admins, h.HandleSuspend))
	r.Mux.Handle("POST /v1/admin/principals/{id}/reactivate", r.scoped(tenancy.Admins, h.HandleReactivate))
	r.Mux.Handle("GET /v1/admin/principals/{id}/devices", r.scoped(tenancy.Admins, h.HandleDevices))
	r.Mux.Handle("DELETE /v1/admin/principals/{id}/devices/{device}", r.scoped(tenancy.Admins, h.HandleRemoveDevice))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFA: r.MFAService}

	r.Mux.Handle("POST /v1/mfa/totp/enroll", r.scoped(tenancy.AnyRole, h.HandleEnroll))
	// Code checks share the strict window with login.
	r.Mux.Handle("POST /v1/mfa/totp/verify", httpx.Chain(r.scoped(tenancy.AnyRole, h.HandleConfirm), r.auth))
	r.Mux.Handle("DELETE /v1/mfa/totp", httpx.Chain(r.scoped(tenancy.AnyRole, h.HandleDisable), r.auth))
}

func (r *Router) registerTenant() {
	h := &TenantHandler{Tenants: r.TenantService}

	r.Mux.Handle("GET /v1/tenant/settings", r.scoped(tenancy.AnyRole, h.HandleGet))
	r.Mux.Handle("PUT /v1/tenant/settings", r.scoped(tenancy.TenantAdmins, h.HandleUpdate))
}

func (r *Router) registerRealtime() {
	if r.Realtime == nil {
		return
	}
	// The notifier authenticates the upgrade itself; tokens may arrive as a
	// query parameter, which the guard does not read.
	r.Mux.Handle("GET /v1/realtime", httpx.Chain(r.Realtime, r.api))
}

func (r *Router) registerBootstrap() {
	h := &BootstrapHandler{Bootstrap: r.BootstrapService}

	r.Mux.Handle("POST /v1/bootstrap", httpx.Chain(http.HandlerFunc(h.HandleBootstrap), r.auth))
	r.Mux.Handle("GET /v1/bootstrap", httpx.Chain(http.HandlerFunc(h.HandleStatus), r.api))
	r.Mux.Handle("PUT /v1/system/tenants/{id}/subscription", httpx.Chain(http.HandlerFunc(h.HandleSubscription), r.auth))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /.well-known/jwks.json", JWKSHandler(r.keys))
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.cache, r.keys))
	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics.Handler())
	}
}
