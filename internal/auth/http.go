// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// HTTP delivery for the authentication lifecycle.
//
// The handler acts as a thin mediation layer between the web and the
// domain service:
//   - Protocol: Standard RESTful JSON interface.
//   - Security: Refresh secrets and session IDs travel in HttpOnly
//     cookies; access tokens in the response body.
//   - Verification: Strict input validation before anything reaches
//     the [Service].

package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/constants"
	"github.com/savorahq/savora/internal/platform/middleware"
	requestutil "github.com/savorahq/savora/internal/platform/request"
	"github.com/savorahq/savora/internal/platform/respond"
	"github.com/savorahq/savora/internal/platform/sec"
	"github.com/savorahq/savora/internal/platform/validate"
)

// # Definitions & Constructors

// Handler implements authentication-related HTTP endpoints.
type Handler struct {
	authService *Service
	gate        *Gate
	registry    *Registry
}

// NewHandler constructs a new [Handler] with its dependencies.
func NewHandler(service *Service, gate *Gate, registry *Registry) *Handler {
	return &Handler{authService: service, gate: gate, registry: registry}
}

// Routes returns a [chi.Router] configured with authentication routes.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Post("/guest", handler.guest)
	router.Post("/refresh", handler.refresh)
	router.Post("/logout", handler.logout)

	// Protected endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/me", handler.getMe)
		r.Get("/check", handler.check)
		r.Get("/antiforgery", handler.antiForgery)
		r.Post("/upgrade", handler.upgrade)
	})

	return router
}

// # Request Payloads

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type upgradeRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

/*
Register enrolls a new member on the external provider and signs them in.

POST /api/v1/auth/register

Request:
  - Body: registerRequest (Email, Password, DisplayName)

Response:
  - 201: Session payload: Access token and identity profile
  - 400: ErrInvalidJSON: Bad input or validation failure
  - 409: ErrConflict: Email already registered
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required("email", input.Email).
		Email("email", input.Email).
		Required("password", input.Password).
		MinLen("password", input.Password, 8).
		MaxLen("display_name", input.DisplayName, 50)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	session, err := handler.authService.Register(request.Context(), RegisterInput{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
		UserAgent:   request.UserAgent(),
		IPAddress:   getClientIP(request),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	setSessionCookies(writer, session)
	respond.Created(writer, sessionPayload(session))
}

/*
Login authenticates a member and establishes a session.

POST /api/v1/auth/login

Description: Routes the attempt through whichever credential system the
current rollout phase allows, injects secure session cookies, and returns
the access token.

Request:
  - Body: loginRequest (Email, Password)

Response:
  - 200: Session payload: Access token and identity profile
  - 401: ErrUnauthenticated: Invalid credentials
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required("email", input.Email)
	validator.Required("password", input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	session, err := handler.authService.Login(request.Context(), LoginInput{
		Email:     input.Email,
		Password:  input.Password,
		UserAgent: request.UserAgent(),
		IPAddress: getClientIP(request),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	setSessionCookies(writer, session)
	respond.OK(writer, sessionPayload(session))
}

/*
Guest provisions an anonymous account and signs it in.

POST /api/v1/auth/guest

Response:
  - 201: Session payload: Access token and guest profile
*/
func (handler *Handler) guest(writer http.ResponseWriter, request *http.Request) {
	session, err := handler.authService.CreateGuest(request.Context(), request.UserAgent(), getClientIP(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	setSessionCookies(writer, session)
	respond.Created(writer, sessionPayload(session))
}

/*
Refresh rotates the session credentials.

POST /api/v1/auth/refresh

Description: Validates the refresh cookie, rotates the secret in place, and
returns a fresh access token.

Response:
  - 200: RefreshResponse: New access token credentials
  - 401: ErrUnauthenticated: Missing or invalid refresh token
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		respond.Error(writer, request, apperr.Unauthenticated("Missing refresh token in cookies"))
		return
	}

	session, err := handler.authService.RefreshSession(request.Context(), cookie.Value)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	setSessionCookies(writer, session)
	respond.OK(writer, map[string]any{
		"access_token": session.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   AccessTokenTTL / time.Second,
	})
}

/*
Logout terminates the current session.

POST /api/v1/auth/logout

Description: Revokes the refresh secret (if present) and clears the
security cookies. Always succeeds; signing out twice is not an error.

Response:
  - 204: No Content: Session terminated
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)

	if err == nil && cookie != nil && cookie.Value != "" {
		_ = handler.authService.Logout(request.Context(), cookie.Value)
	}

	clearSessionCookies(writer)
	respond.NoContent(writer)
}

/*
GetMe returns the identity profile behind the authenticated session.

GET /api/v1/auth/me

Response:
  - 200: identity.Record: The caller's profile
  - 401: ErrUnauthenticated: Authentication required
*/
func (handler *Handler) getMe(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	record, err := handler.authService.Profile(request.Context(), claims.Subject)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, record)
}

/*
Check reports the lifecycle state of the caller's session plus the
capability snapshot derived from their claims.

GET /api/v1/auth/check

Response:
  - 200: Check payload: Session state and permission snapshot
  - 401: ErrUnauthenticated: Authentication required
*/
func (handler *Handler) check(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	state := StateUninitialized
	if cookie, err := request.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if manager, ok := handler.registry.Lookup(cookie.Value); ok {
			state, _ = manager.Check(request.Context())
		}
	}

	respond.OK(writer, map[string]any{
		"state":       state,
		"permissions": ComputeSnapshot(claims),
	})
}

/*
AntiForgery mints a token the client must echo on mutating calls.

GET /api/v1/auth/antiforgery

Description: Only identities holding the write capability ever need this
token, so issuance runs through the permission gate. Guests and unverified
members are denied before the provider is contacted.

Response:
  - 200: Token payload: The token for the X-Anti-Forgery-Token header
  - 401: ErrUnauthenticated: Authentication required
  - 403: ErrPermissionDenied: Caller lacks the write capability
*/
func (handler *Handler) antiForgery(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if _, err := handler.gate.Require(claims, CapabilityWrite); err != nil {
		respond.Error(writer, request, err)
		return
	}

	token, err := handler.authService.IssueAntiForgeryToken(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{"token": token})
}

/*
Upgrade converts the authenticated guest into a full member.

POST /api/v1/auth/upgrade

Request:
  - Body: upgradeRequest (Email, Password)

Response:
  - 200: identity.Record: The upgraded profile
  - 401: ErrUnauthenticated: Authentication required
  - 409: ErrConflict: Email already registered or account not upgradeable
*/
func (handler *Handler) upgrade(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input upgradeRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required("email", input.Email).
		Email("email", input.Email).
		Required("password", input.Password).
		MinLen("password", input.Password, 8)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	record, err := handler.authService.UpgradeGuest(request.Context(), UpgradeGuestInput{
		IdentityID: claims.Subject,
		Email:      input.Email,
		Password:   input.Password,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, record)
}

// # Anti-Forgery Enforcement

// RequireAntiForgery rejects mutating requests that do not echo a token
// previously issued by the antiforgery endpoint. Safe methods pass through.
func RequireAntiForgery(store AntiForgeryStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			switch request.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(writer, request)
				return
			}

			token := request.Header.Get(constants.HeaderAntiForgery)
			if token == "" {
				respond.Error(writer, request, apperr.Forbidden("Missing anti-forgery token"))
				return
			}

			valid, err := store.IsValid(request.Context(), token)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}
			if !valid {
				respond.Error(writer, request, apperr.Forbidden("Invalid or expired anti-forgery token"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// # Cookie & Payload Helpers

// setSessionCookies injects the refresh secret and session ID cookies.
func setSessionCookies(writer http.ResponseWriter, session *LoginSession) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    session.RefreshToken,
		Path:     constants.RefreshTokenCookiePath,
		Expires:  session.RefreshTokenExpiresAt,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.SessionID,
		Path:     "/",
		Expires:  session.RefreshTokenExpiresAt,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookies expires both security cookies on the client.
func clearSessionCookies(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// sessionPayload shapes the JSON body returned after sign-in. The
// capability snapshot is read off the freshly minted token so clients
// learn their write permissions without a second round trip.
func sessionPayload(session *LoginSession) map[string]any {
	claims, err := sec.ExtractClaims(session.AccessToken)
	if err != nil {
		claims = nil
	}

	return map[string]any{
		"access_token": session.AccessToken,
		"token_type":   "Bearer",
		"origin":       session.Origin,
		"identity":     session.Identity,
		"permissions":  ComputeSnapshot(claims),
	}
}

// getClientIP tries to extract the real IP of a caller behind proxies.
func getClientIP(request *http.Request) string {

	ip := request.Header.Get("X-Real-IP")
	if ip == "" {
		ip = request.Header.Get("X-Forwarded-For")
	}

	if ip == "" {
		ip = request.RemoteAddr
	}
	return ip
}
