// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
HTTP delivery layer for the passwordless authentication lifecycle.

It implements the gateway from the web to the [Service]: magic-link issuance
and verification, session refresh, and the logout endpoints.

# Architecture

The handler acts as a thin mediation layer between the web and the domain
service:
  - Protocol: Standard RESTful JSON interface with fixed response shapes.
  - Security: Injects and clears the HttpOnly access/refresh cookie pair.
  - Verification: Enforces strict input validation before passing to [Service].

This layer is strictly responsible for transport concerns (status codes,
headers, cookies, JSON). Every security decision lives in the service.
*/
package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/z9k1/Keyra/internal/platform/constants"
	"github.com/z9k1/Keyra/internal/platform/middleware"
	requestutil "github.com/z9k1/Keyra/internal/platform/request"
	"github.com/z9k1/Keyra/internal/platform/respond"
	"github.com/z9k1/Keyra/internal/platform/validate"
)

// # Definitions & Constructors

// CookieSettings carries the deployment-dependent attributes of the two auth
// cookies. Lifetimes mirror the token TTLs so the browser drops a cookie at
// the same moment the credential inside it dies.
type CookieSettings struct {
	// Secure restricts the cookies to HTTPS. Disabled only in local development.
	Secure bool

	// SameSite is the cross-site sending policy (lax by default).
	SameSite http.SameSite

	// Domain optionally widens the cookie scope to a parent domain.
	Domain string

	// AccessTokenTTL becomes the access_token cookie Max-Age.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL becomes the refresh_token cookie Max-Age.
	RefreshTokenTTL time.Duration
}

// ParseSameSite maps the configuration string (lax/strict/none) to the
// [http.SameSite] constant, defaulting to Lax for anything unrecognized.
func ParseSameSite(value string) http.SameSite {
	switch value {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Handler implements the authentication HTTP endpoints.
type Handler struct {
	authService *Service
	cookies     CookieSettings
}

// NewHandler constructs a new [Handler] with its service dependency and the
// cookie policy for this deployment.
func NewHandler(service *Service, cookies CookieSettings) *Handler {
	return &Handler{authService: service, cookies: cookies}
}

// Routes returns a [chi.Router] configured with the authentication routes.
//
// # Endpoints
//   - POST /magic/request : Issues a magic link (always answers ok).
//   - POST /magic/verify  : Exchanges a magic token for a session.
//   - POST /refresh       : Rotates the refresh token.
//   - POST /logout        : Revokes the presented session.
//   - POST /logout-all    : Revokes every session of the bearer (auth required).
//   - GET  /me            : Returns the bearer's account (auth required).
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Post("/magic/request", handler.requestMagicLink)
	router.Post("/magic/verify", handler.verifyMagicLink)
	router.Post("/refresh", handler.refresh)
	router.Post("/logout", handler.logout)

	// Protected endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Post("/logout-all", handler.logoutAll)
		r.Get("/me", handler.me)
	})

	return router
}

// # Request Payloads

type magicRequestPayload struct {
	Email string `json:"email"`
}

type magicVerifyPayload struct {
	Token string `json:"token"`
}

/*
RequestMagicLink issues a single-use login link for an email address.

POST /auth/magic/request

Description: Validates the address shape only. The response is the constant
{"status":"ok"} whether or not the address has an account and whether or not
the request was rate limited, so the endpoint cannot enumerate users.

Request:
  - Body: magicRequestPayload (Email)

Response:
  - 200: {"status":"ok"} (always, for every well-formed address)
  - 400: validation_error: Missing or malformed email
*/
func (handler *Handler) requestMagicLink(writer http.ResponseWriter, request *http.Request) {
	var input magicRequestPayload

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err := handler.authService.RequestMagicLink(request.Context(), MagicLinkInput{
		Email:            input.Email,
		RequestIP:        middleware.RealIP(request),
		RequestUserAgent: request.UserAgent(),
	})

	// Only infra failures reach here; denials already returned nil.
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Status(writer)
}

/*
VerifyMagicLink exchanges a magic-link token for an authenticated session.

POST /auth/magic/verify

Description: Consumes the single-use challenge and sets the access_token and
refresh_token cookies. A second presentation of the same token fails.

Request:
  - Body: magicVerifyPayload (Token)

Response:
  - 200: {"status":"ok"} + Set-Cookie x 2
  - 400: invalid_or_expired_token: Unknown, used, or expired token
*/
func (handler *Handler) verifyMagicLink(writer http.ResponseWriter, request *http.Request) {
	var input magicVerifyPayload

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if input.Token == "" {
		respond.Error(writer, request, validate.RequiredError(FieldToken, "This field is required"))
		return
	}

	session, err := handler.authService.VerifyMagicLink(request.Context(), VerifyInput{
		Token:            input.Token,
		RequestIP:        middleware.RealIP(request),
		RequestUserAgent: request.UserAgent(),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setAuthCookies(writer, session)
	respond.Status(writer)
}

/*
Refresh rotates the refresh token and issues a fresh access token.

POST /auth/refresh

Description: Validates the refresh_token cookie and rotates the session. A
reused, expired, or hijack-suspect token burns the whole session chain before
the error is returned.

Response:
  - 200: {"status":"ok"} + Set-Cookie x 2
  - 401: missing_refresh_token / invalid_refresh_token /
    refresh_token_expired / refresh_token_reuse / session_hijacking
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		respond.Error(writer, request, ErrMissingRefreshToken)
		return
	}

	session, err := handler.authService.RefreshSession(
		request.Context(),
		cookie.Value,
		request.UserAgent(),
		middleware.RealIP(request),
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setAuthCookies(writer, session)
	respond.Status(writer)
}

/*
Logout revokes the presented session and clears the auth cookies.

POST /auth/logout

Description: Revoking an already-revoked session succeeds again (idempotent),
so a client can retry logout safely. Only a token matching no session is
rejected.

Response:
  - 200: {"status":"ok"}, cookies cleared
  - 401: missing_refresh_token / invalid_refresh_token
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		respond.Error(writer, request, ErrMissingRefreshToken)
		return
	}

	if err := handler.authService.Logout(request.Context(), cookie.Value); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearAuthCookies(writer)
	respond.Status(writer)
}

/*
LogoutAll revokes every session of the authenticated user.

POST /auth/logout-all

Description: The kill switch after a suspected account compromise. Requires a
valid access token; the refresh cookie is not consulted.

Response:
  - 200: {"status":"ok"}, cookies cleared
  - 401: unauthorized: No valid access token presented
*/
func (handler *Handler) logoutAll(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.LogoutAll(request.Context(), userID); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearAuthCookies(writer)
	respond.Status(writer)
}

/*
Me returns the authenticated user's public account projection.

GET /auth/me

Response:
  - 200: User: {id, email, email_verified_at, created_at}
  - 401: unauthorized: No valid access token, or the account was deleted
*/
func (handler *Handler) me(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.authService.CurrentUser(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, user)
}

// # Cookie Plumbing

// setAuthCookies writes the access/refresh cookie pair for a fresh session.
func (handler *Handler) setAuthCookies(writer http.ResponseWriter, session *AuthSession) {
	http.SetCookie(writer, handler.buildCookie(
		constants.AccessTokenCookieName,
		session.AccessToken,
		int(handler.cookies.AccessTokenTTL.Seconds()),
	))
	http.SetCookie(writer, handler.buildCookie(
		constants.RefreshTokenCookieName,
		session.RefreshToken,
		int(handler.cookies.RefreshTokenTTL.Seconds()),
	))
}

// clearAuthCookies expires both auth cookies on the client.
func (handler *Handler) clearAuthCookies(writer http.ResponseWriter) {
	http.SetCookie(writer, handler.buildCookie(constants.AccessTokenCookieName, "", -1))
	http.SetCookie(writer, handler.buildCookie(constants.RefreshTokenCookieName, "", -1))
}

// buildCookie applies the deployment cookie policy to one cookie.
func (handler *Handler) buildCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     constants.AuthCookiePath,
		Domain:   handler.cookies.Domain,
		MaxAge:   maxAge,
		Secure:   handler.cookies.Secure,
		HttpOnly: true,
		SameSite: handler.cookies.SameSite,
	}
}
