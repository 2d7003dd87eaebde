package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/middleware"
	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/internal/services"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds the JSON body of every action.
const maxBodyBytes = 64 << 10

// Action names one operation of the auth endpoint.
type Action string

const (
	ActionRegister     Action = "register"
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionCheckSession Action = "check-session"
	ActionGoogleLogin  Action = "google-login"
)

// anyMethod marks an action that accepts every HTTP method.
const anyMethod = ""

// AuthService is the set of domain operations behind the endpoint.
// *services.AuthService is the production implementation.
type AuthService interface {
	Register(ctx context.Context, sess *models.Session, in services.RegisterInput, meta models.RequestMeta) (*services.AuthResult, error)
	Login(ctx context.Context, sess *models.Session, in services.LoginInput, meta models.RequestMeta) (*services.AuthResult, error)
	GoogleLogin(ctx context.Context, sess *models.Session, in services.GoogleLoginInput, meta models.RequestMeta) (*services.AuthResult, error)
	Logout(ctx context.Context, sess *models.Session, rememberToken string, meta models.RequestMeta) *services.AuthResult
	CheckSession(sess *models.Session) services.SessionStatus
}

// actionFunc runs one action and returns the success payload.
type actionFunc func(h *AuthHandler, w http.ResponseWriter, r *http.Request, sess *models.Session) (interface{}, error)

type route struct {
	method  string
	handle  actionFunc
	generic string // Client message for errors that are not *apperr.Error
}

// routes is the closed set of actions the endpoint serves.
var routes = map[Action]route{
	ActionRegister:     {method: http.MethodPost, handle: (*AuthHandler).register, generic: "An error occurred during registration"},
	ActionLogin:        {method: http.MethodPost, handle: (*AuthHandler).login, generic: "An error occurred during login"},
	ActionLogout:       {method: anyMethod, handle: (*AuthHandler).logout, generic: "An error occurred during logout"},
	ActionCheckSession: {method: http.MethodGet, handle: (*AuthHandler).checkSession, generic: "An error occurred"},
	ActionGoogleLogin:  {method: http.MethodPost, handle: (*AuthHandler).googleLogin, generic: "An error occurred during Google login"},
}

// AuthResponse is the success envelope of every action except check-session.
//
// JSON example:
//
//	{
//	  "success": true,
//	  "message": "Login successful",
//	  "user": {"id": 42, "email": "alice@example.com", "first_name": "Alice", "last_name": "Smith"}
//	}
type AuthResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	User    *models.PublicUser `json:"user,omitempty"`
}

// AuthHandler serves the single auth endpoint. It is the only writer of the
// response envelope and of the session and remember-me cookies.
type AuthHandler struct {
	auth         AuthService
	cookieName   string
	rememberName string
	isProduction bool
}

// NewAuthHandler creates the auth endpoint handler.
//
// Example:
//
//	authHandler := handlers.NewAuthHandler(authSvc, cfg.Session.CookieName, cfg.Server.IsProduction())
//	r.With(loader.Handler).HandleFunc("/api/auth", authHandler.ServeHTTP)
func NewAuthHandler(auth AuthService, cookieName string, isProduction bool) *AuthHandler {
	return &AuthHandler{
		auth:         auth,
		cookieName:   cookieName,
		rememberName: middleware.RememberCookieName,
		isProduction: isProduction,
	}
}

// ServeHTTP dispatches on the action query parameter.
//
// Resolution order:
//  1. Unknown action: 400 "Invalid action"
//  2. Wrong method for a known action: 405 "Method not allowed"
//  3. The action's handler; its error becomes {"error": message} with the
//     status of the error's kind
//
// Example requests:
//
//	POST /api/auth?action=login
//	Content-Type: application/json
//	{"email": "alice@example.com", "password": "pass1234", "remember": true}
//
//	GET /api/auth?action=check-session
func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := Action(r.URL.Query().Get("action"))
	rt, ok := routes[action]
	if !ok {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid action")
		return
	}
	if rt.method != anyMethod && r.Method != rt.method {
		h.fail(w, r, action, rt, apperr.MethodNotAllowed())
		return
	}

	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		sess = models.NewAnonymousSession(time.Now())
	}

	payload, err := rt.handle(h, w, r, sess)
	if err != nil {
		h.fail(w, r, action, rt, err)
		return
	}
	middleware.IncrementAuthAttempts(string(action), "success")
	utils.RespondWithJSON(w, r, http.StatusOK, payload)
}

// fail renders err. Internal errors never expose their cause.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, action Action, rt route, err error) {
	status := apperr.StatusCode(err)
	message := rt.generic
	if appErr, ok := apperr.As(err); ok {
		message = appErr.Message
		middleware.IncrementAuthAttempts(string(action), appErr.Kind.String())
	} else {
		middleware.IncrementAuthAttempts(string(action), "internal")
	}

	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("action", string(action)).
			Str("request_id", utils.GetRequestID(r.Context())).
			Msg("Auth action failed")
	}

	utils.RespondWithError(w, r, status, message)
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request, sess *models.Session) (interface{}, error) {
	var in services.RegisterInput
	if err := decodeBody(w, r, &in); err != nil {
		return nil, err
	}

	res, err := h.auth.Register(r.Context(), sess, in, middleware.RequestMeta(r))
	if err != nil {
		return nil, err
	}
	return h.signedIn(w, sess, res), nil
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, sess *models.Session) (interface{}, error) {
	var in services.LoginInput
	if err := decodeBody(w, r, &in); err != nil {
		return nil, err
	}

	res, err := h.auth.Login(r.Context(), sess, in, middleware.RequestMeta(r))
	if err != nil {
		return nil, err
	}
	return h.signedIn(w, sess, res), nil
}

func (h *AuthHandler) googleLogin(w http.ResponseWriter, r *http.Request, sess *models.Session) (interface{}, error) {
	var in services.GoogleLoginInput
	if err := decodeBody(w, r, &in); err != nil {
		return nil, err
	}

	res, err := h.auth.GoogleLogin(r.Context(), sess, in, middleware.RequestMeta(r))
	if err != nil {
		return nil, err
	}
	return h.signedIn(w, sess, res), nil
}

// logout always succeeds. Both cookies are cleared whatever the server-side
// outcome.
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request, sess *models.Session) (interface{}, error) {
	var token string
	if c, err := r.Cookie(h.rememberName); err == nil {
		token = c.Value
	}

	res := h.auth.Logout(r.Context(), sess, token, middleware.RequestMeta(r))

	utils.ClearAuthCookie(w, h.cookieName)
	utils.ClearAuthCookie(w, h.rememberName)
	return AuthResponse{Success: true, Message: res.Message}, nil
}

func (h *AuthHandler) checkSession(_ http.ResponseWriter, _ *http.Request, sess *models.Session) (interface{}, error) {
	return h.auth.CheckSession(sess), nil
}

// signedIn writes the cookies of a freshly authenticated session.
func (h *AuthHandler) signedIn(w http.ResponseWriter, sess *models.Session, res *services.AuthResult) AuthResponse {
	utils.SetSessionCookie(w, h.cookieName, sess.ID, h.isProduction)
	if res.Remember != nil {
		utils.SetAuthCookie(w, h.rememberName, res.Remember.Token, res.Remember.ExpiresAt, h.isProduction)
	}
	return AuthResponse{Success: true, Message: res.Message, User: res.User}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}
