package auth

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/accounts-api/internal/httputil"
	"github.com/redmonkez12/accounts-api/internal/logging"
	"github.com/redmonkez12/accounts-api/internal/user"
)

// Rate limit purposes
const (
	purposeLogin    = "login"
	purposeRegister = "register"
)

// extra room for form fields on top of the avatar itself
const multipartOverhead = 1 << 20

// RateLimiter counts a request per client IP and purpose and reports whether
// it is within the allowance.
type RateLimiter interface {
	Allow(ctx context.Context, ip, purpose string) (bool, error)
}

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service        *Service
	rateLimiter    RateLimiter
	metrics        Metrics
	maxAvatarBytes int64
}

func NewHandler(service *Service, rateLimiter RateLimiter, metrics Metrics) *Handler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Handler{
		service:        service,
		rateLimiter:    rateLimiter,
		metrics:        metrics,
		maxAvatarBytes: service.maxAvatarBytes,
	}
}

// RefreshRequest represents the token refresh and blacklist request body
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// VerifyRequest represents the token verify request body
type VerifyRequest struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	FullName  string     `json:"full_name"`
	Avatar    *string    `json:"avatar"`
	Bio       string     `json:"bio"`
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User    UserResponse `json:"user"`
	Tokens  TokenPair    `json:"tokens"`
	Message string       `json:"message"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create a new account and receive an access/refresh token pair. Accepts JSON or multipart/form-data with an "avatar" image file.
// @Tags         auth
// @Accept       json,mpfd
// @Produce      json
// @Param        request body RegisterInput true "Registration data"
// @Success      201 {object} AuthResponse
// @Failure      400 {object} map[string][]object "Field validation errors or malformed body"
// @Failure      429 {object} ErrorResponse "Too many requests"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	// Rate limit by IP
	ip := getClientIP(r)
	if h.throttled(r.Context(), logger, ip, purposeRegister) {
		h.metrics.ObserveRegistration(OutcomeThrottled)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	in, avatar, err := h.decodeRegistration(w, r)
	if err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondMalformedBody(w)
		return
	}

	logger = logger.WithFields(map[string]any{"email": in.Email, "username": in.Username})

	result, err := h.service.Register(r.Context(), in, avatar)
	if err != nil {
		if v, ok := AsValidationError(err); ok {
			logger.Warn("registration failed: validation error", "error", v.Error())
			respondJSON(w, v, http.StatusBadRequest)
			return
		}
		logger.WithError(err).Error("registration failed: internal error")
		respondError(w, "failed to register user", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user registered successfully", "user_id", result.User.ID)

	respondJSON(w, h.authResponse(result), http.StatusCreated)
}

// decodeRegistration reads either a JSON or a multipart registration body.
func (h *Handler) decodeRegistration(w http.ResponseWriter, r *http.Request) (RegisterInput, *AvatarUpload, error) {
	var in RegisterInput

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		err := json.NewDecoder(r.Body).Decode(&in)
		return in, nil, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAvatarBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxAvatarBytes + multipartOverhead); err != nil {
		return in, nil, err
	}

	in = RegisterInput{
		Email:           r.FormValue("email"),
		Username:        r.FormValue("username"),
		FirstName:       r.FormValue("first_name"),
		LastName:        r.FormValue("last_name"),
		Password:        r.FormValue("password"),
		PasswordConfirm: r.FormValue("password_confirm"),
		Bio:             r.FormValue("bio"),
	}

	file, header, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil, nil
	}
	if err != nil {
		return in, nil, err
	}

	// multipart keeps parts in memory or temp files; they are released by
	// net/http when the request completes
	return in, &AvatarUpload{Filename: header.Filename, Size: header.Size, Content: file}, nil
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate with email and password and receive access and refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginInput true "Login credentials"
// @Success      200 {object} AuthResponse
// @Failure      400 {object} map[string][]object "Invalid credentials, inactive account or validation error"
// @Failure      429 {object} ErrorResponse "Too many requests"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	// Rate limit by IP, before any credential check
	ip := getClientIP(r)
	if h.throttled(r.Context(), logger, ip, purposeLogin) {
		h.metrics.ObserveLogin(OutcomeThrottled)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	var in LoginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondMalformedBody(w)
		return
	}
	in.IP = ip
	in.UserAgent = r.UserAgent()

	logger = logger.WithFields(map[string]any{"email": in.Email, "user_agent": in.UserAgent})

	result, err := h.service.Login(r.Context(), in)
	if err != nil {
		if v, ok := AsValidationError(err); ok {
			logger.Warn("login failed", "error", v.Error())
			respondJSON(w, v, http.StatusBadRequest)
			return
		}
		logger.WithError(err).Error("login failed: internal error")
		respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in successfully", "user_id", result.User.ID)

	respondJSON(w, h.authResponse(result), http.StatusOK)
}

// Refresh handles refresh token rotation
// @Summary      Refresh tokens
// @Description  Exchange a refresh token for a new access/refresh pair. The presented refresh token is blacklisted.
// @Tags         token
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest true "Refresh token"
// @Success      200 {object} TokenPair
// @Failure      400 {object} map[string][]object "Missing refresh token"
// @Failure      401 {object} ErrorResponse "Invalid, expired or blacklisted refresh token"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /token/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	refresh, ok := decodeRequiredField(w, r, logger, "refresh")
	if !ok {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), refresh)
	if err != nil {
		if IsTokenError(err) {
			logger.Warn("token refresh failed", "error", err.Error())
			respondTokenNotValid(w)
			return
		}
		logger.WithError(err).Error("token refresh failed: internal error")
		respondError(w, "failed to refresh token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("refresh token rotated")

	respondJSON(w, tokens, http.StatusOK)
}

// Blacklist handles logout by blacklisting a refresh token
// @Summary      Blacklist refresh token
// @Description  Log out by blacklisting the given refresh token
// @Tags         token
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest true "Refresh token"
// @Success      200 {object} map[string]string
// @Failure      401 {object} ErrorResponse "Invalid, expired or already blacklisted token"
// @Router       /token/blacklist [post]
func (h *Handler) Blacklist(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	refresh, ok := decodeRequiredField(w, r, logger, "refresh")
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), refresh); err != nil {
		if IsTokenError(err) {
			logger.Warn("blacklist failed", "error", err.Error())
			respondTokenNotValid(w)
			return
		}
		logger.WithError(err).Error("blacklist failed: internal error")
		respondError(w, "failed to blacklist token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged out successfully")

	httputil.RespondEmpty(w, http.StatusOK)
}

// Verify checks a token
// @Summary      Verify token
// @Description  Check that an access or refresh token is valid and not blacklisted
// @Tags         token
// @Accept       json
// @Produce      json
// @Param        request body VerifyRequest true "Token"
// @Success      200 {object} map[string]string
// @Failure      401 {object} ErrorResponse "Token not valid"
// @Router       /token/verify [post]
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token, ok := decodeRequiredField(w, r, logger, "token")
	if !ok {
		return
	}

	if err := h.service.VerifyToken(r.Context(), token); err != nil {
		if IsTokenError(err) {
			respondTokenNotValid(w)
			return
		}
		logger.WithError(err).Error("token verify failed: internal error")
		respondError(w, "failed to verify token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondEmpty(w, http.StatusOK)
}

// Me returns the authenticated user
// @Summary      Current user
// @Description  Return the user the bearer access token was issued to
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} UserResponse
// @Failure      401 {object} ErrorResponse "Unauthorized or inactive user"
// @Router       /me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, "Authentication credentials were not provided.", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	u, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			logger.Warn("token user no longer exists", "user_id", userID)
			respondError(w, "User not found", httputil.CodeUserNotFound, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrInactiveUser) {
			logger.Warn("access token presented for inactive user", "user_id", userID)
			respondError(w, "User is inactive", httputil.CodeUserInactive, http.StatusUnauthorized)
			return
		}
		logger.WithError(err).Error("failed to load current user")
		respondError(w, "failed to load user", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, h.userResponse(u), http.StatusOK)
}

func (h *Handler) throttled(ctx context.Context, logger *logging.Logger, ip, purpose string) bool {
	allowed, err := h.rateLimiter.Allow(ctx, ip, purpose)
	if err != nil {
		// fail open: a Redis outage must not lock everyone out
		logger.WithError(err).Error("failed to check IP rate limit")
		return false
	}
	if !allowed {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
	}
	return !allowed
}

func (h *Handler) authResponse(result *AuthResult) AuthResponse {
	return AuthResponse{
		User:    h.userResponse(result.User),
		Tokens:  *result.Tokens,
		Message: result.Message,
	}
}

func (h *Handler) userResponse(u *user.User) UserResponse {
	resp := UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		FullName:  u.FullName(),
		Bio:       u.Bio,
		IsActive:  u.IsActive,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.Avatar != nil {
		url := h.service.AvatarURL(*u.Avatar)
		resp.Avatar = &url
	}
	return resp
}

// decodeRequiredField decodes a one-field JSON body and reports a missing
// value as a field validation error.
func decodeRequiredField(w http.ResponseWriter, r *http.Request, logger *logging.Logger, field string) (string, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Warn("invalid request body", "error", err.Error())
		respondMalformedBody(w)
		return "", false
	}

	value, _ := body[field].(string)
	value = strings.TrimSpace(value)
	if value == "" {
		respondJSON(w, NewValidationError(field, httputil.CodeRequired, "This field is required."), http.StatusBadRequest)
		return "", false
	}
	return value, true
}

func respondMalformedBody(w http.ResponseWriter) {
	respondJSON(w, NewValidationError(FieldDetail, httputil.CodeInvalidRequestBody, "Malformed request body."), http.StatusBadRequest)
}

func respondTokenNotValid(w http.ResponseWriter) {
	respondError(w, "Token is invalid or expired", httputil.CodeTokenNotValid, http.StatusUnauthorized)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP returns the client IP. chi's RealIP middleware has already
// rewritten RemoteAddr from X-Forwarded-For / X-Real-IP when present.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
