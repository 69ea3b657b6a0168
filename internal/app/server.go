package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"usermanager/backend/internal/auth"
	"usermanager/backend/internal/policy"
	"usermanager/backend/internal/repository"
	"usermanager/backend/internal/service"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

type Server struct {
	cfg    Config
	db     *bun.DB
	logger *log.Logger
	users  *service.UserService
	mux    *http.ServeMux
	http   *http.Server
}

// authedHandlerFunc receives the caller resolved by withAuth.
type authedHandlerFunc func(w http.ResponseWriter, r *http.Request, caller policy.Caller)

type responseError struct {
	Message string               `json:"message"`
	Errors  []service.FieldError `json:"errors,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewServer opens the configured database, makes sure the users table exists
// and wires the HTTP routes. When ADMIN_INIT_ENABLED is set it also
// bootstraps the first administrator.
func NewServer(ctx context.Context, cfg Config, logger *log.Logger) (*Server, error) {
	db, err := repository.Open(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s := newServer(cfg, db, logger)

	if cfg.AdminInitEnabled {
		outcome, err := s.InitFirstAdmin(ctx, cfg.AdminInitName, cfg.AdminInitEmail, cfg.AdminInitPassword)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init admin: %w", err)
		}
		logger.Info("admin init", "outcome", outcome, "email", service.NormalizeEmail(cfg.AdminInitEmail))
	}

	return s, nil
}

func newServer(cfg Config, db *bun.DB, logger *log.Logger) *Server {
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiresIn)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)

	s := &Server{
		cfg:    cfg,
		db:     db,
		logger: logger,
		users:  service.NewUserService(repository.NewBunUserRepository(db), hasher, tokens),
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	return s.withRequestLog(s.withRecover(s.mux))
}

func (s *Server) Close() error {
	return s.db.Close()
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("user management service listening", "addr", s.http.Addr, "db", s.cfg.DB.Type)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("/", s.handleNotFound)

	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)

	s.mux.Handle("GET /users", s.withAuth(s.handleListUsers))
	s.mux.Handle("GET /users/{id}", s.withAuth(s.handleGetUser))
	s.mux.Handle("PUT /users/{id}", s.withAuth(s.handleUpdateUser))
	s.mux.Handle("DELETE /users/{id}", s.withAuth(s.handleDeleteUser))
	s.mux.Handle("PATCH /users/{id}/password", s.withAuth(s.handleChangePassword))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "user-management"})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "user management API"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	s.writeErr(w, http.StatusNotFound, "route not found")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if !s.decodeBody(w, r, &req) {
		return
	}

	user, err := s.users.Register(r.Context(), req)
	if err != nil {
		s.writeServiceErr(w, r, err, "failed to register")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "user registered successfully",
		"user":    user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.users.Login(r.Context(), req)
	if err != nil {
		s.writeServiceErr(w, r, err, "failed to login")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "login successful",
		"token":   result.Token,
		"user":    result.User,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, caller policy.Caller) {
	if err := policy.AuthorizeList(caller); err != nil {
		s.writeServiceErr(w, r, err, "failed to list users")
		return
	}

	page, err := parsePositiveQueryInt(r, "page")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, service.ErrInvalidPage.Error())
		return
	}
	limit, err := parsePositiveQueryInt(r, "limit")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, service.ErrInvalidLimit.Error())
		return
	}

	result, err := s.users.ListUsers(r.Context(), caller, service.ListUsersInput{
		Query:   r.URL.Query().Get("q"),
		Country: r.URL.Query().Get("country"),
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		s.writeServiceErr(w, r, err, "failed to list users")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "users retrieved successfully",
		"total":      result.Total,
		"page":       result.Page,
		"limit":      result.Limit,
		"totalPages": result.TotalPages,
		"users":      result.Users,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, caller policy.Caller) {
	id, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	user, err := s.users.GetUser(r.Context(), caller, id)
	if err != nil {
		s.writeServiceErr(w, r, err, "failed to get user")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "user details retrieved successfully",
		"user":    user,
	})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, caller policy.Caller) {
	var req service.UpdateUserInput
	if !s.decodeOptionalBody(w, r, &req) {
		return
	}
	id, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	user, err := s.users.UpdateUser(r.Context(), caller, id, req)
	if err != nil {
		s.writeServiceErr(w, r, err, "failed to update user")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "user updated successfully",
		"user":    user,
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, caller policy.Caller) {
	id, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	if err := s.users.DeleteUser(r.Context(), caller, id); err != nil {
		s.writeServiceErr(w, r, err, "failed to delete user")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "user deleted successfully",
		"deletedUserId": id,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, caller policy.Caller) {
	var req service.ChangePasswordInput
	if !s.decodeBody(w, r, &req) {
		return
	}
	id, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	if err := s.users.ChangePassword(r.Context(), caller, id, req); err != nil {
		s.writeServiceErr(w, r, err, "failed to update password")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "password updated successfully"})
}

// InitFirstAdmin creates or promotes the first administrator. It is a no-op
// once any Admin exists.
func (s *Server) InitFirstAdmin(ctx context.Context, name, email, password string) (service.BootstrapOutcome, error) {
	return s.users.BootstrapAdmin(ctx, service.BootstrapAdminInput{
		Name:     name,
		Email:    email,
		Password: password,
	})
}

func (s *Server) withAuth(next authedHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			s.writeErr(w, http.StatusUnauthorized, "access denied, no token provided")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		caller, err := s.users.Authenticate(r.Context(), tokenString)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				s.writeErr(w, http.StatusUnauthorized, "token expired")
			case errors.Is(err, auth.ErrTokenInvalid):
				s.writeErr(w, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, service.ErrCallerNotFound):
				s.writeErr(w, http.StatusUnauthorized, service.ErrCallerNotFound.Error())
			default:
				s.logFailure(w, r, err)
				s.writeErr(w, http.StatusInternalServerError, "failed to authenticate")
			}
			return
		}

		next(w, r, caller)
	})
}

// writeServiceErr maps a service error onto its HTTP status. Unknown errors
// are logged and answered with fallback.
func (s *Server) writeServiceErr(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, responseError{Message: "validation failed", Errors: verr.Fields})
	case errors.Is(err, service.ErrInvalidPage), errors.Is(err, service.ErrInvalidLimit):
		s.writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		s.writeErr(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, policy.ErrForbidden):
		s.writeErr(w, http.StatusForbidden, err.Error())
	case errors.Is(err, policy.ErrSelfDelete), errors.Is(err, service.ErrWrongPassword):
		s.writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrUserNotFound):
		s.writeErr(w, http.StatusNotFound, "user not found")
	case errors.Is(err, repository.ErrEmailTaken):
		s.writeErr(w, http.StatusConflict, "email already registered")
	default:
		s.logFailure(w, r, err)
		s.writeErr(w, http.StatusInternalServerError, fallback)
	}
}

func (s *Server) logFailure(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", w.Header().Get(requestIDHeader),
		"err", err,
	)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", requestID,
		)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			s.logger.Error("panic serving request",
				"path", r.URL.Path,
				"request_id", w.Header().Get(requestIDHeader),
				"panic", p,
				"stack", string(debug.Stack()),
			)
			if rec, ok := w.(*statusRecorder); ok && rec.wroteHeader {
				return
			}
			s.writeErr(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return s.decodeJSON(w, r, dst, false)
}

// decodeOptionalBody treats an empty body as an empty object.
func (s *Server) decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return s.decodeJSON(w, r, dst, true)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	s.writeErr(w, http.StatusBadRequest, "invalid request body")
	return false
}

func (s *Server) parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		s.writeErr(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func parsePositiveQueryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	if v < 1 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func (s *Server) writeErr(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, responseError{Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write json response",
			"err", err,
			"request_id", w.Header().Get(requestIDHeader),
		)
	}
}
