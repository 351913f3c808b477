package routes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/config"
	"github.com/tavernchat/users-api/internal/handle"
	"github.com/tavernchat/users-api/internal/invites"
	"github.com/tavernchat/users-api/internal/metrics"
	"github.com/tavernchat/users-api/internal/middleware"
	"github.com/tavernchat/users-api/internal/models"
	"github.com/tavernchat/users-api/internal/security"
	"github.com/tavernchat/users-api/internal/session"
	"github.com/tavernchat/users-api/internal/store"
	apperrors "github.com/tavernchat/users-api/pkg/errors"
)

// UserStore is the credential store surface used by the handlers.
type UserStore interface {
	Get(ctx context.Context, handle string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, handle, password, salt string) error
	List(ctx context.Context) ([]models.User, error)
}

// RateLimiter is a per-IP point budget for one operation class.
type RateLimiter interface {
	Name() string
	Consume(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// CodeCache holds pending recovery codes keyed by handle.
type CodeCache interface {
	Set(ctx context.Context, handle, code string) error
	Get(ctx context.Context, handle string) (string, error)
	Remove(ctx context.Context, handle string) error
}

// SessionStore binds opaque tokens to authenticated handles.
type SessionStore interface {
	Create(ctx context.Context, handle string) (string, error)
	Get(ctx context.Context, token string) (*session.Session, error)
	Touch(ctx context.Context, token string) error
	Clear(ctx context.Context, token string) error
}

// InvitationGate validates and consumes registration invitation codes.
type InvitationGate interface {
	Validate(ctx context.Context, code string) error
	Consume(ctx context.Context, code, handle string) error
}

// ContentProvisioner creates user storage and resolves avatars.
type ContentProvisioner interface {
	Provision(handle string) error
	AvatarFor(handle string) string
}

// ActivityRecorder receives login/logout/heartbeat events for the monitor.
type ActivityRecorder interface {
	RecordLogin(handle, name string)
	RecordLogout(handle string)
	RecordActivity(handle, name string)
}

// UsersHandler implements the public user-management endpoints.
type UsersHandler struct {
	cfg             *config.AuthConfig
	users           UserStore
	sessions        SessionStore
	codes           CodeCache
	loginLimiter    RateLimiter
	recoverLimiter  RateLimiter
	registerLimiter RateLimiter
	invites         InvitationGate
	content         ContentProvisioner
	activity        ActivityRecorder
	logger          *logrus.Logger
}

// UsersHandlerDeps bundles the collaborators for NewUsersHandler.
type UsersHandlerDeps struct {
	Users           UserStore
	Sessions        SessionStore
	Codes           CodeCache
	LoginLimiter    RateLimiter
	RecoverLimiter  RateLimiter
	RegisterLimiter RateLimiter
	Invites         InvitationGate
	Content         ContentProvisioner
	Activity        ActivityRecorder
}

// NewUsersHandler creates the users endpoint handler.
func NewUsersHandler(cfg *config.AuthConfig, deps UsersHandlerDeps, logger *logrus.Logger) *UsersHandler {
	return &UsersHandler{
		cfg:             cfg,
		users:           deps.Users,
		sessions:        deps.Sessions,
		codes:           deps.Codes,
		loginLimiter:    deps.LoginLimiter,
		recoverLimiter:  deps.RecoverLimiter,
		registerLimiter: deps.RegisterLimiter,
		invites:         deps.Invites,
		content:         deps.Content,
		activity:        deps.Activity,
		logger:          logger,
	}
}

// List returns the public view of enabled users, sorted by creation time.
// Responds 204 with no body when discreet-login mode is on.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	if h.cfg.DiscreetLogin {
		return c.SendStatus(fiber.StatusNoContent)
	}

	users, err := h.users.List(c.Context())
	if err != nil {
		h.logger.WithError(err).Error("User list failed")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	viewModels := make([]models.UserViewModel, 0, len(users))
	for _, user := range users {
		if !user.Enabled {
			continue
		}
		viewModels = append(viewModels, models.UserViewModel{
			Handle:   user.Handle,
			Name:     user.Name,
			Created:  user.Created,
			Avatar:   h.content.AvatarFor(user.Handle),
			Password: user.Password != "",
		})
	}

	sort.Slice(viewModels, func(i, j int) bool { return viewModels[i].Created < viewModels[j].Created })

	return c.JSON(viewModels)
}

// Login authenticates a handle/password pair and binds a session.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil || req.Handle == "" {
		h.logger.Warn("Login failed: Missing required fields")
		return h.respondError(c, apperrors.CodeMissingFields, "Missing required fields")
	}

	ip := middleware.ClientIP(c, h.cfg.PreferRealIPHeader)

	if err := h.consumeLimiter(c, h.loginLimiter, ip); err != nil {
		return err
	}

	user, err := h.users.Get(c.Context(), handle.Normalize(req.Handle))
	if errors.Is(err, store.ErrNotFound) {
		h.logger.WithField("handle", req.Handle).Warn("Login failed: User not found")
		metrics.RecordAuthOperation("login", "failure")
		// same response as a wrong password so user existence is not leaked
		return h.respondError(c, apperrors.CodeIncorrectCredentials, "Incorrect credentials")
	}
	if err != nil {
		h.logger.WithError(err).Error("Login failed: store error")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if !user.Enabled {
		h.logger.WithField("handle", user.Handle).Warn("Login failed: User is disabled")
		metrics.RecordAuthOperation("login", "failure")
		return h.respondError(c, apperrors.CodeUserDisabled, "User is disabled")
	}

	if user.Password != "" && user.Password != security.HashPassword(req.Password, user.Salt) {
		h.logger.WithField("handle", user.Handle).Warn("Login failed: Incorrect password")
		metrics.RecordAuthOperation("login", "failure")
		return h.respondError(c, apperrors.CodeIncorrectCredentials, "Incorrect credentials")
	}

	if err := h.loginLimiter.Reset(c.Context(), ip); err != nil {
		h.logger.WithError(err).Warn("Login limiter reset failed")
	}

	token, err := h.sessions.Create(c.Context(), user.Handle)
	if err != nil {
		h.logger.WithError(err).Error("Login failed: session unavailable")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	middleware.SetSessionCookie(c, h.cfg, token)
	h.activity.RecordLogin(user.Handle, user.Name)
	metrics.RecordAuthOperation("login", "success")
	metrics.RecordSessionCreated()

	h.logger.WithFields(logrus.Fields{
		"handle":    user.Handle,
		"client_ip": ip,
	}).Info("Login successful")

	return c.JSON(fiber.Map{"handle": user.Handle})
}

// Logout clears the bound session. Safe to call repeatedly.
func (h *UsersHandler) Logout(c *fiber.Ctx) error {
	if userHandle := middleware.BoundHandle(c); userHandle != "" {
		h.activity.RecordLogout(userHandle)
		metrics.RecordAuthOperation("logout", "success")
		h.logger.WithField("handle", userHandle).Info("Logout successful")
	}

	if token := middleware.SessionToken(c); token != "" {
		if err := h.sessions.Clear(c.Context(), token); err != nil {
			h.logger.WithError(err).Error("Logout failed: session clear")
			return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
		}
	}

	middleware.ClearSessionCookie(c, h.cfg)
	return c.SendStatus(fiber.StatusOK)
}

// Heartbeat refreshes the bound session's activity timestamp.
func (h *UsersHandler) Heartbeat(c *fiber.Ctx) error {
	userHandle := middleware.BoundHandle(c)
	if userHandle == "" {
		return h.respondError(c, apperrors.CodeUnauthenticated, "Not authenticated")
	}

	user, err := h.users.Get(c.Context(), userHandle)
	if errors.Is(err, store.ErrNotFound) {
		return h.respondError(c, apperrors.CodeUnauthenticated, "User not found")
	}
	if err != nil {
		h.logger.WithError(err).Error("Heartbeat failed: store error")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if err := h.sessions.Touch(c.Context(), middleware.SessionToken(c)); err != nil {
		h.logger.WithError(err).Error("Heartbeat failed: session touch")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	h.activity.RecordActivity(user.Handle, user.Name)
	metrics.RecordAuthOperation("heartbeat", "success")

	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

// RecoverStep1 issues a recovery code for the handle. The code is delivered
// out-of-band via the operator log, never in the response body.
func (h *UsersHandler) RecoverStep1(c *fiber.Ctx) error {
	var req models.RecoverStep1Request
	if err := c.BodyParser(&req); err != nil || req.Handle == "" {
		h.logger.Warn("Recover step 1 failed: Missing required fields")
		return h.respondError(c, apperrors.CodeMissingFields, "Missing required fields")
	}

	ip := middleware.ClientIP(c, h.cfg.PreferRealIPHeader)

	if err := h.consumeLimiter(c, h.recoverLimiter, ip); err != nil {
		return err
	}

	user, err := h.users.Get(c.Context(), handle.Normalize(req.Handle))
	if errors.Is(err, store.ErrNotFound) {
		h.logger.WithField("handle", req.Handle).Warn("Recover step 1 failed: User not found")
		return h.respondError(c, apperrors.CodeNotFound, "User not found")
	}
	if err != nil {
		h.logger.WithError(err).Error("Recover step 1 failed: store error")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if !user.Enabled {
		h.logger.WithField("handle", user.Handle).Warn("Recover step 1 failed: User is disabled")
		return h.respondError(c, apperrors.CodeUserDisabled, "User is disabled")
	}

	code, err := security.NewRecoveryCode()
	if err != nil {
		h.logger.WithError(err).Error("Recover step 1 failed: code generation")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if err := h.codes.Set(c.Context(), user.Handle, code); err != nil {
		h.logger.WithError(err).Error("Recover step 1 failed: code cache")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	// out-of-band delivery: the operator relays the code to the user
	h.logger.WithFields(logrus.Fields{
		"handle":        user.Handle,
		"recovery_code": code,
	}).Info("Password recovery code issued")

	metrics.RecordAuthOperation("recover_step1", "success")
	return c.SendStatus(fiber.StatusNoContent)
}

// RecoverStep2 redeems a recovery code and rotates or clears the password.
func (h *UsersHandler) RecoverStep2(c *fiber.Ctx) error {
	var req models.RecoverStep2Request
	if err := c.BodyParser(&req); err != nil || req.Handle == "" || req.Code == "" {
		h.logger.Warn("Recover step 2 failed: Missing required fields")
		return h.respondError(c, apperrors.CodeMissingFields, "Missing required fields")
	}

	ip := middleware.ClientIP(c, h.cfg.PreferRealIPHeader)

	user, err := h.users.Get(c.Context(), handle.Normalize(req.Handle))
	if errors.Is(err, store.ErrNotFound) {
		h.logger.WithField("handle", req.Handle).Warn("Recover step 2 failed: User not found")
		return h.respondError(c, apperrors.CodeNotFound, "User not found")
	}
	if err != nil {
		h.logger.WithError(err).Error("Recover step 2 failed: store error")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if !user.Enabled {
		h.logger.WithField("handle", user.Handle).Warn("Recover step 2 failed: User is disabled")
		return h.respondError(c, apperrors.CodeUserDisabled, "User is disabled")
	}

	cached, err := h.codes.Get(c.Context(), user.Handle)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.WithError(err).Error("Recover step 2 failed: code cache")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	// a missing or expired code is indistinguishable from a wrong one; the
	// failure path is the one that spends a rate-limit point
	if errors.Is(err, store.ErrNotFound) || req.Code != cached {
		if limitErr := h.consumeLimiter(c, h.recoverLimiter, ip); limitErr != nil {
			return limitErr
		}
		h.logger.WithField("handle", user.Handle).Warn("Recover step 2 failed: Incorrect code")
		metrics.RecordAuthOperation("recover_step2", "failure")
		return h.respondError(c, apperrors.CodeIncorrectCode, "Incorrect code")
	}

	if req.NewPassword != "" {
		salt, saltErr := security.NewSalt()
		if saltErr != nil {
			h.logger.WithError(saltErr).Error("Recover step 2 failed: salt generation")
			return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
		}
		err = h.users.UpdatePassword(c.Context(), user.Handle, security.HashPassword(req.NewPassword, salt), salt)
	} else {
		// no replacement supplied: the account becomes passwordless
		err = h.users.UpdatePassword(c.Context(), user.Handle, "", "")
	}
	if err != nil {
		h.logger.WithError(err).Error("Recover step 2 failed: password update")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if err := h.recoverLimiter.Reset(c.Context(), ip); err != nil {
		h.logger.WithError(err).Warn("Recovery limiter reset failed")
	}
	if err := h.codes.Remove(c.Context(), user.Handle); err != nil {
		h.logger.WithError(err).Warn("Recovery code removal failed")
	}

	metrics.RecordAuthOperation("recover_step2", "success")
	h.logger.WithField("handle", user.Handle).Info("Password recovered")

	return c.SendStatus(fiber.StatusNoContent)
}

// Register creates a new account.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := c.BodyParser(&req); err != nil ||
		req.Handle == "" || req.Name == "" || req.Password == "" || req.ConfirmPassword == "" {
		h.logger.Warn("Register failed: Missing required fields")
		return h.respondError(c, apperrors.CodeMissingFields, "Missing required fields")
	}

	if req.Password != req.ConfirmPassword {
		h.logger.Warn("Register failed: Password mismatch")
		return h.respondError(c, apperrors.CodePasswordMismatch, "Passwords do not match")
	}

	if len(req.Password) < h.cfg.MinPasswordLength {
		h.logger.Warn("Register failed: Password too short")
		return h.respondError(c, apperrors.CodePasswordTooWeak,
			fmt.Sprintf("Password must be at least %d characters long", h.cfg.MinPasswordLength))
	}

	ip := middleware.ClientIP(c, h.cfg.PreferRealIPHeader)

	if err := h.consumeLimiter(c, h.registerLimiter, ip); err != nil {
		return err
	}

	if err := h.invites.Validate(c.Context(), req.InvitationCode); err != nil {
		if errors.Is(err, invites.ErrInvalid) {
			h.logger.Warn("Register failed: Invalid invitation code")
			return h.respondError(c, apperrors.CodeInvalidInvitation, "Invalid invitation code")
		}
		h.logger.WithError(err).Error("Register failed: invitation lookup")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	normalized := handle.Normalize(req.Handle)
	if normalized == "" {
		h.logger.Warn("Register failed: Invalid handle")
		return h.respondError(c, apperrors.CodeInvalidHandle, "Invalid handle")
	}

	if !handle.IsValidFormat(normalized) {
		h.logger.WithField("handle", normalized).Warn("Register failed: Handle contains invalid characters")
		return h.respondError(c, apperrors.CodeInvalidHandle, "Username can only contain letters and numbers, no symbols allowed.")
	}

	if handle.IsTrivial(normalized) {
		h.logger.WithField("handle", normalized).Warn("Register failed: Trivial handle not allowed")
		return h.respondError(c, apperrors.CodeInvalidHandle, "Handle is too simple. Please choose a more unique username.")
	}

	salt, err := security.NewSalt()
	if err != nil {
		h.logger.WithError(err).Error("Register failed: salt generation")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	newUser := &models.User{
		Handle:   normalized,
		Name:     strings.TrimSpace(req.Name),
		Password: security.HashPassword(req.Password, salt),
		Salt:     salt,
		Enabled:  true,
		Admin:    false,
		Created:  time.Now().UnixMilli(),
	}

	if err := h.users.Create(c.Context(), newUser); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			h.logger.WithField("handle", normalized).Warn("Register failed: User already exists")
			return h.respondError(c, apperrors.CodeHandleTaken, "User already exists")
		}
		h.logger.WithError(err).Error("Register failed: store error")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if req.InvitationCode != "" {
		if err := h.invites.Consume(c.Context(), req.InvitationCode, normalized); err != nil {
			h.logger.WithError(err).Warn("Invitation consume failed after registration")
		}
	}

	h.logger.WithField("handle", newUser.Handle).Info("Creating data directories")
	if err := h.content.Provision(newUser.Handle); err != nil {
		h.logger.WithError(err).Error("Register failed: content provisioning")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	if err := h.registerLimiter.Reset(c.Context(), ip); err != nil {
		h.logger.WithError(err).Warn("Register limiter reset failed")
	}

	metrics.RecordAuthOperation("register", "success")
	h.logger.WithFields(logrus.Fields{
		"handle":    newUser.Handle,
		"client_ip": ip,
	}).Info("User registered successfully")

	return c.JSON(fiber.Map{"handle": newUser.Handle})
}

// Me returns the current user's own record projection.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	userHandle := middleware.BoundHandle(c)
	if userHandle == "" {
		return h.respondError(c, apperrors.CodeUnauthenticated, "Not authenticated")
	}

	user, err := h.users.Get(c.Context(), userHandle)
	if errors.Is(err, store.ErrNotFound) {
		return h.respondError(c, apperrors.CodeUnauthenticated, "User not found")
	}
	if err != nil {
		h.logger.WithError(err).Error("Get current user failed")
		return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
	}

	return c.JSON(models.MeResponse{
		Handle:  user.Handle,
		Name:    user.Name,
		Admin:   user.Admin,
		Enabled: user.Enabled,
	})
}

// consumeLimiter spends a point, translating exhaustion into a 429 response.
func (h *UsersHandler) consumeLimiter(c *fiber.Ctx, limiter RateLimiter, ip string) error {
	err := limiter.Consume(c.Context(), ip)
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrRateLimited) {
		metrics.RecordRateLimitDrop(limiter.Name())
		h.logger.WithFields(logrus.Fields{
			"limiter":   limiter.Name(),
			"client_ip": ip,
		}).Warn("Request rate limited")
		return h.respondError(c, apperrors.CodeRateLimited, "Too many attempts. Try again later.")
	}

	h.logger.WithError(err).Error("Rate limiter unavailable")
	return h.respondError(c, apperrors.CodeInternalError, "Internal server error")
}

// respondError writes the standard error envelope for the code.
func (h *UsersHandler) respondError(c *fiber.Ctx, code apperrors.ErrorCode, message string) error {
	appErr := apperrors.NewAppError(code, message, nil)
	return c.Status(appErr.HTTPStatus()).JSON(appErr.ToErrorResponse(c.Get("X-Request-ID")))
}
