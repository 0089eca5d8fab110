package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermViewer   Permission = "viewer"
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLocked             = errors.New("login locked")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuditLog records login and token events. Failures to log never block a login.
type AuditLog interface {
	LogAuthEvent(ctx context.Context, eventType, username, ipAddress, userAgent string, success bool, reason string) error
}

// AuthService authenticates the single configured operator account and the
// configured machine tokens.
type AuthService struct {
	cfg            config.AuthConfig
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	tokenGen       *MachineTokenGenerator
	audit          AuditLog
	logger         *zap.Logger
	now            func() time.Time

	mu          sync.Mutex
	failed      int
	lockedUntil time.Time
}

// NewAuthService takes audit as nil when no database is configured.
func NewAuthService(cfg config.AuthConfig, deviceID string, audit AuditLog, logger *zap.Logger) *AuthService {
	if !cfg.IsProductionReady() {
		logger.Warn("Using development JWT secret, set " + cfg.JWTSecretEnv)
	}
	return &AuthService{
		cfg:            cfg,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL, deviceID),
		passwordHasher: NewPasswordHasher(),
		tokenGen:       NewMachineTokenGenerator(),
		audit:          audit,
		logger:         logger,
		now:            time.Now,
	}
}

// LoginOperator checks the operator credentials and returns an access token.
// Repeated failures lock the login for auth.lockout_duration.
func (a *AuthService) LoginOperator(ctx context.Context, username, password, ipAddress, userAgent string) (string, time.Time, error) {
	if until, locked := a.locked(); locked {
		a.logAuthEvent(ctx, "operator_login_failed", username, ipAddress, userAgent, false, "locked")
		return "", time.Time{}, fmt.Errorf("%w until %s", ErrLocked, until.Format(time.RFC3339))
	}

	if a.cfg.OperatorPasswordHash == "" {
		a.logAuthEvent(ctx, "operator_login_failed", username, ipAddress, userAgent, false, "no operator configured")
		return "", time.Time{}, ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.OperatorUsername)) == 1
	valid, err := a.passwordHasher.VerifyPassword(password, a.cfg.OperatorPasswordHash)
	if err != nil {
		a.logger.Error("Operator password hash unusable", zap.Error(err))
	}
	if !userOK || !valid {
		a.recordFailure()
		a.logAuthEvent(ctx, "operator_login_failed", username, ipAddress, userAgent, false, "invalid credentials")
		return "", time.Time{}, ErrInvalidCredentials
	}

	a.mu.Lock()
	a.failed = 0
	a.mu.Unlock()

	token, expires, err := a.jwtHandler.GenerateAccessToken(username, string(PermOperator))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent(ctx, "operator_login_success", username, ipAddress, userAgent, true, "")
	return token, expires, nil
}

// ValidateToken accepts an operator JWT or a configured machine token.
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress, userAgent string) (string, []Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return claims.Username, roleToPermissions(claims.Role), nil
	}
	return a.ValidateMachineToken(ctx, token, ipAddress, userAgent)
}

// ValidateMachineToken compares the token hash with auth.machine_token_hashes.
func (a *AuthService) ValidateMachineToken(ctx context.Context, token, ipAddress, userAgent string) (string, []Permission, error) {
	if !a.tokenGen.ValidateTokenFormat(token) {
		return "", nil, ErrInvalidToken
	}

	hash := a.tokenGen.HashToken(token)
	for _, h := range a.cfg.MachineTokenHashes {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(strings.TrimSpace(h)))) == 1 {
			a.logAuthEvent(ctx, "machine_token_success", "", ipAddress, userAgent, true, "")
			return "machine", []Permission{PermViewer, PermOperator}, nil
		}
	}

	a.logAuthEvent(ctx, "machine_token_failed", "", ipAddress, userAgent, false, "token not configured")
	return "", nil, ErrInvalidToken
}

// HashPassword is used by the CLI to produce auth.operator_password_hash.
func (a *AuthService) HashPassword(password string) (string, error) {
	return a.passwordHasher.HashPassword(password)
}

func roleToPermissions(role string) []Permission {
	switch role {
	case string(PermAdmin):
		return []Permission{PermViewer, PermOperator, PermAdmin}
	case string(PermOperator):
		return []Permission{PermViewer, PermOperator}
	default:
		return []Permission{PermViewer}
	}
}

func (a *AuthService) locked() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lockedUntil, a.now().Before(a.lockedUntil)
}

func (a *AuthService) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failed++
	if a.cfg.MaxFailedLogins > 0 && a.failed >= a.cfg.MaxFailedLogins {
		a.lockedUntil = a.now().Add(a.cfg.LockoutDuration)
		a.failed = 0
		a.logger.Warn("Operator login locked", zap.Time("until", a.lockedUntil))
	}
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType, username, ip, userAgent string, success bool, reason string) {
	if a.audit == nil {
		return
	}
	if err := a.audit.LogAuthEvent(ctx, eventType, username, ip, userAgent, success, reason); err != nil {
		a.logger.Debug("Auth event not recorded", zap.String("event", eventType), zap.Error(err))
	}
}
