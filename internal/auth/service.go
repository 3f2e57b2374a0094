package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/config"
)

type Permission string

const (
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

// User is one config-seeded operator account. Accounts live in memory only;
// there is no persistence behind them.
type User struct {
	ID       uuid.UUID
	Username string
	Role     string

	passwordHash string
}

type refreshRecord struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// AuthService authenticates operators against accounts seeded from the
// configuration file. With no accounts configured, the command surface runs
// open; AuthMiddleware grants every request full permissions and the startup
// log says so loudly.
type AuthService struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	logger         *zap.Logger

	users      map[string]*User
	refreshTTL time.Duration

	mu            sync.Mutex
	refreshTokens map[string]refreshRecord
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) (*AuthService, error) {
	jwtSecret := cfg.GetJWTSecret()
	if !cfg.IsProductionReady() {
		logger.Warn("using development JWT secret, set JWT_SECRET for production")
	}

	service := &AuthService{
		jwtHandler:     NewJWTHandler(jwtSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher: NewPasswordHasher(),
		logger:         logger,
		users:          make(map[string]*User, len(cfg.Users)),
		refreshTTL:     cfg.RefreshTokenTTL,
		refreshTokens:  make(map[string]refreshRecord),
	}

	for _, seed := range cfg.Users {
		if err := service.seedUser(seed); err != nil {
			return nil, fmt.Errorf("invalid auth config: %w", err)
		}
	}

	if len(service.users) == 0 {
		logger.Warn("no users configured, command surface runs open (development mode)")
	}

	return service, nil
}

func (a *AuthService) seedUser(seed config.UserSeed) error {
	if seed.Username == "" {
		return fmt.Errorf("user with empty username")
	}
	if _, exists := a.users[seed.Username]; exists {
		return fmt.Errorf("duplicate user %q", seed.Username)
	}

	role := seed.Role
	if role == "" {
		role = string(PermOperator)
	}
	if role != string(PermOperator) && role != string(PermAdmin) {
		return fmt.Errorf("user %q has unknown role %q", seed.Username, role)
	}

	hash := seed.PasswordHash
	switch {
	case hash != "" && seed.Password != "":
		return fmt.Errorf("user %q sets both password and password_hash", seed.Username)
	case hash == "" && seed.Password == "":
		return fmt.Errorf("user %q has no password", seed.Username)
	case hash == "":
		// Plaintext passwords are a development convenience; hash them on
		// the way in so nothing keeps the cleartext around.
		var err error
		hash, err = a.passwordHasher.HashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password for %q: %w", seed.Username, err)
		}
		a.logger.Warn("user configured with plaintext password, use password_hash in production",
			zap.String("username", seed.Username))
	}

	a.users[seed.Username] = &User{
		ID:           uuid.New(),
		Username:     seed.Username,
		Role:         role,
		passwordHash: hash,
	}
	return nil
}

// Enabled reports whether any accounts are configured. A disabled service
// leaves the command surface open.
func (a *AuthService) Enabled() bool {
	return len(a.users) > 0
}

// Login authenticates a user and returns an access and a refresh token.
func (a *AuthService) Login(username, password string) (accessToken, refreshToken string, err error) {
	user, ok := a.users[username]
	if !ok {
		a.logger.Warn("login failed", zap.String("username", username), zap.String("reason", "unknown user"))
		return "", "", fmt.Errorf("invalid credentials")
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.passwordHash)
	if err != nil || !valid {
		a.logger.Warn("login failed", zap.String("username", username), zap.String("reason", "wrong password"))
		return "", "", fmt.Errorf("invalid credentials")
	}

	accessToken, err = a.jwtHandler.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err = a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	a.storeRefreshToken(refreshToken, user.ID)

	a.logger.Info("login succeeded", zap.String("username", username), zap.String("role", user.Role))
	return accessToken, refreshToken, nil
}

// RefreshAccessToken rotates a refresh token and returns a fresh token pair.
func (a *AuthService) RefreshAccessToken(refreshToken string) (string, string, error) {
	tokenHash := hashRefreshToken(refreshToken)

	a.mu.Lock()
	record, ok := a.refreshTokens[tokenHash]
	if ok {
		delete(a.refreshTokens, tokenHash)
	}
	a.mu.Unlock()

	if !ok || time.Now().After(record.expiresAt) {
		return "", "", fmt.Errorf("invalid refresh token")
	}

	user := a.userByID(record.userID)
	if user == nil {
		return "", "", fmt.Errorf("invalid refresh token")
	}

	accessToken, err := a.jwtHandler.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	newRefreshToken, err := a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	a.storeRefreshToken(newRefreshToken, user.ID)

	return accessToken, newRefreshToken, nil
}

// RevokeRefreshToken invalidates a refresh token.
func (a *AuthService) RevokeRefreshToken(refreshToken string) {
	tokenHash := hashRefreshToken(refreshToken)
	a.mu.Lock()
	delete(a.refreshTokens, tokenHash)
	a.mu.Unlock()
}

// ValidateToken parses a bearer token and returns its permissions.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, roleToPermissions(claims.Role), nil
}

func (a *AuthService) storeRefreshToken(token string, userID uuid.UUID) {
	record := refreshRecord{
		userID:    userID,
		expiresAt: time.Now().Add(a.refreshTTL),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshTokens[hashRefreshToken(token)] = record
	a.pruneExpiredLocked()
}

// pruneExpiredLocked drops expired refresh tokens. Callers hold a.mu.
func (a *AuthService) pruneExpiredLocked() {
	now := time.Now()
	for hash, record := range a.refreshTokens {
		if now.After(record.expiresAt) {
			delete(a.refreshTokens, hash)
		}
	}
}

func (a *AuthService) userByID(id uuid.UUID) *User {
	for _, user := range a.users {
		if user.ID == id {
			return user
		}
	}
	return nil
}

func roleToPermissions(role string) []Permission {
	if role == string(PermAdmin) {
		return []Permission{PermOperator, PermAdmin}
	}
	return []Permission{PermOperator}
}

func hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
