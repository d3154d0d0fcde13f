package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

const minPasswordLength = 6

// AuthSession is what a successful sign-in hands back to the caller.
type AuthSession struct {
	Token string
	User  *model.User
}

// AuthService owns the signed-in identity and tells subscribers when it
// changes.
type AuthService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
	jwtExpiry time.Duration
	log       *slog.Logger

	mu       sync.RWMutex
	current  *model.User
	watchers listeners[*model.User]
}

func NewAuthService(userRepo repository.UserRepository, jwtSecret string, jwtExpiry time.Duration, log *slog.Logger) *AuthService {
	return &AuthService{userRepo: userRepo, jwtSecret: []byte(jwtSecret), jwtExpiry: jwtExpiry, log: log}
}

func (s *AuthService) SignUp(ctx context.Context, email, password, name string) (*AuthSession, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrInvalidCredentials
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{Email: email, Name: name, PasswordHash: string(hashed)}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user signed up", "user_id", user.ID)
	return s.startSession(user)
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthSession, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.startSession(user)
}

// Restore signs the holder of a previously issued token back in.
func (s *AuthService) Restore(ctx context.Context, token string) (*model.User, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	user = publicUser(user)
	s.setCurrent(user)
	return user, nil
}

func (s *AuthService) SignOut() {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current == nil {
		return
	}
	s.setCurrent(nil)
	s.log.Info("user signed out", "user_id", current.ID)
}

func (s *AuthService) CurrentUser() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnAuthChange calls fn with the current user right away and then after every
// sign-in or sign-out. fn receives nil when nobody is signed in. Changes made
// concurrently, or from inside fn, may be delivered out of order; listeners
// that must end up matching the identity should read CurrentUser.
func (s *AuthService) OnAuthChange(fn func(*model.User)) func() {
	remove := s.watchers.add(fn)
	fn(s.CurrentUser())
	return remove
}

func (s *AuthService) startSession(user *model.User) (*AuthSession, error) {
	token, err := s.generateToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	user = publicUser(user)
	s.setCurrent(user)
	return &AuthSession{Token: token, User: user}, nil
}

func (s *AuthService) setCurrent(user *model.User) {
	s.mu.Lock()
	s.current = user
	s.mu.Unlock()
	s.watchers.notify(user)
}

func (s *AuthService) generateToken(user *model.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func publicUser(user *model.User) *model.User {
	u := *user
	u.PasswordHash = ""
	return &u
}
