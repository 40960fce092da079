package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when registering an existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

const bcryptCost = 10

// User is a demo account known to the dev server.
type User struct {
	ID           int64
	Username     string
	FullName     string
	PhotoURL     string
	passwordHash string
}

// Service provides authentication for the local dev server: an in-memory
// user registry issuing the same bearer tokens the production backend does.
type Service struct {
	jwtConfig *JWTConfig

	mu     sync.Mutex
	users  map[string]*User
	nextID int64
}

// NewService creates an authentication service with an empty user registry.
func NewService(jwtConfig *JWTConfig) *Service {
	return &Service{
		jwtConfig: jwtConfig,
		users:     make(map[string]*User),
		nextID:    1,
	}
}

// Register creates a new user and returns a bearer token.
func (s *Service) Register(username, password, fullName string) (string, *User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", nil, ErrInvalidPassword
	}
	if fullName == "" {
		fullName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.users[username]; exists {
		s.mu.Unlock()
		return "", nil, ErrUserExists
	}
	user := &User{
		ID:           s.nextID,
		Username:     username,
		FullName:     fullName,
		passwordHash: string(hash),
	}
	s.nextID++
	s.users[username] = user
	s.mu.Unlock()

	token, err := GenerateToken(s.jwtConfig, user.ID, user.FullName, user.PhotoURL)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// Login validates credentials and returns a bearer token.
func (s *Service) Login(username, password string) (string, *User, error) {
	s.mu.Lock()
	user, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.passwordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.FullName, user.PhotoURL)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// ValidateToken validates a bearer token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
