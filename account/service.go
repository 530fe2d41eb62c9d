// Package account manages registered users and issues the signed tokens the
// API boundary verifies.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"todo-api/domain"
)

var (
	// ErrEmailTaken is returned when registering with an email that already
	// has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned on login with a wrong email or
	// password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
)

const defaultTokenTTL = 6 * time.Hour

// Store abstracts user persistence for the service.
type Store interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) error
}

// TokenConfig describes the tokens the service issues.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Service implements registration, login and profile management.
type Service struct {
	store  Store
	tokens TokenConfig
	now    func() time.Time
}

// NewService creates a Service. A zero token TTL defaults to six hours.
func NewService(store Store, tokens TokenConfig) *Service {
	if tokens.TTL <= 0 {
		tokens.TTL = defaultTokenTTL
	}
	return &Service{store: store, tokens: tokens, now: time.Now}
}

// Register creates a new non-admin account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, name, email, password string) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Login checks the credentials and returns a signed access token for the
// user. Unknown emails and wrong passwords are indistinguishable to the
// caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, domain.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", domain.User{}, ErrInvalidCredentials
	}
	token, err := s.issueToken(u)
	if err != nil {
		return "", domain.User{}, err
	}
	return token, u, nil
}

func (s *Service) issueToken(u domain.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"name":  u.Name,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokens.TTL).Unix(),
	}
	if s.tokens.Issuer != "" {
		claims["iss"] = s.tokens.Issuer
	}
	if s.tokens.Audience != "" {
		claims["aud"] = s.tokens.Audience
	}
	if u.IsAdmin {
		claims["roles"] = []string{"Admin"}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.tokens.Secret)
}

// CurrentUser returns the account for the given id.
func (s *Service) CurrentUser(ctx context.Context, id string) (domain.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// ProfileUpdate carries optional profile changes; blank fields are left
// untouched.
type ProfileUpdate struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// UpdateProfile applies the non-blank fields of the update to the user.
func (s *Service) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) error {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if update.Name != "" {
		u.Name = update.Name
	}
	if update.PhoneNumber != "" {
		u.PhoneNumber = update.PhoneNumber
	}
	if update.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(update.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
	}
	return s.store.UpdateUser(ctx, u)
}

// Users lists all registered accounts. The boundary restricts this to admins.
func (s *Service) Users(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

// User returns one account by id. The boundary restricts this to admins.
func (s *Service) User(ctx context.Context, id string) (domain.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// EnsureAdmin promotes the account with the given email to admin. It is used
// at startup to bootstrap the first administrator.
func (s *Service) EnsureAdmin(ctx context.Context, email string) error {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u.IsAdmin {
		return nil
	}
	u.IsAdmin = true
	return s.store.UpdateUser(ctx, u)
}
