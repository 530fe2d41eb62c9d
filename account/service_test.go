package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"todo-api/domain"
)

type memUsers struct {
	users map[string]domain.User
	err   error
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]domain.User{}}
}

func (m *memUsers) CreateUser(ctx context.Context, u domain.User) error {
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if m.err != nil {
		return domain.User{}, m.err
	}
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (m *memUsers) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	if m.err != nil {
		return domain.User{}, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (m *memUsers) ListUsers(ctx context.Context) ([]domain.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memUsers) UpdateUser(ctx context.Context, u domain.User) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	m.users[u.ID] = u
	return nil
}

var testTokens = TokenConfig{Secret: []byte("test-secret"), Issuer: "todo-api", Audience: "todo-app"}

func newTestAccounts() (*Service, *memUsers) {
	store := newMemUsers()
	svc := NewService(store, testTokens)
	return svc, store
}

func TestRegisterHashesPassword(t *testing.T) {
	svc, store := newTestAccounts()
	ctx := context.Background()

	u, err := svc.Register(ctx, "Alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated user id")
	}
	if u.IsAdmin {
		t.Fatal("registered users must not be admins")
	}
	stored := store.users[u.ID]
	if stored.PasswordHash == "s3cret" || stored.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret")); err != nil {
		t.Fatalf("hash does not match password: %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestAccounts()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Alice", "alice@example.com", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Register(ctx, "Impostor", "alice@example.com", "other"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, _ := newTestAccounts()
	ctx := context.Background()

	registered, err := svc.Register(ctx, "Alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, u, err := svc.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != registered.ID {
		t.Fatalf("expected logged-in user %s, got %s", registered.ID, u.ID)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return testTokens.Secret, nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims["sub"] != registered.ID {
		t.Fatalf("expected sub %s, got %v", registered.ID, claims["sub"])
	}
	if claims["email"] != "alice@example.com" || claims["iss"] != "todo-api" || claims["aud"] != "todo-app" {
		t.Fatalf("unexpected claims: %v", claims)
	}
	if _, ok := claims["roles"]; ok {
		t.Fatal("non-admin token must not carry roles")
	}

	exp, _ := claims["exp"].(float64)
	iat, _ := claims["iat"].(float64)
	if time.Duration(exp-iat)*time.Second != defaultTokenTTL {
		t.Fatalf("expected %v lifetime, got %vs", defaultTokenTTL, exp-iat)
	}
}

func TestLoginAdminTokenCarriesRole(t *testing.T) {
	svc, _ := newTestAccounts()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Root", "root@example.com", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, _, err := svc.Login(ctx, "root@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return testTokens.Secret, nil
	}); err != nil {
		t.Fatalf("parsing token: %v", err)
	}
	roles, ok := claims["roles"].([]any)
	if !ok || len(roles) != 1 || roles[0] != "Admin" {
		t.Fatalf("expected Admin role claim, got %v", claims["roles"])
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestAccounts()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Alice", "alice@example.com", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestUpdateProfileLeavesBlanksUntouched(t *testing.T) {
	svc, store := newTestAccounts()
	ctx := context.Background()

	u, err := svc.Register(ctx, "Alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oldHash := store.users[u.ID].PasswordHash

	if err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{PhoneNumber: "555-0101"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated := store.users[u.ID]
	if updated.Name != "Alice" {
		t.Fatalf("name must be untouched, got %q", updated.Name)
	}
	if updated.PhoneNumber != "555-0101" {
		t.Fatalf("expected phone updated, got %q", updated.PhoneNumber)
	}
	if updated.PasswordHash != oldHash {
		t.Fatal("password must be untouched")
	}
}

func TestUpdateProfileRehashesPassword(t *testing.T) {
	svc, store := newTestAccounts()
	ctx := context.Background()

	u, err := svc.Register(ctx, "Alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Password: "newpass"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(store.users[u.ID].PasswordHash), []byte("newpass")); err != nil {
		t.Fatalf("new password does not verify: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice@example.com", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password must no longer work")
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc, store := newTestAccounts()
	ctx := context.Background()

	u, err := svc.Register(ctx, "Root", "root@example.com", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.users[u.ID].IsAdmin {
		t.Fatal("expected user promoted to admin")
	}

	// Promoting twice is a no-op.
	if err := svc.EnsureAdmin(ctx, "root@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.EnsureAdmin(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
