package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/bytedance/sonic"

	"todo-api/account"
	"todo-api/domain"
)

type mockAccounts struct {
	user  domain.User
	users []domain.User
	token string
	err   error

	lastEmail  string
	lastUpdate account.ProfileUpdate
	calls      []string
}

func (m *mockAccounts) record(name string) { m.calls = append(m.calls, name) }

func (m *mockAccounts) Register(ctx context.Context, name, email, password string) (domain.User, error) {
	m.record("Register")
	m.lastEmail = email
	return m.user, m.err
}

func (m *mockAccounts) Login(ctx context.Context, email, password string) (string, domain.User, error) {
	m.record("Login")
	m.lastEmail = email
	return m.token, m.user, m.err
}

func (m *mockAccounts) CurrentUser(ctx context.Context, id string) (domain.User, error) {
	m.record("CurrentUser")
	return m.user, m.err
}

func (m *mockAccounts) UpdateProfile(ctx context.Context, id string, update account.ProfileUpdate) error {
	m.record("UpdateProfile")
	m.lastUpdate = update
	return m.err
}

func (m *mockAccounts) Users(ctx context.Context) ([]domain.User, error) {
	m.record("Users")
	return m.users, m.err
}

func (m *mockAccounts) User(ctx context.Context, id string) (domain.User, error) {
	m.record("User")
	return m.user, m.err
}

func TestRegisterAccount(t *testing.T) {
	accounts := &mockAccounts{user: domain.User{ID: "u1", Email: "alice@example.com"}}
	c, rec := newContext(t, http.MethodPost, "/api/account/register", `{"name":"Alice","email":"alice@example.com","password":"s3cret"}`)

	if err := registerAccount(accounts)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	if accounts.lastEmail != "alice@example.com" {
		t.Fatalf("unexpected email forwarded: %q", accounts.lastEmail)
	}
}

func TestRegisterAccountValidation(t *testing.T) {
	testCases := map[string]string{
		"missing_email":    `{"name":"Alice","password":"s3cret"}`,
		"missing_password": `{"name":"Alice","email":"alice@example.com"}`,
		"blank_email":      `{"email":"   ","password":"s3cret"}`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			accounts := &mockAccounts{}
			c, rec := newContext(t, http.MethodPost, "/api/account/register", body)

			if err := registerAccount(accounts)(c); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 got %d", rec.Code)
			}
			if len(accounts.calls) != 0 {
				t.Fatalf("service must not be called, got %v", accounts.calls)
			}
		})
	}
}

func TestRegisterAccountEmailTaken(t *testing.T) {
	accounts := &mockAccounts{err: account.ErrEmailTaken}
	c, rec := newContext(t, http.MethodPost, "/api/account/register", `{"email":"alice@example.com","password":"s3cret"}`)

	if err := registerAccount(accounts)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	accounts := &mockAccounts{token: "signed-token", user: domain.User{Name: "Alice", Email: "alice@example.com"}}
	c, rec := newContext(t, http.MethodPost, "/api/account/login", `{"email":"alice@example.com","password":"s3cret"}`)

	if err := login(accounts)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp loginResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.AccessToken != "signed-token" || resp.Email != "alice@example.com" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	accounts := &mockAccounts{err: account.ErrInvalidCredentials}
	c, rec := newContext(t, http.MethodPost, "/api/account/login", `{"email":"alice@example.com","password":"wrong"}`)

	if err := login(accounts)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestCurrentUserHidesPasswordHash(t *testing.T) {
	accounts := &mockAccounts{user: domain.User{ID: "u1", Email: "alice@example.com", Name: "Alice", PasswordHash: "hash"}}
	c, rec := newContext(t, http.MethodGet, "/api/account/me", "")

	if err := currentUser(accounts, mockAuth{caller: domain.Caller{UserID: "u1"}})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var body map[string]any
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["id"] != "u1" || body["email"] != "alice@example.com" {
		t.Fatalf("unexpected body: %v", body)
	}
	for k := range body {
		if k == "passwordHash" || k == "isAdmin" {
			t.Fatalf("field %q must not be exposed", k)
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	accounts := &mockAccounts{}
	c, rec := newContext(t, http.MethodPut, "/api/account/me", `{"phoneNumber":"555-0101"}`)

	if err := updateProfile(accounts, mockAuth{caller: domain.Caller{UserID: "u1"}})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rec.Code)
	}
	if accounts.lastUpdate.PhoneNumber != "555-0101" {
		t.Fatalf("unexpected update forwarded: %#v", accounts.lastUpdate)
	}
}

func TestListUsersRequiresAdmin(t *testing.T) {
	accounts := &mockAccounts{users: []domain.User{{ID: "u1"}}}
	c, rec := newContext(t, http.MethodGet, "/api/account/users", "")

	if err := listUsers(accounts, mockAuth{caller: domain.Caller{UserID: "u1"}})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 got %d", rec.Code)
	}
	if len(accounts.calls) != 0 {
		t.Fatalf("service must not be called, got %v", accounts.calls)
	}
}

func TestListUsersAsAdmin(t *testing.T) {
	accounts := &mockAccounts{users: []domain.User{{ID: "u1", Email: "a@example.com"}, {ID: "u2", Email: "b@example.com"}}}
	c, rec := newContext(t, http.MethodGet, "/api/account/users", "")

	if err := listUsers(accounts, mockAuth{caller: domain.Caller{UserID: "adm", IsAdmin: true}})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var users []userResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestGetUserNotFound(t *testing.T) {
	accounts := &mockAccounts{err: account.ErrNotFound}
	c, rec := newContext(t, http.MethodGet, "/api/account/user/u9", "")
	c.SetParamNames("id")
	c.SetParamValues("u9")

	if err := getUser(accounts, mockAuth{caller: domain.Caller{UserID: "adm", IsAdmin: true}})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestGetUserRequiresAdmin(t *testing.T) {
	accounts := &mockAccounts{}
	c, rec := newContext(t, http.MethodGet, "/api/account/user/u2", "")
	c.SetParamNames("id")
	c.SetParamValues("u2")

	if err := getUser(accounts, mockAuth{caller: domain.Caller{UserID: "u1"}})(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 got %d", rec.Code)
	}
}
