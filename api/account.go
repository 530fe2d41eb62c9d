package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"todo-api/account"
	"todo-api/domain"
)

func registerAccountRoutes(e *echo.Echo, accounts AccountService, auth Authenticator) {
	g := e.Group("/api/account")
	g.POST("/register", registerAccount(accounts))
	g.POST("/login", login(accounts))
	g.GET("/me", currentUser(accounts, auth))
	g.PUT("/me", updateProfile(accounts, auth))
	g.GET("/users", listUsers(accounts, auth))
	g.GET("/user/:id", getUser(accounts, auth))
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	Name        string `json:"name"`
	Email       string `json:"email"`
}

// userResponse is the public view of an account.
type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

func publicUser(u domain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, PhoneNumber: u.PhoneNumber}
}

func registerAccount(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			return c.String(http.StatusBadRequest, "email and password are required")
		}
		if _, err := accounts.Register(c.Request().Context(), req.Name, req.Email, req.Password); err != nil {
			if errors.Is(err, account.ErrEmailTaken) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, map[string]string{"message": "user registered successfully"})
	}
}

func login(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		token, u, err := accounts.Login(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, account.ErrInvalidCredentials) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, loginResponse{AccessToken: token, Name: u.Name, Email: u.Email})
	}
}

func currentUser(accounts AccountService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		u, err := accounts.CurrentUser(c.Request().Context(), caller.UserID)
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, publicUser(u))
	}
}

func updateProfile(accounts AccountService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		var update account.ProfileUpdate
		if err := decodeBody(c, &update); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := accounts.UpdateProfile(c.Request().Context(), caller.UserID, update); err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listUsers(accounts AccountService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		if !caller.IsAdmin {
			return c.NoContent(http.StatusForbidden)
		}
		users, err := accounts.Users(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		out := make([]userResponse, 0, len(users))
		for _, u := range users {
			out = append(out, publicUser(u))
		}
		return c.JSON(http.StatusOK, out)
	}
}

func getUser(accounts AccountService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		if !caller.IsAdmin {
			return c.NoContent(http.StatusForbidden)
		}
		u, err := accounts.User(c.Request().Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, publicUser(u))
	}
}
