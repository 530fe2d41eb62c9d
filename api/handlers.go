package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
	"todo-api/todo"
)

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance. The
// accounts service may be nil when identity is delegated to an external
// provider; in that mode the account routes are not mounted.
func Register(e *echo.Echo, tasks TaskService, accounts AccountService, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/healthz", healthz())

	g := e.Group("/api/todos")
	g.GET("", getTodos(tasks, auth, logger))
	g.POST("", createTodo(tasks, auth, deduper))
	g.GET("/completed", getCompleted(tasks, auth))
	g.GET("/uncompleted", getUncompleted(tasks, auth))
	g.GET("/completed/count", getCompletedCount(tasks, auth))
	g.GET("/uncompleted/count", getUncompletedCount(tasks, auth))
	g.DELETE("/completed", deleteCompleted(tasks, auth))
	g.PUT("/reorder", reorderMany(tasks, auth))
	g.PATCH("/reorder", reorderSingle(tasks, auth))
	g.GET("/byduedate", getByDueDate(tasks, auth))
	g.GET("/bypriority", getByPriority(tasks, auth))
	g.POST("/assign/:userId", assignTodo(tasks, auth, deduper))
	g.GET("/user/:userId", getTodosForUser(tasks, auth))
	g.GET("/:id", getTodo(tasks, auth))
	g.PUT("/:id", updateTodo(tasks, auth))
	g.DELETE("/:id", deleteTodo(tasks, auth))
	g.PATCH("/:id/toggle", toggleTodo(tasks, auth))

	if accounts != nil {
		registerAccountRoutes(e, accounts, auth)
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// callerFromRequest resolves the authenticated caller or writes a 401.
func callerFromRequest(c echo.Context, auth Authenticator) (domain.Caller, bool, error) {
	caller, err := auth.CallerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return domain.Caller{}, false, c.String(http.StatusUnauthorized, err.Error())
	}
	return caller, true, nil
}

// taskErrResponse maps engine failures onto status codes: forbidden 403,
// not found 404, anything else 500.
func taskErrResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, todo.ErrForbidden):
		return c.NoContent(http.StatusForbidden)
	case errors.Is(err, todo.ErrNotFound):
		return c.NoContent(http.StatusNotFound)
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func idParam(c echo.Context) (int, error) {
	return strconv.Atoi(c.Param("id"))
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	return dec.Decode(v)
}

func getTodos(tasks TaskService, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics := newRequestMetrics(logger, "/api/todos")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		caller, ok, authErr := callerFromRequest(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if !ok {
			metrics.SetErrorStage("auth")
			err = authErr
			return err
		}

		fetchStart := time.Now()
		list, fetchErr := tasks.ListMine(ctx, caller)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(list))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, list)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getTodo(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid task id")
		}
		t, err := tasks.Get(c.Request().Context(), caller, id)
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

// createWithDedup guards a task-producing call with the optional
// Idempotency-Key header: replayed keys get 409, failed inserts release the
// key so the client may retry.
func createWithDedup(c echo.Context, deduper Deduper, caller domain.Caller, create func(context.Context) (domain.Task, error)) error {
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	if deduper != nil && key != "" {
		added, err := deduper.Add(ctx, caller.UserID, key)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "idempotency check failed")
		}
		if !added {
			return c.String(http.StatusConflict, "duplicate request")
		}
	}

	created, err := create(ctx)
	if err != nil {
		if deduper != nil && key != "" {
			_ = deduper.Remove(ctx, caller.UserID, key)
		}
		return taskErrResponse(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func createTodo(tasks TaskService, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		var input domain.Task
		if err := decodeBody(c, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(input.Title) == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		return createWithDedup(c, deduper, caller, func(ctx context.Context) (domain.Task, error) {
			return tasks.Create(ctx, caller, input)
		})
	}
}

func assignTodo(tasks TaskService, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		if !caller.IsAdmin {
			return c.NoContent(http.StatusForbidden)
		}
		targetUserID := c.Param("userId")
		var input domain.Task
		if err := decodeBody(c, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(input.Title) == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		return createWithDedup(c, deduper, caller, func(ctx context.Context) (domain.Task, error) {
			return tasks.Assign(ctx, caller, targetUserID, input)
		})
	}
}

func getTodosForUser(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		if !caller.IsAdmin {
			return c.NoContent(http.StatusForbidden)
		}
		list, err := tasks.ListForUser(c.Request().Context(), c.Param("userId"))
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func updateTodo(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid task id")
		}
		var input domain.Task
		if err := decodeBody(c, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(input.Title) == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		if err := tasks.Update(c.Request().Context(), caller, id, input); err != nil {
			return taskErrResponse(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTodo(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid task id")
		}
		if err := tasks.Delete(c.Request().Context(), caller, id); err != nil {
			return taskErrResponse(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func toggleTodo(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		id, err := idParam(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid task id")
		}
		if err := tasks.ToggleCompletion(c.Request().Context(), caller, id); err != nil {
			return taskErrResponse(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteCompleted(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		if err := tasks.DeleteCompleted(c.Request().Context(), caller); err != nil {
			return taskErrResponse(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func reorderMany(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		entries := make([]domain.ReorderEntry, 0, 16)
		if err := decodeBody(c, &entries); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := tasks.ReorderMany(c.Request().Context(), caller, entries); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "reordering failed")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type reorderRequest struct {
	TaskID      int `json:"taskId"`
	NewPosition int `json:"newPosition"`
}

func reorderSingle(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := tasks.ReorderSingle(c.Request().Context(), caller, req.TaskID, req.NewPosition); err != nil {
			return taskErrResponse(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getCompleted(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		list, err := tasks.Completed(c.Request().Context(), caller)
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func getUncompleted(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		list, err := tasks.Uncompleted(c.Request().Context(), caller)
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func getCompletedCount(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		n, err := tasks.CompletedCount(c.Request().Context(), caller)
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, n)
	}
}

func getUncompletedCount(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		n, err := tasks.UncompletedCount(c.Request().Context(), caller)
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, n)
	}
}

func getByDueDate(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		date, err := parseDateParam(c.QueryParam("date"))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid date")
		}
		list, err := tasks.DueOn(c.Request().Context(), caller, date)
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func parseDateParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.Parse(time.RFC3339, raw); err == nil {
		return d, nil
	}
	return time.Parse("2006-01-02", raw)
}

func getByPriority(tasks TaskService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok, err := callerFromRequest(c, auth)
		if !ok {
			return err
		}
		list, err := tasks.ByPriority(c.Request().Context(), caller)
		if err != nil {
			return taskErrResponse(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}
