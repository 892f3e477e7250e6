// Package api serves the open board to local renderers over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/dragdrop"
)

const maxBodySize = 64 << 10

// Board is the open board session.
type Board interface {
	dragdrop.Board
	View(ctx context.Context) (board.View, error)
	Subscribe(ctx context.Context) (<-chan board.View, func(), error)
	Reload(ctx context.Context) error
	CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error)
	EditTask(ctx context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// Register wires up the board routes on the provided Echo instance.
func Register(e *echo.Echo, b Board, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET("/board", getBoard(b))
	e.GET("/board/stream", streamBoard(b, logger))
	e.POST("/board/reload", reloadBoard(b))
	e.POST("/board/tasks", createTask(b))
	e.PATCH("/board/tasks/:id", editTask(b))
	e.DELETE("/board/tasks/:id", deleteTask(b))
	e.POST("/board/tasks/:id/move", moveTask(b, logger))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

type createRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type patchRequest struct {
	Name        *string `json:"name,omitempty"`
	Status      *string `json:"status,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
}

type moveRequest struct {
	Column string `json:"column"`
}

type moveResponse struct {
	Outcome string `json:"outcome"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func getBoard(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		v, err := b.View(c.Request().Context())
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, v)
	}
}

func createTask(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, err)
		}
		status := domain.StatusNotStarted
		if req.Status != "" {
			s, err := domain.ParseStatus(req.Status)
			if err != nil {
				return writeError(c, err)
			}
			status = s
		}
		t, err := b.CreateTask(c.Request().Context(), domain.TaskDraft{Name: req.Name, Status: status})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func editTask(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req patchRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, err)
		}
		patch, err := req.toPatch()
		if err != nil {
			return writeError(c, err)
		}
		t, err := b.EditTask(c.Request().Context(), c.Param("id"), patch)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTask(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := b.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func reloadBoard(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := b.Reload(ctx); err != nil {
			return writeError(c, err)
		}
		v, err := b.View(ctx)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, v)
	}
}

// moveTask runs a whole drag gesture per request, each on its own controller.
func moveTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, err)
		}
		ctx := c.Request().Context()
		drag := dragdrop.NewController(b, logger)
		if _, err := drag.Start(ctx, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		out, err := drag.End(ctx, req.Column)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{"task_id": c.Param("id"), "outcome": out.String()}).Warn("Move failed")
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, moveResponse{Outcome: out.String()})
	}
}

func streamBoard(b Board, logger *log.Logger) echo.HandlerFunc {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		views, cancel, err := b.Subscribe(ctx)
		if err != nil {
			return writeError(c, err)
		}
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case v := <-views:
				data, err := sonic.ConfigStd.Marshal(v)
				if err != nil {
					logger.WithError(err).Error("Failed to encode view")
					return err
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return err
				}
				if _, err := c.Response().Write(data); err != nil {
					return err
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}

var errBadBody = errors.New("invalid body")

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func (r patchRequest) toPatch() (domain.TaskPatch, error) {
	var p domain.TaskPatch
	p.Name = r.Name
	p.Description = r.Description
	if r.Status != nil {
		s, err := domain.ParseStatus(*r.Status)
		if err != nil {
			return p, err
		}
		p.Status = &s
	}
	if r.DueDate != nil {
		d, err := domain.ParseDueDate(strings.TrimSpace(*r.DueDate))
		if err != nil {
			return p, errBadBody
		}
		p.DueDate = &d
	}
	return p, nil
}

func writeError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, errBadBody):
		status, code = http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, domain.ErrEmptyName), errors.Is(err, domain.ErrEmptyPatch), errors.Is(err, domain.ErrInvalidStatus):
		status, code = http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrUnknownTask):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrNoBoard), errors.Is(err, domain.ErrStaleBoard):
		status, code = http.StatusConflict, "NO_BOARD"
	case errors.Is(err, domain.ErrRolledBack):
		status, code = http.StatusBadGateway, "ROLLED_BACK"
	case errors.Is(err, dragdrop.ErrNoGesture):
		status, code = http.StatusConflict, "NO_GESTURE"
	}
	return c.JSON(status, errorResponse{Code: code, Message: err.Error()})
}
