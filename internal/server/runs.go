package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsletter/internal/intent"
	"github.com/mohammad-safakhou/newsletter/internal/pipeline"
	"github.com/mohammad-safakhou/newsletter/internal/runstore"
)

const (
	defaultListLimit   = 20
	maxListLimit       = 200
	defaultArchiveHits = 10
)

// createRun starts a run in the background, or inline when wait is set.
func (s *Server) createRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is empty")
	}
	runID := s.newID()

	if req.Wait {
		out, err := s.runner.Run(c.Request().Context(), prompt, pipeline.WithRunID(runID))
		if err != nil {
			if errors.Is(err, intent.ErrEmptyRequest) {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(http.StatusOK, newRunResponse(out))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if s.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
			defer cancel()
		}
		out, err := s.runner.Run(ctx, prompt, pipeline.WithRunID(runID))
		if err != nil {
			s.logger.Printf("run %s: %v", runID, err)
			return
		}
		s.logger.Printf("run %s finished: %s", runID, runstore.RunStatus(out.Result))
	}()
	return c.JSON(http.StatusAccepted, AcceptedResponse{RunID: runID})
}

func (s *Server) listRuns(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history is disabled")
	}
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxListLimit)
	}
	runs, err := s.store.List(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []runstore.RunRecord{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history is disabled")
	}
	rec, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) searchArchive(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "archive is disabled")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k := defaultArchiveHits
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = n
	}
	hits, err := s.archive.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"query": q, "hits": hits})
}
