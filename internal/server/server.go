// Package server is the thin HTTP boundary over the pipeline. It carries
// no pipeline logic: handlers bind, delegate, and map typed errors to
// status codes.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/quorum/internal/gateway"
	"github.com/ppiankov/quorum/internal/model"
	"github.com/ppiankov/quorum/internal/pipeline"
)

// queryRequest is the /api/query envelope. Field names are fixed for
// client compatibility.
type queryRequest struct {
	Query   string         `json:"query"`
	Options *model.Options `json:"options"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Run starts the HTTP API on the configured address and blocks.
func Run(cfg *model.Config, p *pipeline.Pipeline) error {
	e, logger := newRouter(cfg, p)
	logger.Printf("listening on %s", cfg.Server.Addr)
	return e.Start(cfg.Server.Addr)
}

func newRouter(cfg *model.Config, p *pipeline.Pipeline) (*echo.Echo, *log.Logger) {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, errorResponse{Error: http.StatusText(code), Message: msg})
		}
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/query", handleQuery(p))
	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, p.Health(c.Request().Context()))
	})
	api.GET("/statistics", func(c echo.Context) error {
		return c.JSON(http.StatusOK, p.Statistics())
	})
	api.DELETE("/cache", func(c echo.Context) error {
		if err := p.ClearCache(); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "cache clear failed")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
	})

	return e, logger
}

func handleQuery(p *pipeline.Pipeline) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req queryRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		opts := model.DefaultOptions()
		if req.Options != nil {
			opts = *req.Options
		}

		result, err := p.Submit(c.Request().Context(), req.Query, opts)
		if err != nil {
			if pe, ok := pipeline.IsFatal(err); ok {
				return c.JSON(statusFor(pe), errorResponse{
					Error:     string(pe.Kind),
					Message:   pe.Message,
					RequestID: pe.RequestID,
				})
			}
			return err
		}
		return c.JSON(http.StatusOK, result)
	}
}

func statusFor(pe *pipeline.Error) int {
	switch pe.Kind {
	case pipeline.ErrInvalidQuery:
		return http.StatusBadRequest
	case pipeline.ErrStageMinimumNotMet:
		// A stage lost to model timeouts is a gateway timeout to clients.
		if gateway.KindOf(pe.Cause) == gateway.KindTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
