package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// RequestLogger logs one line per request with slog.
func RequestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:     true,
		LogURIPath:    true,
		LogStatus:     true,
		LogLatency:    true,
		LogRemoteIP:   true,
		LogError:      true,
		LogValuesFunc: logRequest,
	})
}

func logRequest(_ echo.Context, v middleware.RequestLoggerValues) error {
	attrs := []any{
		"method", v.Method,
		"path", v.URIPath,
		"status", v.Status,
		"latency", v.Latency,
		"ip", v.RemoteIP,
	}
	if v.Error == nil {
		slog.Info("request", attrs...)
		return nil
	}

	// the error handler has not written the response yet
	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(v.Error, &he) {
		code = he.Code
	}
	attrs[5] = code
	slog.Error("request failed", append(attrs, "error", v.Error)...)
	return nil
}
