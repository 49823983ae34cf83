package httpapi

import (
	"expvar"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

const requestIDKey = "request_id"

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
)

// RequestID honours an inbound X-Request-ID or generates one, and exposes it
// to handlers and the logger.
func RequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(requestIDKey, id)
		},
	})
}

func requestID(c echo.Context) string {
	id, _ := c.Get(requestIDKey).(string)
	return id
}

// Logger writes one line per request and feeds the expvar counters.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			requestsTotal.Add(1)
			if status >= http.StatusBadRequest {
				requestsErrors.Add(1)
			}

			evt := logger.Info()
			if cause, ok := c.Get("error").(error); ok {
				evt = logger.Error().Err(cause)
			} else if err != nil {
				evt = logger.Error().Err(err)
			} else if status >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			if staffID := actorFrom(c).StaffID; staffID != nil {
				evt = evt.Str("staff_id", staffID.String())
			}
			evt.
				Str("request_id", requestID(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("role", string(actorFrom(c).Role)).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}

func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					logger.Error().
						Str("request_id", requestID(c)).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					err = writeError(c, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()
			return next(c)
		}
	}
}
