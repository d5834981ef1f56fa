package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/droverd/drover/pkg/metrics"
)

// requestObserver times every request, records the Prometheus counters and
// logs the outcome. The route pattern (not the raw URL) labels the metrics so
// path parameters do not explode cardinality.
func (s *Server) requestObserver() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := c.Response().Status
			elapsed := time.Since(start)

			metrics.APIRequestsTotal.WithLabelValues(
				req.Method, route, strconv.Itoa(status)).Inc()
			metrics.APIRequestDuration.WithLabelValues(
				req.Method, route).Observe(elapsed.Seconds())

			ev := s.logger.Debug()
			if status >= http.StatusInternalServerError {
				ev = s.logger.Warn()
			} else if req.Method != http.MethodGet {
				ev = s.logger.Info()
			}
			ev.Str("method", req.Method).
				Str("route", route).
				Int("status", status).
				Dur("duration", elapsed).
				Msg("request")

			return nil
		}
	}
}
