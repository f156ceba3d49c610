package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleWebSocket(c echo.Context) error {
	if s.limits != nil {
		ip := c.RealIP()
		ok, reason := s.limits.Acquire(ip)
		if !ok {
			return s.rejectOverLimit(c, ip, reason)
		}
		defer s.limits.Release(ip)
	}

	s.sessions.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) rejectOverLimit(c echo.Context, ip string, reason LimitReason) error {
	s.metrics.WebSocket.SessionsRejected.WithLabelValues(string(reason)).Inc()
	slog.WarnContext(c.Request().Context(), "Connection rejected by admission limit", "remote_ip", ip, "reason", reason)

	status := http.StatusTooManyRequests
	if reason == LimitReasonGlobal {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, map[string]string{"error": string(reason)}); err != nil {
		return fmt.Errorf("failed to write rejection response: %w", err)
	}
	return nil
}
