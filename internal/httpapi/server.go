package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"TubeDigest/internal/ports"
	"TubeDigest/internal/session"
)

// Server exposes local health and inspection endpoints. It is meant for the
// operator, not for bot users; the admin group requires a bearer token.
type Server struct {
	echo     *echo.Echo
	addr     string
	sessions *session.Controller
	history  ports.HistoryRepository
	logger   *slog.Logger
}

func NewServer(addr, token string, sessions *session.Controller, history ports.HistoryRepository, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		addr:     addr,
		sessions: sessions,
		history:  history,
		logger:   logger.With("component", "httpapi"),
	}

	e.GET("/health", s.health)

	admin := e.Group("/admin")
	if token != "" {
		admin.Use(middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return key == token, nil
		}))
	}
	admin.GET("/sessions", s.listSessions)
	admin.GET("/runs", s.listRuns)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("admin api listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.sessions.Snapshot(c.Request().Context())
	if err != nil {
		s.logger.Error("session snapshot failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "snapshot failed")
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) listRuns(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	runs, err := s.history.RecentRuns(c.Request().Context(), 50)
	if err != nil {
		s.logger.Error("run history query failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "history query failed")
	}
	return c.JSON(http.StatusOK, runs)
}
