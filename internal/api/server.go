package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/brunakemp/juschat/internal/auth"
	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/outbox"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/status"
	"github.com/brunakemp/juschat/internal/store"
	jsync "github.com/brunakemp/juschat/internal/sync"
)

// Deps carries everything the control surface needs.
type Deps struct {
	DB        *store.DB
	Bus       *bus.Bus
	Machine   *status.Machine
	Poller    *jsync.Poller
	Directory *jsync.Directory
	Composer  *outbox.Composer
	Client    *rest.Client
	Auth      *auth.Manager
	Session   string
	Timeout   time.Duration
}

// Server is the daemon's local control surface: a JSON API served over the
// session's unix socket. Only processes with filesystem access to the
// socket can reach it.
type Server struct {
	echo       *echo.Echo
	deps       Deps
	logger     *zap.Logger
	socketPath string
}

// NewServer creates the control server bound to the given socket path.
func NewServer(deps Deps, socketPath string, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, deps: deps, logger: logger, socketPath: socketPath}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.echo.Group("/v1")

	v1.GET("/status", s.getStatus)
	v1.POST("/auth/login", s.postLogin)
	v1.POST("/auth/logout", s.postLogout)

	v1.GET("/conversations", s.listConversations)
	v1.POST("/conversations", s.createConversation)
	v1.POST("/conversations/:id/open", s.openConversation)
	v1.POST("/conversations/:id/close", s.closeConversation)
	v1.POST("/conversations/:id/read", s.readConversation)
	v1.POST("/conversations/:id/archive", s.archiveConversation)
	v1.DELETE("/conversations/:id", s.deleteConversation)

	v1.GET("/conversations/:id/messages", s.listMessages)
	v1.POST("/conversations/:id/messages", s.sendMessage)
	v1.DELETE("/conversations/:id/messages/:msgId", s.deleteMessage)
	v1.POST("/messages/:clientId/retry", s.retryMessage)
	v1.GET("/search", s.searchMessages)

	v1.POST("/sync/refresh", s.forceRefresh)
	v1.GET("/events", s.streamEvents)
}

// Start listens on the unix socket. A stale socket from a crashed daemon
// is removed first; the lock file already guarantees single ownership.
func (s *Server) Start() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.echo.Listener = ln
	go func() {
		if err := s.echo.Start(""); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("control server listening", zap.String("socket", s.socketPath))
	return nil
}

// Stop shuts the control server down.
func (s *Server) Stop(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
	return err
}

// errorBody is the JSON error envelope for control responses.
type errorBody struct {
	Error string `json:"error"`
}

func fail(c echo.Context, code int, err error) error {
	return c.JSON(code, errorBody{Error: err.Error()})
}

func (s *Server) reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.deps.Timeout)
}
