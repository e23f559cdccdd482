package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/brunakemp/juschat/internal/rest"
)

// StatusResponse is the daemon's status summary.
type StatusResponse struct {
	Session       string     `json:"session"`
	State         string     `json:"state"`
	User          *rest.User `json:"user,omitempty"`
	Conversations int64      `json:"conversations"`
	Messages      int64      `json:"messages"`
	ActivePoll    string     `json:"activePoll,omitempty"`
}

func (s *Server) getStatus(c echo.Context) error {
	convs, err := s.deps.DB.ConversationCount()
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	msgs, err := s.deps.DB.MessageCount()
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Session:       s.deps.Session,
		State:         string(s.deps.Machine.Current()),
		User:          s.deps.Auth.CurrentUser(),
		Conversations: convs,
		Messages:      msgs,
		ActivePoll:    s.deps.Poller.Active(),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) postLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if req.Email == "" || req.Password == "" {
		return fail(c, http.StatusBadRequest, fmt.Errorf("email and password are required"))
	}

	ctx, cancel := s.reqCtx(c)
	defer cancel()

	user, err := s.deps.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		if rest.IsAuthError(err) {
			return fail(c, http.StatusUnauthorized, err)
		}
		return fail(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) postLogout(c echo.Context) error {
	if err := s.deps.Auth.Logout(); err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	return c.NoContent(http.StatusNoContent)
}
