package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/brunakemp/juschat/internal/store"
)

// ConversationView is the control API's conversation shape.
type ConversationView struct {
	ID                 string `json:"id"`
	ParticipantID      string `json:"participantId"`
	ParticipantName    string `json:"participantName"`
	ParticipantRole    string `json:"participantRole"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessagePreview string `json:"lastMessagePreview"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	Archived           bool   `json:"archived"`
}

func viewConversation(c *store.Conversation) ConversationView {
	return ConversationView{
		ID:                 c.ID,
		ParticipantID:      c.ParticipantID,
		ParticipantName:    c.ParticipantName,
		ParticipantRole:    c.ParticipantRole,
		UnreadCount:        c.UnreadCount,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		Archived:           c.Archived,
	}
}

func (s *Server) listConversations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	convs, err := s.deps.DB.ListConversations(limit, offset)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	views := make([]ConversationView, 0, len(convs))
	for i := range convs {
		views = append(views, viewConversation(&convs[i]))
	}
	return c.JSON(http.StatusOK, views)
}

type createConversationRequest struct {
	ParticipantID string `json:"participantId"`
}

func (s *Server) createConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if req.ParticipantID == "" {
		return fail(c, http.StatusBadRequest, fmt.Errorf("participantId is required"))
	}

	ctx, cancel := s.reqCtx(c)
	defer cancel()

	conv, err := s.deps.Directory.ListOrCreate(ctx, req.ParticipantID)
	if err != nil {
		return fail(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, viewConversation(conv))
}

// openConversation starts polling a conversation and marks it read. This
// is the "user is looking at the thread" signal.
func (s *Server) openConversation(c echo.Context) error {
	id := c.Param("id")
	conv, err := s.deps.DB.GetConversation(id)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	if conv == nil {
		return fail(c, http.StatusNotFound, fmt.Errorf("no conversation %s", id))
	}

	s.deps.Poller.SetActive(id)

	ctx, cancel := s.reqCtx(c)
	defer cancel()
	if err := s.deps.Directory.MarkRead(ctx, id); err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) closeConversation(c echo.Context) error {
	if s.deps.Poller.Active() == c.Param("id") {
		s.deps.Poller.ClearActive()
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) readConversation(c echo.Context) error {
	ctx, cancel := s.reqCtx(c)
	defer cancel()
	if err := s.deps.Directory.MarkRead(ctx, c.Param("id")); err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) archiveConversation(c echo.Context) error {
	ctx, cancel := s.reqCtx(c)
	defer cancel()
	if err := s.deps.Directory.Archive(ctx, c.Param("id")); err != nil {
		return fail(c, http.StatusBadGateway, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteConversation(c echo.Context) error {
	id := c.Param("id")

	ctx, cancel := s.reqCtx(c)
	defer cancel()
	if err := s.deps.Directory.Remove(ctx, id); err != nil {
		return fail(c, http.StatusBadGateway, err)
	}
	if s.deps.Poller.Active() == id {
		s.deps.Poller.ClearActive()
	}
	return c.NoContent(http.StatusNoContent)
}

// forceRefresh runs a synchronous directory refresh and message poll.
// Unlike the background ticks, a failure here is the caller's to see.
func (s *Server) forceRefresh(c echo.Context) error {
	ctx, cancel := s.reqCtx(c)
	defer cancel()
	if err := s.deps.Directory.ForceRefresh(ctx); err != nil {
		return fail(c, http.StatusBadGateway, err)
	}
	if err := s.deps.Poller.ForcePoll(ctx); err != nil {
		return fail(c, http.StatusBadGateway, err)
	}
	return c.NoContent(http.StatusNoContent)
}
