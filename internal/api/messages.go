package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/brunakemp/juschat/internal/outbox"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/store"
)

// MessageView is the control API's message shape.
type MessageView struct {
	MsgID          string           `json:"msgId"`
	ConversationID string           `json:"conversationId"`
	SenderID       string           `json:"senderId"`
	SenderName     string           `json:"senderName"`
	Body           string           `json:"body"`
	Status         string           `json:"status"`
	FromMe         bool             `json:"fromMe"`
	Pending        bool             `json:"pending"`
	CreatedAt      int64            `json:"createdAt"`
	Attachments    []AttachmentView `json:"attachments,omitempty"`
}

// AttachmentView is the control API's attachment shape.
type AttachmentView struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Mime  string `json:"mime"`
	Bytes int64  `json:"bytes"`
}

func viewMessage(m *store.Message) MessageView {
	v := MessageView{
		MsgID:          m.MsgID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Body:           m.Body,
		Status:         m.Status,
		FromMe:         m.FromMe,
		Pending:        m.Pending,
		CreatedAt:      m.CreatedAt,
	}
	for _, a := range m.Attachments {
		v.Attachments = append(v.Attachments, AttachmentView{
			URL: a.URL, Name: a.Name, Mime: a.Mime, Bytes: a.Bytes,
		})
	}
	return v
}

func (s *Server) listMessages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	msgs, err := s.deps.DB.ListMessages(c.Param("id"), limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, viewMessage(&msgs[i]))
	}
	return c.JSON(http.StatusOK, views)
}

type sendMessageRequest struct {
	Text           string `json:"text"`
	AttachmentPath string `json:"attachmentPath"`
}

type sendMessageResponse struct {
	ClientMsgID string `json:"clientMsgId"`
}

func (s *Server) sendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}

	ctx, cancel := s.reqCtx(c)
	defer cancel()

	var clientID string
	var err error
	if req.AttachmentPath != "" {
		clientID, err = s.deps.Composer.SendAttachment(ctx, c.Param("id"), req.Text, req.AttachmentPath)
	} else {
		clientID, err = s.deps.Composer.SendText(ctx, c.Param("id"), req.Text)
	}
	if err != nil {
		switch {
		case errors.Is(err, outbox.ErrEmptyMessage):
			return fail(c, http.StatusBadRequest, err)
		case errors.Is(err, outbox.ErrAttachmentInFlight):
			return fail(c, http.StatusConflict, err)
		default:
			return fail(c, http.StatusInternalServerError, err)
		}
	}
	return c.JSON(http.StatusAccepted, sendMessageResponse{ClientMsgID: clientID})
}

func (s *Server) retryMessage(c echo.Context) error {
	ctx, cancel := s.reqCtx(c)
	defer cancel()
	if err := s.deps.Composer.Retry(ctx, c.Param("clientId")); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// deleteMessage removes an own message, server first. The local row only
// disappears once the backend confirmed (404 counts as confirmed).
func (s *Server) deleteMessage(c echo.Context) error {
	convID, msgID := c.Param("id"), c.Param("msgId")

	m, err := s.deps.DB.GetMessage(convID, msgID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	if m == nil {
		return fail(c, http.StatusNotFound, fmt.Errorf("no message %s", msgID))
	}
	if !m.FromMe {
		return fail(c, http.StatusForbidden, fmt.Errorf("only own messages can be deleted"))
	}

	// Rows the server never confirmed exist only locally.
	if !m.Pending {
		ctx, cancel := s.reqCtx(c)
		defer cancel()
		if err := s.deps.Client.DeleteMessage(ctx, msgID); err != nil && !rest.IsNotFound(err) {
			return fail(c, http.StatusBadGateway, err)
		}
	}
	if err := s.deps.DB.DeleteMessage(convID, msgID); err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	s.deps.Poller.Wake()
	return c.NoContent(http.StatusNoContent)
}

// SearchResultView is one full-text search hit.
type SearchResultView struct {
	Message MessageView `json:"message"`
	Snippet string      `json:"snippet"`
}

func (s *Server) searchMessages(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return fail(c, http.StatusBadRequest, fmt.Errorf("q is required"))
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	results, err := s.deps.DB.SearchMessages(query, c.QueryParam("conversation"), limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err)
	}
	views := make([]SearchResultView, 0, len(results))
	for i := range results {
		views = append(views, SearchResultView{
			Message: viewMessage(&results[i].Message),
			Snippet: results[i].Snippet,
		})
	}
	return c.JSON(http.StatusOK, views)
}
