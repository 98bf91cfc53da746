package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/ledger"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/middleware"
	"github.com/iliyamo/echosecure-chat/internal/model"
)

// MessageHandler exposes the message ledger for direct and group chats.
type MessageHandler struct {
	Ledger *ledger.Service
	Log    logging.Logger
}

func NewMessageHandler(l *ledger.Service, log logging.Logger) *MessageHandler {
	return &MessageHandler{Ledger: l, Log: log}
}

type editReq struct {
	Text string `json:"text"`
}
type reactReq struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

func directTarget(c echo.Context) ledger.Target { return ledger.ToUser(c.Param("peer")) }
func groupTarget(c echo.Context) ledger.Target  { return ledger.ToGroup(c.Param("id")) }

func (h *MessageHandler) list(c echo.Context, target ledger.Target) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	msgs, err := h.Ledger.List(ctx, target, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *MessageHandler) send(c echo.Context, target ledger.Target) error {
	var body model.Content
	if err := c.Bind(&body); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Ledger.Send(ctx, target, body, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *MessageHandler) pinned(c echo.Context, target ledger.Target) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	msgs, err := h.Ledger.Pinned(ctx, target, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, msgs)
}

// GET /messages/:peer
func (h *MessageHandler) ListDirect(c echo.Context) error { return h.list(c, directTarget(c)) }

// POST /messages/send/:peer
func (h *MessageHandler) SendDirect(c echo.Context) error { return h.send(c, directTarget(c)) }

// GET /messages/pinned/:peer
func (h *MessageHandler) PinnedDirect(c echo.Context) error { return h.pinned(c, directTarget(c)) }

// GET /groups/:id/messages
func (h *MessageHandler) ListGroup(c echo.Context) error { return h.list(c, groupTarget(c)) }

// POST /groups/:id/messages
func (h *MessageHandler) SendGroup(c echo.Context) error { return h.send(c, groupTarget(c)) }

// GET /groups/:id/pinned
func (h *MessageHandler) PinnedGroup(c echo.Context) error { return h.pinned(c, groupTarget(c)) }

// PUT /messages/:id
func (h *MessageHandler) Edit(c echo.Context) error {
	var req editReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Ledger.Edit(ctx, c.Param("id"), req.Text, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// DELETE /messages/:id
func (h *MessageHandler) Delete(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Ledger.Delete(ctx, c.Param("id"), middleware.UserID(c)); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Message deleted"})
}

// DELETE /messages/chat/:peer
func (h *MessageHandler) DeleteChat(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	n, err := h.Ledger.DeleteConversation(ctx, c.Param("peer"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Chat deleted", "deleted": n})
}

// POST /messages/:id/react
func (h *MessageHandler) React(c echo.Context) error {
	var req reactReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Ledger.React(ctx, c.Param("id"), req.Emoji, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// DELETE /messages/:id/react
func (h *MessageHandler) Unreact(c echo.Context) error {
	var req reactReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Ledger.Unreact(ctx, c.Param("id"), req.Emoji, req.UserID, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// GET /messages/:id/reactions/:emoji
func (h *MessageHandler) ReactionUsers(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	users, err := h.Ledger.ReactionUsers(ctx, c.Param("id"), c.Param("emoji"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, users)
}

// POST /messages/:id/pin
func (h *MessageHandler) Pin(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Ledger.Pin(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// DELETE /messages/:id/pin
func (h *MessageHandler) Unpin(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Ledger.Unpin(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// POST /messages/:id/read
func (h *MessageHandler) MarkRead(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Ledger.MarkRead(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}
