package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/event"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/middleware"
	"github.com/iliyamo/echosecure-chat/internal/presence"
)

// Groups resolves group membership for the typing relay.
type Groups interface {
	Members(ctx context.Context, groupID string) ([]string, error)
}

type Dispatcher interface {
	Send(ctx context.Context, name string, data any, recipients ...string) int
}

type Server struct {
	reg      *presence.Registry
	groups   Groups
	dispatch Dispatcher
	upgrader websocket.Upgrader
	log      logging.Logger
}

// NewServer accepts upgrades from allowedOrigin, or from any origin when it
// is empty.
func NewServer(reg *presence.Registry, groups Groups, dispatch Dispatcher, allowedOrigin string, log logging.Logger) *Server {
	s := &Server{reg: reg, groups: groups, dispatch: dispatch, log: log.With("component", "ws")}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(r.Header.Get("Origin"), allowedOrigin) },
	}
	return s
}

func originAllowed(origin, allowed string) bool {
	if allowed == "" || origin == "" {
		return true
	}
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	a, err := url.Parse(allowed)
	if err != nil {
		return false
	}
	return o.Scheme == a.Scheme && o.Host == a.Host
}

// Handle upgrades an authenticated request. It must sit behind
// middleware.RequireSession.
func (s *Server) Handle(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Debug(c.Request().Context(), "upgrade failed", "err", err)
		return nil
	}
	s.serve(uid, conn)
	return nil
}

// serve runs one connection to completion on the calling goroutine.
func (s *Server) serve(uid string, conn socket) {
	ctx := context.Background()
	cl := newClient(uid, conn)
	go cl.writePump()
	s.reg.Register(ctx, uid, cl)

	cl.readPump(func(ev event.Event) { s.relay(ctx, uid, ev) })

	s.reg.Unregister(ctx, uid, cl)
	cl.Close()
}

type typingIn struct {
	ReceiverID string `json:"receiverId"`
	GroupID    string `json:"groupId"`
	IsTyping   *bool  `json:"isTyping"`
}

// TypingOut is what the relay forwards.
type TypingOut struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

// relay handles client-to-server events. Unknown events are ignored.
func (s *Server) relay(ctx context.Context, senderID string, ev event.Event) {
	raw, _ := ev.Data.(json.RawMessage)
	var in typingIn
	if len(raw) > 0 && json.Unmarshal(raw, &in) != nil {
		return
	}
	out := TypingOut{SenderID: senderID, IsTyping: in.IsTyping == nil || *in.IsTyping}

	switch ev.Name {
	case event.Typing:
		if in.ReceiverID == "" || in.ReceiverID == senderID {
			return
		}
		out.ReceiverID = in.ReceiverID
		s.dispatch.Send(ctx, event.Typing, out, in.ReceiverID)
	case event.GroupTyping:
		if in.GroupID == "" {
			return
		}
		members, err := s.groups.Members(ctx, in.GroupID)
		if err != nil || !slices.Contains(members, senderID) {
			return
		}
		out.GroupID = in.GroupID
		others := slices.DeleteFunc(slices.Clone(members), func(id string) bool { return id == senderID })
		s.dispatch.Send(ctx, event.GroupTyping, out, others...)
	}
}
