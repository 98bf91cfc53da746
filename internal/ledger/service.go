// Package ledger owns the message lifecycle: send, edit, reactions, pins,
// read receipts, deletion and expiry. Text is encrypted before it reaches
// the store and decrypted on the way out.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/event"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/model"
	"github.com/iliyamo/echosecure-chat/internal/repository"
)

const (
	EditWindow   = 5 * time.Minute
	MaxPinned    = 3
	maxAttempts  = 3
	sweepBatch   = 500
	maxTextBytes = 16 << 10
)

type Store interface {
	Create(ctx context.Context, m model.Message) error
	Get(ctx context.Context, id string) (model.Message, error)
	Update(ctx context.Context, m model.Message) error
	Delete(ctx context.Context, id string) error
	ListConversation(ctx context.Context, conv model.Conversation, now time.Time) ([]model.Message, error)
	ListPinned(ctx context.Context, conv model.Conversation, now time.Time) ([]model.Message, error)
	// Pin writes m as pinned only if its conversation holds fewer than
	// limit pinned messages, checked atomically with the write.
	Pin(ctx context.Context, m model.Message, limit int, now time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Message, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	DeleteConversation(ctx context.Context, conv model.Conversation) (int64, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

// Groups resolves current group membership.
type Groups interface {
	Members(ctx context.Context, groupID string) ([]string, error)
}

type Dispatcher interface {
	Send(ctx context.Context, name string, data any, recipients ...string) int
}

type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) string
}

type Service struct {
	store    Store
	users    UserLookup
	groups   Groups
	dispatch Dispatcher
	cipher   Cipher
	log      logging.Logger
	now      func() time.Time
}

func NewService(store Store, users UserLookup, groups Groups, dispatch Dispatcher, cipher Cipher, log logging.Logger) *Service {
	return &Service{
		store:    store,
		users:    users,
		groups:   groups,
		dispatch: dispatch,
		cipher:   cipher,
		log:      log.With("component", "ledger"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var (
	errEmpty    = apperr.Validation("Message cannot be empty")
	errPinLimit = apperr.Limit("Maximum of 3 pinned messages allowed")
)

func notFound() error { return apperr.NotFound("Message not found") }

// load fetches a live message. Expired messages are reported as missing
// even before the sweep removes them.
func (s *Service) load(ctx context.Context, id string) (model.Message, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Message{}, notFound()
		}
		return model.Message{}, apperr.Internal("load message", err)
	}
	if m.ExpiredAt(s.now()) {
		return model.Message{}, notFound()
	}
	return m, nil
}

// recipients returns who hears about changes to m: both peers of a direct
// message, or the group's current members.
func (s *Service) recipients(ctx context.Context, m model.Message) ([]string, error) {
	if !m.IsGroup() {
		return []string{m.SenderID, m.ReceiverID}, nil
	}
	return s.groups.Members(ctx, m.GroupID)
}

// authorize checks that userID takes part in m's conversation and returns
// the recipients for follow-up events.
func (s *Service) authorize(ctx context.Context, m model.Message, userID string) ([]string, error) {
	rcpt, err := s.recipients(ctx, m)
	if err != nil {
		return nil, err
	}
	for _, u := range rcpt {
		if u == userID {
			return rcpt, nil
		}
	}
	return nil, apperr.Forbidden("You are not part of this conversation")
}

func (s *Service) emit(ctx context.Context, m model.Message, direct, group string, data any, rcpt []string) {
	s.dispatch.Send(ctx, event.ForConversation(m.IsGroup(), direct, group), data, rcpt...)
}

// mutate applies fn to the freshest copy of a message and writes it back
// with an optimistic version check, retrying when another writer got in
// between. fn reports whether it changed anything; unchanged messages are
// not written.
func (s *Service) mutate(ctx context.Context, id string, fn func(m *model.Message) (bool, error)) (model.Message, bool, error) {
	return s.mutateWith(ctx, id, fn, s.store.Update)
}

func (s *Service) mutateWith(ctx context.Context, id string, fn func(m *model.Message) (bool, error),
	write func(ctx context.Context, m model.Message) error) (model.Message, bool, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		m, err := s.load(ctx, id)
		if err != nil {
			return model.Message{}, false, err
		}
		changed, err := fn(&m)
		if err != nil || !changed {
			return m, false, err
		}
		m.UpdatedAt = s.now()
		err = write(ctx, m)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.Debug(ctx, "message version conflict, retrying", "message_id", id, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, repository.ErrPinLimit) {
			return model.Message{}, false, errPinLimit
		}
		if err != nil {
			return model.Message{}, false, apperr.Internal("update message", err)
		}
		m.Version++
		return m, true, nil
	}
	return model.Message{}, false, apperr.Internal("update message", repository.ErrVersionConflict)
}

// Send stores a new message from senderID into target and fans it out.
func (s *Service) Send(ctx context.Context, target Target, payload model.Content, senderID string) (View, error) {
	payload.Text = strings.TrimSpace(payload.Text)
	if payload.Empty() {
		return View{}, errEmpty
	}
	if len(payload.Text) > maxTextBytes {
		return View{}, apperr.Validation("Message is too long")
	}
	if target.id() == "" || (target.ReceiverID != "" && target.GroupID != "") {
		return View{}, apperr.Validation("Exactly one of receiver or group is required")
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return View{}, s.userErr(err, "Sender not found")
	}

	var rcpt []string
	if target.IsGroup() {
		members, err := s.groups.Members(ctx, target.GroupID)
		if err != nil {
			return View{}, err
		}
		rcpt = members
		if !contains(members, senderID) {
			return View{}, apperr.Forbidden("You are not a member of this group")
		}
	} else {
		if _, err := s.users.GetByID(ctx, target.ReceiverID); err != nil {
			return View{}, s.userErr(err, "Receiver not found")
		}
		rcpt = []string{senderID, target.ReceiverID}
	}

	if payload.Contact != nil {
		c, err := s.users.GetByID(ctx, payload.Contact.UserID)
		if err != nil {
			return View{}, s.userErr(err, "Contact not found")
		}
		payload.Contact = &model.Contact{UserID: c.ID, FullName: c.FullName, ProfilePic: c.ProfilePic}
	}

	now := s.now()
	m := model.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: target.ReceiverID,
		GroupID:    target.GroupID,
		Content:    payload,
		ReadBy:     []string{},
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if payload.RepliedTo != "" {
		parent, err := s.load(ctx, payload.RepliedTo)
		if err != nil || parent.Conversation() != m.Conversation() {
			return View{}, apperr.Validation("Invalid reply reference")
		}
	}
	if d, ok := model.ParseDisappear(sender.DisappearSettings[target.id()]); ok {
		exp := now.Add(d)
		m.ExpiresAt = &exp
	}

	plain := payload.Text
	if m.Text, err = s.cipher.Encrypt(plain); err != nil {
		return View{}, apperr.Internal("encrypt message", err)
	}
	if err := s.store.Create(ctx, m); err != nil {
		return View{}, apperr.Internal("create message", err)
	}

	v := s.view(m)
	if target.IsGroup() {
		v.SenderName = sender.FullName
	}
	s.log.Debug(ctx, "message sent", "message_id", m.ID, "conversation", m.Conversation().Key())
	s.emit(ctx, m, event.NewMessage, event.NewGroupMessage, v, rcpt)
	return v, nil
}

func (s *Service) userErr(err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msg)
	}
	return apperr.Internal("load user", err)
}

// Edit replaces the text of a message. Only the sender may edit, and only
// within EditWindow of sending.
func (s *Service) Edit(ctx context.Context, messageID, newText, requesterID string) (View, error) {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return View{}, apperr.Validation("Text cannot be empty")
	}
	if len(newText) > maxTextBytes {
		return View{}, apperr.Validation("Message is too long")
	}
	m, changed, err := s.mutate(ctx, messageID, func(m *model.Message) (bool, error) {
		if m.SenderID != requesterID {
			return false, apperr.Forbidden("You can only edit your own messages")
		}
		if s.now().Sub(m.CreatedAt) > EditWindow {
			return false, apperr.Forbidden("Messages can only be edited within 5 minutes")
		}
		enc, err := s.cipher.Encrypt(newText)
		if err != nil {
			return false, apperr.Internal("encrypt message", err)
		}
		m.Text = enc
		m.IsEdited = true
		return true, nil
	})
	if err != nil {
		return View{}, err
	}
	v := s.view(m)
	if changed {
		rcpt, err := s.recipients(ctx, m)
		if err == nil {
			s.emit(ctx, m, event.MessageUpdated, event.GroupMessageUpdated, v, rcpt)
		}
	}
	return v, nil
}

// React sets userID's reaction on a message, replacing any reaction the
// user had under another emoji.
func (s *Service) React(ctx context.Context, messageID, emoji, userID string) (View, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return View{}, apperr.Validation("Emoji is required")
	}
	var rcpt []string
	m, changed, err := s.mutate(ctx, messageID, func(m *model.Message) (bool, error) {
		var err error
		if rcpt, err = s.authorize(ctx, *m, userID); err != nil {
			return false, err
		}
		if m.Reactions.EmojiOf(userID) == emoji {
			return false, nil
		}
		m.Reactions.Set(emoji, userID)
		return true, nil
	})
	if err != nil {
		return View{}, err
	}
	if changed {
		s.emit(ctx, m, event.MessageReaction, event.GroupMessageReaction, ReactionChange{
			MessageID: m.ID, GroupID: m.GroupID, UserID: userID, Emoji: emoji, Reactions: m.Reactions.Map(),
		}, rcpt)
	}
	return s.view(m), nil
}

// Unreact removes a reaction. requesterID may only remove their own
// reaction; targetUserID defaults to the requester.
func (s *Service) Unreact(ctx context.Context, messageID, emoji, targetUserID, requesterID string) (View, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return View{}, apperr.Validation("Emoji is required")
	}
	if targetUserID == "" {
		targetUserID = requesterID
	}
	if targetUserID != requesterID {
		return View{}, apperr.Forbidden("You can only remove your own reaction")
	}
	var rcpt []string
	m, _, err := s.mutate(ctx, messageID, func(m *model.Message) (bool, error) {
		var err error
		if rcpt, err = s.authorize(ctx, *m, requesterID); err != nil {
			return false, err
		}
		if !m.Reactions.Has(emoji) {
			return false, apperr.NotFound("Reaction not found")
		}
		if !m.Reactions.Remove(emoji, requesterID) {
			return false, apperr.Forbidden("You can only remove your own reaction")
		}
		return true, nil
	})
	if err != nil {
		return View{}, err
	}
	s.emit(ctx, m, event.MessageReaction, event.GroupMessageReaction, ReactionChange{
		MessageID: m.ID, GroupID: m.GroupID, UserID: requesterID, Emoji: emoji, Removed: true, Reactions: m.Reactions.Map(),
	}, rcpt)
	return s.view(m), nil
}

// ReactionUsers lists who reacted with emoji.
func (s *Service) ReactionUsers(ctx context.Context, messageID, emoji, requesterID string) ([]model.PublicUser, error) {
	m, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, m, requesterID); err != nil {
		return nil, err
	}
	out := []model.PublicUser{}
	for _, uid := range m.Reactions.Users(emoji) {
		u, err := s.users.GetByID(ctx, uid)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Internal("load reacting user", err)
		}
		out = append(out, u.Public())
	}
	return out, nil
}

// Pin marks a message as pinned. A conversation holds at most MaxPinned
// pinned messages; pinning an already pinned message is a no-op.
func (s *Service) Pin(ctx context.Context, messageID, requesterID string) (View, error) {
	return s.setPinned(ctx, messageID, requesterID, true)
}

func (s *Service) Unpin(ctx context.Context, messageID, requesterID string) (View, error) {
	return s.setPinned(ctx, messageID, requesterID, false)
}

func (s *Service) setPinned(ctx context.Context, messageID, requesterID string, pin bool) (View, error) {
	write := s.store.Update
	if pin {
		write = func(ctx context.Context, m model.Message) error {
			return s.store.Pin(ctx, m, MaxPinned, s.now())
		}
	}
	var rcpt []string
	m, changed, err := s.mutateWith(ctx, messageID, func(m *model.Message) (bool, error) {
		var err error
		if rcpt, err = s.authorize(ctx, *m, requesterID); err != nil {
			return false, err
		}
		if m.Pinned == pin {
			return false, nil
		}
		m.Pinned = pin
		return true, nil
	}, write)
	if err != nil {
		return View{}, err
	}
	v := s.view(m)
	if changed {
		if pin {
			s.emit(ctx, m, event.MessagePinned, event.GroupMessagePinned, v, rcpt)
		} else {
			s.emit(ctx, m, event.MessageUnpinned, event.GroupMessageUnpinned, v, rcpt)
		}
	}
	return v, nil
}

// MarkRead records that userID has read a message. Repeated calls are
// no-ops and emit nothing.
func (s *Service) MarkRead(ctx context.Context, messageID, userID string) (View, error) {
	var rcpt []string
	m, changed, err := s.mutate(ctx, messageID, func(m *model.Message) (bool, error) {
		var err error
		if rcpt, err = s.authorize(ctx, *m, userID); err != nil {
			return false, err
		}
		return m.MarkRead(userID), nil
	})
	if err != nil {
		return View{}, err
	}
	if changed {
		s.emit(ctx, m, event.MessageRead, event.GroupMessageRead,
			ReadReceipt{MessageID: m.ID, GroupID: m.GroupID, ReadBy: userID}, rcpt)
	}
	return s.view(m), nil
}

// conversation resolves target for requesterID and checks access.
func (s *Service) conversation(ctx context.Context, target Target, requesterID string) (model.Conversation, error) {
	if target.IsGroup() {
		members, err := s.groups.Members(ctx, target.GroupID)
		if err != nil {
			return model.Conversation{}, err
		}
		if !contains(members, requesterID) {
			return model.Conversation{}, apperr.Forbidden("You are not a member of this group")
		}
		return model.GroupConversation(target.GroupID), nil
	}
	if target.ReceiverID == "" {
		return model.Conversation{}, apperr.Validation("Peer is required")
	}
	return model.DirectConversation(requesterID, target.ReceiverID), nil
}

// List returns the live messages of a conversation, oldest first.
func (s *Service) List(ctx context.Context, target Target, requesterID string) ([]View, error) {
	conv, err := s.conversation(ctx, target, requesterID)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.ListConversation(ctx, conv, s.now())
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	return s.views(ms), nil
}

// Pinned returns the pinned messages of a conversation.
func (s *Service) Pinned(ctx context.Context, target Target, requesterID string) ([]View, error) {
	conv, err := s.conversation(ctx, target, requesterID)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.ListPinned(ctx, conv, s.now())
	if err != nil {
		return nil, apperr.Internal("list pinned", err)
	}
	return s.views(ms), nil
}

// Delete removes a message. Sender only.
func (s *Service) Delete(ctx context.Context, messageID, requesterID string) error {
	m, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		return apperr.Forbidden("You can only delete your own messages")
	}
	rcpt, err := s.recipients(ctx, m)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, m.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound()
		}
		return apperr.Internal("delete message", err)
	}
	s.emit(ctx, m, event.MessageDeleted, event.GroupMessageDeleted, removalOf(m), rcpt)
	return nil
}

// DeleteConversation removes every message between requesterID and peerID.
func (s *Service) DeleteConversation(ctx context.Context, peerID, requesterID string) (int64, error) {
	if peerID == "" {
		return 0, apperr.Validation("Peer is required")
	}
	n, err := s.store.DeleteConversation(ctx, model.DirectConversation(requesterID, peerID))
	if err != nil {
		return 0, apperr.Internal("delete conversation", err)
	}
	s.log.Info(ctx, "conversation deleted", "user_id", requesterID, "peer_id", peerID, "count", n)
	s.dispatch.Send(ctx, event.ChatDeleted, map[string]string{"userId": requesterID, "peerId": peerID}, requesterID, peerID)
	return n, nil
}

// SweepExpired deletes every message whose expiry has passed and tells
// the affected conversations. It returns how many messages were removed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	var total int64
	members := map[string][]string{}
	for {
		batch, err := s.store.ListExpired(ctx, s.now(), sweepBatch)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}
		ids := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
		}
		n, err := s.store.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		total += n
		for _, m := range batch {
			rcpt := []string{m.SenderID, m.ReceiverID}
			if m.IsGroup() {
				if _, ok := members[m.GroupID]; !ok {
					ms, err := s.groups.Members(ctx, m.GroupID)
					if err != nil {
						s.log.Debug(ctx, "expiry fanout skipped", "group_id", m.GroupID, "err", err)
					}
					members[m.GroupID] = ms
				}
				rcpt = members[m.GroupID]
			}
			s.dispatch.Send(ctx, event.MessageExpired, removalOf(m), rcpt...)
		}
		s.log.Info(ctx, "expired messages removed", "count", len(batch))
		if len(batch) < sweepBatch {
			return total, nil
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
