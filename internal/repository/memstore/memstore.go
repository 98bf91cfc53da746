// Package memstore provides in-memory implementations of the repository
// method sets. It backs STORAGE=memory for local runs and the service tests.
// Every read returns a copy; callers never alias stored state.
package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/model"
	"github.com/iliyamo/echosecure-chat/internal/repository"
)

type Users struct {
	mu   sync.RWMutex
	byID map[string]model.User
}

func NewUsers() *Users { return &Users{byID: make(map[string]model.User)} }

func cloneUser(u model.User) model.User {
	settings := make(map[string]string, len(u.DisappearSettings))
	for k, v := range u.DisappearSettings {
		settings[k] = v
	}
	u.DisappearSettings = settings
	if u.OTPExpiresAt != nil {
		t := *u.OTPExpiresAt
		u.OTPExpiresAt = &t
	}
	return u
}

func (s *Users) Create(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	s.byID[u.ID] = cloneUser(u)
	return nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *Users) GetByID(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Users) SetOTP(_ context.Context, userID, hash string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.OTPHash, u.OTPExpiresAt = hash, &exp
	s.byID[userID] = u
	return nil
}

func (s *Users) ConsumeOTP(_ context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok || u.OTPHash == "" || u.OTPHash != hash {
		return false, nil
	}
	u.OTPHash, u.OTPExpiresAt = "", nil
	s.byID[userID] = u
	return true, nil
}

func (s *Users) SetDisappear(_ context.Context, userID, targetID, setting string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u = cloneUser(u)
	u.DisappearSettings[targetID] = setting
	s.byID[userID] = u
	return nil
}

type Sessions struct {
	mu   sync.RWMutex
	byID map[string]model.Session
}

func NewSessions() *Sessions { return &Sessions{byID: make(map[string]model.Session)} }

func (s *Sessions) Create(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[sess.SessionID]; dup {
		return repository.ErrConflict
	}
	s.byID[sess.SessionID] = sess
	return nil
}

func (s *Sessions) Get(_ context.Context, sessionID string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return model.Session{}, repository.ErrNotFound
	}
	return sess, nil
}

func (s *Sessions) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sessionID)
	return nil
}

func (s *Sessions) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.byID {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

type Messages struct {
	mu   sync.RWMutex
	byID map[string]model.Message
}

func NewMessages() *Messages { return &Messages{byID: make(map[string]model.Message)} }

func (s *Messages) Create(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[m.ID]; dup {
		return repository.ErrConflict
	}
	s.byID[m.ID] = m.Clone()
	return nil
}

func (s *Messages) Get(_ context.Context, id string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return model.Message{}, repository.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Messages) Update(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(m)
}

// Pin counts and writes under the same lock, so the limit holds across
// messages of one conversation.
func (s *Messages) Pin(_ context.Context, m model.Message, limit int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := m.Conversation()
	n := 0
	for _, cur := range s.byID {
		if cur.ID != m.ID && cur.Pinned && cur.Conversation() == conv && !cur.ExpiredAt(now) {
			n++
		}
	}
	if n >= limit {
		return repository.ErrPinLimit
	}
	m.Pinned = true
	return s.updateLocked(m)
}

func (s *Messages) updateLocked(m model.Message) error {
	cur, ok := s.byID[m.ID]
	if !ok || cur.Version != m.Version {
		return repository.ErrVersionConflict
	}
	next := cur.Clone()
	next.Text = m.Text
	next.Reactions = m.Reactions.Clone()
	next.Pinned = m.Pinned
	next.IsEdited = m.IsEdited
	next.ReadBy = slices.Clone(m.ReadBy)
	next.UpdatedAt = m.UpdatedAt
	next.Version = cur.Version + 1
	s.byID[m.ID] = next
	return nil
}

func (s *Messages) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *Messages) filter(keep func(model.Message) bool) []model.Message {
	var out []model.Message
	for _, m := range s.byID {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Messages) ListConversation(_ context.Context, conv model.Conversation, now time.Time) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(m model.Message) bool {
		return m.Conversation() == conv && !m.ExpiredAt(now)
	}), nil
}

func (s *Messages) ListPinned(_ context.Context, conv model.Conversation, now time.Time) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(m model.Message) bool {
		return m.Pinned && m.Conversation() == conv && !m.ExpiredAt(now)
	}), nil
}

func (s *Messages) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(m model.Message) bool { return m.ExpiredAt(now) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Messages) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *Messages) DeleteConversation(_ context.Context, conv model.Conversation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.byID {
		if m.Conversation() == conv {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

type Groups struct {
	mu   sync.RWMutex
	byID map[string]model.Group
}

func NewGroups() *Groups { return &Groups{byID: make(map[string]model.Group)} }

func (s *Groups) Create(_ context.Context, g model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[g.ID]; dup {
		return repository.ErrConflict
	}
	s.byID[g.ID] = g.Clone()
	return nil
}

func (s *Groups) Get(_ context.Context, id string) (model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.byID[id]
	if !ok {
		return model.Group{}, repository.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Groups) ListForUser(_ context.Context, userID string) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Group
	for _, g := range s.byID {
		if g.IsMember(userID) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Groups) SaveMembership(_ context.Context, g model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[g.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Members = slices.Clone(g.Members)
	cur.Admins = slices.Clone(g.Admins)
	cur.UpdatedAt = g.UpdatedAt
	s.byID[g.ID] = cur
	return nil
}

func (s *Groups) UpdateDetails(_ context.Context, g model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[g.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Name, cur.Description, cur.ProfilePic, cur.UpdatedAt = g.Name, g.Description, g.ProfilePic, g.UpdatedAt
	s.byID[g.ID] = cur
	return nil
}

func (s *Groups) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}
