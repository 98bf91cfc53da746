// Package group manages group membership. Every membership-changing
// operation ends with the same admin assertion before anything is saved.
package group

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/event"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/model"
	"github.com/iliyamo/echosecure-chat/internal/repository"
)

type Store interface {
	Create(ctx context.Context, g model.Group) error
	Get(ctx context.Context, id string) (model.Group, error)
	ListForUser(ctx context.Context, userID string) ([]model.Group, error)
	SaveMembership(ctx context.Context, g model.Group) error
	UpdateDetails(ctx context.Context, g model.Group) error
	Delete(ctx context.Context, id string) error
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

type Dispatcher interface {
	Group(ctx context.Context, name string, members []string, data any)
}

// Details is the editable, non-membership part of a group.
type Details struct {
	Name        string
	Description string
	ProfilePic  string
}

type Service struct {
	store    Store
	users    UserLookup
	dispatch Dispatcher
	log      logging.Logger
	now      func() time.Time
}

func NewService(store Store, users UserLookup, dispatch Dispatcher, log logging.Logger) *Service {
	return &Service{
		store:    store,
		users:    users,
		dispatch: dispatch,
		log:      log.With("component", "group"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var errNoAdmin = apperr.Limit("A group must keep at least one admin")

// assertAdmins is the single admin-cardinality check.
func assertAdmins(g model.Group) error {
	if len(g.Admins) == 0 {
		return errNoAdmin
	}
	for _, a := range g.Admins {
		if !g.IsMember(a) {
			return apperr.Internal("admin outside membership", errors.New(a))
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) load(ctx context.Context, groupID string) (model.Group, error) {
	g, err := s.store.Get(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Group{}, apperr.NotFound("Group not found")
		}
		return model.Group{}, apperr.Internal("load group", err)
	}
	return g, nil
}

func (s *Service) loadAsAdmin(ctx context.Context, groupID, requesterID string) (model.Group, error) {
	g, err := s.load(ctx, groupID)
	if err != nil {
		return model.Group{}, err
	}
	if !g.IsAdmin(requesterID) {
		return model.Group{}, apperr.Forbidden("Only admins can perform this action")
	}
	return g, nil
}

func (s *Service) checkUsersExist(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.Validation("Unknown user: " + id)
			}
			return apperr.Internal("load user", err)
		}
	}
	return nil
}

// save runs the admin assertion on next and persists its membership.
func (s *Service) save(ctx context.Context, next model.Group) error {
	if err := assertAdmins(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	if err := s.store.SaveMembership(ctx, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Group not found")
		}
		return apperr.Internal("save membership", err)
	}
	return nil
}

// Create makes a group with creatorID as its only admin. The creator is
// always a member and the member list is deduplicated.
func (s *Service) Create(ctx context.Context, name, description string, members []string, creatorID string) (model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Group{}, apperr.Validation("Group name is required")
	}
	members = dedupe(append([]string{creatorID}, members...))
	if err := s.checkUsersExist(ctx, members[1:]); err != nil {
		return model.Group{}, err
	}
	now := s.now()
	g := model.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   creatorID,
		Members:     members,
		Admins:      []string{creatorID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := assertAdmins(g); err != nil {
		return model.Group{}, err
	}
	if err := s.store.Create(ctx, g); err != nil {
		return model.Group{}, apperr.Internal("create group", err)
	}
	s.log.Info(ctx, "group created", "group_id", g.ID, "members", len(g.Members))
	s.dispatch.Group(ctx, event.NewGroupCreated, g.Members, g)
	return g, nil
}

// Get returns a group to one of its members.
func (s *Service) Get(ctx context.Context, groupID, requesterID string) (model.Group, error) {
	g, err := s.load(ctx, groupID)
	if err != nil {
		return model.Group{}, err
	}
	if !g.IsMember(requesterID) {
		return model.Group{}, apperr.Forbidden("You are not a member of this group")
	}
	return g, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Group, error) {
	groups, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list groups", err)
	}
	if groups == nil {
		groups = []model.Group{}
	}
	return groups, nil
}

// Members returns the current member ids of a group.
func (s *Service) Members(ctx context.Context, groupID string) ([]string, error) {
	g, err := s.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

func (s *Service) IsAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	g, err := s.load(ctx, groupID)
	if err != nil {
		return false, err
	}
	return g.IsAdmin(userID), nil
}

// AddMembers adds ids not already present. Admin only.
func (s *Service) AddMembers(ctx context.Context, groupID string, ids []string, requesterID string) (model.Group, error) {
	g, err := s.loadAsAdmin(ctx, groupID, requesterID)
	if err != nil {
		return model.Group{}, err
	}
	next := g.Clone()
	var added []string
	for _, id := range dedupe(ids) {
		if !next.IsMember(id) {
			next.Members = append(next.Members, id)
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return g, nil
	}
	if err := s.checkUsersExist(ctx, added); err != nil {
		return model.Group{}, err
	}
	if err := s.save(ctx, next); err != nil {
		return model.Group{}, err
	}
	s.log.Info(ctx, "members added", "group_id", g.ID, "count", len(added))
	s.dispatch.Group(ctx, event.MembersAddedToGroup, next.Members,
		map[string]any{"groupId": next.ID, "members": added, "group": next})
	s.dispatch.Group(ctx, event.UserAddedToGroup, added, next)
	return next, nil
}

// RemoveMembers drops ids from the members and the admins. It is rejected
// without changes if no admin would remain. Admin only.
func (s *Service) RemoveMembers(ctx context.Context, groupID string, ids []string, requesterID string) (model.Group, error) {
	g, err := s.loadAsAdmin(ctx, groupID, requesterID)
	if err != nil {
		return model.Group{}, err
	}
	return s.removeMembers(ctx, g, dedupe(ids))
}

// Leave removes requesterID from the group. The last admin cannot leave
// while other members remain; a sole member leaving deletes the group.
func (s *Service) Leave(ctx context.Context, groupID, requesterID string) error {
	g, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsMember(requesterID) {
		return apperr.Forbidden("You are not a member of this group")
	}
	if len(g.Members) == 1 {
		return s.delete(ctx, g)
	}
	_, err = s.removeMembers(ctx, g, []string{requesterID})
	return err
}

func (s *Service) removeMembers(ctx context.Context, g model.Group, ids []string) (model.Group, error) {
	next := g.Clone()
	var removed []string
	for _, id := range ids {
		if next.IsMember(id) {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return g, nil
	}
	drop := func(u string) bool { return slices.Contains(removed, u) }
	next.Members = slices.DeleteFunc(next.Members, drop)
	next.Admins = slices.DeleteFunc(next.Admins, drop)
	if err := s.save(ctx, next); err != nil {
		return model.Group{}, err
	}
	s.log.Info(ctx, "members removed", "group_id", g.ID, "count", len(removed))
	s.dispatch.Group(ctx, event.MembersRemovedFromGroup, next.Members,
		map[string]any{"groupId": next.ID, "members": removed})
	s.dispatch.Group(ctx, event.UserRemovedFromGroup, removed, map[string]any{"groupId": next.ID})
	return next, nil
}

// MakeAdmin promotes an existing member. Admin only.
func (s *Service) MakeAdmin(ctx context.Context, groupID, targetID, requesterID string) (model.Group, error) {
	g, err := s.loadAsAdmin(ctx, groupID, requesterID)
	if err != nil {
		return model.Group{}, err
	}
	if !g.IsMember(targetID) {
		return model.Group{}, apperr.Validation("User is not a member of this group")
	}
	if g.IsAdmin(targetID) {
		return g, nil
	}
	next := g.Clone()
	next.Admins = append(next.Admins, targetID)
	return s.saveAdmins(ctx, next)
}

// RemoveAdmin demotes an admin, refusing to leave the group without one.
// Admin only.
func (s *Service) RemoveAdmin(ctx context.Context, groupID, targetID, requesterID string) (model.Group, error) {
	g, err := s.loadAsAdmin(ctx, groupID, requesterID)
	if err != nil {
		return model.Group{}, err
	}
	if !g.IsAdmin(targetID) {
		return model.Group{}, apperr.Validation("User is not an admin of this group")
	}
	next := g.Clone()
	next.Admins = slices.DeleteFunc(next.Admins, func(u string) bool { return u == targetID })
	return s.saveAdmins(ctx, next)
}

func (s *Service) saveAdmins(ctx context.Context, next model.Group) (model.Group, error) {
	if err := s.save(ctx, next); err != nil {
		return model.Group{}, err
	}
	s.dispatch.Group(ctx, event.GroupAdminsUpdated, next.Members,
		map[string]any{"groupId": next.ID, "admin": next.Admins})
	return next, nil
}

// UpdateDetails edits name, description and picture. Admin only; empty
// fields keep their current value.
func (s *Service) UpdateDetails(ctx context.Context, groupID string, d Details, requesterID string) (model.Group, error) {
	g, err := s.loadAsAdmin(ctx, groupID, requesterID)
	if err != nil {
		return model.Group{}, err
	}
	if v := strings.TrimSpace(d.Name); v != "" {
		g.Name = v
	}
	if v := strings.TrimSpace(d.Description); v != "" {
		g.Description = v
	}
	if v := strings.TrimSpace(d.ProfilePic); v != "" {
		g.ProfilePic = v
	}
	g.UpdatedAt = s.now()
	if err := s.store.UpdateDetails(ctx, g); err != nil {
		return model.Group{}, apperr.Internal("update group", err)
	}
	s.dispatch.Group(ctx, event.GroupUpdated, g.Members, g)
	return g, nil
}

// Delete removes the group and its membership, then tells every former
// member. Admin only.
func (s *Service) Delete(ctx context.Context, groupID, requesterID string) error {
	g, err := s.loadAsAdmin(ctx, groupID, requesterID)
	if err != nil {
		return err
	}
	return s.delete(ctx, g)
}

func (s *Service) delete(ctx context.Context, g model.Group) error {
	if err := s.store.Delete(ctx, g.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Group not found")
		}
		return apperr.Internal("delete group", err)
	}
	s.log.Info(ctx, "group deleted", "group_id", g.ID)
	s.dispatch.Group(ctx, event.GroupDeleted, g.Members, map[string]any{"groupId": g.ID})
	return nil
}
