package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/codec"
	"github.com/iliyamo/echosecure-chat/internal/dispatch"
	"github.com/iliyamo/echosecure-chat/internal/event"
	"github.com/iliyamo/echosecure-chat/internal/group"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/model"
	"github.com/iliyamo/echosecure-chat/internal/presence"
	"github.com/iliyamo/echosecure-chat/internal/presence/presencetest"
	"github.com/iliyamo/echosecure-chat/internal/repository"
	"github.com/iliyamo/echosecure-chat/internal/repository/memstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	msgs   *memstore.Messages
	users  *memstore.Users
	groups *group.Service
	conns  map[string]*presencetest.Conn
	clock  time.Time
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		msgs:  memstore.NewMessages(),
		users: memstore.NewUsers(),
		conns: map[string]*presencetest.Conn{},
		clock: t0,
	}
	reg := presence.NewRegistry(logging.Nop())
	for _, u := range users {
		require.NoError(t, f.users.Create(ctx, model.User{ID: u, Email: u + "@example.com", FullName: "User " + u}))
		c := presencetest.NewConn()
		reg.Register(ctx, u, c)
		f.conns[u] = c
	}
	d := dispatch.New(reg, logging.Nop())
	f.groups = group.NewService(memstore.NewGroups(), f.users, d, logging.Nop())
	cdc, err := codec.New("test-secret")
	require.NoError(t, err)
	f.svc = NewService(f.msgs, f.users, f.groups, d, cdc, logging.Nop())
	f.svc.now = func() time.Time { return f.clock }
	f.reset()
	return f
}

func (f *fixture) reset() {
	for _, c := range f.conns {
		c.Reset()
	}
}

func (f *fixture) send(t *testing.T, to Target, text, from string) View {
	t.Helper()
	v, err := f.svc.Send(context.Background(), to, model.Content{Text: text}, from)
	require.NoError(t, err)
	return v
}

func (f *fixture) stored(t *testing.T, id string) model.Message {
	t.Helper()
	m, err := f.msgs.Get(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (f *fixture) newGroup(t *testing.T, creator string, members ...string) string {
	t.Helper()
	g, err := f.groups.Create(context.Background(), "Team", "", members, creator)
	require.NoError(t, err)
	f.reset()
	return g.ID
}

func TestSend_DirectEncryptsAndNotifiesBothSides(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	v := f.send(t, ToUser("b"), "hello", "a")

	assert.Equal(t, "hello", v.Text)
	stored := f.stored(t, v.ID)
	assert.NotEqual(t, "hello", stored.Text)
	assert.Contains(t, stored.Text, ":")

	for _, u := range []string{"a", "b"} {
		evs := f.conns[u].Named(event.NewMessage)
		require.Len(t, evs, 1, u)
		assert.Equal(t, "hello", evs[0].Data.(View).Text)
	}
	assert.Empty(t, f.conns["c"].Events())
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	_, err := f.svc.Send(ctx, ToUser("b"), model.Content{Text: "   "}, "a")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Message cannot be empty", apperr.Message(err))

	_, err = f.svc.Send(ctx, ToUser("ghost"), model.Content{Text: "hi"}, "a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Send(ctx, Target{ReceiverID: "b", GroupID: "g"}, model.Content{Text: "hi"}, "a")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Send(ctx, ToUser("b"), model.Content{Contact: &model.Contact{UserID: "ghost"}}, "a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Send(ctx, ToUser("b"), model.Content{Text: "re", RepliedTo: "missing"}, "a")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSend_ImageOnlyAndContactResolved(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()

	v, err := f.svc.Send(ctx, ToUser("b"), model.Content{Image: "https://cdn/x.png"}, "a")
	require.NoError(t, err)
	assert.Equal(t, "", v.Text)
	assert.Equal(t, "", f.stored(t, v.ID).Text)

	v, err = f.svc.Send(ctx, ToUser("b"), model.Content{Contact: &model.Contact{UserID: "c"}}, "a")
	require.NoError(t, err)
	require.NotNil(t, v.Contact)
	assert.Equal(t, "User c", v.Contact.FullName)
}

func TestSend_GroupFanout(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d")
	gid := f.newGroup(t, "a", "b", "c")

	v := f.send(t, ToGroup(gid), "hi", "a")
	assert.Equal(t, "User a", v.SenderName)

	for _, u := range []string{"a", "b", "c"} {
		evs := f.conns[u].Named(event.NewGroupMessage)
		require.Len(t, evs, 1, u)
		got := evs[0].Data.(View)
		assert.Equal(t, "hi", got.Text)
		assert.Equal(t, "a", got.SenderID)
		assert.Equal(t, gid, got.GroupID)
	}
	assert.Empty(t, f.conns["d"].Events())

	_, err := f.svc.Send(context.Background(), ToGroup(gid), model.Content{Text: "let me in"}, "d")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSend_DisappearSettingSetsExpiry(t *testing.T) {
	f := newFixture(t, "a", "b")
	require.NoError(t, f.users.SetDisappear(context.Background(), "a", "b", "60min"))

	v := f.send(t, ToUser("b"), "soon gone", "a")
	require.NotNil(t, v.ExpiresAt)
	assert.Equal(t, t0.Add(time.Hour), *v.ExpiresAt)

	back := f.send(t, ToUser("a"), "stays", "b")
	assert.Nil(t, back.ExpiresAt)
}

func TestSend_OutOfRangeDisappearSettingIsIgnored(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	require.NoError(t, f.users.SetDisappear(ctx, "a", "b", "200000000min"))

	v := f.send(t, ToUser("b"), "still here", "a")
	assert.Nil(t, v.ExpiresAt)

	list, err := f.svc.List(ctx, ToUser("a"), "b")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "still here", list[0].Text)
}

func TestEdit(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	v := f.send(t, ToUser("b"), "first", "a")
	f.reset()

	_, err := f.svc.Edit(ctx, v.ID, "hacked", "b")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "first", f.svc.view(f.stored(t, v.ID)).Text)
	assert.Empty(t, f.conns["a"].Events())

	_, err = f.svc.Edit(ctx, v.ID, "  ", "a")
	require.ErrorIs(t, err, apperr.ErrValidation)

	f.clock = t0.Add(4 * time.Minute)
	got, err := f.svc.Edit(ctx, v.ID, "second", "a")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Text)
	assert.True(t, got.IsEdited)
	assert.Len(t, f.conns["b"].Named(event.MessageUpdated), 1)

	f.clock = t0.Add(5*time.Minute + time.Second)
	_, err = f.svc.Edit(ctx, v.ID, "third", "a")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "second", f.svc.view(f.stored(t, v.ID)).Text)
}

func TestReact_IsExclusivePerUser(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	v := f.send(t, ToUser("b"), "hey", "a")
	f.reset()

	_, err := f.svc.React(ctx, v.ID, "👍", "b")
	require.NoError(t, err)
	got, err := f.svc.React(ctx, v.ID, "❤️", "b")
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"❤️": {"b"}}, got.Reactions)
	assert.Len(t, f.conns["a"].Named(event.MessageReaction), 2)

	// same emoji again changes nothing
	_, err = f.svc.React(ctx, v.ID, "❤️", "b")
	require.NoError(t, err)
	assert.Len(t, f.conns["a"].Named(event.MessageReaction), 2)

	_, err = f.svc.React(ctx, v.ID, "👍", "c")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestUnreact(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	v := f.send(t, ToUser("b"), "hey", "a")
	_, err := f.svc.React(ctx, v.ID, "👍", "b")
	require.NoError(t, err)

	_, err = f.svc.Unreact(ctx, v.ID, "👍", "b", "a")
	assert.ErrorIs(t, err, apperr.ErrForbidden, "removing someone else's reaction")

	_, err = f.svc.Unreact(ctx, v.ID, "🎉", "", "b")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "absent bucket")

	_, err = f.svc.Unreact(ctx, v.ID, "👍", "", "a")
	assert.ErrorIs(t, err, apperr.ErrForbidden, "requester does not hold the emoji")

	got, err := f.svc.Unreact(ctx, v.ID, "👍", "b", "b")
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)
	assert.Equal(t, 0, f.stored(t, v.ID).Reactions.Len())
}

func TestReactionUsers(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	gid := f.newGroup(t, "a", "b", "c")
	v := f.send(t, ToGroup(gid), "vote", "a")
	for _, u := range []string{"b", "c"} {
		_, err := f.svc.React(ctx, v.ID, "👍", u)
		require.NoError(t, err)
	}

	users, err := f.svc.ReactionUsers(ctx, v.ID, "👍", "a")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "b", users[0].ID)
	assert.Equal(t, "c", users[1].ID)
}

// failingUsers fails lookups of one user id with err.
type failingUsers struct {
	UserLookup
	id  string
	err error
}

func (u failingUsers) GetByID(ctx context.Context, id string) (model.User, error) {
	if id == u.id {
		return model.User{}, u.err
	}
	return u.UserLookup.GetByID(ctx, id)
}

func TestReactionUsers_LookupFailures(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	gid := f.newGroup(t, "a", "b", "c")
	v := f.send(t, ToGroup(gid), "x", "a")
	for _, u := range []string{"b", "c"} {
		_, err := f.svc.React(ctx, v.ID, "👍", u)
		require.NoError(t, err)
	}

	f.svc.users = failingUsers{UserLookup: f.users, id: "b", err: errors.New("connection reset")}
	_, err := f.svc.ReactionUsers(ctx, v.ID, "👍", "a")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	// users deleted since reacting are skipped
	f.svc.users = failingUsers{UserLookup: f.users, id: "b", err: repository.ErrNotFound}
	users, err := f.svc.ReactionUsers(ctx, v.ID, "👍", "a")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "c", users[0].ID)
}

// gatedStore holds the first n loads until all of them have arrived, so
// concurrent mutations all decide before any of them writes.
type gatedStore struct {
	*memstore.Messages
	gate    sync.WaitGroup
	arrived atomic.Int32
	n       int32
}

func newGatedStore(m *memstore.Messages, n int) *gatedStore {
	s := &gatedStore{Messages: m, n: int32(n)}
	s.gate.Add(n)
	return s
}

func (s *gatedStore) Get(ctx context.Context, id string) (model.Message, error) {
	if s.arrived.Add(1) <= s.n {
		s.gate.Done()
		s.gate.Wait()
	}
	return s.Messages.Get(ctx, id)
}

func TestPin_ConcurrentPinsRespectCap(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.send(t, ToUser("b"), "m", "a").ID)
	}
	for _, id := range ids[:2] {
		_, err := f.svc.Pin(ctx, id, "a")
		require.NoError(t, err)
	}

	f.svc.store = newGatedStore(f.msgs, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range ids[2:] {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.Pin(ctx, id, "b")
		}(i, id)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, apperr.ErrLimitExceeded)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	pinned, err := f.msgs.ListPinned(ctx, model.DirectConversation("a", "b"), f.clock)
	require.NoError(t, err)
	assert.Len(t, pinned, MaxPinned)
}

func TestPin_CapIsThreePerConversation(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.send(t, ToUser("b"), "m", "a").ID)
	}
	other := f.send(t, ToUser("c"), "elsewhere", "a")

	for _, id := range ids[:3] {
		_, err := f.svc.Pin(ctx, id, "b")
		require.NoError(t, err)
	}
	_, err := f.svc.Pin(ctx, ids[3], "a")
	require.ErrorIs(t, err, apperr.ErrLimitExceeded)
	assert.Equal(t, "Maximum of 3 pinned messages allowed", apperr.Message(err))
	assert.False(t, f.stored(t, ids[3]).Pinned)

	// re-pinning is a no-op even at the cap
	_, err = f.svc.Pin(ctx, ids[0], "a")
	require.NoError(t, err)

	// another conversation has its own budget
	_, err = f.svc.Pin(ctx, other.ID, "a")
	require.NoError(t, err)

	pinned, err := f.svc.Pinned(ctx, ToUser("a"), "b")
	require.NoError(t, err)
	assert.Len(t, pinned, 3)

	_, err = f.svc.Unpin(ctx, ids[1], "a")
	require.NoError(t, err)
	_, err = f.svc.Pin(ctx, ids[3], "a")
	require.NoError(t, err)
	assert.Len(t, f.conns["b"].Named(event.MessageUnpinned), 1)
}

func TestPin_GroupEvents(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	gid := f.newGroup(t, "a", "b")
	v := f.send(t, ToGroup(gid), "rules", "a")
	f.reset()

	_, err := f.svc.Pin(context.Background(), v.ID, "b")
	require.NoError(t, err)
	assert.Len(t, f.conns["a"].Named(event.GroupMessagePinned), 1)
	assert.Len(t, f.conns["b"].Named(event.GroupMessagePinned), 1)

	_, err = f.svc.Pin(context.Background(), v.ID, "c")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestMarkRead_EmitsOnlyOnChange(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	v := f.send(t, ToUser("b"), "read me", "a")
	f.reset()

	for i := 0; i < 3; i++ {
		got, err := f.svc.MarkRead(ctx, v.ID, "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, got.ReadBy)
	}
	evs := f.conns["a"].Named(event.MessageRead)
	require.Len(t, evs, 1)
	assert.Equal(t, ReadReceipt{MessageID: v.ID, ReadBy: "b"}, evs[0].Data)
}

func TestList_ExcludesExpiredAndOrders(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	first := f.send(t, ToUser("b"), "one", "a")
	f.clock = t0.Add(time.Second)
	second := f.send(t, ToUser("a"), "two", "b")
	f.send(t, ToUser("c"), "not ours", "a")

	require.NoError(t, f.users.SetDisappear(ctx, "a", "b", "1min"))
	f.send(t, ToUser("b"), "ephemeral", "a")
	f.clock = t0.Add(2 * time.Minute)

	got, err := f.svc.List(ctx, ToUser("a"), "b")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, "two", got[1].Text)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	v := f.send(t, ToUser("b"), "oops", "a")
	f.reset()

	require.ErrorIs(t, f.svc.Delete(ctx, v.ID, "b"), apperr.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, v.ID, "a"))
	assert.ErrorIs(t, f.svc.Delete(ctx, v.ID, "a"), apperr.ErrNotFound)
	assert.Len(t, f.conns["b"].Named(event.MessageDeleted), 1)
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	f.send(t, ToUser("b"), "1", "a")
	f.send(t, ToUser("a"), "2", "b")
	keep := f.send(t, ToUser("c"), "3", "a")
	f.reset()

	n, err := f.svc.DeleteConversation(ctx, "a", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	f.stored(t, keep.ID)
	assert.Len(t, f.conns["a"].Named(event.ChatDeleted), 1)
	assert.Len(t, f.conns["b"].Named(event.ChatDeleted), 1)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	gid := f.newGroup(t, "a", "b", "c")
	require.NoError(t, f.users.SetDisappear(ctx, "a", "b", "60min"))
	require.NoError(t, f.users.SetDisappear(ctx, "a", gid, "1440min"))

	direct := f.send(t, ToUser("b"), "temp", "a")
	grp := f.send(t, ToGroup(gid), "temp group", "a")
	keep := f.send(t, ToUser("c"), "forever", "a")
	f.reset()

	f.clock = t0.Add(30 * time.Minute)
	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock = t0.Add(time.Hour)
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = f.msgs.Get(ctx, direct.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Len(t, f.conns["b"].Named(event.MessageExpired), 1)
	assert.Empty(t, f.conns["c"].Named(event.MessageExpired))

	f.clock = t0.Add(25 * time.Hour)
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = f.msgs.Get(ctx, grp.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Len(t, f.conns["c"].Named(event.MessageExpired), 1)
	f.stored(t, keep.ID)
}

func TestExpiredMessageIsNotFoundBeforeSweep(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	require.NoError(t, f.users.SetDisappear(ctx, "a", "b", "60min"))
	v := f.send(t, ToUser("b"), "temp", "a")

	f.clock = t0.Add(2 * time.Hour)
	_, err := f.svc.React(ctx, v.ID, "👍", "b")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// racyStore makes the first few updates lose the version race.
type racyStore struct {
	*memstore.Messages
	conflicts atomic.Int32
}

func (s *racyStore) Update(ctx context.Context, m model.Message) error {
	if s.conflicts.Add(-1) >= 0 {
		return repository.ErrVersionConflict
	}
	return s.Messages.Update(ctx, m)
}

func (s *racyStore) Pin(ctx context.Context, m model.Message, limit int, now time.Time) error {
	if s.conflicts.Add(-1) >= 0 {
		return repository.ErrVersionConflict
	}
	return s.Messages.Pin(ctx, m, limit, now)
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	v := f.send(t, ToUser("b"), "x", "a")

	store := &racyStore{Messages: f.msgs}
	f.svc.store = store

	store.conflicts.Store(2)
	_, err := f.svc.MarkRead(ctx, v.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, f.stored(t, v.ID).ReadBy)

	store.conflicts.Store(maxAttempts)
	_, err = f.svc.Pin(ctx, v.ID, "b")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.False(t, f.stored(t, v.ID).Pinned)
}

func TestSweeper_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	sw := NewSweeper(time.Millisecond, logging.Nop()).Add("count", func(context.Context) (int64, error) {
		if calls.Add(1) == 3 {
			cancel()
		}
		return 1, nil
	})

	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}
