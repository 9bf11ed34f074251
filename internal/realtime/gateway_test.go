package realtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseledger/casecore/internal/realtime"
	"github.com/caseledger/casecore/pkg/mlog"
)

// fakeBus is an in-process bus that delivers every published envelope to
// every subscriber of the case, the publisher's own instance included, so
// the gateway's own self-echo suppression is what gets exercised, without
// a real Redis dependency.
type fakeBus struct {
	mu   sync.Mutex
	subs map[string][]chan realtime.BusEnvelope
}

func newFakeBus() *fakeBus { return &fakeBus{subs: make(map[string][]chan realtime.BusEnvelope)} }

func (b *fakeBus) Publish(_ context.Context, caseID string, env realtime.BusEnvelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[caseID] {
		ch <- env
	}

	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, caseID string) (<-chan realtime.BusEnvelope, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan realtime.BusEnvelope, 16)
	b.subs[caseID] = append(b.subs[caseID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		group := b.subs[caseID]
		for i, c := range group {
			if c == ch {
				b.subs[caseID] = append(group[:i], group[i+1:]...)
				close(ch)
				return
			}
		}
	}

	return ch, unsub, nil
}

type sent struct {
	socketID string
	env      realtime.ServerEnvelope
}

type fakeSender struct {
	mu  sync.Mutex
	out []sent
}

func newFakeSender() *fakeSender { return &fakeSender{} }

func (s *fakeSender) Send(socketID string, env realtime.ServerEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, sent{socketID: socketID, env: env})
	return nil
}

func (s *fakeSender) received(socketID string) []realtime.ServerEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []realtime.ServerEnvelope
	for _, r := range s.out {
		if r.socketID == socketID {
			out = append(out, r.env)
		}
	}

	return out
}

type fakeReceipts struct {
	mu        sync.Mutex
	delivered int
	seen      int
}

func (f *fakeReceipts) UpsertDelivered(context.Context, string, string, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered++
	return nil
}

func (f *fakeReceipts) UpsertSeen(context.Context, string, string, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen++
	return nil
}

type fakeMessages struct {
	mu        sync.Mutex
	createdAt map[string]time.Time
}

func newFakeMessages() *fakeMessages { return &fakeMessages{createdAt: map[string]time.Time{}} }

func (f *fakeMessages) Insert(context.Context, realtime.Message) error { return nil }

func (f *fakeMessages) Page(context.Context, string, string, *realtime.Cursor, int) ([]realtime.Message, error) {
	return nil, nil
}

func (f *fakeMessages) CountUnread(context.Context, string, string, string, *time.Time) (int, error) {
	return 0, nil
}

func (f *fakeMessages) GetCreatedAt(_ context.Context, _ string, messageID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdAt[messageID], nil
}

type fakeReadPositions struct {
	mu  sync.Mutex
	pos map[string]realtime.CaseReadPosition
}

func newFakeReadPositions() *fakeReadPositions {
	return &fakeReadPositions{pos: map[string]realtime.CaseReadPosition{}}
}

func key(tenantID, caseID, userID string) string { return tenantID + "/" + caseID + "/" + userID }

func (f *fakeReadPositions) Get(_ context.Context, tenantID, caseID, userID string) (*realtime.CaseReadPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pos[key(tenantID, caseID, userID)]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return &p, nil
}

func (f *fakeReadPositions) AdvanceTo(_ context.Context, tenantID, caseID, userID, messageID string, createdAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(tenantID, caseID, userID)
	existing, ok := f.pos[k]
	if ok && !existing.UpdatedAt.Before(createdAt) {
		return false, nil
	}

	f.pos[k] = realtime.CaseReadPosition{TenantID: tenantID, CaseID: caseID, UserID: userID, LastReadMessageID: messageID, UpdatedAt: createdAt}

	return true, nil
}

func newTestGateway(instanceID string, bus realtime.Bus, sender realtime.Sender, receipts *fakeReceipts, messages *fakeMessages, positions *fakeReadPositions) *realtime.Gateway {
	return realtime.NewGateway(realtime.Deps{
		InstanceID:    instanceID,
		Bus:           bus,
		Sender:        sender,
		Logger:        &mlog.NoneLogger{},
		Messages:      messages,
		Receipts:      receipts,
		ReadPositions: positions,
	})
}

func TestConnectPublishesPresenceOnFirstSocketOnly(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	sender := newFakeSender()
	gw := newTestGateway("instance-a", bus, sender, &fakeReceipts{}, newFakeMessages(), newFakeReadPositions())

	caseID := uuid.NewString()
	userID := uuid.NewString()

	s1 := &realtime.Socket{ID: "s1", CaseID: caseID, Auth: realtime.Auth{UserID: userID, TenantID: "t1"}}
	s2 := &realtime.Socket{ID: "s2", CaseID: caseID, Auth: realtime.Auth{UserID: userID, TenantID: "t1"}}

	gw.Connect(context.Background(), s1)
	gw.Connect(context.Background(), s2)

	presenceCount := 0
	for _, env := range sender.received("s1") {
		if env.Type == realtime.ServerPresenceUpdate {
			presenceCount++
		}
	}
	for _, env := range sender.received("s2") {
		if env.Type == realtime.ServerPresenceUpdate {
			presenceCount++
		}
	}

	assert.Equal(t, 1, presenceCount)
}

func TestTypingStartThrottled(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	sender := newFakeSender()
	gw := newTestGateway("instance-a", bus, sender, &fakeReceipts{}, newFakeMessages(), newFakeReadPositions())

	caseID := uuid.NewString()
	s := &realtime.Socket{ID: "s1", CaseID: caseID, Auth: realtime.Auth{UserID: "u1", TenantID: "t1"}}
	gw.Connect(context.Background(), s)

	require.NoError(t, gw.HandleClientMessage(context.Background(), s, realtime.ClientEnvelope{Type: realtime.ClientTypingStart}))
	require.NoError(t, gw.HandleClientMessage(context.Background(), s, realtime.ClientEnvelope{Type: realtime.ClientTypingStart}))

	typingUpdates := 0
	for _, env := range sender.received("s1") {
		if env.Type == realtime.ServerTypingUpdate {
			typingUpdates++
		}
	}

	assert.Equal(t, 1, typingUpdates)
}

func TestPublishMessageFanOutRules(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	sender := newFakeSender()
	gw := newTestGateway("instance-a", bus, sender, &fakeReceipts{}, newFakeMessages(), newFakeReadPositions())

	caseID := uuid.NewString()
	author := "author"
	other := "other"

	authorSocket := &realtime.Socket{ID: "author-socket", CaseID: caseID, Auth: realtime.Auth{UserID: author, TenantID: "t1"}}
	otherSocket := &realtime.Socket{ID: "other-socket", CaseID: caseID, Auth: realtime.Auth{UserID: other, TenantID: "t1"}}

	gw.Connect(context.Background(), authorSocket)
	gw.Connect(context.Background(), otherSocket)

	msg := realtime.Message{ID: uuid.NewString(), CaseID: caseID, AuthorID: author, ClientMutationID: "cm-1"}
	gw.PublishMessage(context.Background(), msg)

	authorEnvelopes := sender.received("author-socket")
	otherEnvelopes := sender.received("other-socket")

	var authorGotAck, authorGotUnreadDelta, otherGotUnreadDelta, otherGotCreated bool

	for _, env := range authorEnvelopes {
		switch env.Type {
		case realtime.ServerMessageAck:
			authorGotAck = true
		case realtime.ServerUnreadDelta:
			authorGotUnreadDelta = true
		}
	}

	for _, env := range otherEnvelopes {
		switch env.Type {
		case realtime.ServerUnreadDelta:
			otherGotUnreadDelta = true
		case realtime.ServerMessageCreated:
			otherGotCreated = true
		}
	}

	assert.True(t, authorGotAck, "author should receive MESSAGE_ACK")
	assert.False(t, authorGotUnreadDelta, "author should not receive UNREAD_DELTA for their own message")
	assert.True(t, otherGotUnreadDelta, "other socket should receive UNREAD_DELTA")
	assert.True(t, otherGotCreated, "other socket should receive MESSAGE_CREATED")
}

func TestCaseReadUpToDeliversResetOnlyToOrigin(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	sender := newFakeSender()
	messages := newFakeMessages()
	now := time.Now().UTC()
	messageID := uuid.NewString()
	messages.createdAt[messageID] = now

	gw := newTestGateway("instance-a", bus, sender, &fakeReceipts{}, messages, newFakeReadPositions())

	caseID := uuid.NewString()
	s1 := &realtime.Socket{ID: "s1", CaseID: caseID, Auth: realtime.Auth{UserID: "u1", TenantID: "t1"}}
	s2 := &realtime.Socket{ID: "s2", CaseID: caseID, Auth: realtime.Auth{UserID: "u1", TenantID: "t1"}}

	gw.Connect(context.Background(), s1)
	gw.Connect(context.Background(), s2)

	require.NoError(t, gw.HandleClientMessage(context.Background(), s1, realtime.ClientEnvelope{
		Type: realtime.ClientCaseReadUpTo, MessageID: messageID,
	}))

	s1Reset, s2Reset := false, false
	for _, env := range sender.received("s1") {
		if env.Type == realtime.ServerUnreadReset {
			s1Reset = true
		}
	}
	for _, env := range sender.received("s2") {
		if env.Type == realtime.ServerUnreadReset {
			s2Reset = true
		}
	}

	assert.True(t, s1Reset)
	assert.False(t, s2Reset)
}

func TestReceiptBatchesDelegateToRepository(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	sender := newFakeSender()
	receipts := &fakeReceipts{}
	gw := newTestGateway("instance-a", bus, sender, receipts, newFakeMessages(), newFakeReadPositions())

	caseID := uuid.NewString()
	s := &realtime.Socket{ID: "s1", CaseID: caseID, Auth: realtime.Auth{UserID: "u1", TenantID: "t1"}}
	gw.Connect(context.Background(), s)

	require.NoError(t, gw.HandleClientMessage(context.Background(), s, realtime.ClientEnvelope{
		Type: realtime.ClientMessageDeliveredBatch, MessageIDs: []string{"m1", "m2"},
	}))
	require.NoError(t, gw.HandleClientMessage(context.Background(), s, realtime.ClientEnvelope{
		Type: realtime.ClientMessageSeenBatch, MessageIDs: []string{"m1"},
	}))

	assert.Equal(t, 2, receipts.delivered)
	assert.Equal(t, 1, receipts.seen)
}

func TestDisconnectPublishesTypingStopAndOfflinePresence(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	sender := newFakeSender()
	gw := newTestGateway("instance-a", bus, sender, &fakeReceipts{}, newFakeMessages(), newFakeReadPositions())

	caseID := uuid.NewString()
	s := &realtime.Socket{ID: "s1", CaseID: caseID, Auth: realtime.Auth{UserID: "u1", TenantID: "t1"}}
	observer := &realtime.Socket{ID: "s2", CaseID: caseID, Auth: realtime.Auth{UserID: "u2", TenantID: "t1"}}

	gw.Connect(context.Background(), s)
	gw.Connect(context.Background(), observer)
	gw.Disconnect(context.Background(), s)

	var sawTypingStop, sawOffline bool
	for _, env := range sender.received("s2") {
		switch env.Type {
		case realtime.ServerTypingUpdate:
			if payload, ok := env.Payload.(realtime.TypingPayload); ok && payload.UserID == "u1" && !payload.IsTyping {
				sawTypingStop = true
			}
		case realtime.ServerPresenceUpdate:
			if payload, ok := env.Payload.(realtime.PresencePayload); ok && payload.UserID == "u1" && !payload.Online {
				sawOffline = true
			}
		}
	}

	assert.True(t, sawTypingStop)
	assert.True(t, sawOffline)
}

func TestCrossInstanceEchoSuppression(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	senderA := newFakeSender()
	senderB := newFakeSender()

	gwA := newTestGateway("instance-a", bus, senderA, &fakeReceipts{}, newFakeMessages(), newFakeReadPositions())
	gwB := newTestGateway("instance-b", bus, senderB, &fakeReceipts{}, newFakeMessages(), newFakeReadPositions())

	caseID := uuid.NewString()
	sA := &realtime.Socket{ID: "sA", CaseID: caseID, Auth: realtime.Auth{UserID: "u-a", TenantID: "t1"}}
	sB := &realtime.Socket{ID: "sB", CaseID: caseID, Auth: realtime.Auth{UserID: "u-b", TenantID: "t1"}}

	gwA.Connect(context.Background(), sA)
	gwB.Connect(context.Background(), sB)

	// Let subscription goroutines start.
	time.Sleep(10 * time.Millisecond)

	msg := realtime.Message{ID: uuid.NewString(), CaseID: caseID, AuthorID: "u-a"}
	gwA.PublishMessage(context.Background(), msg)

	time.Sleep(10 * time.Millisecond)

	var bGotCreated, aGotCreatedTwice bool
	createdOnA := 0
	for _, env := range senderA.received("sA") {
		if env.Type == realtime.ServerMessageCreated {
			createdOnA++
		}
	}
	for _, env := range senderB.received("sB") {
		if env.Type == realtime.ServerMessageCreated {
			bGotCreated = true
		}
	}

	aGotCreatedTwice = createdOnA > 1

	assert.True(t, bGotCreated, "remote instance should receive MESSAGE_CREATED via the bus")
	assert.False(t, aGotCreatedTwice, "publishing instance must not double-deliver to its own socket")
}
