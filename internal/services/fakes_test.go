package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"studyrewards-backend/internal/models"
	"studyrewards-backend/internal/repository"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const testEncouragement = "keep going"

// memoryStore is an in-process UserStore and SessionLister.
type memoryStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*models.UserRecord
	saveErr error
	saves   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[uuid.UUID]*models.UserRecord)}
}

func (s *memoryStore) Get(_ context.Context, userID uuid.UUID) (*models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *memoryStore) Save(_ context.Context, user *models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.users[user.ID] = user.Clone()
	return nil
}

func (s *memoryStore) ListByStatus(_ context.Context, status models.SessionStatus) ([]*models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.UserRecord
	for _, u := range s.users {
		if u.Session != nil && u.Session.Status == status {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) put(user *models.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user.Clone()
}

func (s *memoryStore) record(t *testing.T, userID uuid.UUID) *models.UserRecord {
	t.Helper()
	u, err := s.Get(context.Background(), userID)
	require.NoError(t, err)
	return u
}

// peek is safe to call from Eventually conditions.
func (s *memoryStore) peek(userID uuid.UUID) *models.UserRecord {
	u, err := s.Get(context.Background(), userID)
	if err != nil {
		return &models.UserRecord{}
	}
	return u
}

func (s *memoryStore) status(userID uuid.UUID) models.SessionStatus {
	return s.peek(userID).Status()
}

// fakeLedger records every call. IsRegistered answers from registeredSeq in
// order and repeats the last answer once the sequence is exhausted.
type fakeLedger struct {
	mu sync.Mutex

	balance       int64
	balanceErr    error
	registeredSeq []bool
	registeredErr error
	registerErr   error
	transferErr   error
	transferPanic bool
	issued        map[models.Tier]bool
	hasBadgeErr   error
	mintErr       error

	calls     []string
	transfers []int64
	mints     []models.Tier
	attempts  []int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balance:       1_000,
		registeredSeq: []bool{true},
		issued:        make(map[models.Tier]bool),
	}
}

func (l *fakeLedger) note(call string) {
	l.calls = append(l.calls, call)
}

func (l *fakeLedger) OperatingBalance(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.note("balance")
	return l.balance, l.balanceErr
}

func (l *fakeLedger) IsRegistered(context.Context, string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.note("isRegistered")
	if l.registeredErr != nil {
		return false, l.registeredErr
	}
	answer := l.registeredSeq[0]
	if len(l.registeredSeq) > 1 {
		l.registeredSeq = l.registeredSeq[1:]
	}
	return answer, nil
}

func (l *fakeLedger) Register(context.Context, string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.note("register")
	if l.registerErr != nil {
		return "", l.registerErr
	}
	return "0xregister", nil
}

func (l *fakeLedger) TransferReward(_ context.Context, _ string, amount int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.note("transfer")
	if l.transferPanic {
		panic("transfer exploded")
	}
	if l.transferErr != nil {
		return "", l.transferErr
	}
	l.transfers = append(l.transfers, amount)
	return fmt.Sprintf("0xtransfer%d", len(l.transfers)), nil
}

func (l *fakeLedger) HasBadge(_ context.Context, _ string, tier models.Tier) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.note("hasBadge")
	return l.issued[tier], l.hasBadgeErr
}

func (l *fakeLedger) RecordAttempt(_ context.Context, _ string, score int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.note("recordAttempt")
	l.attempts = append(l.attempts, score)
	return "0xattempt", nil
}

func (l *fakeLedger) MintBadge(_ context.Context, _ string, tier models.Tier) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.note("mintBadge")
	if l.mintErr != nil {
		return "", l.mintErr
	}
	l.mints = append(l.mints, tier)
	l.issued[tier] = true
	return "0xmint", nil
}

func (l *fakeLedger) count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (l *fakeLedger) totalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *fakeLedger) mintedTiers() []models.Tier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Tier(nil), l.mints...)
}

type sentMessage struct {
	userID uuid.UUID
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{userID: userID, text: text})
}

func (n *fakeNotifier) count(userID uuid.UUID, text string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.userID == userID && m.text == text {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) texts(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.userID == userID {
			out = append(out, m.text)
		}
	}
	return out
}

// inlineDispatcher settles on the dispatching goroutine.
type inlineDispatcher struct {
	svc *SessionService

	mu   sync.Mutex
	jobs []models.SettlementJob
	err  error
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, job models.SettlementJob) error {
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.svc.Settle(ctx, job)
}

func (d *inlineDispatcher) dispatched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

type harness struct {
	clock      *clockwork.FakeClock
	store      *memoryStore
	ledger     *fakeLedger
	notifier   *fakeNotifier
	dispatcher *inlineDispatcher
	scheduler  *SessionScheduler
	svc        *SessionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:      clockwork.NewFakeClockAt(testEpoch),
		store:      newMemoryStore(),
		ledger:     newFakeLedger(),
		notifier:   &fakeNotifier{},
		dispatcher: &inlineDispatcher{},
	}
	h.scheduler = NewSessionScheduler(h.clock, 10)
	settlement := NewSettlementCoordinator(h.ledger, h.notifier, 10, 100)
	badges := NewBadgeEvaluator(h.ledger, map[models.Tier]int{
		models.TierBronze: 20,
		models.TierSilver: 50,
		models.TierGold:   70,
	})
	h.svc = NewSessionService(h.store, h.scheduler, h.dispatcher, settlement, badges, h.notifier, h.clock, []int{2, 50})
	h.svc.encourage = func() string { return testEncouragement }
	h.dispatcher.svc = h.svc

	t.Cleanup(h.scheduler.Stop)
	return h
}

func (h *harness) seedUser(completed int, badges ...models.Tier) *models.UserRecord {
	u := &models.UserRecord{
		ID:                    uuid.New(),
		Address:               "NbnjKGMBJzJ6j5PHeYhjJDaQ5Vy5UYu4Fv",
		CompletedSessionCount: completed,
		BadgesIssued:          badges,
		UpdatedAt:             testEpoch,
	}
	h.store.put(u)
	return u
}

func (h *harness) waitForStatus(t *testing.T, userID uuid.UUID, status models.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.store.status(userID) == status
	}, 2*time.Second, 5*time.Millisecond, "status never became %s", status)
}

var errLedgerDown = errors.New("rpc: connection refused")
