package billing_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

// In-memory stores with the same contracts the postgres implementations
// provide, shared by the package's tests.

type memUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*billing.User
}

func newMemUserStore(users ...*billing.User) *memUserStore {
	s := &memUserStore{users: make(map[uuid.UUID]*billing.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memUserStore) GetByID(_ context.Context, id uuid.UUID) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, billing.ErrUserNotFound
}

func (s *memUserStore) GetByCustomerID(_ context.Context, customerID string) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ProviderCustomerID == customerID && customerID != "" {
			cp := *u
			return &cp, nil
		}
	}
	return nil, billing.ErrUserNotFound
}

func (s *memUserStore) SetProviderCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return billing.ErrUserNotFound
	}
	u.ProviderCustomerID = customerID
	return nil
}

type memSubStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*billing.Subscription
	// applies counts successful snapshot writes.
	applies int
}

func newMemSubStore() *memSubStore {
	return &memSubStore{subs: make(map[uuid.UUID]*billing.Subscription)}
}

func (s *memSubStore) Get(_ context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *memSubStore) ApplySnapshot(_ context.Context, snap billing.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cur, ok := s.subs[snap.UserID]
	if !ok {
		s.subs[snap.UserID] = &billing.Subscription{
			UserID:             snap.UserID,
			Plan:               snap.Plan,
			Status:             snap.Status,
			ProviderSubID:      snap.ProviderSubID,
			ProviderPriceID:    snap.ProviderPriceID,
			CurrentPeriodStart: snap.CurrentPeriodStart,
			CurrentPeriodEnd:   snap.CurrentPeriodEnd,
			ScanLimit:          snap.ScanLimit,
			LastResetAt:        now,
			CancelAtPeriodEnd:  snap.CancelAtPeriodEnd,
			CanceledAt:         snap.CanceledAt,
			SnapshotAt:         snap.SnapshotAt,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		s.applies++
		return true, nil
	}

	if snap.SnapshotAt.Before(cur.SnapshotAt) {
		return false, nil
	}

	cur.Plan = snap.Plan
	cur.Status = snap.Status
	cur.ProviderSubID = snap.ProviderSubID
	cur.ProviderPriceID = snap.ProviderPriceID
	cur.CurrentPeriodStart = snap.CurrentPeriodStart
	cur.CurrentPeriodEnd = snap.CurrentPeriodEnd
	cur.ScanLimit = snap.ScanLimit
	cur.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	cur.CanceledAt = snap.CanceledAt
	cur.SnapshotAt = snap.SnapshotAt
	cur.UpdatedAt = now
	s.applies++
	return true, nil
}

type memLogStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*billing.WebhookLog // keyed provider|eventID
}

func newMemLogStore() *memLogStore {
	return &memLogStore{rows: make(map[string]*billing.WebhookLog)}
}

func logKey(provider, eventID string) string { return provider + "|" + eventID }

func (s *memLogStore) Get(_ context.Context, provider, eventID string) (*billing.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[logKey(provider, eventID)]
	if !ok {
		return nil, billing.ErrWebhookLogNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memLogStore) Insert(_ context.Context, row *billing.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := logKey(row.Provider, row.EventID)
	if _, dup := s.rows[key]; dup {
		return billing.ErrDuplicateEvent
	}
	s.nextID++
	row.ID = s.nextID
	row.DeliveryCount = 1
	cp := *row
	s.rows[key] = &cp
	return nil
}

func (s *memLogStore) byID(id int64) *billing.WebhookLog {
	for _, row := range s.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (s *memLogStore) MarkProcessed(_ context.Context, id int64, procErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.byID(id)
	if row == nil {
		return billing.ErrWebhookLogNotFound
	}
	now := time.Now().UTC()
	row.Processed = true
	row.ProcessedAt = &now
	row.Error = procErr
	return nil
}

func (s *memLogStore) RecordError(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.byID(id)
	if row == nil {
		return billing.ErrWebhookLogNotFound
	}
	row.Error = msg
	return nil
}

func (s *memLogStore) RecordDuplicateDelivery(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.byID(id)
	if row == nil {
		return billing.ErrWebhookLogNotFound
	}
	row.DeliveryCount++
	return nil
}

type memPaymentStore struct {
	mu       sync.Mutex
	payments map[string]*billing.Payment // keyed provider|providerPaymentID
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{payments: make(map[string]*billing.Payment)}
}

func (s *memPaymentStore) GetByProviderID(_ context.Context, provider, providerPaymentID string) (*billing.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[logKey(provider, providerPaymentID)]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPaymentStore) Insert(_ context.Context, p *billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[logKey(p.Provider, p.ProviderPaymentID)] = &cp
	return nil
}

func (s *memPaymentStore) UpdateStatus(_ context.Context, id uuid.UUID, status billing.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == id {
			if !p.Status.CanTransitionTo(status) {
				return billing.ErrInvalidPaymentTransition
			}
			p.Status = status
			return nil
		}
	}
	return billing.ErrPaymentNotFound
}

type notifiedTransition struct {
	userID uuid.UUID
	tr     billing.Transition
	from   billing.Plan
	to     billing.Plan
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifiedTransition
}

func (n *recordingNotifier) NotifyPlanTransition(_ context.Context, userID uuid.UUID, tr billing.Transition, from, to billing.Plan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifiedTransition{userID: userID, tr: tr, from: from, to: to})
}

func (n *recordingNotifier) transitions() []notifiedTransition {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifiedTransition, len(n.calls))
	copy(out, n.calls)
	return out
}

// stubProvider returns canned events from ParseWebhook; the signature "bad"
// always fails verification.
type stubProvider struct {
	events map[string]*billing.Event // keyed by payload string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*billing.Event, error) {
	if signature == "bad" {
		return nil, billing.ErrInvalidSignature
	}
	ev, ok := p.events[string(payload)]
	if !ok {
		return nil, billing.ErrInvalidSignature
	}
	cp := *ev
	return &cp, nil
}

func (p *stubProvider) CreateCheckoutSession(context.Context, billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	return nil, billing.ErrProviderUnavailable
}

func (p *stubProvider) CreatePortalSession(context.Context, string) (*billing.PortalSession, error) {
	return nil, billing.ErrProviderUnavailable
}
