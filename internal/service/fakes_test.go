package service

import (
	"context"
	"sync"
	"time"

	"invoice-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeEventStore struct {
	mu   sync.Mutex
	seen map[string]int
	err  error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{seen: map[string]int{}}
}

func (f *fakeEventStore) RecordEvent(_ context.Context, eventID, _ string, _ []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.seen[eventID]++
	return f.seen[eventID] == 1, nil
}

// fakeOrderStore mirrors the SQL semantics of the order ledger in memory.
type fakeOrderStore struct {
	mu              sync.Mutex
	orders          map[string]*models.Order
	profiles        map[string]*models.CustomerProfile
	reconciliations []*models.PaymentReconciliation
	markPaidErr     error
	markPaidCalls   int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:   map[string]*models.Order{},
		profiles: map[string]*models.CustomerProfile{},
	}
}

func (f *fakeOrderStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrderStore) MarkOrderPaid(_ context.Context, id string, paidAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markPaidCalls++
	if f.markPaidErr != nil {
		return false, f.markPaidErr
	}
	order, ok := f.orders[id]
	if !ok {
		return false, nil
	}
	if order.PaymentStatus == models.PaymentStatusPaid && order.PaidAt != nil {
		return false, nil
	}
	order.PaymentStatus = models.PaymentStatusPaid
	if order.PaidAt == nil {
		order.PaidAt = &paidAt
	}
	return true, nil
}

func (f *fakeOrderStore) UpsertPaymentReconciliation(_ context.Context, rec *models.PaymentReconciliation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciliations = append(f.reconciliations, rec)
	return nil
}

func (f *fakeOrderStore) GetCustomerProfile(_ context.Context, email string) (*models.CustomerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[email], nil
}

type MockPaymentLookup struct {
	mock.Mock
}

func (m *MockPaymentLookup) PaymentIntentMetadata(ctx context.Context, id string) (map[string]string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockPaymentLookup) SessionLineItems(ctx context.Context, sessionID string) ([]models.ProcessorLineItem, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProcessorLineItem), args.Error(1)
}

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

type memDocumentStore struct {
	mu   sync.Mutex
	docs map[string][]byte
	puts int
	err  error
}

func newMemDocumentStore() *memDocumentStore {
	return &memDocumentStore{docs: map[string][]byte{}}
}

func (m *memDocumentStore) Put(_ context.Context, path string, content []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.err != nil {
		return m.err
	}
	m.docs[path] = content
	return nil
}

type memGuard struct {
	mu     sync.Mutex
	claims map[string]bool
	err    error
}

func newMemGuard() *memGuard {
	return &memGuard{claims: map[string]bool{}}
}

func (g *memGuard) ClaimDelivery(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.claims[key] {
		return false, nil
	}
	g.claims[key] = true
	return true, nil
}

func (g *memGuard) ReleaseDelivery(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	paid     []string
	invoices []*models.InvoiceIssuedEvent
}

func (r *recordingPublisher) PublishOrderPaid(_ context.Context, orderID, _ string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid = append(r.paid, orderID)
	return nil
}

func (r *recordingPublisher) PublishInvoiceIssued(_ context.Context, event *models.InvoiceIssuedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices = append(r.invoices, event)
	return nil
}
