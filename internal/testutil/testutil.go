// Package testutil trae repos en memoria con la misma semántica condicional
// que los de Mongo, más helpers de JWT para los tests de la API.
package testutil

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"delivery-tracking-service/internal/model"
	"delivery-tracking-service/internal/repository"
)

var claimable = map[model.OrderStatus]bool{
	model.OrderPending:    true,
	model.OrderConfirmed:  true,
	model.OrderProcessing: true,
}

var terminal = map[model.TrackingStatus]bool{
	model.TrackingCompleted:     true,
	model.TrackingCancelled:     true,
	model.TrackingDeliveryIssue: true,
}

type MemoryOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*model.Order
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{orders: make(map[string]*model.Order)}
}

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Tracking = append([]model.TrackingEvent(nil), o.Tracking...)
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	return &cp
}

func (m *MemoryOrderRepo) Save(ctx context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.orders[o.OrderID] = cloneOrder(o)
	return nil
}

func (m *MemoryOrderRepo) FindByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryOrderRepo) FindClaimable(ctx context.Context) ([]*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Order
	for _, o := range m.orders {
		if o.AgentID == "" && claimable[o.Status] {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

// Claim replica el update condicional: solo matchea si la orden sigue sin
// agente y en estado tomable. Todo bajo el mismo lock, como el documento
// único de Mongo.
func (m *MemoryOrderRepo) Claim(ctx context.Context, orderID, agentID string, agentType model.AgentType, code string, ev model.TrackingEvent) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.AgentID != "" || !claimable[o.Status] {
		return nil, repository.ErrNotFound
	}
	o.AgentID = agentID
	o.AgentType = agentType
	o.TrackingStatus = model.TrackingAssigned
	o.DeliveryCode = code
	o.UpdatedAt = time.Now().UTC()
	o.Tracking = append(o.Tracking, ev)
	return cloneOrder(o), nil
}

func (m *MemoryOrderRepo) AdvanceTracking(ctx context.Context, orderID, agentID string, from, to model.TrackingStatus, orderStatus model.OrderStatus, ev model.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.AgentID != agentID || o.TrackingStatus != from {
		return repository.ErrNotFound
	}
	o.TrackingStatus = to
	if orderStatus != "" {
		o.Status = orderStatus
	}
	o.UpdatedAt = time.Now().UTC()
	o.Tracking = append(o.Tracking, ev)
	return nil
}

func (m *MemoryOrderRepo) ReleaseSellerPayment(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Payment.SellerReleased {
		return false, nil
	}
	now := time.Now().UTC()
	o.Payment.SellerReleased = true
	o.Payment.ReleasedAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (m *MemoryOrderRepo) Complete(ctx context.Context, orderID string, graceEnds time.Time, ev model.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.TrackingStatus != model.TrackingDelivered {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	o.TrackingStatus = model.TrackingCompleted
	o.Status = model.OrderCompleted
	o.GraceEndsAt = &graceEnds
	o.CompletedAt = &now
	o.UpdatedAt = now
	o.Tracking = append(o.Tracking, ev)
	return nil
}

func (m *MemoryOrderRepo) Close(ctx context.Context, orderID string, reason model.TrackingStatus, ev model.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || terminal[o.TrackingStatus] {
		return repository.ErrNotFound
	}
	o.TrackingStatus = reason
	o.Status = model.OrderCancelled
	o.AgentID = ""
	o.AgentType = ""
	o.UpdatedAt = time.Now().UTC()
	o.Tracking = append(o.Tracking, ev)
	return nil
}

type MemoryAgentRepo struct {
	mu     sync.Mutex
	agents map[string]*model.Agent
}

func NewMemoryAgentRepo() *MemoryAgentRepo {
	return &MemoryAgentRepo{agents: make(map[string]*model.Agent)}
}

func (m *MemoryAgentRepo) Save(ctx context.Context, a *model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	m.agents[a.AgentID] = &cp
	return nil
}

func (m *MemoryAgentRepo) FindByAgentID(ctx context.Context, agentID string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, repository.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryAgentRepo) SetStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return repository.ErrAgentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryAgentRepo) AddEarnings(ctx context.Context, agentID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return repository.ErrAgentNotFound
	}
	a.TotalEarnings += amount
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryAgentRepo) Deactivate(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return repository.ErrAgentNotFound
	}
	a.Active = false
	a.Status = model.AgentOffline
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type MemoryEarningRepo struct {
	mu       sync.Mutex
	earnings map[string]*model.Earning
}

func NewMemoryEarningRepo() *MemoryEarningRepo {
	return &MemoryEarningRepo{earnings: make(map[string]*model.Earning)}
}

// Record solo inserta si no existe el par (orden, agente), igual que el
// upsert con $setOnInsert.
func (m *MemoryEarningRepo) Record(ctx context.Context, e *model.Earning) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.OrderID + "|" + e.AgentID
	if _, ok := m.earnings[key]; ok {
		return false, nil
	}
	cp := *e
	m.earnings[key] = &cp
	return true, nil
}

func (m *MemoryEarningRepo) FindByAgentSince(ctx context.Context, agentID string, since time.Time) ([]*model.Earning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Earning
	for _, e := range m.earnings {
		if e.AgentID == agentID && !e.CreatedAt.Before(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FakeNotifier acumula lo publicado para poder asertarlo.
type FakeNotifier struct {
	mu     sync.Mutex
	Events []Notification
}

type Notification struct {
	Room    string
	Event   string
	Payload any
}

func (f *FakeNotifier) Notify(room, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, Notification{Room: room, Event: event, Payload: payload})
	return nil
}

func (f *FakeNotifier) ByEvent(event string) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notification
	for _, n := range f.Events {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

// SignToken firma un JWT HS256 con los claims mínimos que usa la app.
func SignToken(t *testing.T, secret, sub, name, role, agentType string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":        sub,
		"name":       name,
		"role":       role,
		"agent_type": agentType,
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}
