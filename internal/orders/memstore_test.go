package orders_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"purchases/internal/orders"
	"purchases/models"
)

// memStore — хранилище в памяти для тестов движка. Копирует записи на входе
// и выходе, как это делала бы настоящая БД, чтобы неудачные переходы не могли
// частично изменить сохраненное состояние.
type memStore struct {
	mu         sync.Mutex
	orders     map[int]*models.PurchaseOrder
	amendments map[int]*models.Amendment
	nextOrder  int
	nextAmend  int

	updateOrderErr error // инъекция ошибки записи
}

func newMemStore() *memStore {
	return &memStore{
		orders:     map[int]*models.PurchaseOrder{},
		amendments: map[int]*models.Amendment{},
		nextOrder:  1,
		nextAmend:  1,
	}
}

func cloneOrder(o *models.PurchaseOrder) *models.PurchaseOrder {
	c := *o
	if o.ConfirmedQuantity != nil {
		v := *o.ConfirmedQuantity
		c.ConfirmedQuantity = &v
	}
	if o.ConfirmedUnitPrice != nil {
		v := *o.ConfirmedUnitPrice
		c.ConfirmedUnitPrice = &v
	}
	if o.ConfirmedDeliveryDate != nil {
		v := *o.ConfirmedDeliveryDate
		c.ConfirmedDeliveryDate = &v
	}
	if o.ConfirmedDeliveryLocation != nil {
		v := *o.ConfirmedDeliveryLocation
		c.ConfirmedDeliveryLocation = &v
	}
	if o.SellerNotes != nil {
		v := *o.SellerNotes
		c.SellerNotes = &v
	}
	if o.ConfirmedAt != nil {
		v := *o.ConfirmedAt
		c.ConfirmedAt = &v
	}
	if o.LastAmendedAt != nil {
		v := *o.LastAmendedAt
		c.LastAmendedAt = &v
	}
	if o.ParentPOID != nil {
		v := *o.ParentPOID
		c.ParentPOID = &v
	}
	return &c
}

func cloneAmendment(a *models.Amendment) *models.Amendment {
	c := *a
	c.Changes = append(models.AmendmentChanges{}, a.Changes...)
	if a.Notes != nil {
		v := *a.Notes
		c.Notes = &v
	}
	if a.ApprovedAt != nil {
		v := *a.ApprovedAt
		c.ApprovedAt = &v
	}
	if a.AppliedAt != nil {
		v := *a.AppliedAt
		c.AppliedAt = &v
	}
	if a.ExpiresAt != nil {
		v := *a.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}

func (s *memStore) CreateOrder(ctx context.Context, o *models.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.nextOrder
	s.nextOrder++
	o.Version = 1
	o.CreatedAt = time.Now().UTC()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *memStore) GetOrder(ctx context.Context, id int) (*models.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, orders.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *memStore) UpdateOrder(ctx context.Context, o *models.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateOrderErr != nil {
		return s.updateOrderErr
	}
	stored, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", o.ID, orders.ErrNotFound)
	}
	if stored.Version != o.Version {
		return fmt.Errorf("order %d: version conflict at version %d", o.ID, o.Version)
	}
	o.Version++
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *memStore) CreateAmendment(ctx context.Context, a *models.Amendment, o *models.PurchaseOrder) error {
	if err := s.UpdateOrder(ctx, o); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextAmend
	s.nextAmend++
	s.amendments[a.ID] = cloneAmendment(a)
	return nil
}

func (s *memStore) GetAmendment(ctx context.Context, id int) (*models.Amendment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.amendments[id]
	if !ok {
		return nil, fmt.Errorf("amendment %d: %w", id, orders.ErrNotFound)
	}
	return cloneAmendment(a), nil
}

func (s *memStore) UpdateAmendment(ctx context.Context, a *models.Amendment, o *models.PurchaseOrder) error {
	if err := s.UpdateOrder(ctx, o); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amendments[a.ID] = cloneAmendment(a)
	return nil
}

func (s *memStore) GetPendingAmendment(ctx context.Context, orderID int) (*models.Amendment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.amendments {
		if a.PurchaseOrderID == orderID && a.Status == models.AmendmentPending {
			return cloneAmendment(a), nil
		}
	}
	return nil, nil
}

func (s *memStore) CountAmendments(ctx context.Context, orderID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.amendments {
		if a.PurchaseOrderID == orderID {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ExpireAmendments(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.amendments {
		if a.Status != models.AmendmentPending || a.ExpiresAt == nil || !a.ExpiresAt.Before(now) {
			continue
		}
		a.Status = models.AmendmentExpired
		if o, ok := s.orders[a.PurchaseOrderID]; ok && o.Status == models.OrderAmendmentPending {
			o.Status = models.OrderConfirmed
			o.Version++
		}
		count++
	}
	return count, nil
}

// recordingNotifier накапливает события для проверок.
type recordingNotifier struct {
	mu     sync.Mutex
	events []orders.Event
}

func (n *recordingNotifier) Notify(ev orders.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) byType(t orders.EventType) []orders.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []orders.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
