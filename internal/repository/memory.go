package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
)

// MemoryRepository keeps deliveries in process. It honours the same conditional-update
// contract as PostgresRepository and backs STORE_DRIVER=memory and the tests.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*model.Delivery
	byOrder map[string]string
	byToken map[string]string
	retired map[string]string
	events  map[string][]*model.DeliveryEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*model.Delivery),
		byOrder: make(map[string]string),
		byToken: make(map[string]string),
		retired: make(map[string]string),
		events:  make(map[string][]*model.DeliveryEvent),
	}
}

func cloneDelivery(d *model.Delivery) *model.Delivery {
	out := *d
	if d.ConfirmedAt != nil {
		t := *d.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if d.ConfirmLocation != nil {
		loc := *d.ConfirmLocation
		out.ConfirmLocation = &loc
	}
	return &out
}

func cloneEvent(e *model.DeliveryEvent) *model.DeliveryEvent {
	out := *e
	if e.Location != nil {
		loc := *e.Location
		out.Location = &loc
	}
	return &out
}

func (r *MemoryRepository) tokenTaken(token string) bool {
	_, live := r.byToken[token]
	_, retired := r.retired[token]
	return live || retired
}

func (r *MemoryRepository) CreateDelivery(_ context.Context, delivery *model.Delivery, event *model.DeliveryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[delivery.OrderID]; exists {
		return fmt.Errorf("%w: deliveries_order_id_key", ErrDuplicate)
	}
	if r.tokenTaken(delivery.ScanToken) {
		return fmt.Errorf("%w: deliveries_scan_token_key", ErrDuplicate)
	}
	stored := cloneDelivery(delivery)
	r.byID[stored.ID] = stored
	r.byOrder[stored.OrderID] = stored.ID
	r.byToken[stored.ScanToken] = stored.ID
	r.events[stored.ID] = append(r.events[stored.ID], cloneEvent(event))
	return nil
}

func (r *MemoryRepository) GetByOrderID(_ context.Context, orderID string) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, nil
	}
	return cloneDelivery(r.byID[id]), nil
}

func (r *MemoryRepository) GetByScanToken(_ context.Context, token string) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	return cloneDelivery(r.byID[id]), nil
}

func (r *MemoryRepository) ListByBuyer(_ context.Context, buyerID string, page, pageSize int) ([]*model.Delivery, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*model.Delivery, 0)
	for _, d := range r.byID {
		if d.BuyerID == buyerID {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := (page - 1) * pageSize
	if offset >= total {
		return []*model.Delivery{}, total, nil
	}
	end := offset + pageSize
	if end > total {
		end = total
	}
	out := make([]*model.Delivery, 0, end-offset)
	for _, d := range matched[offset:end] {
		out = append(out, cloneDelivery(d))
	}
	return out, total, nil
}

func (r *MemoryRepository) ResetCredential(_ context.Context, id, token, secret string, expiresAt, now time.Time, event *model.DeliveryEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok || d.Status == model.StatusDelivered || !d.ExpiresAt.Before(now) {
		return false, nil
	}
	if r.tokenTaken(token) {
		return false, fmt.Errorf("%w: deliveries_scan_token_key", ErrDuplicate)
	}
	delete(r.byToken, d.ScanToken)
	r.retired[d.ScanToken] = d.ID
	d.ScanToken = token
	d.Secret = secret
	d.ExpiresAt = expiresAt
	d.UpdatedAt = now
	r.byToken[token] = d.ID
	r.events[id] = append(r.events[id], cloneEvent(event))
	return true, nil
}

func (r *MemoryRepository) MarkShipped(_ context.Context, id string, now time.Time, event *model.DeliveryEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok || d.Status != model.StatusPending {
		return false, nil
	}
	d.Status = model.StatusShipped
	d.UpdatedAt = now
	r.events[id] = append(r.events[id], cloneEvent(event))
	return true, nil
}

func (r *MemoryRepository) MarkDelivered(_ context.Context, id string, upd DeliveredUpdate, event *model.DeliveryEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok || d.Status == model.StatusDelivered || d.ExpiresAt.Before(upd.ConfirmedAt) || d.ScanToken != upd.ScanToken {
		return false, nil
	}
	confirmedAt := upd.ConfirmedAt
	d.Status = model.StatusDelivered
	d.ConfirmedAt = &confirmedAt
	d.ConfirmedBy = upd.ConfirmedBy
	if upd.Location != nil {
		loc := *upd.Location
		d.ConfirmLocation = &loc
	}
	d.UpdatedAt = confirmedAt
	r.events[id] = append(r.events[id], cloneEvent(event))
	return true, nil
}

func (r *MemoryRepository) AppendEvent(_ context.Context, event *model.DeliveryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[event.DeliveryID]; !ok {
		return fmt.Errorf("error creating delivery event: unknown delivery %s", event.DeliveryID)
	}
	r.events[event.DeliveryID] = append(r.events[event.DeliveryID], cloneEvent(event))
	return nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, deliveryID string) ([]*model.DeliveryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.events[deliveryID]
	out := make([]*model.DeliveryEvent, 0, len(src))
	for _, e := range src {
		out = append(out, cloneEvent(e))
	}
	return out, nil
}
