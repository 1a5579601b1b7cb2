package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bharathbbg/delivery-confirmation-service/internal/credentials"
	"github.com/bharathbbg/delivery-confirmation-service/internal/events"
	"github.com/bharathbbg/delivery-confirmation-service/internal/logger"
	"github.com/bharathbbg/delivery-confirmation-service/internal/metrics"
	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
	"github.com/bharathbbg/delivery-confirmation-service/internal/repository"
)

const (
	DefaultCredentialTTL = 24 * time.Hour

	defaultPageSize = 10
	maxPageSize     = 100
	maxIssueRetries = 3
)

// Store is the Delivery Record Store. Conditional updates report whether they applied.
type Store interface {
	CreateDelivery(ctx context.Context, delivery *model.Delivery, event *model.DeliveryEvent) error
	GetByOrderID(ctx context.Context, orderID string) (*model.Delivery, error)
	GetByScanToken(ctx context.Context, token string) (*model.Delivery, error)
	ListByBuyer(ctx context.Context, buyerID string, page, pageSize int) ([]*model.Delivery, int, error)
	ResetCredential(ctx context.Context, id, token, secret string, expiresAt, now time.Time, event *model.DeliveryEvent) (bool, error)
	MarkShipped(ctx context.Context, id string, now time.Time, event *model.DeliveryEvent) (bool, error)
	MarkDelivered(ctx context.Context, id string, upd repository.DeliveredUpdate, event *model.DeliveryEvent) (bool, error)
	AppendEvent(ctx context.Context, event *model.DeliveryEvent) error
	ListEvents(ctx context.Context, deliveryID string) ([]*model.DeliveryEvent, error)
}

// OrderSource resolves orders owned by the order subsystem. It returns nil, nil for unknown ids.
type OrderSource interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}

// SummaryCache holds buyer summary pages. GetBuyerSummaries reports the buyer's cache
// generation even on a miss; CacheBuyerSummaries drops the write when the generation has
// moved on, so a page read before an invalidation is never stored after it.
type SummaryCache interface {
	GetBuyerSummaries(ctx context.Context, buyerID string, page, pageSize int) (*model.SummaryPage, int64, error)
	CacheBuyerSummaries(ctx context.Context, buyerID string, generation int64, summaries *model.SummaryPage) error
	InvalidateBuyer(ctx context.Context, buyerID string) error
}

type AttemptLimiter interface {
	RegisterFailure(ctx context.Context, subject string, window time.Duration) (int64, error)
	Failures(ctx context.Context, subject string) (int64, error)
	ResetFailures(ctx context.Context, subject string) error
}

type CredentialGenerator interface {
	NewScanToken() (string, error)
	NewSecret() (string, error)
}

type Options struct {
	CredentialTTL time.Duration
	// SecretAttemptLimit of zero disables the limiter.
	SecretAttemptLimit  int
	SecretAttemptWindow time.Duration
}

type Dependencies struct {
	Store     Store
	Orders    OrderSource
	Cache     SummaryCache
	Limiter   AttemptLimiter
	Publisher events.Publisher
	Generator CredentialGenerator
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
	Options   Options
}

type DeliveryService struct {
	store     Store
	orders    OrderSource
	cache     SummaryCache
	limiter   AttemptLimiter
	publisher events.Publisher
	generator CredentialGenerator
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
	opts      Options
}

func NewDeliveryService(deps Dependencies) *DeliveryService {
	s := &DeliveryService{
		store:     deps.Store,
		orders:    deps.Orders,
		cache:     deps.Cache,
		limiter:   deps.Limiter,
		publisher: deps.Publisher,
		generator: deps.Generator,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		now:       deps.Now,
		opts:      deps.Options,
	}
	if s.generator == nil {
		s.generator = credentials.NewGenerator()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.opts.CredentialTTL <= 0 {
		s.opts.CredentialTTL = DefaultCredentialTTL
	}
	if s.opts.SecretAttemptLimit > 0 && s.limiter == nil {
		s.opts.SecretAttemptLimit = 0
	}
	return s
}

func (s *DeliveryService) clock() time.Time {
	return s.now().UTC()
}

func (s *DeliveryService) logger(ctx context.Context) *zap.Logger {
	return logger.For(ctx, s.log)
}

func newEvent(deliveryID string, eventType model.EventType, actorID string, loc *model.Location, description string, at time.Time) *model.DeliveryEvent {
	return &model.DeliveryEvent{
		ID:          uuid.NewString(),
		DeliveryID:  deliveryID,
		Type:        eventType,
		ActorID:     actorID,
		Location:    loc,
		Description: description,
		Timestamp:   at,
	}
}

// audit appends an event outside any transition. Failures are logged, not returned.
func (s *DeliveryService) audit(ctx context.Context, deliveryID string, eventType model.EventType, actorID string, loc *model.Location, description string) {
	event := newEvent(deliveryID, eventType, actorID, loc, description, s.clock())
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logger(ctx).Warn("failed to append audit event",
			zap.String("delivery_id", deliveryID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

func (s *DeliveryService) publish(ctx context.Context, eventType string, d *model.Delivery, actorID string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    d.OrderID,
		DeliveryID: d.ID,
		ActorID:    actorID,
		OccurredAt: s.clock(),
	})
	if err != nil {
		s.logger(ctx).Warn("failed to publish delivery event",
			zap.String("event_type", eventType),
			zap.String("order_id", d.OrderID),
			zap.Error(err),
		)
	}
}

func (s *DeliveryService) invalidateBuyer(ctx context.Context, buyerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBuyer(ctx, buyerID); err != nil {
		s.logger(ctx).Warn("failed to invalidate buyer cache", zap.String("buyer_id", buyerID), zap.Error(err))
	}
}

// Issue binds a fresh scan token and secret to a physical-good order. A live credential is
// returned unchanged; an expired one is reset on the same record. The secret is not part of
// the result: only the owning buyer can read it through GetCredential.
func (s *DeliveryService) Issue(ctx context.Context, actor Actor, orderID string) (*model.IssuedCredential, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	if !actor.CanIssue() {
		return nil, ErrForbidden
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidInput)
	}

	cred, err := s.issue(ctx, actor, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotEligible) || errors.Is(err, ErrNotFound) {
			s.metrics.IssueResult("rejected")
		}
		return nil, err
	}
	issued := cred.Issued()
	return &issued, nil
}

func (s *DeliveryService) issue(ctx context.Context, actor Actor, orderID string) (*model.Credential, error) {
	for attempt := 0; attempt < maxIssueRetries; attempt++ {
		existing, err := s.store.GetByOrderID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		var cred *model.Credential
		if existing != nil {
			cred, err = s.reuseOrReset(ctx, existing, actor)
		} else {
			cred, err = s.create(ctx, actor, orderID)
		}
		if errors.Is(err, repository.ErrDuplicate) {
			// Either another issuer won the race for this order or the token collided; re-read.
			continue
		}
		return cred, err
	}
	return nil, fmt.Errorf("issue credential for order %s: too many conflicting writes", orderID)
}

func (s *DeliveryService) create(ctx context.Context, actor Actor, orderID string) (*model.Credential, error) {
	if s.orders == nil {
		return nil, errors.New("order source not configured")
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, ErrNotFound
	}
	productName, ok := order.PhysicalProductName()
	if !ok {
		return nil, ErrOrderNotEligible
	}

	token, secret, err := s.newPair()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	delivery := &model.Delivery{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		BuyerID:     order.BuyerID,
		ProductName: productName,
		BuyerName:   order.BuyerName,
		BuyerPhone:  order.BuyerPhone,
		ScanToken:   token,
		Secret:      secret,
		Status:      model.StatusPending,
		ExpiresAt:   now.Add(s.opts.CredentialTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	event := newEvent(delivery.ID, model.EventCredentialIssued, actor.UserID, nil, "QR credential issued", now)
	if err := s.store.CreateDelivery(ctx, delivery, event); err != nil {
		return nil, err
	}

	s.metrics.IssueResult("created")
	s.logger(ctx).Info("delivery credential issued",
		zap.String("operation", "issue"),
		zap.String("order_id", orderID),
		zap.String("delivery_id", delivery.ID),
		zap.Time("expires_at", delivery.ExpiresAt),
	)
	s.invalidateBuyer(ctx, delivery.BuyerID)
	s.publish(ctx, events.TypeCredentialIssued, delivery, actor.UserID)

	cred := delivery.Credential()
	return &cred, nil
}

func (s *DeliveryService) newPair() (string, string, error) {
	token, err := s.generator.NewScanToken()
	if err != nil {
		return "", "", err
	}
	secret, err := s.generator.NewSecret()
	if err != nil {
		return "", "", err
	}
	return token, secret, nil
}

func (s *DeliveryService) reuseOrReset(ctx context.Context, d *model.Delivery, actor Actor) (*model.Credential, error) {
	if d.Status == model.StatusDelivered {
		return nil, ErrOrderNotEligible
	}
	now := s.clock()
	if !d.Expired(now) {
		s.metrics.IssueResult("reused")
		cred := d.Credential()
		return &cred, nil
	}

	token, secret, err := s.newPair()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(s.opts.CredentialTTL)
	event := newEvent(d.ID, model.EventCredentialReissued, actor.UserID, nil, "expired QR credential replaced", now)
	applied, err := s.store.ResetCredential(ctx, d.ID, token, secret, expiresAt, now, event)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Someone confirmed or reset it first; report whatever the record is now.
		current, err := s.store.GetByOrderID(ctx, d.OrderID)
		if err != nil {
			return nil, err
		}
		if current == nil || current.Status == model.StatusDelivered || current.Expired(now) {
			return nil, ErrOrderNotEligible
		}
		cred := current.Credential()
		return &cred, nil
	}

	s.metrics.IssueResult("reissued")
	s.logger(ctx).Info("delivery credential reissued",
		zap.String("operation", "reissue"),
		zap.String("order_id", d.OrderID),
		zap.String("delivery_id", d.ID),
		zap.Time("expires_at", expiresAt),
	)
	s.invalidateBuyer(ctx, d.BuyerID)
	s.publish(ctx, events.TypeCredentialIssued, d, actor.UserID)

	d.ScanToken, d.Secret, d.ExpiresAt, d.UpdatedAt = token, secret, expiresAt, now
	cred := d.Credential()
	return &cred, nil
}

// ownedDelivery loads the record for orderID and checks it belongs to actor.
// Ownership is checked before anything else about the record is revealed.
func (s *DeliveryService) ownedDelivery(ctx context.Context, actor Actor, orderID string) (*model.Delivery, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidInput)
	}
	d, err := s.store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	if d.BuyerID != actor.UserID {
		return nil, ErrForbidden
	}
	return d, nil
}

// GetCredential returns the token and secret to the buyer who owns the order.
func (s *DeliveryService) GetCredential(ctx context.Context, actor Actor, orderID string) (*model.Credential, error) {
	d, err := s.ownedDelivery(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if d.Status == model.StatusDelivered {
		return nil, ErrNotFound
	}
	cred := d.Credential()
	return &cred, nil
}

// RenewCredential lets the buyer replace an expired credential. Live credentials come back as is.
func (s *DeliveryService) RenewCredential(ctx context.Context, actor Actor, orderID string) (*model.Credential, error) {
	d, err := s.ownedDelivery(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if d.Status == model.StatusDelivered {
		return nil, ErrAlreadyDelivered
	}
	cred, err := s.reuseOrReset(ctx, d, actor)
	if errors.Is(err, ErrOrderNotEligible) {
		return nil, ErrAlreadyDelivered
	}
	return cred, err
}

// MyDeliveries lists the actor's deliveries, newest first, without tokens or secrets.
func (s *DeliveryService) MyDeliveries(ctx context.Context, actor Actor, page, pageSize int) (*model.SummaryPage, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	// Ensure valid pagination
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	var (
		generation int64
		cacheable  bool
	)
	if s.cache != nil {
		cached, gen, err := s.cache.GetBuyerSummaries(ctx, actor.UserID, page, pageSize)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil {
			s.logger(ctx).Warn("buyer summary cache read failed", zap.String("buyer_id", actor.UserID), zap.Error(err))
		}
		generation, cacheable = gen, err == nil
	}

	deliveries, total, err := s.store.ListByBuyer(ctx, actor.UserID, page, pageSize)
	if err != nil {
		return nil, err
	}
	out := &model.SummaryPage{
		Items:    make([]model.DeliverySummary, 0, len(deliveries)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, d := range deliveries {
		out.Items = append(out.Items, d.Summary())
	}

	if cacheable {
		if err := s.cache.CacheBuyerSummaries(ctx, actor.UserID, generation, out); err != nil {
			s.logger(ctx).Warn("buyer summary cache write failed", zap.String("buyer_id", actor.UserID), zap.Error(err))
		}
	}
	return out, nil
}

// Status returns the summary of a delivery for other services and admins.
func (s *DeliveryService) Status(ctx context.Context, actor Actor, orderID string) (*model.DeliverySummary, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	if !actor.CanIssue() {
		return nil, ErrForbidden
	}
	d, err := s.store.GetByOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	summary := d.Summary()
	return &summary, nil
}

// History returns the audit trail of a delivery to an admin or the owning buyer.
func (s *DeliveryService) History(ctx context.Context, actor Actor, orderID string) ([]*model.DeliveryEvent, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	d, err := s.store.GetByOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	if actor.Role != RoleAdmin && d.BuyerID != actor.UserID {
		return nil, ErrForbidden
	}
	return s.store.ListEvents(ctx, d.ID)
}
