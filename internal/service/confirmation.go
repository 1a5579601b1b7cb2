package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/bharathbbg/delivery-confirmation-service/internal/credentials"
	"github.com/bharathbbg/delivery-confirmation-service/internal/events"
	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
	"github.com/bharathbbg/delivery-confirmation-service/internal/repository"
)

// VerifyScan resolves a scanned token to the recipient details without touching state.
// The secret is never part of the result.
func (s *DeliveryService) VerifyScan(ctx context.Context, actor Actor, token string) (*model.ScanView, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	if !actor.CanHandOver() {
		return nil, ErrForbidden
	}
	token = credentials.Normalize(token)
	log := s.logger(ctx).With(
		zap.String("operation", "verify_scan"),
		zap.String("token_fp", credentials.Fingerprint(token)),
		zap.String("actor_id", actor.UserID),
	)

	d, err := s.lookupToken(ctx, token)
	if err != nil {
		s.metrics.ScanOutcome(outcomeOf(err))
		log.Info("scan rejected", zap.Error(err))
		return nil, err
	}
	if err := s.checkScannable(d); err != nil {
		s.metrics.ScanOutcome(outcomeOf(err))
		s.audit(ctx, d.ID, model.EventScanRejected, actor.UserID, nil, err.Error())
		log.Info("scan rejected", zap.String("order_id", d.OrderID), zap.Error(err))
		return nil, err
	}

	s.metrics.ScanOutcome("verified")
	s.audit(ctx, d.ID, model.EventScanVerified, actor.UserID, nil, "QR code scanned")
	log.Info("scan verified", zap.String("order_id", d.OrderID))
	view := d.ScanView()
	return &view, nil
}

// ConfirmDelivery moves a delivery to delivered when the presented token and secret match
// the live credential. Exactly one concurrent caller can succeed for a given token.
func (s *DeliveryService) ConfirmDelivery(ctx context.Context, actor Actor, req model.ConfirmDeliveryRequest) (*model.Confirmation, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	if !actor.CanHandOver() {
		return nil, ErrForbidden
	}
	token := credentials.Normalize(req.QRCode)
	secret := strings.TrimSpace(req.QRSecret)
	subject := credentials.Fingerprint(token)
	log := s.logger(ctx).With(
		zap.String("operation", "confirm_delivery"),
		zap.String("token_fp", subject),
		zap.String("actor_id", actor.UserID),
	)
	reject := func(d *model.Delivery, err error) (*model.Confirmation, error) {
		s.metrics.ConfirmOutcome(outcomeOf(err))
		if d != nil {
			s.audit(ctx, d.ID, model.EventConfirmRejected, actor.UserID, req.Location, err.Error())
		}
		log.Info("confirmation rejected", zap.Error(err))
		return nil, err
	}

	if s.limited(ctx, subject) {
		return reject(nil, ErrTooManyAttempts)
	}

	d, err := s.lookupToken(ctx, token)
	if err != nil {
		return reject(nil, err)
	}
	if err := s.checkScannable(d); err != nil {
		return reject(d, err)
	}
	// An empty secret is an ordinary mismatch.
	if secret == "" || !credentials.Matches(d.Secret, secret) {
		s.registerFailure(ctx, subject)
		return reject(d, ErrSecretMismatch)
	}

	now := s.clock()
	event := newEvent(d.ID, model.EventDelivered, actor.UserID, req.Location, "delivery confirmed by QR handshake", now)
	applied, err := s.store.MarkDelivered(ctx, d.ID, repository.DeliveredUpdate{
		ScanToken:   d.ScanToken,
		ConfirmedAt: now,
		ConfirmedBy: actor.UserID,
		Location:    req.Location,
	}, event)
	if err != nil {
		return nil, err
	}
	if !applied {
		return reject(nil, s.lostRace(ctx, d))
	}

	if s.opts.SecretAttemptLimit > 0 {
		if err := s.limiter.ResetFailures(ctx, subject); err != nil {
			log.Warn("failed to reset secret attempt counter", zap.Error(err))
		}
	}
	s.metrics.ConfirmOutcome("delivered")
	log.Info("delivery confirmed", zap.String("order_id", d.OrderID), zap.String("delivery_id", d.ID))
	s.invalidateBuyer(ctx, d.BuyerID)
	s.publish(ctx, events.TypeConfirmed, d, actor.UserID)

	return &model.Confirmation{
		OrderID:     d.OrderID,
		ConfirmedAt: now,
		ConfirmedBy: actor.UserID,
	}, nil
}

// MarkShipped records that the parcel left the seller. Marking a shipped delivery again is a no-op.
func (s *DeliveryService) MarkShipped(ctx context.Context, actor Actor, orderID string) (*model.DeliverySummary, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthorized
	}
	if !actor.CanHandOver() && actor.Role != RoleSeller && actor.Role != RoleSystem {
		return nil, ErrForbidden
	}
	d, err := s.store.GetByOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}

	switch d.Status {
	case model.StatusDelivered:
		return nil, ErrAlreadyDelivered
	case model.StatusPending:
		now := s.clock()
		event := newEvent(d.ID, model.EventStatusChanged, actor.UserID, nil, "status changed to shipped", now)
		applied, err := s.store.MarkShipped(ctx, d.ID, now, event)
		if err != nil {
			return nil, err
		}
		if applied {
			d.Status = model.StatusShipped
			d.UpdatedAt = now
			s.invalidateBuyer(ctx, d.BuyerID)
			s.logger(ctx).Info("delivery marked shipped", zap.String("order_id", d.OrderID))
		} else if current, err := s.store.GetByOrderID(ctx, d.OrderID); err == nil && current != nil {
			if current.Status == model.StatusDelivered {
				return nil, ErrAlreadyDelivered
			}
			d = current
		}
	}
	summary := d.Summary()
	return &summary, nil
}

func (s *DeliveryService) lookupToken(ctx context.Context, token string) (*model.Delivery, error) {
	if token == "" {
		return nil, ErrInvalidCode
	}
	d, err := s.store.GetByScanToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrInvalidCode
	}
	return d, nil
}

// checkScannable applies the shared rejection order: delivered before expired.
func (s *DeliveryService) checkScannable(d *model.Delivery) error {
	if d.Status == model.StatusDelivered {
		return ErrAlreadyDelivered
	}
	if d.Expired(s.clock()) {
		return ErrExpired
	}
	return nil
}

// lostRace explains why a conditional confirm did not apply.
func (s *DeliveryService) lostRace(ctx context.Context, d *model.Delivery) error {
	current, err := s.store.GetByOrderID(ctx, d.OrderID)
	if err != nil {
		return err
	}
	if current == nil || current.ScanToken != d.ScanToken {
		return ErrInvalidCode
	}
	if current.Status == model.StatusDelivered {
		return ErrAlreadyDelivered
	}
	return ErrExpired
}

func (s *DeliveryService) limited(ctx context.Context, subject string) bool {
	if s.opts.SecretAttemptLimit <= 0 {
		return false
	}
	n, err := s.limiter.Failures(ctx, subject)
	if err != nil {
		s.logger(ctx).Warn("secret attempt counter unavailable", zap.Error(err))
		return false
	}
	return n >= int64(s.opts.SecretAttemptLimit)
}

func (s *DeliveryService) registerFailure(ctx context.Context, subject string) {
	if s.opts.SecretAttemptLimit <= 0 {
		return
	}
	if _, err := s.limiter.RegisterFailure(ctx, subject, s.opts.SecretAttemptWindow); err != nil {
		s.logger(ctx).Warn("failed to count secret attempt", zap.Error(err))
	}
}
