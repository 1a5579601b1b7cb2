package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheFromClient(client, 5*time.Minute), s
}

func TestBuyerSummaryCache(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	miss, gen, err := cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10)
	if err != nil || miss != nil || gen != 0 {
		t.Fatalf("expected miss at generation 0, got %v, %d, %v", miss, gen, err)
	}

	page := &model.SummaryPage{
		Items:    []model.DeliverySummary{{OrderID: "order-1", ProductName: "Lamp", Status: model.StatusPending}},
		Total:    1,
		Page:     1,
		PageSize: 10,
	}
	if err := cache.CacheBuyerSummaries(ctx, "buyer-1", gen, page); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, _, err := cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10)
	if err != nil || got == nil {
		t.Fatalf("expected hit, got %v, %v", got, err)
	}
	if got.Total != 1 || got.Items[0].OrderID != "order-1" {
		t.Fatalf("unexpected cached page %+v", got)
	}
	if other, _, _ := cache.GetBuyerSummaries(ctx, "buyer-1", 2, 10); other != nil {
		t.Fatalf("different page must miss")
	}

	// Nothing secret is ever written.
	raw := s.HGet("deliveries:buyer:buyer-1", "1:10")
	for _, forbidden := range []string{"qr_code", "qr_secret", "scan_token", "secret"} {
		if strings.Contains(raw, forbidden) {
			t.Fatalf("cached payload contains %q: %s", forbidden, raw)
		}
	}

	if err := cache.InvalidateBuyer(ctx, "buyer-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, gen, _ = cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10)
	if got != nil {
		t.Fatalf("expected miss after invalidation")
	}
	if gen != 1 {
		t.Fatalf("expected generation 1 after invalidation, got %d", gen)
	}
}

func TestBuyerSummaryCacheDropsStaleWrite(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	// A reader misses and loads from the store.
	_, gen, err := cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stale := &model.SummaryPage{
		Items:    []model.DeliverySummary{{OrderID: "order-1", Status: model.StatusPending}},
		Total:    1,
		Page:     1,
		PageSize: 10,
	}

	// A confirmation lands before the reader writes its page back.
	if err := cache.InvalidateBuyer(ctx, "buyer-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := cache.CacheBuyerSummaries(ctx, "buyer-1", gen, stale); err != nil {
		t.Fatalf("cache: %v", err)
	}
	if s.Exists("deliveries:buyer:buyer-1") {
		t.Fatalf("stale page must not be cached")
	}
	if got, _, _ := cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10); got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}

	// A reader that started after the invalidation may cache.
	_, gen, _ = cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10)
	stale.Items[0].Status = model.StatusDelivered
	if err := cache.CacheBuyerSummaries(ctx, "buyer-1", gen, stale); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, _, _ := cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10)
	if got == nil || got.Items[0].Status != model.StatusDelivered {
		t.Fatalf("expected fresh page, got %+v", got)
	}
}

func TestBuyerSummaryCacheExpires(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()
	_ = cache.CacheBuyerSummaries(ctx, "buyer-1", 0, &model.SummaryPage{Page: 1, PageSize: 10})
	if got, _, _ := cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10); got == nil {
		t.Fatalf("expected entry before expiry")
	}

	s.FastForward(6 * time.Minute)
	if got, _, _ := cache.GetBuyerSummaries(ctx, "buyer-1", 1, 10); got != nil {
		t.Fatalf("expected entry to expire")
	}
}

func TestSecretFailureCounter(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	if n, err := cache.Failures(ctx, "fp"); err != nil || n != 0 {
		t.Fatalf("expected zero failures, got %d, %v", n, err)
	}
	for i := int64(1); i <= 3; i++ {
		n, err := cache.RegisterFailure(ctx, "fp", time.Minute)
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if n != i {
			t.Fatalf("expected %d, got %d", i, n)
		}
	}
	if n, _ := cache.Failures(ctx, "fp"); n != 3 {
		t.Fatalf("expected 3 failures, got %d", n)
	}

	s.FastForward(2 * time.Minute)
	if n, _ := cache.Failures(ctx, "fp"); n != 0 {
		t.Fatalf("expected counter to expire, got %d", n)
	}

	_, _ = cache.RegisterFailure(ctx, "fp", time.Minute)
	if err := cache.ResetFailures(ctx, "fp"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := cache.Failures(ctx, "fp"); n != 0 {
		t.Fatalf("expected reset counter, got %d", n)
	}
}
