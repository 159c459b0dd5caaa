package transactions

import (
	"context"
	"strings"
	"testing"

	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage/memory"
	"github.com/civicwatch/fundwatch/internal/errors"
)

var official = user.User{ID: "official-1", Name: "Official", Role: user.RoleGovtOfficial, Department: "Treasury"}

func validInput() CreateInput {
	return CreateInput{
		Title:          "Rural school construction",
		Description:    "Construction of 12 primary schools in the northern district",
		Amount:         250000,
		FromDepartment: "Treasury",
		ToDepartment:   "Education Board",
		Category:       "Education",
	}
}

func TestCreateDefaultsAndReference(t *testing.T) {
	svc := New(memory.New(), nil, nil)

	tx, err := svc.Create(context.Background(), official, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.Status != transaction.StatusPending {
		t.Fatalf("expected pending status, got %s", tx.Status)
	}
	if tx.FiscalYear != transaction.DefaultFiscalYear {
		t.Fatalf("expected default fiscal year, got %s", tx.FiscalYear)
	}
	if !strings.HasPrefix(tx.Reference, "TXN-") {
		t.Fatalf("unexpected reference format: %s", tx.Reference)
	}
	if tx.Approvals != 0 || tx.Flags != 0 {
		t.Fatalf("counters must start at zero: %#v", tx)
	}
}

func TestCreateRejectsCitizens(t *testing.T) {
	svc := New(memory.New(), nil, nil)

	citizen := user.User{ID: "c1", Role: user.RoleCitizen}
	_, err := svc.Create(context.Background(), citizen, validInput())
	if err == nil {
		t.Fatalf("expected forbidden error")
	}
	if svcErr := errors.GetServiceError(err); svcErr == nil || svcErr.HTTPStatus != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	bad := validInput()
	bad.Amount = 0
	if _, err := svc.Create(ctx, official, bad); err == nil {
		t.Fatalf("expected amount rejection")
	}

	bad = validInput()
	bad.Category = "Space Program"
	if _, err := svc.Create(ctx, official, bad); err == nil {
		t.Fatalf("expected category rejection")
	}

	bad = validInput()
	bad.Title = "   "
	if _, err := svc.Create(ctx, official, bad); err == nil {
		t.Fatalf("expected title rejection")
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		in := validInput()
		if i%3 == 0 {
			in.Category = "Healthcare"
		}
		if _, err := svc.Create(ctx, official, in); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	page, total, err := svc.List(ctx, transaction.Filter{Page: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 15 {
		t.Fatalf("expected total 15, got %d", total)
	}
	if len(page) != 5 {
		t.Fatalf("expected 5 on page 2 with default size, got %d", len(page))
	}

	health, total, err := svc.List(ctx, transaction.Filter{Category: "Healthcare"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if total != 5 || len(health) != 5 {
		t.Fatalf("expected 5 healthcare transactions, got total=%d len=%d", total, len(health))
	}

	if _, _, err := svc.List(ctx, transaction.Filter{Status: "unknown"}); err == nil {
		t.Fatalf("expected status filter rejection")
	}
}

func TestSetStatusAdminOnly(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	tx, err := svc.Create(ctx, official, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.SetStatus(ctx, official, tx.ID, transaction.StatusRejected); err == nil {
		t.Fatalf("expected forbidden for non-admin")
	}

	admin := user.User{ID: "a1", Role: user.RoleAdmin}
	updated, err := svc.SetStatus(ctx, admin, tx.ID, transaction.StatusRejected)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != transaction.StatusRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}

	if _, err := svc.SetStatus(ctx, admin, tx.ID, "limbo"); err == nil {
		t.Fatalf("expected invalid status rejection")
	}
	if _, err := svc.SetStatus(ctx, admin, tx.ID, transaction.StatusApproved); err == nil {
		t.Fatalf("expected approved to be unreachable via moderation")
	}
	if _, err := svc.SetStatus(ctx, admin, "missing", transaction.StatusRejected); err == nil {
		t.Fatalf("expected not found")
	}
}

type stubCache struct {
	stored *transaction.Analytics
	hits   int
}

func (c *stubCache) GetAnalytics(context.Context) (transaction.Analytics, bool) {
	if c.stored == nil {
		return transaction.Analytics{}, false
	}
	c.hits++
	return *c.stored, true
}

func (c *stubCache) SetAnalytics(_ context.Context, a transaction.Analytics) { c.stored = &a }

func TestAnalyticsUsesCache(t *testing.T) {
	store := memory.New()
	cache := &stubCache{}
	svc := New(store, cache, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, official, validInput()); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.Analytics(ctx)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if first.TotalTransactions != 1 {
		t.Fatalf("expected 1 transaction, got %d", first.TotalTransactions)
	}
	if cache.stored == nil {
		t.Fatalf("expected analytics stored in cache")
	}

	if _, err := svc.Analytics(ctx); err != nil {
		t.Fatalf("analytics from cache: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("expected cache hit, got %d", cache.hits)
	}
}
