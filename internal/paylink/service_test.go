package paylink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
	"github.com/nimba-pay/nimba_pay/internal/logging"
	"github.com/nimba-pay/nimba_pay/internal/transfer"
)

func newTestService(locks *redsync.Redsync) (*Service, ledger.Ledger) {
	led := ledger.NewInMemory()
	engine := transfer.NewEngine(led, nil)
	svc := NewService(NewMemoryRepository(), led, engine, locks, logging.Discard(), Config{
		BaseURL: "https://pay.nimba.test",
	})
	return svc, led
}

func newTestAccount(t *testing.T, led ledger.Ledger, balance int64) ledger.Account {
	t.Helper()
	acct, err := led.CreateAccount(context.Background(), ledger.Account{Currency: "GNF"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if balance > 0 {
		ledger.SeedBalance(led, acct.ID, balance)
	}
	return acct
}

func TestCreateAndResolve(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)

	share, err := svc.Create(ctx, CreateInput{
		CreatorAccountID: creator.ID,
		Amount:           5_000,
		Description:      "ride to Kaloum",
		TTL:              time.Hour,
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	if share.Status != StatusActive || share.Currency != "GNF" {
		t.Fatalf("unexpected link: %+v", share.PaymentLink)
	}
	if !strings.HasSuffix(share.URL, "/pay/"+share.LinkCode) {
		t.Fatalf("unexpected share url %q", share.URL)
	}
	if share.QRImage == "" {
		t.Fatal("expected QR payload")
	}
	if until := time.Until(share.ExpiresAt); until < 59*time.Minute || until > time.Hour {
		t.Fatalf("unexpected expiry: %v", share.ExpiresAt)
	}

	resolved, err := svc.Resolve(ctx, share.LinkCode)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != share.ID || resolved.Status != StatusActive {
		t.Fatalf("unexpected resolved link: %+v", resolved)
	}
}

func TestCreateClampsTTL(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)

	defaulted, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 100})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if until := time.Until(defaulted.ExpiresAt); until > defaultTTL || until < defaultTTL-time.Minute {
		t.Fatalf("expected default ttl, expires %v", defaulted.ExpiresAt)
	}

	clamped, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 100, TTL: 365 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if until := time.Until(clamped.ExpiresAt); until > maxTTL {
		t.Fatalf("ttl not clamped, expires %v", clamped.ExpiresAt)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)

	if _, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 0}); !errors.Is(err, transfer.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{CreatorAccountID: "missing", Amount: 100}); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 100, Currency: "USD"}); !errors.Is(err, transfer.ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}

	if _, err := led.SetAccountStatus(ctx, creator.ID, ledger.StatusFrozen); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 100}); !errors.Is(err, ledger.ErrAccountNotActive) {
		t.Fatalf("expected account not active, got %v", err)
	}
}

func TestResolveLazyExpiry(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)

	// Persist a link whose deadline already passed, as if it had been
	// created an hour ago and never read since.
	now := time.Now().UTC()
	stale := PaymentLink{
		ID:               "stale-link",
		LinkCode:         "stalecode",
		CreatorAccountID: creator.ID,
		Amount:           1_000,
		Currency:         "GNF",
		Status:           StatusActive,
		ExpiresAt:        now.Add(-time.Minute),
		CreatedAt:        now.Add(-time.Hour),
	}
	if err := svc.repo.Create(ctx, stale); err != nil {
		t.Fatalf("seed link: %v", err)
	}

	resolved, err := svc.Resolve(ctx, stale.LinkCode)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusExpired {
		t.Fatalf("expected lazy expiry, got %s", resolved.Status)
	}

	// The transition must have been persisted, not computed on the fly.
	stored, err := svc.repo.GetByCode(ctx, stale.LinkCode)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.Status != StatusExpired {
		t.Fatalf("expiry not persisted, status=%s", stored.Status)
	}
}

func TestPaySuccess(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)
	payer := newTestAccount(t, led, 10_000)

	share, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 5_000, TTL: time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	res, err := svc.Pay(ctx, PayInput{LinkCode: share.LinkCode, PayerAccountID: payer.ID})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}

	if res.Link.Status != StatusUsed || res.Link.PaidByAccountID != payer.ID {
		t.Fatalf("unexpected link after pay: %+v", res.Link)
	}
	if res.Link.SettlementTransactionID != res.Transaction.ID {
		t.Fatalf("settlement id mismatch: %s vs %s", res.Link.SettlementTransactionID, res.Transaction.ID)
	}
	if res.Link.PaidAt == nil {
		t.Fatal("expected paid_at to be recorded")
	}

	payerAfter, _ := led.Account(ctx, payer.ID)
	creatorAfter, _ := led.Account(ctx, creator.ID)
	if payerAfter.Balance != 5_000 || creatorAfter.Balance != 5_000 {
		t.Fatalf("unexpected balances: payer=%d creator=%d", payerAfter.Balance, creatorAfter.Balance)
	}

	// A link is redeemable exactly once.
	if _, err := svc.Pay(ctx, PayInput{LinkCode: share.LinkCode, PayerAccountID: payer.ID}); !errors.Is(err, ErrLinkNotActive) {
		t.Fatalf("expected link not active on second pay, got %v", err)
	}
	payerAfter, _ = led.Account(ctx, payer.ID)
	if payerAfter.Balance != 5_000 {
		t.Fatalf("second pay moved funds, payer=%d", payerAfter.Balance)
	}
}

func TestPayExpiredLink(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)
	payer := newTestAccount(t, led, 10_000)

	now := time.Now().UTC()
	stale := PaymentLink{
		ID:               "expired-link",
		LinkCode:         "expiredcode",
		CreatorAccountID: creator.ID,
		Amount:           1_000,
		Currency:         "GNF",
		Status:           StatusActive,
		ExpiresAt:        now.Add(-time.Second),
		CreatedAt:        now.Add(-time.Hour),
	}
	if err := svc.repo.Create(ctx, stale); err != nil {
		t.Fatalf("seed link: %v", err)
	}

	if _, err := svc.Pay(ctx, PayInput{LinkCode: stale.LinkCode, PayerAccountID: payer.ID}); !errors.Is(err, ErrLinkNotActive) {
		t.Fatalf("expected link not active, got %v", err)
	}
	payerAfter, _ := led.Account(ctx, payer.ID)
	if payerAfter.Balance != 10_000 {
		t.Fatalf("expired pay moved funds, payer=%d", payerAfter.Balance)
	}
}

func TestPayFailureLeavesLinkActive(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)
	payer := newTestAccount(t, led, 100)

	share, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 5_000, TTL: time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	if _, err := svc.Pay(ctx, PayInput{LinkCode: share.LinkCode, PayerAccountID: payer.ID}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	link, err := svc.Resolve(ctx, share.LinkCode)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if link.Status != StatusActive {
		t.Fatalf("failed pay mutated link, status=%s", link.Status)
	}
}

func TestPayReplayAfterLostStateWrite(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)
	payer := newTestAccount(t, led, 10_000)

	share, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 2_000, TTL: time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	// Simulate a crash between settlement and the link-state write: the
	// ledger transaction committed, the link is still active.
	engine := transfer.NewEngine(led, nil)
	if _, err := engine.Transfer(ctx, transfer.TransferInput{
		FromAccountID: payer.ID,
		ToAccountID:   creator.ID,
		Amount:        2_000,
		Kind:          ledger.KindPaymentLink,
		ClientTxID:    "paylink:" + share.LinkCode,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	res, err := svc.Pay(ctx, PayInput{LinkCode: share.LinkCode, PayerAccountID: payer.ID})
	if err != nil {
		t.Fatalf("retried pay: %v", err)
	}
	if res.Link.Status != StatusUsed {
		t.Fatalf("expected link used after retry, got %s", res.Link.Status)
	}

	// Exactly one settlement happened.
	payerAfter, _ := led.Account(ctx, payer.ID)
	if payerAfter.Balance != 8_000 {
		t.Fatalf("retry settled twice, payer=%d", payerAfter.Balance)
	}
}

func TestCancel(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)
	stranger := newTestAccount(t, led, 0)

	share, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 1_000, TTL: time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	if _, err := svc.Cancel(ctx, share.LinkCode, stranger.ID); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected not creator, got %v", err)
	}

	cancelled, err := svc.Cancel(ctx, share.LinkCode, creator.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	if _, err := svc.Cancel(ctx, share.LinkCode, creator.ID); !errors.Is(err, ErrLinkNotActive) {
		t.Fatalf("expected link not active on second cancel, got %v", err)
	}
}

func TestSweepExpiresStaleLinks(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)

	now := time.Now().UTC()
	old := PaymentLink{
		ID:               "old-link",
		LinkCode:         "oldcode",
		CreatorAccountID: creator.ID,
		Amount:           500,
		Currency:         "GNF",
		Status:           StatusActive,
		ExpiresAt:        now.Add(-31 * 24 * time.Hour),
		CreatedAt:        now.Add(-31 * 24 * time.Hour),
	}
	if err := svc.repo.Create(ctx, old); err != nil {
		t.Fatalf("seed link: %v", err)
	}
	fresh, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 500, TTL: time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	n, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one swept link, got %d", n)
	}

	swept, _ := svc.repo.GetByCode(ctx, old.LinkCode)
	if swept.Status != StatusExpired {
		t.Fatalf("stale link not expired, status=%s", swept.Status)
	}
	kept, _ := svc.repo.GetByCode(ctx, fresh.LinkCode)
	if kept.Status != StatusActive {
		t.Fatalf("fresh link swept, status=%s", kept.Status)
	}
}

func TestPayWithRedisLock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	locks := redsync.New(goredis.NewPool(client))

	svc, led := newTestService(locks)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)
	payer := newTestAccount(t, led, 10_000)

	share, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 4_000, TTL: time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	res, err := svc.Pay(ctx, PayInput{LinkCode: share.LinkCode, PayerAccountID: payer.ID})
	if err != nil {
		t.Fatalf("pay under lock: %v", err)
	}
	if res.Link.Status != StatusUsed {
		t.Fatalf("expected used, got %s", res.Link.Status)
	}
	// The per-link lock must not leak past the call.
	if mr.Exists("paylink:lock:" + share.LinkCode) {
		t.Fatal("pay lock still held after completion")
	}
}

func TestCancelAfterCommittedPayRepairsLink(t *testing.T) {
	svc, led := newTestService(nil)
	ctx := context.Background()
	creator := newTestAccount(t, led, 0)
	payer := newTestAccount(t, led, 5_000)

	share, err := svc.Create(ctx, CreateInput{CreatorAccountID: creator.ID, Amount: 3_000, TTL: time.Hour})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	// The payment committed at the ledger but the link-state write was
	// lost; cancelling must repair the link to used, not orphan the debit.
	engine := transfer.NewEngine(led, nil)
	committed, err := engine.Transfer(ctx, transfer.TransferInput{
		FromAccountID: payer.ID,
		ToAccountID:   creator.ID,
		Amount:        3_000,
		Kind:          ledger.KindPaymentLink,
		ClientTxID:    "paylink:" + share.LinkCode,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if _, err := svc.Cancel(ctx, share.LinkCode, creator.ID); !errors.Is(err, ErrLinkNotActive) {
		t.Fatalf("expected link not active, got %v", err)
	}

	repaired, err := svc.Resolve(ctx, share.LinkCode)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if repaired.Status != StatusUsed || repaired.SettlementTransactionID != committed.ID {
		t.Fatalf("link not repaired to committed payment: %+v", repaired)
	}
	if repaired.PaidByAccountID != payer.ID {
		t.Fatalf("paid-by not recovered: %q", repaired.PaidByAccountID)
	}

	// No funds moved on cancel.
	payerAfter, _ := led.Account(ctx, payer.ID)
	if payerAfter.Balance != 2_000 {
		t.Fatalf("payer balance: %d", payerAfter.Balance)
	}
}
