package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
	"github.com/nimba-pay/nimba_pay/internal/notification"
)

type testNotifier struct {
	events []notification.Event
}

func (n *testNotifier) Send(_ context.Context, event notification.Event) error {
	n.events = append(n.events, event)
	return nil
}

func newAccount(t *testing.T, l ledger.Ledger, currency string, balance int64) ledger.Account {
	t.Helper()
	acct, err := l.CreateAccount(context.Background(), ledger.Account{Currency: currency})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if balance > 0 {
		ledger.SeedBalance(l, acct.ID, balance)
	}
	return acct
}

func TestTransferSuccess(t *testing.T) {
	led := ledger.NewInMemory()
	notifier := &testNotifier{}
	engine := NewEngine(led, notifier)

	ctx := context.Background()
	from := newAccount(t, led, "GNF", 10_000)
	to := newAccount(t, led, "GNF", 0)

	res, err := engine.Transfer(ctx, TransferInput{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        3_000,
		Currency:      "GNF",
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if res.Balances[from.ID] != 7_000 || res.Balances[to.ID] != 3_000 {
		t.Fatalf("unexpected balances: %+v", res.Balances)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("expected one settlement event, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.TransactionID != res.ID || event.DebitAccountID != from.ID || event.Amount != 3_000 {
		t.Fatalf("unexpected settlement event: %+v", event)
	}
}

func TestTransferValidation(t *testing.T) {
	led := ledger.NewInMemory()
	engine := NewEngine(led, nil)
	ctx := context.Background()

	gnf := newAccount(t, led, "GNF", 5_000)
	usd := newAccount(t, led, "USD", 0)
	other := newAccount(t, led, "GNF", 0)

	if _, err := engine.Transfer(ctx, TransferInput{FromAccountID: gnf.ID, ToAccountID: other.ID, Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := engine.Transfer(ctx, TransferInput{FromAccountID: gnf.ID, ToAccountID: gnf.ID, Amount: 100}); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected same account error, got %v", err)
	}
	if _, err := engine.Transfer(ctx, TransferInput{FromAccountID: gnf.ID, ToAccountID: usd.ID, Amount: 100}); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	if _, err := engine.Transfer(ctx, TransferInput{FromAccountID: gnf.ID, ToAccountID: other.ID, Amount: 100, Currency: "USD"}); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch on request currency, got %v", err)
	}
	if _, err := engine.Transfer(ctx, TransferInput{FromAccountID: gnf.ID, ToAccountID: "missing", Amount: 100}); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}

	if _, err := led.SetAccountStatus(ctx, other.ID, ledger.StatusFrozen); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if _, err := engine.Transfer(ctx, TransferInput{FromAccountID: gnf.ID, ToAccountID: other.ID, Amount: 100}); !errors.Is(err, ledger.ErrAccountNotActive) {
		t.Fatalf("expected account not active, got %v", err)
	}

	// No validation error may leave a side effect behind.
	fromAfter, _ := led.Account(ctx, gnf.ID)
	if fromAfter.Balance != 5_000 {
		t.Fatalf("validation mutated balance: %d", fromAfter.Balance)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	led := ledger.NewInMemory()
	engine := NewEngine(led, nil)
	ctx := context.Background()

	from := newAccount(t, led, "GNF", 1_000)
	to := newAccount(t, led, "GNF", 0)

	if _, err := engine.Transfer(ctx, TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: 2_000}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestTransferDuplicateClientTxIsIdempotent(t *testing.T) {
	led := ledger.NewInMemory()
	notifier := &testNotifier{}
	engine := NewEngine(led, notifier)
	ctx := context.Background()

	from := newAccount(t, led, "GNF", 10_000)
	to := newAccount(t, led, "GNF", 0)

	input := TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: 1_000, ClientTxID: "retry-1"}
	first, err := engine.Transfer(ctx, input)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, err := engine.Transfer(ctx, input)
	if err != nil {
		t.Fatalf("replayed transfer should be idempotent success, got %v", err)
	}
	if second.ID != first.ID || !second.Duplicate {
		t.Fatalf("expected replay of %s, got %+v", first.ID, second)
	}

	fromAfter, _ := led.Account(ctx, from.ID)
	if fromAfter.Balance != 9_000 {
		t.Fatalf("replay moved funds, balance=%d", fromAfter.Balance)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("replay emitted a second settlement event")
	}
}

func TestDisburseSplitsUnderOneTransaction(t *testing.T) {
	led := ledger.NewInMemory()
	engine := NewEngine(led, nil)
	ctx := context.Background()

	clearing := newAccount(t, led, "GNF", 10_000)
	seller := newAccount(t, led, "GNF", 0)
	fees := newAccount(t, led, "GNF", 0)

	res, err := engine.Disburse(ctx, DisburseInput{
		FromAccountID: clearing.ID,
		Payouts: []Payout{
			{ToAccountID: seller.ID, Amount: 9_750},
			{ToAccountID: fees.ID, Amount: 250},
		},
		Currency: "GNF",
		Kind:     ledger.KindEscrowRelease,
	})
	if err != nil {
		t.Fatalf("disburse failed: %v", err)
	}

	if res.Balances[seller.ID] != 9_750 || res.Balances[fees.ID] != 250 || res.Balances[clearing.ID] != 0 {
		t.Fatalf("unexpected balances: %+v", res.Balances)
	}
}

func TestDisburseRejectsBadPayouts(t *testing.T) {
	led := ledger.NewInMemory()
	engine := NewEngine(led, nil)
	ctx := context.Background()

	clearing := newAccount(t, led, "GNF", 10_000)
	seller := newAccount(t, led, "GNF", 0)

	if _, err := engine.Disburse(ctx, DisburseInput{FromAccountID: clearing.ID}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for empty payouts, got %v", err)
	}
	if _, err := engine.Disburse(ctx, DisburseInput{
		FromAccountID: clearing.ID,
		Payouts:       []Payout{{ToAccountID: seller.ID, Amount: 0}},
	}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for zero payout, got %v", err)
	}
	if _, err := engine.Disburse(ctx, DisburseInput{
		FromAccountID: clearing.ID,
		Payouts:       []Payout{{ToAccountID: clearing.ID, Amount: 100}},
	}); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected same account error, got %v", err)
	}
}
