package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func mustAccount(t *testing.T, l Ledger, currency string) Account {
	t.Helper()
	acct, err := l.CreateAccount(context.Background(), Account{Currency: currency})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

func transferEntries(from, to string, amount int64) []Entry {
	return []Entry{
		{AccountID: from, Direction: DirectionDebit, Amount: amount},
		{AccountID: to, Direction: DirectionCredit, Amount: amount},
	}
}

func TestInMemoryLedger_RecordMaintainsBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	b := mustAccount(t, l, "GNF")
	SeedBalance(l, a.ID, 10_000)

	res, err := l.Record(ctx, RecordInput{
		Kind:    KindTransfer,
		Entries: transferEntries(a.ID, b.ID, 3_000),
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if res.Balances[a.ID] != 7_000 {
		t.Fatalf("expected debit balance 7000, got %d", res.Balances[a.ID])
	}
	if res.Balances[b.ID] != 3_000 {
		t.Fatalf("expected credit balance 3000, got %d", res.Balances[b.ID])
	}
	if total := TotalBalance(l); total != 10_000 {
		t.Fatalf("ledger not balanced, total=%d", total)
	}
}

func TestInMemoryLedger_InsufficientFundsLeavesBalancesUnchanged(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	b := mustAccount(t, l, "GNF")
	SeedBalance(l, a.ID, 7_000)
	SeedBalance(l, b.ID, 3_000)

	_, err := l.Record(ctx, RecordInput{Kind: KindTransfer, Entries: transferEntries(a.ID, b.ID, 50_000)})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	aAfter, _ := l.Account(ctx, a.ID)
	bAfter, _ := l.Account(ctx, b.ID)
	if aAfter.Balance != 7_000 || bAfter.Balance != 3_000 {
		t.Fatalf("balances changed after rejection: %d/%d", aAfter.Balance, bAfter.Balance)
	}
}

func TestInMemoryLedger_UnbalancedEntriesRejected(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	b := mustAccount(t, l, "GNF")
	SeedBalance(l, a.ID, 5_000)

	cases := [][]Entry{
		{{AccountID: a.ID, Direction: DirectionDebit, Amount: 100}},
		{
			{AccountID: a.ID, Direction: DirectionDebit, Amount: 100},
			{AccountID: b.ID, Direction: DirectionCredit, Amount: 90},
		},
		{
			{AccountID: a.ID, Direction: DirectionDebit, Amount: -100},
			{AccountID: b.ID, Direction: DirectionCredit, Amount: -100},
		},
		{
			{AccountID: a.ID, Direction: DirectionDebit, Amount: 100},
			{AccountID: a.ID, Direction: DirectionCredit, Amount: 100},
		},
	}
	for i, entries := range cases {
		if _, err := l.Record(ctx, RecordInput{Kind: KindTransfer, Entries: entries}); !errors.Is(err, ErrUnbalancedEntries) {
			t.Fatalf("case %d: expected unbalanced entries, got %v", i, err)
		}
	}
}

func TestInMemoryLedger_InactiveAccountRejected(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	b := mustAccount(t, l, "GNF")
	SeedBalance(l, a.ID, 5_000)

	if _, err := l.SetAccountStatus(ctx, b.ID, StatusFrozen); err != nil {
		t.Fatalf("freeze account: %v", err)
	}

	_, err := l.Record(ctx, RecordInput{Kind: KindTransfer, Entries: transferEntries(a.ID, b.ID, 1_000)})
	if !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("expected account not active, got %v", err)
	}

	aAfter, _ := l.Account(ctx, a.ID)
	if aAfter.Balance != 5_000 {
		t.Fatalf("debit leaked from rejected posting, balance=%d", aAfter.Balance)
	}
}

func TestInMemoryLedger_ClosedAccountIsTerminal(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	if _, err := l.SetAccountStatus(ctx, a.ID, StatusClosed); err != nil {
		t.Fatalf("close account: %v", err)
	}
	if _, err := l.SetAccountStatus(ctx, a.ID, StatusActive); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("expected closed account to stay closed, got %v", err)
	}
}

func TestInMemoryLedger_DuplicateClientTx(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	b := mustAccount(t, l, "GNF")
	SeedBalance(l, a.ID, 5_000)

	first, err := l.Record(ctx, RecordInput{
		Kind:       KindTransfer,
		ClientTxID: "dup",
		Entries:    transferEntries(a.ID, b.ID, 500),
	})
	if err != nil {
		t.Fatalf("initial record failed: %v", err)
	}

	replay, err := l.Record(ctx, RecordInput{
		Kind:       KindTransfer,
		ClientTxID: "dup",
		Entries:    transferEntries(a.ID, b.ID, 500),
	})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if replay.ID != first.ID || !replay.Duplicate {
		t.Fatalf("expected replay of %s, got %+v", first.ID, replay)
	}

	aAfter, _ := l.Account(ctx, a.ID)
	if aAfter.Balance != 4_500 {
		t.Fatalf("replay moved funds, balance=%d", aAfter.Balance)
	}
}

func TestInMemoryLedger_MultiLegSplit(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	clearing := mustAccount(t, l, "GNF")
	seller := mustAccount(t, l, "GNF")
	fees := mustAccount(t, l, "GNF")
	SeedBalance(l, clearing.ID, 10_000)

	res, err := l.Record(ctx, RecordInput{
		Kind: KindEscrowRelease,
		Entries: []Entry{
			{AccountID: clearing.ID, Direction: DirectionDebit, Amount: 10_000},
			{AccountID: seller.ID, Direction: DirectionCredit, Amount: 9_750},
			{AccountID: fees.ID, Direction: DirectionCredit, Amount: 250},
		},
	})
	if err != nil {
		t.Fatalf("split record failed: %v", err)
	}

	if res.Balances[clearing.ID] != 0 || res.Balances[seller.ID] != 9_750 || res.Balances[fees.ID] != 250 {
		t.Fatalf("unexpected balances: %+v", res.Balances)
	}
	if total := TotalBalance(l); total != 10_000 {
		t.Fatalf("ledger not balanced, total=%d", total)
	}
}

func TestInMemoryLedger_ConcurrentRecords(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	b := mustAccount(t, l, "GNF")
	SeedBalance(l, a.ID, 100_000)

	const workers = 10
	const amount = int64(500)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := RecordInput{
				Kind:       KindTransfer,
				ClientTxID: fmt.Sprintf("tx-%d", i),
				Entries:    transferEntries(a.ID, b.ID, amount),
			}
			if _, err := l.Record(ctx, input); err != nil {
				t.Errorf("record %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if total := TotalBalance(l); total != 100_000 {
		t.Fatalf("ledger not balanced after concurrency, total=%d", total)
	}
	bAfter, _ := l.Account(ctx, b.ID)
	if bAfter.Balance != workers*amount {
		t.Fatalf("expected credit balance %d, got %d", workers*amount, bAfter.Balance)
	}
}

func TestInMemoryLedger_TransactionByClientTx(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a := mustAccount(t, l, "GNF")
	b := mustAccount(t, l, "GNF")
	SeedBalance(l, a.ID, 10_000)

	if _, err := l.TransactionByClientTx(ctx, "tx-1", KindTransfer); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected transaction not found, got %v", err)
	}

	res, err := l.Record(ctx, RecordInput{
		Kind:       KindTransfer,
		ClientTxID: "tx-1",
		Entries:    transferEntries(a.ID, b.ID, 4_000),
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	tx, err := l.TransactionByClientTx(ctx, "tx-1", KindTransfer)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if tx.ID != res.ID || tx.ClientTxID != "tx-1" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if len(tx.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tx.Entries))
	}
	var debit, credit string
	for _, e := range tx.Entries {
		switch e.Direction {
		case DirectionDebit:
			debit = e.AccountID
		case DirectionCredit:
			credit = e.AccountID
		}
	}
	if debit != a.ID || credit != b.ID {
		t.Fatalf("entries not recovered: debit=%s credit=%s", debit, credit)
	}

	// Same client id under another kind is a distinct transaction space.
	if _, err := l.TransactionByClientTx(ctx, "tx-1", KindPaymentLink); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected transaction not found for other kind, got %v", err)
	}
}
