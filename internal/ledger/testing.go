package ledger

// SeedBalance is a test helper that seeds the balance for an account when using
// the in-memory ledger.
func SeedBalance(l Ledger, accountID string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if acct, exists := mem.accounts[accountID]; exists {
			acct.Balance = amount
		}
	}
}

// TotalBalance is a test helper that sums all balances held by the in-memory
// ledger, used to assert conservation across postings.
func TotalBalance(l Ledger) int64 {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return 0
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	var total int64
	for _, acct := range mem.accounts {
		total += acct.Balance
	}
	return total
}
