package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema statements are idempotent so the bootstrap can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        id          TEXT PRIMARY KEY,
        owner_id    TEXT NOT NULL DEFAULT '',
        balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
        currency    TEXT NOT NULL,
        status      TEXT NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts (owner_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS transactions (
        id           TEXT PRIMARY KEY,
        client_tx_id TEXT,
        kind         TEXT NOT NULL,
        metadata     TEXT NOT NULL DEFAULT '',
        created_at   TIMESTAMPTZ NOT NULL
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_client_tx
        ON transactions (client_tx_id, kind) WHERE client_tx_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS entries (
        id             TEXT PRIMARY KEY,
        transaction_id TEXT NOT NULL REFERENCES transactions (id),
        account_id     TEXT NOT NULL REFERENCES accounts (id),
        direction      TEXT NOT NULL CHECK (direction IN ('debit', 'credit')),
        amount         BIGINT NOT NULL CHECK (amount > 0),
        kind           TEXT NOT NULL,
        metadata       TEXT NOT NULL DEFAULT '',
        created_at     TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_entries_account ON entries (account_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_transaction ON entries (transaction_id)`,

	`CREATE TABLE IF NOT EXISTS payment_links (
        id                        TEXT PRIMARY KEY,
        link_code                 TEXT NOT NULL UNIQUE,
        creator_account_id        TEXT NOT NULL REFERENCES accounts (id),
        amount                    BIGINT NOT NULL CHECK (amount > 0),
        currency                  TEXT NOT NULL,
        description               TEXT NOT NULL DEFAULT '',
        recipient_label           TEXT NOT NULL DEFAULT '',
        status                    TEXT NOT NULL,
        expires_at                TIMESTAMPTZ NOT NULL,
        created_at                TIMESTAMPTZ NOT NULL,
        paid_by_account_id        TEXT,
        paid_at                   TIMESTAMPTZ,
        settlement_transaction_id TEXT
    )`,
	`CREATE INDEX IF NOT EXISTS idx_payment_links_sweep ON payment_links (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS escrow_holds (
        id                        TEXT PRIMARY KEY,
        order_id                  TEXT NOT NULL UNIQUE,
        buyer_account_id          TEXT NOT NULL REFERENCES accounts (id),
        seller_account_id         TEXT NOT NULL REFERENCES accounts (id),
        amount                    BIGINT NOT NULL CHECK (amount > 0),
        currency                  TEXT NOT NULL,
        status                    TEXT NOT NULL,
        commission_rate           TEXT NOT NULL,
        dispute_reason            TEXT NOT NULL DEFAULT '',
        hold_transaction_id       TEXT NOT NULL,
        settlement_transaction_id TEXT,
        created_at                TIMESTAMPTZ NOT NULL,
        resolved_at               TIMESTAMPTZ
    )`,
}

// BootstrapSchema creates the ledger tables when they do not exist yet.
func BootstrapSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
