package paylink

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"

	"github.com/nimba-pay/nimba_pay/internal/ledger"
	"github.com/nimba-pay/nimba_pay/internal/transfer"
)

// ErrNotCreator occurs when someone other than the link creator tries to
// cancel it.
var ErrNotCreator = errors.New("not creator of payment link")

const (
	defaultTTL       = time.Hour
	maxTTL           = 7 * 24 * time.Hour
	defaultRetention = 30 * 24 * time.Hour

	payLockExpiry = 8 * time.Second
	payLockTries  = 16
)

// Config tunes link lifetimes and the shareable URL base.
type Config struct {
	BaseURL string
	// DefaultTTL applies when a create request carries no TTL.
	DefaultTTL time.Duration
	// MaxTTL caps requested TTLs.
	MaxTTL time.Duration
	// Retention bounds how long a stale active link survives before the
	// sweeper expires it.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = maxTTL
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Service manages the payment link lifecycle and resolves paid links into
// ledger settlements through the transfer engine.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
	engine *transfer.Engine
	locks  *redsync.Redsync
	logger *slog.Logger
	cfg    Config
}

// NewService constructs a payment link service. locks may be nil in tests;
// production wiring always provides one so concurrent pays against a link are
// serialized across instances.
func NewService(repo Repository, l ledger.Ledger, engine *transfer.Engine, locks *redsync.Redsync, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		repo:   repo,
		ledger: l,
		engine: engine,
		locks:  locks,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// CreateInput captures the data needed to issue a payment link.
type CreateInput struct {
	CreatorAccountID string
	Amount           int64
	Currency         string
	Description      string
	RecipientLabel   string
	TTL              time.Duration
}

// PayInput captures the data needed to redeem a payment link.
type PayInput struct {
	LinkCode       string
	PayerAccountID string
	// ClientTxID is optional; the link code itself already guards the
	// settlement against replays.
	ClientTxID string
}

// PayResult pairs the settled link with its ledger transaction.
type PayResult struct {
	Link        PaymentLink
	Transaction ledger.Transaction
}

// Create issues a time-boxed payment link for the creator account and returns
// the shareable reference (code, URL and QR payload).
func (s *Service) Create(ctx context.Context, input CreateInput) (ShareableLink, error) {
	if input.Amount <= 0 {
		return ShareableLink{}, transfer.ErrInvalidAmount
	}

	creator, err := s.ledger.Account(ctx, input.CreatorAccountID)
	if err != nil {
		return ShareableLink{}, err
	}
	if creator.Status != ledger.StatusActive {
		return ShareableLink{}, fmt.Errorf("account %s: %w", creator.ID, ledger.ErrAccountNotActive)
	}
	if input.Currency != "" && input.Currency != creator.Currency {
		return ShareableLink{}, transfer.ErrCurrencyMismatch
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}

	now := time.Now().UTC()
	link := PaymentLink{
		ID:               uuid.NewString(),
		LinkCode:         newLinkCode(),
		CreatorAccountID: creator.ID,
		Amount:           input.Amount,
		Currency:         creator.Currency,
		Description:      input.Description,
		RecipientLabel:   input.RecipientLabel,
		Status:           StatusActive,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
	}

	if err := s.repo.Create(ctx, link); err != nil {
		return ShareableLink{}, err
	}
	return s.share(link)
}

// Resolve reads a link by code. An active link past its deadline is lazily
// transitioned to expired and persisted before being returned; expiry is
// detected on access, not by the background sweep.
func (s *Service) Resolve(ctx context.Context, code string) (PaymentLink, error) {
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return PaymentLink{}, err
	}
	if link.Status == StatusActive && link.ExpiredAt(time.Now().UTC()) {
		expired, err := s.repo.MarkExpired(ctx, code)
		if errors.Is(err, ErrLinkNotActive) {
			// Lost the transition race; the stored state wins.
			return s.repo.GetByCode(ctx, code)
		}
		if err != nil {
			return PaymentLink{}, err
		}
		return expired, nil
	}
	return link, nil
}

// Share returns the shareable view of an existing link.
func (s *Service) Share(ctx context.Context, code string) (ShareableLink, error) {
	link, err := s.Resolve(ctx, code)
	if err != nil {
		return ShareableLink{}, err
	}
	return s.share(link)
}

// Pay redeems an active link: the payer account is debited, the creator
// credited, and the link marked used, recording the settlement transaction.
// Concurrent pays against the same code are serialized by a per-link lock;
// the link only mutates after the transfer commits, so a failed transfer
// leaves it active.
func (s *Service) Pay(ctx context.Context, input PayInput) (PayResult, error) {
	unlock, err := s.lockLink(ctx, input.LinkCode)
	if err != nil {
		return PayResult{}, err
	}
	defer unlock()

	// Re-resolve under the lock: the link may have expired since last read.
	link, err := s.Resolve(ctx, input.LinkCode)
	if err != nil {
		return PayResult{}, err
	}
	if link.Status != StatusActive {
		return PayResult{}, ErrLinkNotActive
	}
	if input.PayerAccountID == link.CreatorAccountID {
		return PayResult{}, transfer.ErrSameAccount
	}

	// The link code doubles as the settlement client id: a retry after an
	// unknown-outcome timeout replays the same ledger transaction instead
	// of settling twice.
	res, err := s.engine.Transfer(ctx, transfer.TransferInput{
		FromAccountID: input.PayerAccountID,
		ToAccountID:   link.CreatorAccountID,
		Amount:        link.Amount,
		Currency:      link.Currency,
		Kind:          ledger.KindPaymentLink,
		ClientTxID:    "paylink:" + link.LinkCode,
		Metadata:      "paylink:" + link.ID,
	})
	if err != nil {
		return PayResult{}, err
	}

	used, err := s.repo.MarkUsed(ctx, link.LinkCode, input.PayerAccountID, res.ID, time.Now().UTC())
	if errors.Is(err, ErrLinkNotActive) {
		// The transfer replayed an earlier settlement whose state write
		// already landed; return the stored terminal state.
		stored, getErr := s.repo.GetByCode(ctx, link.LinkCode)
		if getErr == nil && stored.Status == StatusUsed && stored.SettlementTransactionID == res.ID {
			return PayResult{Link: stored, Transaction: res}, nil
		}
		return PayResult{}, ErrLinkNotActive
	}
	if err != nil {
		return PayResult{}, err
	}
	return PayResult{Link: used, Transaction: res}, nil
}

// Cancel voids an active link. Only the creator may cancel.
func (s *Service) Cancel(ctx context.Context, code, ownerAccountID string) (PaymentLink, error) {
	unlock, err := s.lockLink(ctx, code)
	if err != nil {
		return PaymentLink{}, err
	}
	defer unlock()

	link, err := s.Resolve(ctx, code)
	if err != nil {
		return PaymentLink{}, err
	}
	if link.CreatorAccountID != ownerAccountID {
		return PaymentLink{}, ErrNotCreator
	}
	// A payment may have committed at the ledger without the link state
	// catching up. Repair to used instead of cancelling a paid link.
	prior, err := s.ledger.TransactionByClientTx(ctx, "paylink:"+link.LinkCode, ledger.KindPaymentLink)
	if err == nil {
		if _, markErr := s.repo.MarkUsed(ctx, link.LinkCode, debitAccount(prior.Entries), prior.ID, prior.CreatedAt); markErr != nil && !errors.Is(markErr, ErrLinkNotActive) {
			return PaymentLink{}, markErr
		}
		if s.logger != nil {
			s.logger.Warn("payment link repaired to committed payment",
				"link_code", link.LinkCode, "transaction_id", prior.ID)
		}
		return PaymentLink{}, ErrLinkNotActive
	}
	if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return PaymentLink{}, err
	}
	return s.repo.MarkCancelled(ctx, code)
}

// lockLink serializes state transitions for one link across processes. With no
// lock pool configured (dev mode) transitions rely on the repository's own
// conditional updates.
func (s *Service) lockLink(ctx context.Context, code string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	mu := s.locks.NewMutex("paylink:lock:"+code,
		redsync.WithExpiry(payLockExpiry), redsync.WithTries(payLockTries))
	if err := mu.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire link lock: %w", err)
	}
	return func() {
		if _, err := mu.UnlockContext(ctx); err != nil && s.logger != nil {
			s.logger.Warn("release link lock", "link_code", code, "error", err)
		}
	}, nil
}

// debitAccount returns the payer side of a payment transaction's entries.
func debitAccount(entries []ledger.EntryRecord) string {
	for _, e := range entries {
		if e.Direction == ledger.DirectionDebit {
			return e.AccountID
		}
	}
	return ""
}

// Sweep expires active links older than the retention window. It is a cleanup
// pass, not a correctness mechanism: Resolve already expires on read.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	return s.repo.ExpireStale(ctx, cutoff)
}

// RunSweeper runs Sweep on a fixed interval until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil && s.logger != nil {
				s.logger.Warn("payment link sweep", "error", err)
				continue
			}
			if n > 0 && s.logger != nil {
				s.logger.Info("payment link sweep", "expired", n)
			}
		}
	}
}

func (s *Service) share(link PaymentLink) (ShareableLink, error) {
	url := s.cfg.BaseURL + "/pay/" + link.LinkCode
	image, err := qrImage(link, url)
	if err != nil {
		return ShareableLink{}, err
	}
	return ShareableLink{PaymentLink: link, URL: url, QRImage: image}, nil
}

// newLinkCode returns a URL-safe random token for the public link code.
func newLinkCode() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
