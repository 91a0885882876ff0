package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/audit"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
	"villagepay.org/internal/obs"
	"villagepay.org/internal/stream"
)

// CreateWallet opens the homeowner wallet of ownerID. An owner has at most one wallet.
func (e *Engine) CreateWallet(ctx context.Context, ownerID string, advance billing.Breakdown, actor string) (ledger.Wallet, error) {
	w, err := ledger.NewHomeownerWallet(ownerID, advance, e.clock())
	if err != nil {
		return ledger.Wallet{}, err
	}
	err = e.run(ctx, "create_wallet", []string{OwnerKey(w.OwnerID)}, func(tx Tx) error {
		_, err := tx.WalletByOwner(ctx, w.OwnerID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: owner %s already has a wallet", apperr.ErrValidation, w.OwnerID)
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}
		return tx.InsertWallet(ctx, w)
	})
	if err != nil {
		return ledger.Wallet{}, err
	}
	audit.Record(ctx, audit.WalletCreated, map[string]any{"wallet_id": w.ID, "owner_id": w.OwnerID, "actor": actor})
	return w, nil
}

// Wallet returns the homeowner wallet of ownerID.
func (e *Engine) Wallet(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	w, err := e.store.WalletByOwner(ctx, strings.TrimSpace(ownerID))
	return w, classify("get_wallet", err)
}

// VillageWallet returns the village wallet singleton.
func (e *Engine) VillageWallet(ctx context.Context) (ledger.Wallet, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	w, err := e.store.GetWallet(ctx, e.villageID)
	return w, classify("get_village_wallet", err)
}

// EnsureVillageWallet creates the village wallet if it does not exist yet.
func (e *Engine) EnsureVillageWallet(ctx context.Context) (ledger.Wallet, error) {
	var (
		out     ledger.Wallet
		created bool
	)
	err := e.run(ctx, "ensure_village_wallet", []string{WalletKey(e.villageID)}, func(tx Tx) error {
		w, err := tx.Wallet(ctx, e.villageID)
		if err == nil {
			if w.Kind != ledger.KindVillage {
				return fmt.Errorf("%w: wallet %s exists but is not the village wallet", apperr.ErrInternal, e.villageID)
			}
			out, created = w, false
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		w = ledger.NewVillageWallet(e.villageID, e.clock())
		if err := tx.InsertWallet(ctx, w); err != nil {
			return err
		}
		out, created = w, true
		return nil
	})
	if err != nil {
		return ledger.Wallet{}, err
	}
	if created {
		audit.Record(ctx, audit.VillageWalletEnsured, map[string]any{"wallet_id": out.ID})
	}
	return out, nil
}

// WalletEntries returns a wallet's ledger history, oldest first.
func (e *Engine) WalletEntries(ctx context.Context, walletID string) ([]ledger.Entry, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	entries, err := e.store.ListEntries(ctx, walletID)
	return entries, classify("wallet_entries", err)
}

// Deposit credits a wallet.
func (e *Engine) Deposit(ctx context.Context, walletID string, op ledger.Op) (ledger.Wallet, ledger.Entry, error) {
	return e.walletOp(ctx, "deposit", walletID, op, ledger.Deposit)
}

// Spend debits a wallet. The balance check and the debit happen in one unit of work.
func (e *Engine) Spend(ctx context.Context, walletID string, op ledger.Op) (ledger.Wallet, ledger.Entry, error) {
	return e.walletOp(ctx, "spend", walletID, op, ledger.Spend)
}

type walletFn func(ledger.Wallet, ledger.Op, time.Time) (ledger.Wallet, ledger.Entry, error)

func (e *Engine) walletOp(ctx context.Context, name, walletID string, op ledger.Op, apply walletFn) (ledger.Wallet, ledger.Entry, error) {
	walletID = strings.TrimSpace(walletID)
	lookupCtx, cancel := e.withTimeout(ctx)
	current, err := e.store.GetWallet(lookupCtx, walletID)
	cancel()
	if err != nil {
		err = classify(name, err)
		obs.RecordWalletOp("unknown", name, apperr.Kind(err))
		return ledger.Wallet{}, ledger.Entry{}, err
	}
	key := WalletKey(current.ID)
	if current.Kind == ledger.KindHomeowner {
		key = OwnerKey(current.OwnerID)
	}

	var (
		w  ledger.Wallet
		en ledger.Entry
	)
	err = e.run(ctx, "wallet_"+name, []string{key}, func(tx Tx) error {
		cur, err := tx.Wallet(ctx, walletID)
		if err != nil {
			return err
		}
		next, entry, err := apply(cur, op, e.clock())
		if err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, next); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		w, en = next, entry
		return nil
	})
	obs.RecordWalletOp(string(current.Kind), name, apperr.Kind(err))
	if err != nil {
		return ledger.Wallet{}, ledger.Entry{}, err
	}

	event := audit.WalletDeposit
	if name == "spend" {
		event = audit.WalletSpend
	}
	audit.Record(ctx, event, map[string]any{
		"wallet_id":   w.ID,
		"entry_id":    en.ID,
		"amount":      en.Amount.String(),
		"balance":     w.Balance.String(),
		"description": en.Description,
		"actor":       en.Actor,
	})
	e.publishEntry(en)
	return w, en, nil
}

func (e *Engine) publishEntry(en ledger.Entry) {
	e.pub.Publish(stream.Event{
		Type:      stream.WalletChanged,
		WalletID:  en.WalletID,
		Balance:   en.Balance.String(),
		Timestamp: en.CreatedAt,
	})
}
