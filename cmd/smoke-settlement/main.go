// Command smoke-settlement drives one statement through payment, review and
// settlement and checks that wallet balances still match their ledgers.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
	"villagepay.org/internal/money"
	"villagepay.org/internal/settlement"
	"villagepay.org/internal/store/pg"
)

func main() {
	var store settlement.Store = settlement.NewInMemory()
	if dsn := os.Getenv("VILLAGEPAY_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine := settlement.New(store, settlement.Options{})
	village, err := engine.EnsureVillageWallet(ctx)
	if err != nil {
		log.Fatalf("ensure village wallet: %v", err)
	}
	startBalance := village.Balance

	suffix := time.Now().UTC().Format("20060102150405.000000")
	owner := "smoke-owner-" + suffix
	wallet, err := engine.CreateWallet(ctx, owner, billing.Breakdown{}, "smoke")
	if err != nil {
		log.Fatalf("create wallet: %v", err)
	}
	if _, _, err := engine.Deposit(ctx, wallet.ID, ledger.Op{
		Amount:      money.MustParse("1000.00"),
		Description: "smoke top-up",
		Actor:       "smoke",
	}); err != nil {
		log.Fatalf("deposit: %v", err)
	}

	st, err := engine.CreateStatement(ctx, billing.NewStatementParams{
		PropertyID: "smoke-lot-" + suffix,
		OwnerID:    owner,
		IssuedBy:   "smoke",
		IssuerRole: "officer",
		Period:     time.Now().UTC().Format("2006-01"),
		Charges: billing.Breakdown{
			Water:   money.MustParse("420.00"),
			HOA:     money.MustParse("250.00"),
			Garbage: money.MustParse("80.00"),
		},
	})
	if err != nil {
		log.Fatalf("create statement: %v", err)
	}

	res, err := engine.RecordPayment(ctx, settlement.PaymentRequest{
		StatementID: st.ID,
		Type:        billing.TypeRegular,
		Purpose:     billing.PurposeAll,
		Method:      billing.MethodEWallet,
		Amount:      st.TotalDue,
		InitiatedBy: owner,
	})
	if err != nil {
		log.Fatalf("record payment: %v", err)
	}
	if res.Statement.SettlementStatus != billing.SettlementCompleted {
		log.Fatalf("expected completed settlement, got %s/%s", res.Statement.PaymentStatus, res.Statement.SettlementStatus)
	}

	for _, id := range []string{wallet.ID, engine.VillageWalletID()} {
		if err := verify(ctx, engine, id); err != nil {
			log.Fatalf("ledger check: %v", err)
		}
	}
	village, err = engine.VillageWallet(ctx)
	if err != nil {
		log.Fatalf("village wallet: %v", err)
	}
	if got := village.Balance.Sub(startBalance); !got.GreaterOrEqual(st.TotalDue) {
		log.Fatalf("village wallet grew by %s, want at least %s", got, st.TotalDue)
	}

	fmt.Printf("settlement smoke test passed: statement=%s wallet=%s\n", st.ID, wallet.ID)
}

func verify(ctx context.Context, engine *settlement.Engine, walletID string) error {
	w, err := engine.Store().GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	entries, err := engine.WalletEntries(ctx, walletID)
	if err != nil {
		return err
	}
	return ledger.Verify(w, entries)
}
