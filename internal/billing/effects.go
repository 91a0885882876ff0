package billing

import "villagepay.org/internal/money"

// Effects are the wallet credits owed when a statement's settlement completes.
type Effects struct {
	// VillageCredit is the part of the total due that has not already reached the
	// village wallet through e-wallet payments.
	VillageCredit money.Money `json:"village_credit"`
	// OwnerCredit is the overpaid excess returned to the homeowner wallet. It is only
	// non-zero when an advance payment was completed against the statement.
	OwnerCredit money.Money `json:"owner_credit"`
}

// SettlementEffects computes the wallet credits for a statement whose settlement
// has just completed.
func SettlementEffects(st Statement, txs []Transaction) Effects {
	viaWallet := money.Zero
	advance := false
	for _, tx := range txs {
		if tx.StatementID != st.ID || tx.Status != TxCompleted {
			continue
		}
		if tx.Method == MethodEWallet {
			viaWallet = viaWallet.Add(tx.Amount)
		}
		if tx.Type == TypeAdvance {
			advance = true
		}
	}

	eff := Effects{
		VillageCredit: money.Max(st.TotalDue.Sub(viaWallet), money.Zero).Round(),
		OwnerCredit:   money.Zero,
	}
	if advance {
		eff.OwnerCredit = money.Max(st.TotalPaid.Sub(st.TotalDue), money.Zero).Round()
	}
	return eff
}
