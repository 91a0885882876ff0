package export

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/money"
)

func sample(t *testing.T) (billing.Statement, []billing.Transaction) {
	t.Helper()
	st, err := billing.NewStatement(billing.NewStatementParams{
		PropertyID: "p1",
		OwnerID:    "owner-1",
		Period:     "March 2025",
		Charges: billing.Breakdown{
			Water:   money.MustParse("500"),
			HOA:     money.MustParse("300"),
			Garbage: money.MustParse("100"),
		},
		OtherCharges: []billing.OtherCharge{{Name: "Streetlights", Amount: money.MustParse("25.50")}},
	}, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	st.ID = "stm_1"
	txs := []billing.Transaction{{
		ID:          "txn_1",
		StatementID: st.ID,
		Type:        billing.TypeRegular,
		Purpose:     billing.PurposeAll,
		Method:      billing.MethodCash,
		Amount:      money.MustParse("450"),
		Status:      billing.TxPending,
		CreatedAt:   time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	}}
	return st, txs
}

func TestXLSXContainsSummaryAndTransactions(t *testing.T) {
	st, txs := sample(t)
	data, err := Render(FormatXLSX, st, txs)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	period, err := f.GetCellValue("summary", "B6")
	require.NoError(t, err)
	assert.Equal(t, "March 2025", period)

	rows, err := f.GetRows("summary")
	require.NoError(t, err)
	found := false
	for _, row := range rows {
		if len(row) == 2 && row[0] == "Total Due" {
			found = true
			assert.Equal(t, "925.50", row[1])
		}
	}
	assert.True(t, found, "total due row missing")

	amount, err := f.GetCellValue("transactions", "F2")
	require.NoError(t, err)
	assert.Equal(t, "450.00", amount)
}

func TestPDFRenders(t *testing.T) {
	st, txs := sample(t)
	data, err := Render(FormatPDF, st, txs)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("csv")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	st, _ := sample(t)
	assert.Equal(t, "statement-p1-2025-03.xlsx", FormatXLSX.Filename(st))
}
