package billing

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villagepay.org/internal/apperr"
)

func TestParsePeriodForms(t *testing.T) {
	for in, key := range map[string]string{
		"January 2024":  "2024-01",
		"december 2023": "2023-12",
		"  MAY 2025 ":   "2025-05",
		"2024-11":       "2024-11",
	} {
		p, err := ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, key, p.Key(), in)
	}

	p, err := ParsePeriod("march 2025")
	require.NoError(t, err)
	assert.Equal(t, "March 2025", p.Label())
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), p.Date())

	for _, bad := range []string{"", "Smarch 2025", "March", "March twenty", "2025/03"} {
		_, err := ParsePeriod(bad)
		assert.True(t, errors.Is(err, apperr.ErrValidation), bad)
	}
}

func TestPeriodOrderingUsesKey(t *testing.T) {
	var periods []Period
	for _, s := range []string{"February 2024", "December 2023", "January 2024", "October 2024"} {
		p, err := ParsePeriod(s)
		require.NoError(t, err)
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	var keys []string
	for _, p := range periods {
		keys = append(keys, p.Key())
	}
	assert.Equal(t, []string{"2023-12", "2024-01", "2024-02", "2024-10"}, keys)
}

func TestPeriodJSONRoundTrip(t *testing.T) {
	type doc struct {
		Period Period `json:"period"`
	}
	p, err := ParsePeriod("April 2025")
	require.NoError(t, err)

	data, err := json.Marshal(doc{Period: p})
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":{"key":"2025-04","label":"April 2025"}}`, string(data))

	var back doc
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back.Period)

	require.NoError(t, json.Unmarshal([]byte(`{"period":"december 2024"}`), &back))
	assert.Equal(t, "2024-12", back.Period.Key())

	err = json.Unmarshal([]byte(`{"period":{"key":"someday"}}`), &back)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	err = json.Unmarshal([]byte(`{"period":42}`), &back)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestNewStatementComputesTotalDue(t *testing.T) {
	st, err := NewStatement(NewStatementParams{
		PropertyID:   "prop-9",
		OwnerID:      "owner-9",
		IssuedBy:     "officer-1",
		IssuerRole:   "officer",
		Period:       "April 2025",
		Charges:      Breakdown{Water: m("120.555"), HOA: m("300"), Garbage: m("45")},
		OtherCharges: []OtherCharge{{Name: "Clubhouse", Amount: m("10.10")}},
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "475.66", st.TotalDue.String())
	assert.Equal(t, "120.56", st.Charges.Water.String())
	assert.Equal(t, PaymentPending, st.PaymentStatus)
	assert.Equal(t, SettlementPending, st.SettlementStatus)
	assert.True(t, st.TotalPaid.IsZero())
	assert.Equal(t, int64(1), st.Version)
	assert.False(t, st.Archived())
}

func TestNewStatementValidation(t *testing.T) {
	base := NewStatementParams{
		PropertyID: "p",
		OwnerID:    "o",
		Period:     "April 2025",
		Charges:    Breakdown{Water: m("1"), HOA: m("1"), Garbage: m("1")},
	}

	cases := map[string]func(p *NewStatementParams){
		"missing property": func(p *NewStatementParams) { p.PropertyID = " " },
		"missing owner":    func(p *NewStatementParams) { p.OwnerID = "" },
		"bad period":       func(p *NewStatementParams) { p.Period = "someday" },
		"negative charge":  func(p *NewStatementParams) { p.Charges.HOA = m("-1") },
		"unnamed other":    func(p *NewStatementParams) { p.OtherCharges = []OtherCharge{{Amount: m("1")}} },
		"negative other":   func(p *NewStatementParams) { p.OtherCharges = []OtherCharge{{Name: "x", Amount: m("-1")}} },
	}
	for name, mutate := range cases {
		p := base
		mutate(&p)
		_, err := NewStatement(p, time.Now())
		assert.True(t, errors.Is(err, apperr.ErrValidation), name)
	}
}

func TestTransactionTransitions(t *testing.T) {
	tx := Transaction{ID: "t1", Status: TxPending}

	done, err := tx.Transition(TxCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, done.Status)

	_, err = done.Transition(TxRejected, "late")
	assert.True(t, errors.Is(err, apperr.ErrValidation), "completed is final")

	_, err = tx.Transition(TxRejected, " ")
	assert.True(t, errors.Is(err, apperr.ErrValidation), "reason required")

	rejected, err := tx.Transition(TxRejected, "receipt unreadable")
	require.NoError(t, err)
	assert.Equal(t, "receipt unreadable", rejected.Reason)

	_, err = tx.Transition(TxPending, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestParsers(t *testing.T) {
	_, err := ParsePurpose("water bill")
	assert.True(t, errors.Is(err, apperr.ErrValidation), "purposes are exact labels")

	typ, err := ParseTransactionType("Advanced Payment")
	require.NoError(t, err)
	assert.Equal(t, TypeAdvance, typ)

	_, err = ParseMethod("Barter")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	st, err := ParseTransactionStatus("Completed")
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, st)
}
