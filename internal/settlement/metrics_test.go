package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/obs"
)

func TestRejectedPaymentsUseFixedMetricLabels(t *testing.T) {
	obs.Init()
	e, _, _ := newEngine(t)
	st := issue(t, e, "p1", "March 2025")

	for i := 0; i < 5; i++ {
		req := pay(st, billing.Purpose(fmt.Sprintf("client-purpose-%d", i)), billing.Method("client-method"), "10")
		req.Type = billing.TransactionType("client-type")
		_, err := e.RecordPayment(context.Background(), req)
		require.True(t, errors.Is(err, apperr.ErrValidation))
	}

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var invalid float64
	for _, fam := range families {
		if fam.GetName() != "villagepay_payments_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				assert.False(t, strings.HasPrefix(lp.GetValue(), "client-"), "label %s=%s", lp.GetName(), lp.GetValue())
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["purpose"] == obs.LabelInvalid && labels["method"] == obs.LabelInvalid {
				invalid += metric.GetCounter().GetValue()
			}
		}
	}
	assert.GreaterOrEqual(t, invalid, float64(5))
}
