package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"egc/internal/infrastructure"
	"egc/pkg/contracts/domain"
)

func calcCount(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "calc_computations_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestCalcService(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	metrics, err := infrastructure.CreateBusinessMetrics(provider.Meter("test"))
	require.NoError(t, err)
	svc := NewCalcService(metrics, quietLogger())

	in := svc.Defaults()
	in.Sale.ItemPrice = 50
	in.SellerFees.CategoryFinalValueFeePct = 0.1
	out := svc.Compute(context.Background(), in)
	assert.Equal(t, 50.0, out.Rollup.Gross)
	assert.Equal(t, 5.0, out.Fees.FinalValueFee)

	res := svc.ComputeSimple(context.Background(), domain.SimpleInputs{Price: 20, Quantity: 2, FinalValueFeeRate: 10})
	assert.Equal(t, 2, res.Qty)
	assert.Equal(t, 40.0, res.Gross)
	assert.Equal(t, 36.0, res.Net)

	assert.Equal(t, int64(2), calcCount(t, reader))
}
