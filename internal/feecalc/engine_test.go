package feecalc

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"egc/pkg/contracts/domain"
)

func scenario() domain.SimpleInputs {
	return domain.SimpleInputs{
		Price:                 20,
		Quantity:              1,
		COGS:                  5,
		YourShippingCost:      4.5,
		PackagingCostPerOrder: 0.25,
		FinalValueFeeRate:     13.25,
		PaymentProcessingRate: 2.9,
		PaymentFixedFee:       0.30,
	}
}

func TestComputeSimple_Scenario(t *testing.T) {
	res := ComputeSimple(scenario())

	assert.Equal(t, 1, res.Qty)
	assert.Equal(t, 20.0, res.Gross)
	assert.Equal(t, 2.65, res.FinalValueFee)
	assert.Equal(t, 0.88, res.ProcessingFee)
	assert.Equal(t, 5.0, res.TotalCOGS)
	assert.Equal(t, 4.5, res.TotalShipCost)
	assert.Equal(t, 0.25, res.PerOrderFixed)
	assert.Equal(t, 0.0, res.ShippingRevenue)
	assert.Equal(t, 6.72, res.Net)
	assert.Equal(t, 33.6, res.MarginPct)
}

func TestComputeSimple_BuyerPaysShippingAndOverride(t *testing.T) {
	s := scenario()
	s.BuyerPaysShipping = true
	s.ShippingChargeToBuyer = 4
	s.HandlingFeeToBuyer = 1
	s.CategoryFeeOverrideRate = 10

	res := ComputeSimple(s)

	assert.Equal(t, 5.0, res.ShippingRevenue)
	assert.Equal(t, 25.0, res.Gross)
	assert.Equal(t, 2.5, res.FinalValueFee, "override replaces the base rate")
}

func TestComputeSimple_ExpectedLosses(t *testing.T) {
	s := scenario()
	s.Quantity = 2
	s.ReturnRatePercent = 10
	s.AvgRefundPercent = 50
	s.RestockingFeePercent = 10
	s.LabelCostOnReturns = 6
	s.DisputeRatePercent = 1
	s.AvgDisputeLoss = 30

	res := ComputeSimple(s)

	assert.Equal(t, 2, res.Qty)
	assert.Equal(t, 40.0, res.ItemSubtotal)
	assert.Equal(t, 10.0, res.TotalCOGS)
	// 0.1*0.5*40 + 0.1*6 - 0.1*0.1*40
	assert.Equal(t, 2.2, res.ExpectedReturnLoss)
	assert.Equal(t, 0.3, res.ExpectedDisputeLoss)
}

func TestComputeSimple_PromoFee(t *testing.T) {
	s := scenario()
	s.PromotedListingsRate = 5
	s.PromoShare = 50

	res := ComputeSimple(s)
	assert.Equal(t, 0.5, res.PromoFee)
	assert.Equal(t, 6.22, res.Net)
}

func TestCompute_AllZero(t *testing.T) {
	out := Compute(domain.InputBuckets{})

	assert.Equal(t, domain.FeeBreakdown{}, out.Fees)
	assert.Equal(t, 0.0, out.Rollup.Gross)
	assert.Equal(t, 0.0, out.Rollup.Net)
	assert.Equal(t, 0.0, out.Rollup.MarginPct)
	assert.Equal(t, domain.ConfidenceLow, out.Rollup.Confidence)
}

func TestCompute_NonFiniteInputsAreZero(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 10
	in.Sale.Tip = math.NaN()
	in.Shipping.Insurance = math.Inf(1)

	out := Compute(in)
	assert.Equal(t, 10.0, out.Rollup.Gross)
	assert.Equal(t, 0.0, out.Rollup.ShippingCostTotal)
	assert.False(t, math.IsNaN(out.Rollup.Net))
}

func TestCompute_QuantityFloor(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 10
	for _, q := range []float64{0, -3, 0.7} {
		in.Sale.Quantity = q
		assert.Equal(t, 10.0, Compute(in).Rollup.Gross, "quantity %v", q)
	}
	in.Sale.Quantity = 2.9
	assert.Equal(t, 20.0, Compute(in).Rollup.Gross)
}

func TestCompute_FinalValueFeeMonotonic(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 100
	in.COGS.ItemAcquisitionCost = 40

	prevFee, prevNet := -1.0, math.Inf(1)
	for _, pct := range []float64{0, 0.05, 0.1, 0.1325, 0.2} {
		in.SellerFees.CategoryFinalValueFeePct = pct
		out := Compute(in)
		assert.GreaterOrEqual(t, out.Fees.FinalValueFee, prevFee)
		assert.LessOrEqual(t, out.Rollup.Net, prevNet)
		prevFee, prevNet = out.Fees.FinalValueFee, out.Rollup.Net
	}
}

func TestCompute_FeeCapAndTopRated(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 10000
	in.SellerFees.CategoryFinalValueFeePct = 0.1

	in.SellerFees.FeeCapAmount = 750
	assert.Equal(t, 750.0, Compute(in).Fees.FinalValueFee)

	in.SellerFees.FeeCapAmount = 0
	in.SellerFees.TopRatedSellerDiscountPct = 0.1
	assert.Equal(t, 900.0, Compute(in).Fees.FinalValueFee)

	in.SellerFees.TopRatedPlusDiscountPct = 1
	assert.Equal(t, 0.0, Compute(in).Fees.FinalValueFee, "never negative")
}

func TestCompute_FeeCapHoldsAfterRounding(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 100
	in.SellerFees.CategoryFinalValueFeePct = 0.1

	for _, limit := range []float64{1.005, 0.333, 2.999, 0.29, 7.5, 9.995} {
		in.SellerFees.FeeCapAmount = limit
		out := Compute(in)
		assert.LessOrEqual(t, out.Fees.FinalValueFee, limit, "cap %v", limit)
		assert.InDelta(t, limit, out.Fees.FinalValueFee, 0.01, "cap %v", limit)
	}

	in.SellerFees.FeeCapAmount = 1.005
	assert.Equal(t, 1.0, Compute(in).Fees.FinalValueFee)
}

func TestComputeSimple_ReturnsUseGrossWithShipping(t *testing.T) {
	s := domain.SimpleInputs{
		Price:                 20,
		Quantity:              1,
		BuyerPaysShipping:     true,
		ShippingChargeToBuyer: 10,
		ReturnRatePercent:     10,
		AvgRefundPercent:      100,
	}
	assert.Equal(t, 3.0, ComputeSimple(s).ExpectedReturnLoss)
}

func TestComputeSimple_RatesClamped(t *testing.T) {
	s := domain.SimpleInputs{
		Price:              20,
		Quantity:           1,
		ReturnRatePercent:  150,
		AvgRefundPercent:   100,
		DisputeRatePercent: 250,
		AvgDisputeLoss:     4,
	}
	res := ComputeSimple(s)
	assert.Equal(t, 20.0, res.ExpectedReturnLoss)
	assert.Equal(t, 4.0, res.ExpectedDisputeLoss)
}

func TestComputeSimple_DisputeLossCountsAsFee(t *testing.T) {
	s := domain.SimpleInputs{
		Price:              20,
		Quantity:           1,
		DisputeRatePercent: 10,
		AvgDisputeLoss:     10,
	}
	res := ComputeSimple(s)

	assert.Equal(t, 1.0, res.ExpectedDisputeLoss)
	assert.Equal(t, 1.0, res.Fees)
	assert.Equal(t, 0.0, res.ProcessingFee)
	assert.Equal(t, 19.0, res.Net)
}

func TestCompute_DiscountsReduceBase(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 50
	in.Sale.SellerCouponDiscount = 5
	in.Sale.OrderLevelDiscount = 5
	in.SellerFees.CategoryFinalValueFeePct = 0.1

	out := Compute(in)
	assert.Equal(t, 10.0, out.Rollup.DiscountsTotal)
	assert.Equal(t, 40.0, out.Rollup.NetOfDiscounts)
	assert.Equal(t, 4.0, out.Fees.FinalValueFee)
	assert.Equal(t, 36.0, out.Rollup.Net)
}

func TestCompute_TaxHandling(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 100
	in.Taxes.BuyerTaxCollected = 8
	in.Payments.ProcessorPct = 0.03

	out := Compute(in)
	assert.Equal(t, 100.0, out.Rollup.Gross, "pass-through tax stays out of revenue")
	assert.Equal(t, 3.0, out.Fees.PaymentProcessing)

	in.Taxes.TaxIncludedInProcessorBase = true
	assert.Equal(t, 3.24, Compute(in).Fees.PaymentProcessing)

	in.Taxes.IsBuyerTaxPassThrough = false
	out = Compute(in)
	assert.Equal(t, 108.0, out.Rollup.Gross)
	assert.Equal(t, 3.24, out.Fees.PaymentProcessing)
}

func TestCompute_TotalsAndNet(t *testing.T) {
	in := DefaultInputs()
	in.Sale.ItemPrice = 100
	in.SellerFees.PerOrderFixedFee = 0.4
	in.SellerFees.ListingUpgradesTotal = 1
	in.Taxes.VATOnSellerFees = 0.6
	in.CrossBorder.InternationalTxnFee = 1.65
	in.CrossBorder.CurrencyConversionPct = 0.03
	in.Refunds.FullRefundAmount = 10
	in.Refunds.FeeCredits = 2
	in.Adjustments.GoodwillCredits = 3
	in.Adjustments.AppealReversals = 1
	in.IntlPrograms.EbayInternationalShippingWithheld = 12
	in.StoreOverhead.StoreSubscriptionMonthlyFee = 21.95
	in.StoreOverhead.QuarterlyCredits = 5

	out := Compute(in)
	assert.Equal(t, 4.65, out.Fees.CrossBorderFees)
	assert.Equal(t, 6.65, out.Rollup.FeesTotal)
	assert.Equal(t, 8.0, out.Rollup.RefundsTotal)
	assert.Equal(t, 2.0, out.Rollup.AdjustmentsTotal)
	assert.Equal(t, 12.0, out.Rollup.IntlProgramsTotal)
	assert.Equal(t, 16.95, out.Rollup.OverheadTotal)
	// intl programs are reported only
	assert.Equal(t, 66.4, out.Rollup.Net)
}

func TestCompute_Confidence(t *testing.T) {
	full := SimpleBuckets(scenario())
	assert.Equal(t, domain.ConfidenceHigh, Compute(full).Rollup.Confidence)

	partial := full
	partial.COGS = domain.CostOfGoods{}
	partial.Payments = domain.PaymentProcessing{}
	assert.Equal(t, domain.ConfidenceMedium, Compute(partial).Rollup.Confidence)

	sparse := DefaultInputs()
	sparse.Sale.ItemPrice = 10
	sparse.Sale.ShippingChargedToBuyer = 5
	assert.Equal(t, domain.ConfidenceLow, Compute(sparse).Rollup.Confidence)

	noRevenue := full
	noRevenue.Sale.ItemPrice = 0
	assert.Equal(t, domain.ConfidenceLow, Compute(noRevenue).Rollup.Confidence)
}

func TestCompute_TimingAndGoals(t *testing.T) {
	in := SimpleBuckets(scenario())
	in.PayoutTiming.FundsPending = 100
	in.PayoutTiming.FundsInTransit = 50
	in.Payments.PayoutHoldReserve = 25
	in.Goals.WeeklyNetTarget = 100
	in.Goals.MonthlyNetTarget = 1000

	out := Compute(in)
	assert.Equal(t, 175.0, out.Rollup.CashInFlight)
	assert.Equal(t, 6.72, out.Rollup.Net, "timing never changes net")
	assert.Equal(t, 15.0, out.Rollup.OrdersForWeeklyTarget)
	assert.Equal(t, 149.0, out.Rollup.OrdersForMonthlyTarget)

	in.COGS.ItemAcquisitionCost = 100
	out = Compute(in)
	assert.Equal(t, 0.0, out.Rollup.OrdersForWeeklyTarget)
}

func TestCompute_ConcurrentCallsAgree(t *testing.T) {
	in := SimpleBuckets(scenario())
	want := Compute(in)

	var wg sync.WaitGroup
	results := make([]domain.CalcOutput, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Compute(in)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, want, got)
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.01, Round2(1.005))
	assert.Equal(t, -1.5, Round2(-1.5))
	assert.Equal(t, 0.0, Round2(0))
}

func TestASPAndSTR(t *testing.T) {
	assert.Equal(t, 12.5, ASP(100, 8))
	assert.Equal(t, 0.0, ASP(100, 0))
	assert.Equal(t, 40.0, STR(4, 10))
	assert.Equal(t, 0.0, STR(4, 0))
}

func TestDefaultInputs(t *testing.T) {
	in := DefaultInputs()
	assert.Equal(t, 1.0, in.Sale.Quantity)
	assert.True(t, in.Taxes.IsBuyerTaxPassThrough)
	assert.Equal(t, 7.0, in.PayoutTiming.PayoutScheduleDays)
	assert.Equal(t, 30.0, in.Goals.RollingBaselineDays)
}
