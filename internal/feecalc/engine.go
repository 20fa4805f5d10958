// Package feecalc computes marketplace fees, costs and net profit for one
// order or scenario. All functions are pure and safe for concurrent use.
//
// Percentages inside domain.InputBuckets are decimal fractions (0.1325 for
// 13.25%). SimpleInputs uses whole percentages and converts them when it
// builds buckets.
package feecalc

import (
	"math"

	"egc/pkg/contracts/domain"
)

const epsilon = 2.220446049250313e-16

// Round2 rounds half away from zero to cents, nudged by machine epsilon so
// values such as 1.005 land on the expected side.
func Round2(x float64) float64 {
	return math.Round((x+epsilon)*100) / 100
}

// capCents is the largest cent amount not above limit, so a capped fee
// stays within the cap once rounded.
func capCents(limit float64) float64 {
	if c := Round2(limit); c <= limit {
		return c
	}
	return math.Floor(limit*100) / 100
}

// num maps NaN and infinities to 0.
func num(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// totals holds the unrounded intermediate values of one computation.
type totals struct {
	qty            float64
	itemRevenue    float64
	discounts      float64
	gross          float64
	netOfDiscounts float64

	fees domain.FeeBreakdown

	feesTotal    float64
	shippingCost float64
	cogs         float64
	refunds      float64
	adjustments  float64
	intlPrograms float64
	overhead     float64
	net          float64
	marginPct    float64
}

// Compute runs the full fee and profit model.
func Compute(in domain.InputBuckets) domain.CalcOutput {
	t := compute(in)
	return domain.CalcOutput{
		Fees:   roundFees(t.fees),
		Rollup: rollupOf(in, t),
	}
}

func compute(in domain.InputBuckets) totals {
	var t totals
	s := in.Sale

	t.qty = quantity(s.Quantity)
	t.itemRevenue = num(s.ItemPrice) * t.qty

	t.discounts = num(s.SellerCouponDiscount) + num(s.OrderLevelDiscount) +
		num(s.CombinedOrderDiscount) + num(s.GiftCardOrStoreCreditApplied)

	var taxInRevenue float64
	if !in.Taxes.IsBuyerTaxPassThrough {
		taxInRevenue = num(in.Taxes.BuyerTaxCollected)
	}

	t.gross = t.itemRevenue + num(s.ShippingChargedToBuyer) + num(s.Tip) + taxInRevenue
	t.netOfDiscounts = t.gross - t.discounts
	base := t.netOfDiscounts

	sf := in.SellerFees
	fvf := base * num(sf.CategoryFinalValueFeePct)
	fvf *= 1 - num(sf.TopRatedSellerDiscountPct) - num(sf.TopRatedPlusDiscountPct)
	if fvfCap := num(sf.FeeCapAmount); fvfCap > 0 && fvf > fvfCap {
		fvf = capCents(fvfCap)
	}
	t.fees.FinalValueFee = math.Max(0, fvf)
	t.fees.PerOrderFixedFee = num(sf.PerOrderFixedFee)

	t.fees.Surcharges = base * (num(sf.BelowStandardSurchargePct) + num(sf.VeryHighINADSurchargePct))

	ads := in.Ads
	t.fees.AdFeesStandard = base * num(ads.PromotedStandardPct) * num(ads.PromotedStandardSharePct)
	t.fees.AdFeesAdvanced = num(ads.PromotedAdvancedSpend)*num(ads.PromotedAdvancedSharePct) + num(ads.OffEbayAdsAttribution)

	processorBase := base
	if in.Taxes.IsBuyerTaxPassThrough && in.Taxes.TaxIncludedInProcessorBase {
		processorBase += num(in.Taxes.BuyerTaxCollected)
	}
	p := in.Payments
	t.fees.PaymentProcessing = processorBase*num(p.ProcessorPct) + num(p.ProcessorFixed) + num(p.DisputeOrChargebackFee)

	x := in.CrossBorder
	t.fees.CrossBorderFees = num(x.InternationalTxnFee) + base*num(x.CurrencyConversionPct) + num(x.CrossBorderHandling)

	t.fees.VATOnFees = num(in.Taxes.VATOnSellerFees)
	t.fees.ListingUpgrades = num(sf.ListingUpgradesTotal)
	t.fees.InsertionFee = num(sf.InsertionFeeAfterFree)
	t.fees.VehicleOrClassifiedFee = num(sf.VehicleOrClassifiedFee)

	f := t.fees
	t.feesTotal = f.FinalValueFee + f.PerOrderFixedFee + f.Surcharges +
		f.AdFeesStandard + f.AdFeesAdvanced + f.PaymentProcessing + f.CrossBorderFees +
		f.VATOnFees + f.ListingUpgrades + f.InsertionFee + f.VehicleOrClassifiedFee

	sh := in.Shipping
	t.shippingCost = num(sh.PostageLabelCost) + num(sh.LabelSurcharges) + num(sh.Insurance) +
		num(sh.SignatureOrConfirmation) + num(sh.PackagingMaterials) +
		num(sh.ReturnShippingPaidBySeller) + num(sh.OffEbayLabelCost)

	c := in.COGS
	t.cogs = num(c.ItemAcquisitionCost) + num(c.PrepOrRefurbCost) + num(c.InboundFreightToYou) +
		num(c.PerUnitOverheadAllocation)*t.qty

	r := in.Refunds
	t.refunds = num(r.FullRefundAmount) + num(r.PartialRefundAmount) + num(r.ReturnLabelCost) +
		num(r.NonRefundableFees) - num(r.RestockingDeduction) - num(r.FeeCredits)

	a := in.Adjustments
	t.adjustments = num(a.INROrSNADRefunds) + num(a.PaymentDisputesAgainstSeller) +
		num(a.GoodwillCredits) + num(a.EbayAccountAdjustments) - num(a.AppealReversals)

	ip := in.IntlPrograms
	t.intlPrograms = num(ip.EbayInternationalShippingWithheld) + num(ip.InternationalReturnHandling) +
		num(ip.DutiesAndImportTaxesPassThrough)

	o := in.StoreOverhead
	t.overhead = num(o.StoreSubscriptionMonthlyFee) + num(o.ThirdPartyToolsMonthly) -
		num(o.QuarterlyCredits) - num(o.FreeListingsAllotmentValue)

	t.net = t.netOfDiscounts - t.feesTotal - t.shippingCost - t.cogs - t.refunds - t.adjustments - t.overhead
	if t.gross > 0 {
		t.marginPct = t.net / t.gross * 100
	}
	return t
}

func roundFees(f domain.FeeBreakdown) domain.FeeBreakdown {
	return domain.FeeBreakdown{
		FinalValueFee:          Round2(f.FinalValueFee),
		PerOrderFixedFee:       Round2(f.PerOrderFixedFee),
		Surcharges:             Round2(f.Surcharges),
		ListingUpgrades:        Round2(f.ListingUpgrades),
		InsertionFee:           Round2(f.InsertionFee),
		VehicleOrClassifiedFee: Round2(f.VehicleOrClassifiedFee),
		AdFeesStandard:         Round2(f.AdFeesStandard),
		AdFeesAdvanced:         Round2(f.AdFeesAdvanced),
		PaymentProcessing:      Round2(f.PaymentProcessing),
		CrossBorderFees:        Round2(f.CrossBorderFees),
		VATOnFees:              Round2(f.VATOnFees),
	}
}

func rollupOf(in domain.InputBuckets, t totals) domain.Rollup {
	pt := in.PayoutTiming
	cash := num(pt.FundsPending) + num(pt.FundsInTransit) + num(in.Payments.PayoutHoldReserve) +
		num(pt.HeldReservesChange) + num(pt.CutoffMismatchAmount)

	return domain.Rollup{
		Gross:             Round2(t.gross),
		ShippingRevenue:   Round2(num(in.Sale.ShippingChargedToBuyer)),
		DiscountsTotal:    Round2(t.discounts),
		NetOfDiscounts:    Round2(t.netOfDiscounts),
		FeesTotal:         Round2(t.feesTotal),
		ShippingCostTotal: Round2(t.shippingCost),
		COGSTotal:         Round2(t.cogs),
		RefundsTotal:      Round2(t.refunds),
		AdjustmentsTotal:  Round2(t.adjustments),
		IntlProgramsTotal: Round2(t.intlPrograms),
		OverheadTotal:     Round2(t.overhead),
		Net:               Round2(t.net),
		MarginPct:         Round2(t.marginPct),
		Confidence:        confidence(in, t),

		CashInFlight:           Round2(cash),
		OrdersForWeeklyTarget:  ordersFor(num(in.Goals.WeeklyNetTarget), t.net),
		OrdersForMonthlyTarget: ordersFor(num(in.Goals.MonthlyNetTarget), t.net),
	}
}

// confidence grades how complete the cost picture is.
func confidence(in domain.InputBuckets, t totals) domain.Confidence {
	if t.itemRevenue <= 0 {
		return domain.ConfidenceLow
	}
	signals := 0
	if num(in.SellerFees.CategoryFinalValueFeePct) > 0 {
		signals++
	}
	if t.cogs > 0 {
		signals++
	}
	if t.shippingCost > 0 || num(in.Sale.ShippingChargedToBuyer) == 0 {
		signals++
	}
	if num(in.Payments.ProcessorPct) > 0 || num(in.Payments.ProcessorFixed) > 0 {
		signals++
	}
	switch {
	case signals == 4:
		return domain.ConfidenceHigh
	case signals >= 2:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// ordersFor is how many orders like this one reach target. 0 when the order
// does not make money or there is no target.
func ordersFor(target, net float64) float64 {
	if target <= 0 || net <= 0 {
		return 0
	}
	return math.Ceil(target / net)
}

// ASP is the average selling price.
func ASP(totalRevenue, totalUnits float64) float64 {
	if num(totalUnits) <= 0 {
		return 0
	}
	return Round2(num(totalRevenue) / totalUnits)
}

// STR is the sell-through rate as a percentage.
func STR(sold, listed float64) float64 {
	if num(listed) <= 0 {
		return 0
	}
	return Round2(num(sold) / listed * 100)
}

// DefaultInputs returns buckets with the defaults a new scenario starts from.
func DefaultInputs() domain.InputBuckets {
	var in domain.InputBuckets
	in.Sale.Quantity = 1
	in.Taxes.IsBuyerTaxPassThrough = true
	in.PayoutTiming.PayoutScheduleDays = 7
	in.Goals.RollingBaselineDays = 30
	return in
}
