package feecalc

import (
	"math"

	"egc/pkg/contracts/domain"
)

// SimpleBuckets maps the manual calculator's inputs onto the full model.
// Expected returns are folded in as probability-weighted refunds of the
// gross (item subtotal plus shipping revenue). The expected dispute loss is
// carried as a payment fee.
func SimpleBuckets(s domain.SimpleInputs) domain.InputBuckets {
	in := DefaultInputs()
	qty := quantity(s.Quantity)
	subtotal := num(s.Price) * qty

	in.Sale.ItemPrice = num(s.Price)
	in.Sale.Quantity = qty
	if s.BuyerPaysShipping {
		in.Sale.ShippingChargedToBuyer = num(s.ShippingChargeToBuyer) + num(s.HandlingFeeToBuyer)
	}

	rate := num(s.FinalValueFeeRate)
	if override := num(s.CategoryFeeOverrideRate); override > 0 {
		rate = override
	}
	in.SellerFees.CategoryFinalValueFeePct = rate / 100

	in.Ads.PromotedStandardPct = num(s.PromotedListingsRate) / 100
	in.Ads.PromotedStandardSharePct = num(s.PromoShare) / 100

	in.Payments.ProcessorPct = num(s.PaymentProcessingRate) / 100
	in.Payments.ProcessorFixed = num(s.PaymentFixedFee)

	in.Shipping.PostageLabelCost = num(s.YourShippingCost)
	in.Shipping.PackagingMaterials = num(s.PackagingCostPerOrder)
	in.Shipping.Insurance = num(s.InsuranceCost)

	in.COGS.PerUnitOverheadAllocation = num(s.COGS)
	in.StoreOverhead.ThirdPartyToolsMonthly = num(s.MiscFixedCostPerOrder)

	gross := subtotal + in.Sale.ShippingChargedToBuyer
	returns := rate01(s.ReturnRatePercent)
	in.Refunds.PartialRefundAmount = returns * rate01(s.AvgRefundPercent) * gross
	in.Refunds.RestockingDeduction = returns * rate01(s.RestockingFeePercent) * gross
	in.Refunds.ReturnLabelCost = returns * num(s.LabelCostOnReturns)

	in.Payments.DisputeOrChargebackFee = rate01(s.DisputeRatePercent) * num(s.AvgDisputeLoss)
	return in
}

// rate01 converts a whole percentage to a fraction in [0, 1].
func rate01(pct float64) float64 {
	return math.Min(1, math.Max(0, num(pct)/100))
}

// ComputeSimple runs the manual single-item calculator.
func ComputeSimple(s domain.SimpleInputs) domain.SimpleResult {
	in := SimpleBuckets(s)
	t := compute(in)

	return domain.SimpleResult{
		Qty:                 int(t.qty),
		ItemSubtotal:        Round2(t.itemRevenue),
		ShippingRevenue:     Round2(in.Sale.ShippingChargedToBuyer),
		Gross:               Round2(t.gross),
		FinalValueFee:       Round2(t.fees.FinalValueFee),
		ProcessingFee:       Round2(t.fees.PaymentProcessing - in.Payments.DisputeOrChargebackFee),
		PromoFee:            Round2(t.fees.AdFeesStandard),
		TotalCOGS:           Round2(t.cogs),
		TotalShipCost:       Round2(in.Shipping.PostageLabelCost),
		PerOrderFixed:       Round2(in.Shipping.PackagingMaterials + in.Shipping.Insurance + in.StoreOverhead.ThirdPartyToolsMonthly),
		ExpectedReturnLoss:  Round2(t.refunds),
		ExpectedDisputeLoss: Round2(in.Payments.DisputeOrChargebackFee),
		Fees:                Round2(t.feesTotal),
		Net:                 Round2(t.net),
		MarginPct:           Round2(t.marginPct),
	}
}

func quantity(q float64) float64 {
	return math.Max(1, math.Floor(num(q)))
}
