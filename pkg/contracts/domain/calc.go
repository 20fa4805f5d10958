package domain

// InputBuckets is the full input model for a single order or manual scenario.
// Amounts are in base currency units. Every *Pct field and every attribution
// knob is a decimal fraction (0.13 = 13%).
type InputBuckets struct {
	Sale          SaleAmounts           `json:"sale"`
	Shipping      ShippingCosts         `json:"shipping"`
	COGS          CostOfGoods           `json:"cogs"`
	SellerFees    SellerFees            `json:"sellerFees"`
	Ads           AdvertisingFees       `json:"ads"`
	Payments      PaymentProcessing     `json:"payments"`
	CrossBorder   CrossBorderCurrency   `json:"xborder"`
	Taxes         Taxes                 `json:"taxes"`
	Refunds       RefundsReturns        `json:"refunds"`
	Adjustments   AdjustmentsDisputes   `json:"adjustments"`
	IntlPrograms  InternationalPrograms `json:"intlPrograms"`
	PayoutTiming  PayoutTiming          `json:"payoutTiming"`
	StoreOverhead StoreOverhead         `json:"storeOverhead"`
	Goals         GoalTracking          `json:"goals"`
	Attribution   AttributionKnobs      `json:"attribution"`
}

// SaleAmounts holds what the buyer paid and the discounts the seller funded.
type SaleAmounts struct {
	ItemPrice                    float64 `json:"itemPrice"`
	Quantity                     float64 `json:"quantity"`
	ShippingChargedToBuyer       float64 `json:"shippingChargedToBuyer"`
	SellerCouponDiscount         float64 `json:"sellerCouponDiscount"`
	OrderLevelDiscount           float64 `json:"orderLevelDiscount"`
	CombinedOrderDiscount        float64 `json:"combinedOrderDiscount"`
	GiftCardOrStoreCreditApplied float64 `json:"giftCardOrStoreCreditApplied"`
	Tip                          float64 `json:"tip"`
}

type ShippingCosts struct {
	PostageLabelCost           float64 `json:"postageLabelCost"`
	LabelSurcharges            float64 `json:"labelSurcharges"`
	Insurance                  float64 `json:"insurance"`
	SignatureOrConfirmation    float64 `json:"signatureOrConfirmation"`
	PackagingMaterials         float64 `json:"packagingMaterials"`
	ReturnShippingPaidBySeller float64 `json:"returnShippingPaidBySeller"`
	OffEbayLabelCost           float64 `json:"offEbayLabelCost"`
}

// CostOfGoods: PerUnitOverheadAllocation is per unit and scales with quantity,
// the other fields already cover all units.
type CostOfGoods struct {
	ItemAcquisitionCost       float64 `json:"itemAcquisitionCost"`
	PrepOrRefurbCost          float64 `json:"prepOrRefurbCost"`
	InboundFreightToYou       float64 `json:"inboundFreightToYou"`
	PerUnitOverheadAllocation float64 `json:"perUnitOverheadAllocation"`
}

type SellerFees struct {
	CategoryFinalValueFeePct  float64 `json:"categoryFinalValueFeePct"`
	PerOrderFixedFee          float64 `json:"perOrderFixedFee"`
	IsStoreSubscriber         bool    `json:"isStoreSubscriber"`
	FeeCapAmount              float64 `json:"feeCapAmount"`
	TopRatedSellerDiscountPct float64 `json:"topRatedSellerDiscountPct"`
	TopRatedPlusDiscountPct   float64 `json:"topRatedPlusDiscountPct"`
	BelowStandardSurchargePct float64 `json:"belowStandardSurchargePct"`
	VeryHighINADSurchargePct  float64 `json:"veryHighINADSurchargePct"`
	ListingUpgradesTotal      float64 `json:"listingUpgradesTotal"`
	InsertionFeeAfterFree     float64 `json:"insertionFeeAfterFree"`
	VehicleOrClassifiedFee    float64 `json:"vehicleOrClassifiedFee"`
}

type AdvertisingFees struct {
	PromotedStandardPct      float64 `json:"promotedStandardPct"`
	PromotedStandardSharePct float64 `json:"promotedStandardSharePct"`
	PromotedAdvancedSpend    float64 `json:"promotedAdvancedSpend"`
	PromotedAdvancedSharePct float64 `json:"promotedAdvancedSharePct"`
	OffEbayAdsAttribution    float64 `json:"offEbayAdsAttribution"`
}

type PaymentProcessing struct {
	ProcessorPct           float64 `json:"processorPct"`
	ProcessorFixed         float64 `json:"processorFixed"`
	DisputeOrChargebackFee float64 `json:"disputeOrChargebackFee"`
	PayoutHoldReserve      float64 `json:"payoutHoldReserve"`
}

type CrossBorderCurrency struct {
	InternationalTxnFee   float64 `json:"internationalTxnFee"`
	CurrencyConversionPct float64 `json:"currencyConversionPct"`
	CrossBorderHandling   float64 `json:"crossBorderHandling"`
}

type Taxes struct {
	BuyerTaxCollected          float64 `json:"buyerTaxCollected"`
	IsBuyerTaxPassThrough      bool    `json:"isBuyerTaxPassThrough"`
	TaxIncludedInProcessorBase bool    `json:"taxIncludedInProcessorBase"`
	VATOnSellerFees            float64 `json:"vatOnSellerFees"`
}

type RefundsReturns struct {
	FullRefundAmount    float64 `json:"fullRefundAmount"`
	PartialRefundAmount float64 `json:"partialRefundAmount"`
	RestockingDeduction float64 `json:"restockingDeduction"`
	ReturnLabelCost     float64 `json:"returnLabelCost"`
	FeeCredits          float64 `json:"feeCredits"`
	NonRefundableFees   float64 `json:"nonRefundableFees"`
}

type AdjustmentsDisputes struct {
	INROrSNADRefunds             float64 `json:"inrOrSnadRefunds"`
	PaymentDisputesAgainstSeller float64 `json:"paymentDisputesAgainstSeller"`
	GoodwillCredits              float64 `json:"goodwillCredits"`
	EbayAccountAdjustments       float64 `json:"ebayAccountAdjustments"`
	AppealReversals              float64 `json:"appealReversals"`
}

type InternationalPrograms struct {
	EbayInternationalShippingWithheld float64 `json:"eBayInternationalShippingWithheld"`
	InternationalReturnHandling       float64 `json:"internationalReturnHandling"`
	DutiesAndImportTaxesPassThrough   float64 `json:"dutiesAndImportTaxesPassThrough"`
}

// PayoutTiming only affects when money arrives, never net.
type PayoutTiming struct {
	FundsPending         float64 `json:"fundsPending"`
	FundsInTransit       float64 `json:"fundsInTransit"`
	PayoutScheduleDays   float64 `json:"payoutScheduleDays"`
	CutoffMismatchAmount float64 `json:"cutoffMismatchAmount"`
	HeldReservesChange   float64 `json:"heldReservesChange"`
}

type StoreOverhead struct {
	StoreSubscriptionMonthlyFee float64 `json:"storeSubscriptionMonthlyFee"`
	FreeListingsAllotmentValue  float64 `json:"freeListingsAllotmentValue"`
	QuarterlyCredits            float64 `json:"quarterlyCredits"`
	ThirdPartyToolsMonthly      float64 `json:"thirdPartyToolsMonthly"`
}

type GoalTracking struct {
	WeeklyNetTarget     float64 `json:"weeklyNetTarget"`
	MonthlyNetTarget    float64 `json:"monthlyNetTarget"`
	RollingBaselineDays float64 `json:"rollingBaselineDays"`
}

// AttributionKnobs are shares of orders in 0..1.
type AttributionKnobs struct {
	PctWithPromotedStandard   float64 `json:"pctWithPromotedStandard"`
	PctWithPromotedAdvanced   float64 `json:"pctWithPromotedAdvanced"`
	PctWithCouponsOrMarkdowns float64 `json:"pctWithCouponsOrMarkdowns"`
	PctWithFreeShipping       float64 `json:"pctWithFreeShipping"`
	PctCrossBorder            float64 `json:"pctCrossBorder"`
	PctWithReturnsOrRefunds   float64 `json:"pctWithReturnsOrRefunds"`
}

// FeeBreakdown lists every marketplace and processor charge of one computation.
type FeeBreakdown struct {
	FinalValueFee          float64 `json:"finalValueFee"`
	PerOrderFixedFee       float64 `json:"perOrderFixedFee"`
	Surcharges             float64 `json:"surcharges"`
	ListingUpgrades        float64 `json:"listingUpgrades"`
	InsertionFee           float64 `json:"insertionFee"`
	VehicleOrClassifiedFee float64 `json:"vehicleOrClassifiedFee"`
	AdFeesStandard         float64 `json:"adFeesStandard"`
	AdFeesAdvanced         float64 `json:"adFeesAdvanced"`
	PaymentProcessing      float64 `json:"paymentProcessing"`
	CrossBorderFees        float64 `json:"crossBorderFees"`
	VATOnFees              float64 `json:"vatOnFees"`
}

// Confidence grades how many of the key cost inputs were supplied.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rollup is the net/margin summary of one computation.
type Rollup struct {
	Gross             float64    `json:"gross"`
	ShippingRevenue   float64    `json:"shippingRevenue"`
	DiscountsTotal    float64    `json:"discountsTotal"`
	NetOfDiscounts    float64    `json:"netOfDiscounts"`
	FeesTotal         float64    `json:"feesTotal"`
	ShippingCostTotal float64    `json:"shippingCostTotal"`
	COGSTotal         float64    `json:"cogsTotal"`
	RefundsTotal      float64    `json:"refundsTotal"`
	AdjustmentsTotal  float64    `json:"adjustmentsTotal"`
	IntlProgramsTotal float64    `json:"intlProgramsTotal"`
	OverheadTotal     float64    `json:"overheadTotal"`
	Net               float64    `json:"net"`
	MarginPct         float64    `json:"marginPct"`
	Confidence        Confidence `json:"confidence"`

	CashInFlight           float64 `json:"cashInFlight"`
	OrdersForWeeklyTarget  float64 `json:"ordersForWeeklyTarget"`
	OrdersForMonthlyTarget float64 `json:"ordersForMonthlyTarget"`
}

type CalcOutput struct {
	Fees   FeeBreakdown `json:"fees"`
	Rollup Rollup       `json:"rollup"`
}

// SimpleInputs drives the manual single-item calculator. Rates here are whole
// percentages (13.25 = 13.25%).
type SimpleInputs struct {
	Price                   float64 `json:"price" validate:"gte=0"`
	Quantity                float64 `json:"quantity" validate:"gte=0"`
	COGS                    float64 `json:"cogs" validate:"gte=0"`
	BuyerPaysShipping       bool    `json:"buyerPaysShipping"`
	ShippingChargeToBuyer   float64 `json:"shippingChargeToBuyer" validate:"gte=0"`
	HandlingFeeToBuyer      float64 `json:"handlingFeeToBuyer" validate:"gte=0"`
	YourShippingCost        float64 `json:"yourShippingCost" validate:"gte=0"`
	PackagingCostPerOrder   float64 `json:"packagingCostPerOrder" validate:"gte=0"`
	InsuranceCost           float64 `json:"insuranceCost" validate:"gte=0"`
	MiscFixedCostPerOrder   float64 `json:"miscFixedCostPerOrder" validate:"gte=0"`
	FinalValueFeeRate       float64 `json:"finalValueFeeRate" validate:"gte=0,lte=100"`
	CategoryFeeOverrideRate float64 `json:"categoryFeeOverrideRate" validate:"gte=0,lte=100"`
	PromotedListingsRate    float64 `json:"promotedListingsRate" validate:"gte=0,lte=100"`
	PromoShare              float64 `json:"promoShare" validate:"gte=0,lte=100"`
	PaymentProcessingRate   float64 `json:"paymentProcessingRate" validate:"gte=0,lte=100"`
	PaymentFixedFee         float64 `json:"paymentFixedFee" validate:"gte=0"`
	ReturnRatePercent       float64 `json:"returnRatePercent" validate:"gte=0,lte=100"`
	AvgRefundPercent        float64 `json:"avgRefundPercent" validate:"gte=0,lte=100"`
	RestockingFeePercent    float64 `json:"restockingFeePercent" validate:"gte=0,lte=100"`
	LabelCostOnReturns      float64 `json:"labelCostOnReturns" validate:"gte=0"`
	DisputeRatePercent      float64 `json:"disputeRatePercent" validate:"gte=0,lte=100"`
	AvgDisputeLoss          float64 `json:"avgDisputeLoss" validate:"gte=0"`
}

// SimpleResult is the manual calculator's view of a CalcOutput.
type SimpleResult struct {
	Qty                 int     `json:"qty"`
	ItemSubtotal        float64 `json:"itemSubtotal"`
	ShippingRevenue     float64 `json:"shippingRevenue"`
	Gross               float64 `json:"gross"`
	FinalValueFee       float64 `json:"finalValueFee"`
	ProcessingFee       float64 `json:"processingFee"`
	PromoFee            float64 `json:"promoFee"`
	TotalCOGS           float64 `json:"totalCOGS"`
	TotalShipCost       float64 `json:"totalShipCost"`
	PerOrderFixed       float64 `json:"perOrderFixed"`
	ExpectedReturnLoss  float64 `json:"expectedReturnLoss"`
	ExpectedDisputeLoss float64 `json:"expectedDisputeLoss"`
	Fees                float64 `json:"fees"`
	Net                 float64 `json:"net"`
	MarginPct           float64 `json:"marginPct"`
}
