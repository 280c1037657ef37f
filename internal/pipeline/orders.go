package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

var orderColumns = []warehouse.Column{
	{Name: "order_id", Type: "VARCHAR"},
	{Name: "user_id", Type: "BIGINT"},
	{Name: "order_number", Type: "VARCHAR"},
	{Name: "created_at", Type: "TIMESTAMP"},
	{Name: "completed_at", Type: "TIMESTAMP"},
	{Name: "status", Type: "VARCHAR"},
	{Name: "product_category", Type: "VARCHAR"},
	{Name: "product_sku", Type: "VARCHAR"},
	{Name: "quantity", Type: "BIGINT"},
	{Name: "unit_price", Type: "DOUBLE"},
	{Name: "subtotal", Type: "DOUBLE"},
	{Name: "discount_amount", Type: "DOUBLE"},
	{Name: "discount_code", Type: "VARCHAR"},
	{Name: "tax_amount", Type: "DOUBLE"},
	{Name: "total_amount", Type: "DOUBLE"},
	{Name: "currency", Type: "VARCHAR"},
	{Name: "payment_method", Type: "VARCHAR"},
	{Name: "payment_processor", Type: "VARCHAR"},
	{Name: "billing_country", Type: "VARCHAR"},
	{Name: "billing_state", Type: "VARCHAR"},
	{Name: "billing_city", Type: "VARCHAR"},
	{Name: "billing_postal_code", Type: "VARCHAR"},
	{Name: "is_recurring", Type: "BOOLEAN"},
	{Name: "subscription_period", Type: "VARCHAR"},
	{Name: "utm_source", Type: "VARCHAR"},
	{Name: "utm_campaign", Type: "VARCHAR"},
	{Name: "referral_code", Type: "VARCHAR"},
	{Name: "customer_notes", Type: "VARCHAR"},
	{Name: "shipping_required", Type: "BOOLEAN"},
	{Name: "shipping_cost", Type: "DOUBLE"},
	{Name: "estimated_delivery", Type: "TIMESTAMP"},
}

var (
	orderStatuses = []weightedChoice{
		{"completed", 80},
		{"pending", 10},
		{"cancelled", 5},
		{"refunded", 3},
		{"failed", 2},
	}
	paymentMethods = []weightedChoice{
		{"credit_card", 60},
		{"paypal", 20},
		{"stripe", 12},
		{"bank_transfer", 5},
		{"crypto", 2},
		{"wire", 1},
	}
	paymentProcessors = []string{"stripe", "paypal", "square", "braintree"}
	orderCurrencies   = []string{"USD", "EUR", "GBP", "CAD", "AUD"}
	orderSources      = []string{"google", "facebook", "direct", "email", "affiliate"}
	discountCodes     = []string{"SAVE10", "WELCOME", "SUMMER20", "VIP15", "COMEBACK"}
	billingStates     = []string{
		"CA", "NY", "TX", "FL", "WA", "IL", "MA", "CO", "GA", "OR",
	}
	customerNotes = []string{
		"Please deliver after 5pm",
		"Gift wrap requested",
		"Leave at front desk",
		"Invoice needed for expenses",
		"Second attempt after failed payment",
	}

	// Categories with their unit price ranges.
	productCategories = []struct {
		name     string
		min, max float64
	}{
		{"electronics", 20, 2000},
		{"clothing", 10, 300},
		{"books", 5, 80},
		{"home_garden", 15, 800},
		{"sports", 10, 500},
		{"beauty", 5, 150},
		{"toys", 8, 200},
		{"food", 3, 100},
	}
)

const orderTaxRate = 0.08

// orderExtractor generates the raw_orders table. Amount columns are kept
// internally consistent so margin and tax models have something real to
// verify against.
type orderExtractor struct{}

func (*orderExtractor) Name() string { return "orders" }

func (*orderExtractor) Extract(ctx context.Context, params Params) (*warehouse.Batch, error) {
	r := newRNG(params.Seed)
	now := params.clock()

	maxUser := params.NumUsers
	if maxUser <= 0 {
		maxUser = DefaultNumUsers
	}
	repeatBuyers := maxUser / 3
	if repeatBuyers < 1 {
		repeatBuyers = 1
	}

	rows := make([][]any, 0, params.NumOrders)
	for i := 0; i < params.NumOrders; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		userID := int64(1 + r.Intn(maxUser))
		if r.chance(40) {
			userID = int64(1 + r.Intn(repeatBuyers))
		}

		createdAt := now.AddDate(0, 0, -r.recentDays(365))
		createdAt = r.timeBetween(createdAt, createdAt.Add(24*time.Hour))
		status := r.weighted(orderStatuses)

		var completedAt any
		if status == "completed" {
			completedAt = createdAt.Add(time.Duration(1+r.Intn(72)) * time.Hour)
		}

		cat := productCategories[r.Intn(len(productCategories))]
		unitPrice := round2(cat.min + r.Float64()*(cat.max-cat.min))
		quantity := 1 + r.Intn(5)
		subtotal := round2(unitPrice * float64(quantity))

		var discount float64
		var discountCode any
		if r.chance(30) {
			discount = round2(subtotal * (0.05 + r.Float64()*0.25))
			discountCode = r.pick(discountCodes)
		}
		tax := round2((subtotal - discount) * orderTaxRate)

		shippingRequired := r.chance(20)
		var shippingCost float64
		var estimatedDelivery any
		if shippingRequired {
			shippingCost = round2(5 + r.Float64()*20)
			estimatedDelivery = createdAt.AddDate(0, 0, 3+r.Intn(12))
		}

		total := round2(subtotal - discount + tax + shippingCost)

		isRecurring := r.chance(35)
		var subscriptionPeriod any
		if isRecurring {
			subscriptionPeriod = r.weighted([]weightedChoice{
				{"monthly", 70}, {"annual", 30},
			})
		}

		var campaign, referralCode, notes any
		if r.chance(40) {
			campaign = r.campaign()
		}
		if r.chance(15) {
			referralCode = fmt.Sprintf("REF-%04d", r.Intn(10000))
		}
		if r.chance(20) {
			notes = r.pick(customerNotes)
		}

		sku := fmt.Sprintf("%s-%d",
			strings.ToUpper(cat.name[:4]), 100+r.Intn(900))

		rows = append(rows, []any{
			r.uuid(),
			userID,
			fmt.Sprintf("ORD-%06d", i+1),
			createdAt,
			completedAt,
			status,
			cat.name,
			sku,
			int64(quantity),
			unitPrice,
			subtotal,
			discount,
			discountCode,
			tax,
			total,
			r.pick(orderCurrencies),
			r.weighted(paymentMethods),
			r.pick(paymentProcessors),
			r.pick(countryCodes),
			r.pick(billingStates),
			r.pick(cityNames),
			r.postalCode(),
			isRecurring,
			subscriptionPeriod,
			r.pick(orderSources),
			campaign,
			referralCode,
			notes,
			shippingRequired,
			shippingCost,
			estimatedDelivery,
		})
	}

	return &warehouse.Batch{
		Table:   "raw_orders",
		Columns: orderColumns,
		Rows:    rows,
	}, nil
}
