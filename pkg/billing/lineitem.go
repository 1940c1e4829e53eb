package billing

// LineItemType distinguishes package fees from hourly labor on an invoice.
// Reporting depends on this field; mixed invoices carry both types.
type LineItemType string

const (
	LineItemPackageFee  LineItemType = "package_fee"
	LineItemHourlyLabor LineItemType = "hourly_labor"
)

// LineItem is a single priced line on an invoice. For package_fee lines
// Quantity is 1 and Rate equals Amount. For hourly_labor lines Quantity is
// the summed hours for one rate group and Amount = Quantity x Rate rounded
// to the cent.
type LineItem struct {
	Type        LineItemType `json:"type"`
	Description string       `json:"description"`
	Quantity    float64      `json:"quantity"`
	Rate        Cents        `json:"rate_cents"`
	Amount      Cents        `json:"amount_cents"`
}

// Subtotal sums line item amounts.
func Subtotal(items []LineItem) Cents {
	var total Cents
	for _, it := range items {
		total += it.Amount
	}
	return total
}
