package billing

import (
	"fmt"
	"math"
)

// Cents is a monetary amount in integer US cents. Dollar values are never
// stored or computed as floats; hours are the only fractional quantity and
// are rounded to the nearest cent at the single point they meet a rate.
type Cents int64

// Dollars formats the amount as a dollar string for logs and audit metadata.
func (c Cents) Dollars() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// MulHours multiplies an hourly rate by a quantity of hours, rounding to the
// nearest cent.
func (c Cents) MulHours(hours float64) Cents {
	return Cents(math.Round(float64(c) * hours))
}
