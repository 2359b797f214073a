package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrder_StatusDerivation(t *testing.T) {
	o := &Order{
		Quantity:  decimal.RequireFromString("2"),
		Remaining: decimal.RequireFromString("2"),
	}
	if got := o.Status(); got != StatusOpen {
		t.Errorf("untouched order: expected OPEN, got %s", got)
	}

	o.Remaining = decimal.RequireFromString("0.5")
	if got := o.Status(); got != StatusPartiallyFilled {
		t.Errorf("partially consumed order: expected PARTIALLY_FILLED, got %s", got)
	}

	o.Remaining = decimal.Zero
	if got := o.Status(); got != StatusFilled {
		t.Errorf("consumed order: expected FILLED, got %s", got)
	}
}
