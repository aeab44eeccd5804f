package cashier

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TotalPayments is the sum of AmountTendered over non-voided payments.
func (b *Bill) TotalPayments() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.Payments {
		if p == nil || p.Voided {
			continue
		}
		total = total.Add(p.AmountTendered)
	}
	return total
}

// AddPayment links p to the bill and re-derives the status.
func (b *Bill) AddPayment(p *Payment) {
	b.Payments = append(b.Payments, p)
	b.relinkPayments()
	b.SynchronizeStatus()
}

// RemovePayment unlinks p and re-derives the status. Payments are matched by
// UUID, or by pointer when p has none. It reports whether anything was removed.
func (b *Bill) RemovePayment(p *Payment) bool {
	removed := false
	kept := b.Payments[:0]
	for _, cur := range b.Payments {
		if !removed && samePayment(cur, p) {
			removed = true
			continue
		}
		kept = append(kept, cur)
	}
	b.Payments = kept
	b.relinkPayments()
	b.SynchronizeStatus()
	return removed
}

// SynchronizeStatus sets PAID once payments cover the total and POSTED while
// they only partly do. With no positive payment total the status is kept.
func (b *Bill) SynchronizeStatus() {
	if len(b.Payments) == 0 {
		return
	}
	paid := b.TotalPayments()
	if !paid.IsPositive() {
		return
	}
	if paid.GreaterThanOrEqual(b.Total()) {
		b.Status = StatusPaid
	} else {
		b.Status = StatusPosted
	}
}

func (b *Bill) relinkPayments() {
	for _, p := range b.Payments {
		p.BillID = b.ID
	}
}

func samePayment(a, b *Payment) bool {
	if a.UUID != "" || b.UUID != "" {
		return a.UUID == b.UUID
	}
	return a == b
}

func findPayment(payments []*Payment, uuid string) *Payment {
	if uuid == "" {
		return nil
	}
	for _, p := range payments {
		if p.UUID == uuid {
			return p
		}
	}
	return nil
}

// ReconcilePayments replaces the bill's payment set with incoming. Persisted
// payments absent from the list are removed, new ones added; for matched
// payments only the void fields and attributes are taken. Status is re-derived.
func ReconcilePayments(b *Bill, incoming []*Payment) error {
	if err := checkIncomingPayments(incoming); err != nil {
		return err
	}
	for _, cur := range append([]*Payment(nil), b.Payments...) {
		if findPayment(incoming, cur.UUID) == nil {
			b.RemovePayment(cur)
		}
	}
	mergeIncomingPayments(b, incoming)
	b.SynchronizeStatus()
	return nil
}

// MergePayments adds incoming payments to the bill without removing any.
func MergePayments(b *Bill, incoming []*Payment) error {
	if err := checkIncomingPayments(incoming); err != nil {
		return err
	}
	mergeIncomingPayments(b, incoming)
	b.SynchronizeStatus()
	return nil
}

func mergeIncomingPayments(b *Bill, incoming []*Payment) {
	for _, in := range incoming {
		if cur := findPayment(b.Payments, in.UUID); cur != nil {
			if in.Voided != cur.Voided {
				cur.Voided = in.Voided
				cur.VoidReason = cloneStr(in.VoidReason)
			}
			if in.Attributes != nil {
				cur.Attributes = append([]PaymentAttribute(nil), in.Attributes...)
			}
			continue
		}
		p := in.Clone()
		p.ID = uuid.Nil
		p.Lifecycle.clearStamps()
		b.AddPayment(p)
	}
}

func checkIncomingPayments(incoming []*Payment) error {
	seen := make(map[string]bool, len(incoming))
	for i, p := range incoming {
		if p == nil {
			return fmt.Errorf("%w: payment %d is empty", ErrValidation, i)
		}
		if p.PaymentModeID <= 0 {
			return fmt.Errorf("%w: payment_mode_id is required", ErrValidation)
		}
		if p.AmountTendered.IsNegative() || p.Amount.IsNegative() {
			return fmt.Errorf("%w: payment amounts cannot be negative", ErrValidation)
		}
		if p.UUID == "" {
			continue
		}
		if seen[p.UUID] {
			return fmt.Errorf("%w: duplicate payment %s", ErrValidation, p.UUID)
		}
		seen[p.UUID] = true
	}
	return nil
}
