package cashier

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillStatus is the settlement state of a bill, and the payment-status marker
// of a line item.
type BillStatus string

const (
	StatusPending  BillStatus = "PENDING"
	StatusPosted   BillStatus = "POSTED"
	StatusPaid     BillStatus = "PAID"
	StatusAdjusted BillStatus = "ADJUSTED"
)

var validBillStatuses = map[BillStatus]bool{
	StatusPending: true, StatusPosted: true, StatusPaid: true, StatusAdjusted: true,
}

var validLineItemStatuses = map[BillStatus]bool{
	StatusPending: true, StatusPosted: true, StatusPaid: true,
}

// Actor identifies the user performing a mutation.
type Actor struct {
	UserID string
}

// Lifecycle carries the creator, change and void fields shared by bills,
// line items and payments.
type Lifecycle struct {
	CreatorID   string     `db:"creator_id" json:"creator_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ChangedByID *string    `db:"changed_by_id" json:"changed_by_id,omitempty"`
	ChangedAt   *time.Time `db:"changed_at" json:"changed_at,omitempty"`
	Voided      bool       `db:"voided" json:"voided"`
	VoidedByID  *string    `db:"voided_by_id" json:"voided_by_id,omitempty"`
	VoidedAt    *time.Time `db:"voided_at" json:"voided_at,omitempty"`
	VoidReason  *string    `db:"void_reason" json:"void_reason,omitempty"`
}

// Void marks the record voided by the given user.
func (l *Lifecycle) Void(by, reason string, at time.Time) {
	l.Voided = true
	l.VoidedByID = &by
	l.VoidedAt = &at
	l.VoidReason = &reason
}

// Unvoid clears all void fields.
func (l *Lifecycle) Unvoid() {
	l.Voided = false
	l.VoidedByID = nil
	l.VoidedAt = nil
	l.VoidReason = nil
}

func (l *Lifecycle) voidReason() string {
	if l.VoidReason == nil {
		return ""
	}
	return *l.VoidReason
}

// clearStamps drops who/when stamps, keeping the void flag and reason.
func (l *Lifecycle) clearStamps() {
	l.CreatorID = ""
	l.CreatedAt = time.Time{}
	l.ChangedByID = nil
	l.ChangedAt = nil
	l.VoidedByID = nil
	l.VoidedAt = nil
}

func (l Lifecycle) clone() Lifecycle {
	out := l
	out.ChangedByID = cloneStr(l.ChangedByID)
	out.ChangedAt = cloneTime(l.ChangedAt)
	out.VoidedByID = cloneStr(l.VoidedByID)
	out.VoidedAt = cloneTime(l.VoidedAt)
	out.VoidReason = cloneStr(l.VoidReason)
	return out
}

// Bill maps to the bill table.
type Bill struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	UUID             string      `db:"uuid" json:"uuid"`
	PatientID        uuid.UUID   `db:"patient_id" json:"patient_id"`
	CashierID        int64       `db:"cashier_id" json:"cashier_id"`
	CashPointID      int64       `db:"cash_point_id" json:"cash_point_id"`
	Status           BillStatus  `db:"status" json:"status,omitempty"`
	ReceiptNumber    string      `db:"receipt_number" json:"receipt_number,omitempty"`
	LineItems        []*LineItem `json:"line_items"`
	Payments         []*Payment  `json:"payments"`
	AdjustedBillID   *uuid.UUID  `db:"adjusted_bill_id" json:"adjusted_bill_id,omitempty"`
	AdjustedBy       []uuid.UUID `json:"adjusted_by,omitempty"`
	AdjustmentReason string      `db:"adjustment_reason" json:"adjustment_reason,omitempty"`
	Lifecycle
}

// IsNew reports whether the bill has not been persisted yet.
func (b *Bill) IsNew() bool { return b.ID == uuid.Nil }

// Total is the sum of all non-voided line item totals.
func (b *Bill) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range b.LineItems {
		if li == nil || li.Voided {
			continue
		}
		total = total.Add(li.Total())
	}
	return total
}

// Balance is the amount still owed; negative when overpaid.
func (b *Bill) Balance() decimal.Decimal {
	return b.Total().Sub(b.TotalPayments())
}

// Clone returns a deep copy of the bill graph.
func (b *Bill) Clone() *Bill {
	if b == nil {
		return nil
	}
	out := *b
	out.Lifecycle = b.Lifecycle.clone()
	if b.AdjustedBillID != nil {
		id := *b.AdjustedBillID
		out.AdjustedBillID = &id
	}
	if b.AdjustedBy != nil {
		out.AdjustedBy = append([]uuid.UUID(nil), b.AdjustedBy...)
	}
	if b.LineItems != nil {
		out.LineItems = make([]*LineItem, len(b.LineItems))
		for i, li := range b.LineItems {
			out.LineItems[i] = li.Clone()
		}
	}
	if b.Payments != nil {
		out.Payments = make([]*Payment, len(b.Payments))
		for i, p := range b.Payments {
			out.Payments[i] = p.Clone()
		}
	}
	return &out
}

// LineItem maps to the bill_line_item table.
type LineItem struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	BillID        uuid.UUID       `db:"bill_id" json:"bill_id"`
	UUID          string          `db:"uuid" json:"uuid,omitempty"`
	ItemID        *uuid.UUID      `db:"item_id" json:"item_id,omitempty"`
	ServiceID     *uuid.UUID      `db:"service_id" json:"service_id,omitempty"`
	PriceName     string          `db:"price_name" json:"price_name,omitempty"`
	Price         decimal.Decimal `db:"price" json:"price"`
	Quantity      int             `db:"quantity" json:"quantity"`
	LineItemOrder int             `db:"line_item_order" json:"line_item_order"`
	PaymentStatus BillStatus      `db:"payment_status" json:"payment_status,omitempty"`
	Lifecycle
}

// Total is price times quantity.
func (li *LineItem) Total() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// SameAs reports identity by UUID; items without a UUID are never the same.
func (li *LineItem) SameAs(other *LineItem) bool {
	if li == nil || other == nil || li.UUID == "" || other.UUID == "" {
		return false
	}
	return li.UUID == other.UUID
}

func (li *LineItem) describe() string {
	return fmt.Sprintf("%s x%d @ %s", li.PriceName, li.Quantity, li.Price.String())
}

// Clone returns a copy of the line item.
func (li *LineItem) Clone() *LineItem {
	if li == nil {
		return nil
	}
	out := *li
	out.Lifecycle = li.Lifecycle.clone()
	out.ItemID = cloneUUID(li.ItemID)
	out.ServiceID = cloneUUID(li.ServiceID)
	return &out
}

// PaymentAttribute is a free-form key/value pair recorded with a payment.
type PaymentAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payment maps to the bill_payment table.
type Payment struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	BillID         uuid.UUID          `db:"bill_id" json:"bill_id"`
	UUID           string             `db:"uuid" json:"uuid,omitempty"`
	PaymentModeID  int64              `db:"payment_mode_id" json:"payment_mode_id"`
	Amount         decimal.Decimal    `db:"amount" json:"amount"`
	AmountTendered decimal.Decimal    `db:"amount_tendered" json:"amount_tendered"`
	Attributes     []PaymentAttribute `db:"attributes" json:"attributes,omitempty"`
	Lifecycle
}

// Clone returns a copy of the payment.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	out := *p
	out.Lifecycle = p.Lifecycle.clone()
	if p.Attributes != nil {
		out.Attributes = append([]PaymentAttribute(nil), p.Attributes...)
	}
	return &out
}

// BillQuery filters bill searches. Zero values do not filter.
type BillQuery struct {
	PatientID     *uuid.UUID
	CashierID     *int64
	CashPointID   *int64
	Statuses      []BillStatus
	IncludeVoided bool
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
