package cashier

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the closed set of changes recorded in the audit trail.
type AuditAction string

const (
	ActionBillCreated             AuditAction = "BILL_CREATED"
	ActionLineItemAdded           AuditAction = "LINE_ITEM_ADDED"
	ActionLineItemRemoved         AuditAction = "LINE_ITEM_REMOVED"
	ActionLineItemModified        AuditAction = "LINE_ITEM_MODIFIED"
	ActionQuantityChanged         AuditAction = "QUANTITY_CHANGED"
	ActionPriceChanged            AuditAction = "PRICE_CHANGED"
	ActionStatusChanged           AuditAction = "STATUS_CHANGED"
	ActionPaymentAdded            AuditAction = "PAYMENT_ADDED"
	ActionPaymentRemoved          AuditAction = "PAYMENT_REMOVED"
	ActionBillAdjusted            AuditAction = "BILL_ADJUSTED"
	ActionAdjustmentReasonUpdated AuditAction = "ADJUSTMENT_REASON_UPDATED"
	ActionBillVoided              AuditAction = "BILL_VOIDED"
	ActionBillUnvoided            AuditAction = "BILL_UNVOIDED"
)

var validAuditActions = map[AuditAction]bool{
	ActionBillCreated: true, ActionLineItemAdded: true, ActionLineItemRemoved: true,
	ActionLineItemModified: true, ActionQuantityChanged: true, ActionPriceChanged: true,
	ActionStatusChanged: true, ActionPaymentAdded: true, ActionPaymentRemoved: true,
	ActionBillAdjusted: true, ActionAdjustmentReasonUpdated: true,
	ActionBillVoided: true, ActionBillUnvoided: true,
}

// ParseAuditAction validates a client supplied action code.
func ParseAuditAction(s string) (AuditAction, error) {
	a := AuditAction(s)
	if !validAuditActions[a] {
		return "", fmt.Errorf("%w: unknown audit action %q", ErrValidation, s)
	}
	return a, nil
}

// BillAudit maps to the bill_audit table. Rows are never updated.
type BillAudit struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	BillID    uuid.UUID   `db:"bill_id" json:"bill_id"`
	Action    AuditAction `db:"action" json:"action"`
	FieldName string      `db:"field_name" json:"field_name,omitempty"`
	OldValue  *string     `db:"old_value" json:"old_value,omitempty"`
	NewValue  *string     `db:"new_value" json:"new_value,omitempty"`
	Reason    string      `db:"reason" json:"reason,omitempty"`
	UserID    string      `db:"user_id" json:"user_id"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// AuditFilter narrows an audit history query.
type AuditFilter struct {
	Action *AuditAction
	From   *time.Time
	To     *time.Time
}

// AuditRecorder diffs bill snapshots and appends the resulting audit rows.
type AuditRecorder struct {
	audits AuditRepository
}

func NewAuditRecorder(audits AuditRepository) *AuditRecorder {
	return &AuditRecorder{audits: audits}
}

// Record appends one row per difference between prior and next. A nil prior
// records the creation of next.
func (r *AuditRecorder) Record(ctx context.Context, prior, next *Bill, by Actor, at time.Time) ([]*BillAudit, error) {
	entries := DiffBill(prior, next, by, at)
	if len(entries) == 0 {
		return nil, nil
	}
	if err := r.audits.Append(ctx, entries); err != nil {
		return nil, fmt.Errorf("append audit entries: %w", err)
	}
	return entries, nil
}

// DiffBill computes the audit rows describing the change from prior to next.
func DiffBill(prior, next *Bill, by Actor, at time.Time) []*BillAudit {
	d := &auditDiff{billID: next.ID, userID: by.UserID, at: at}
	if prior == nil {
		d.add(ActionBillCreated, "", nil, strPtr(string(next.Status)), next.AdjustmentReason)
		return d.entries
	}

	if prior.Status != next.Status {
		d.add(ActionStatusChanged, "status", strPtr(string(prior.Status)), strPtr(string(next.Status)), "")
	}
	if prior.AdjustmentReason != next.AdjustmentReason {
		d.add(ActionAdjustmentReasonUpdated, "adjustment_reason",
			strPtr(prior.AdjustmentReason), strPtr(next.AdjustmentReason), next.AdjustmentReason)
	}
	for _, id := range next.AdjustedBy {
		if !containsUUID(prior.AdjustedBy, id) {
			d.add(ActionBillAdjusted, "adjusted_by", nil, strPtr(id.String()), "")
		}
	}
	switch {
	case !prior.Voided && next.Voided:
		d.add(ActionBillVoided, "voided", strPtr("false"), strPtr("true"), next.voidReason())
	case prior.Voided && !next.Voided:
		d.add(ActionBillUnvoided, "voided", strPtr("true"), strPtr("false"), "")
	}

	d.lineItems(prior.LineItems, next.LineItems)
	d.payments(prior.Payments, next.Payments)
	return d.entries
}

type auditDiff struct {
	billID  uuid.UUID
	userID  string
	at      time.Time
	entries []*BillAudit
}

func (d *auditDiff) add(action AuditAction, field string, oldVal, newVal *string, reason string) {
	d.entries = append(d.entries, &BillAudit{
		ID:        uuid.New(),
		BillID:    d.billID,
		Action:    action,
		FieldName: field,
		OldValue:  oldVal,
		NewValue:  newVal,
		Reason:    reason,
		UserID:    d.userID,
		CreatedAt: d.at,
	})
}

func (d *auditDiff) lineItems(prior, next []*LineItem) {
	for _, after := range next {
		before := findLineItem(prior, after.UUID)
		if before == nil {
			d.add(ActionLineItemAdded, "line_items", nil, strPtr(after.describe()), "")
			continue
		}
		field := "line_item[" + after.UUID + "]."
		if before.Quantity != after.Quantity {
			d.add(ActionQuantityChanged, field+"quantity",
				strPtr(strconv.Itoa(before.Quantity)), strPtr(strconv.Itoa(after.Quantity)), "")
		}
		if !before.Price.Equal(after.Price) {
			d.add(ActionPriceChanged, field+"price", strPtr(before.Price.String()), strPtr(after.Price.String()), "")
		}
		if before.PriceName != after.PriceName {
			d.add(ActionLineItemModified, field+"price_name", strPtr(before.PriceName), strPtr(after.PriceName), "")
		}
		if !uuidPtrEqual(before.ItemID, after.ItemID) {
			d.add(ActionLineItemModified, field+"item_id", uuidText(before.ItemID), uuidText(after.ItemID), "")
		}
		if !uuidPtrEqual(before.ServiceID, after.ServiceID) {
			d.add(ActionLineItemModified, field+"service_id", uuidText(before.ServiceID), uuidText(after.ServiceID), "")
		}
		if before.PaymentStatus != after.PaymentStatus {
			d.add(ActionLineItemModified, field+"payment_status",
				strPtr(string(before.PaymentStatus)), strPtr(string(after.PaymentStatus)), "")
		}
		if before.Voided != after.Voided {
			d.add(ActionLineItemModified, field+"voided",
				strPtr(strconv.FormatBool(before.Voided)), strPtr(strconv.FormatBool(after.Voided)), after.voidReason())
		}
	}
	for _, before := range prior {
		if findLineItem(next, before.UUID) == nil {
			d.add(ActionLineItemRemoved, "line_items", strPtr(before.describe()), nil, "")
		}
	}
}

func (d *auditDiff) payments(prior, next []*Payment) {
	for _, after := range next {
		before := findPayment(prior, after.UUID)
		if before == nil {
			d.add(ActionPaymentAdded, "payments", nil, strPtr(after.AmountTendered.String()), "")
			continue
		}
		if !before.Voided && after.Voided {
			d.add(ActionPaymentRemoved, "payment["+after.UUID+"].voided",
				strPtr(after.AmountTendered.String()), nil, after.voidReason())
		}
	}
	for _, before := range prior {
		if findPayment(next, before.UUID) == nil {
			d.add(ActionPaymentRemoved, "payments", strPtr(before.AmountTendered.String()), nil, "")
		}
	}
}

func strPtr(s string) *string { return &s }

func uuidText(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	return strPtr(id.String())
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
