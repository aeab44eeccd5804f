package cashier

import (
	"fmt"

	"github.com/google/uuid"
)

// Editable reports whether the bill's structure may still change. New bills,
// bills without a status, and PENDING or POSTED bills are editable.
func (b *Bill) Editable() bool {
	if b.IsNew() {
		return true
	}
	switch b.Status {
	case "", StatusPending, StatusPosted:
		return true
	}
	return false
}

// SetStatus moves the bill to s. A bill that has left PENDING can never return to it.
func (b *Bill) SetStatus(s BillStatus) error {
	if !validBillStatuses[s] {
		return fmt.Errorf("%w: invalid bill status: %q", ErrValidation, s)
	}
	if s == StatusPending && b.Status != "" && b.Status != StatusPending {
		return fmt.Errorf("%w: bill %s cannot return to PENDING from %s", ErrIllegalState, b.ID, b.Status)
	}
	b.Status = s
	return nil
}

// ValidateChanges compares the persisted bill with the bill about to be written
// and rejects writes outside the allow-list when the persisted bill is not
// editable. A nil prior means the bill is being created.
//
// Bill allow-list: void fields, status, receipt number, payments, adjustment linkage.
// Line item allow-list: void fields, payment status.
func ValidateChanges(prior, next *Bill) error {
	if prior == nil {
		return nil
	}
	if next.Status == StatusPending && prior.Status != "" && prior.Status != StatusPending {
		return fmt.Errorf("%w: bill %s cannot return to PENDING from %s", ErrIllegalState, prior.ID, prior.Status)
	}
	if prior.Editable() {
		return nil
	}

	switch {
	case prior.PatientID != next.PatientID:
		return protectedFieldError(prior, "patient_id")
	case prior.CashierID != next.CashierID:
		return protectedFieldError(prior, "cashier_id")
	case prior.CashPointID != next.CashPointID:
		return protectedFieldError(prior, "cash_point_id")
	}

	if !sameLineItemSet(prior.LineItems, next.LineItems) {
		return fmt.Errorf("%w: line items of bill %s cannot change while %s", ErrIllegalState, prior.ID, prior.Status)
	}
	for _, before := range prior.LineItems {
		after := findLineItem(next.LineItems, before.UUID)
		if field := changedLineItemField(before, after); field != "" {
			return fmt.Errorf("%w: line item %s field %s cannot change while bill is %s",
				ErrIllegalState, before.UUID, field, prior.Status)
		}
	}
	return nil
}

func protectedFieldError(b *Bill, field string) error {
	return fmt.Errorf("%w: field %s of bill %s cannot change while %s", ErrIllegalState, field, b.ID, b.Status)
}

// changedLineItemField returns the first protected field that differs.
func changedLineItemField(before, after *LineItem) string {
	switch {
	case !uuidPtrEqual(before.ItemID, after.ItemID):
		return "item_id"
	case !uuidPtrEqual(before.ServiceID, after.ServiceID):
		return "service_id"
	case before.PriceName != after.PriceName:
		return "price_name"
	case !before.Price.Equal(after.Price):
		return "price"
	case before.Quantity != after.Quantity:
		return "quantity"
	case before.LineItemOrder != after.LineItemOrder:
		return "line_item_order"
	}
	return ""
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
