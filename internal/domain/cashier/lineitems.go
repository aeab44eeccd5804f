package cashier

import (
	"fmt"

	"github.com/google/uuid"
)

// ReconcileLineItems replaces the bill's line items with the incoming list.
//
// New or editable bills take the list wholesale: matched items (by UUID) are
// updated in place, unmatched ones appended, and persisted items missing from
// the list removed. A persisted bill that is not editable only accepts the
// same set of items; any structural difference is an ErrIllegalState, and only
// void fields and payment status are copied.
func ReconcileLineItems(b *Bill, incoming []*LineItem) error {
	if err := checkIncomingLineItems(incoming); err != nil {
		return err
	}

	if !b.Editable() {
		if !sameLineItemSet(b.LineItems, incoming) {
			return fmt.Errorf("%w: cannot add or remove line items on bill %s while %s",
				ErrIllegalState, b.ID, b.Status)
		}
		for _, in := range incoming {
			copyAllowListedLineItemFields(findLineItem(b.LineItems, in.UUID), in)
		}
		return nil
	}

	result := make([]*LineItem, 0, len(incoming))
	for _, in := range incoming {
		if cur := findLineItem(b.LineItems, in.UUID); cur != nil {
			copyLineItemFields(cur, in)
			result = append(result, cur)
			continue
		}
		result = append(result, adoptLineItem(b, in))
	}
	b.LineItems = result
	renumberLineItems(b.LineItems)
	return nil
}

// MergeLineItems folds the incoming items into the bill without removing any:
// matched items are updated, the rest appended.
func MergeLineItems(b *Bill, incoming []*LineItem) error {
	if err := checkIncomingLineItems(incoming); err != nil {
		return err
	}
	if !b.Editable() {
		return fmt.Errorf("%w: cannot merge line items into bill %s while %s", ErrIllegalState, b.ID, b.Status)
	}
	for _, in := range incoming {
		if cur := findLineItem(b.LineItems, in.UUID); cur != nil {
			copyLineItemFields(cur, in)
			continue
		}
		b.LineItems = append(b.LineItems, adoptLineItem(b, in))
	}
	renumberLineItems(b.LineItems)
	return nil
}

func checkIncomingLineItems(incoming []*LineItem) error {
	seen := make(map[string]bool, len(incoming))
	for i, in := range incoming {
		if in == nil {
			return fmt.Errorf("%w: line item %d is empty", ErrValidation, i)
		}
		if in.PaymentStatus != "" && !validLineItemStatuses[in.PaymentStatus] {
			return fmt.Errorf("%w: invalid line item payment status: %q", ErrValidation, in.PaymentStatus)
		}
		if in.UUID == "" {
			continue
		}
		if seen[in.UUID] {
			return fmt.Errorf("%w: duplicate line item %s", ErrValidation, in.UUID)
		}
		seen[in.UUID] = true
	}
	return nil
}

// adoptLineItem copies an unmatched item onto the bill. Row identity and
// creation stamps are always assigned server side.
func adoptLineItem(b *Bill, in *LineItem) *LineItem {
	li := in.Clone()
	li.ID = uuid.Nil
	li.BillID = b.ID
	li.Lifecycle.clearStamps()
	if li.PaymentStatus == "" {
		li.PaymentStatus = StatusPending
	}
	return li
}

func copyLineItemFields(dst, src *LineItem) {
	dst.ItemID = cloneUUID(src.ItemID)
	dst.ServiceID = cloneUUID(src.ServiceID)
	dst.PriceName = src.PriceName
	dst.Price = src.Price
	dst.Quantity = src.Quantity
	copyAllowListedLineItemFields(dst, src)
}

func copyAllowListedLineItemFields(dst, src *LineItem) {
	if src.PaymentStatus != "" {
		dst.PaymentStatus = src.PaymentStatus
	}
	if src.Voided != dst.Voided {
		dst.Voided = src.Voided
		dst.VoidReason = cloneStr(src.VoidReason)
	}
}

func renumberLineItems(items []*LineItem) {
	for i, li := range items {
		li.LineItemOrder = i
	}
}

func findLineItem(items []*LineItem, uuid string) *LineItem {
	if uuid == "" {
		return nil
	}
	for _, li := range items {
		if li.UUID == uuid {
			return li
		}
	}
	return nil
}

// sameLineItemSet compares two lists as sets using UUID-only identity.
func sameLineItemSet(a, b []*LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	remaining := make(map[string]bool, len(a))
	for _, li := range a {
		if li.UUID == "" {
			return false
		}
		remaining[li.UUID] = true
	}
	for _, li := range b {
		if !remaining[li.UUID] {
			return false
		}
		delete(remaining, li.UUID)
	}
	return len(remaining) == 0
}
