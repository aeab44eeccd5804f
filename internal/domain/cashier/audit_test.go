package cashier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var auditTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func actions(entries []*BillAudit) map[AuditAction]int {
	out := make(map[AuditAction]int)
	for _, e := range entries {
		out[e.Action]++
	}
	return out
}

func TestDiffBill_Creation(t *testing.T) {
	b := persisted(StatusPending, item("a", "10", 1))
	entries := DiffBill(nil, b, Actor{UserID: "u1"}, auditTime)

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != ActionBillCreated || e.BillID != b.ID || e.UserID != "u1" || !e.CreatedAt.Equal(auditTime) {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.NewValue == nil || *e.NewValue != string(StatusPending) {
		t.Errorf("expected new value PENDING, got %v", e.NewValue)
	}
}

func TestDiffBill_NoChanges(t *testing.T) {
	b := persisted(StatusPending, item("a", "10", 1))
	b.Payments = []*Payment{payment("p", "5")}
	if entries := DiffBill(b, b.Clone(), Actor{UserID: "u1"}, auditTime); len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestDiffBill_Changes(t *testing.T) {
	prior := persisted(StatusPending, item("a", "10", 1), item("b", "5", 1), item("c", "1", 1))
	prior.Payments = []*Payment{payment("p1", "5"), payment("p2", "5")}

	next := prior.Clone()
	next.Status = StatusPosted
	next.AdjustmentReason = "wrong price"
	next.AdjustedBy = []uuid.UUID{uuid.New()}
	next.Voided = true
	next.LineItems[0].Quantity = 2
	next.LineItems[0].Price = dec("12")
	next.LineItems[1].PriceName = "insured"
	next.LineItems[1].PaymentStatus = StatusPaid
	next.LineItems = append(next.LineItems[:2], item("d", "3", 1))
	next.Payments[0].Voided = true
	next.Payments = append(next.Payments[:1], payment("p3", "1"))

	got := actions(DiffBill(prior, next, Actor{UserID: "u1"}, auditTime))
	want := map[AuditAction]int{
		ActionStatusChanged:           1,
		ActionAdjustmentReasonUpdated: 1,
		ActionBillAdjusted:            1,
		ActionBillVoided:              1,
		ActionQuantityChanged:         1,
		ActionPriceChanged:            1,
		ActionLineItemModified:        2,
		ActionLineItemAdded:           1,
		ActionLineItemRemoved:         1,
		ActionPaymentAdded:            1,
		ActionPaymentRemoved:          2,
	}
	for action, n := range want {
		if got[action] != n {
			t.Errorf("%s: expected %d entries, got %d", action, n, got[action])
		}
	}
	for action := range got {
		if _, ok := want[action]; !ok {
			t.Errorf("unexpected action %s", action)
		}
	}
}

func TestDiffBill_Unvoid(t *testing.T) {
	prior := persisted(StatusPending)
	prior.Void("u1", "mistake", auditTime)
	next := prior.Clone()
	next.Unvoid()

	entries := DiffBill(prior, next, Actor{UserID: "u2"}, auditTime)
	if len(entries) != 1 || entries[0].Action != ActionBillUnvoided {
		t.Fatalf("expected one BILL_UNVOIDED entry, got %+v", entries)
	}
}

func TestDiffBill_VoidCarriesReason(t *testing.T) {
	prior := persisted(StatusPending)
	next := prior.Clone()
	next.Void("u1", "duplicate", auditTime)

	entries := DiffBill(prior, next, Actor{UserID: "u1"}, auditTime)
	if len(entries) != 1 || entries[0].Reason != "duplicate" {
		t.Fatalf("expected void entry with reason, got %+v", entries)
	}
}

func TestAuditRecorder_Record(t *testing.T) {
	repo := newMockAuditRepo()
	r := NewAuditRecorder(repo)
	prior := persisted(StatusPending, item("a", "10", 1))
	next := prior.Clone()
	next.LineItems[0].Quantity = 4

	entries, err := r.Record(context.Background(), prior, next, Actor{UserID: "u1"}, auditTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || len(repo.entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d returned and %d stored", len(entries), len(repo.entries))
	}
	e := repo.entries[0]
	if *e.OldValue != "1" || *e.NewValue != "4" || e.FieldName != "line_item[a].quantity" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestAuditRecorder_NothingToRecord(t *testing.T) {
	repo := newMockAuditRepo()
	repo.err = errors.New("should not be called")
	r := NewAuditRecorder(repo)
	b := persisted(StatusPending)

	entries, err := r.Record(context.Background(), b, b.Clone(), Actor{UserID: "u1"}, auditTime)
	if err != nil || entries != nil {
		t.Errorf("expected no entries and no error, got %v, %v", entries, err)
	}
}

func TestAuditRecorder_AppendFailure(t *testing.T) {
	repo := newMockAuditRepo()
	repo.err = errors.New("disk full")
	r := NewAuditRecorder(repo)

	if _, err := r.Record(context.Background(), nil, persisted(StatusPending), Actor{UserID: "u1"}, auditTime); err == nil {
		t.Error("expected error")
	}
}

func TestParseAuditAction(t *testing.T) {
	if a, err := ParseAuditAction("BILL_VOIDED"); err != nil || a != ActionBillVoided {
		t.Errorf("expected BILL_VOIDED, got %v, %v", a, err)
	}
	if _, err := ParseAuditAction("BILL_DELETED"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
