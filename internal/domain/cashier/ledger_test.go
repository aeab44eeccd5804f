package cashier

import (
	"errors"
	"testing"
)

func TestBill_TotalPayments_SkipsVoided(t *testing.T) {
	voided := payment("v", "100")
	voided.Voided = true
	b := &Bill{Payments: []*Payment{payment("a", "10"), voided, payment("b", "2.25"), nil}}
	if got := b.TotalPayments(); !got.Equal(dec("12.25")) {
		t.Errorf("expected 12.25, got %s", got)
	}
}

func TestBill_SynchronizeStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   BillStatus
		payments []*Payment
		want     BillStatus
	}{
		{"no payments keeps status", StatusPending, nil, StatusPending},
		{"zero payment keeps status", StatusPending, []*Payment{payment("a", "0")}, StatusPending},
		{"partial payment posts", StatusPending, []*Payment{payment("a", "40")}, StatusPosted},
		{"exact payment pays", StatusPosted, []*Payment{payment("a", "40"), payment("b", "60")}, StatusPaid},
		{"overpayment pays", StatusPending, []*Payment{payment("a", "150")}, StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := persisted(tt.status, item("x", "100", 1))
			b.Payments = tt.payments
			b.SynchronizeStatus()
			if b.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, b.Status)
			}
		})
	}
}

func TestBill_AddRemovePayment(t *testing.T) {
	b := persisted(StatusPending, item("x", "100", 1))
	p := payment("a", "100")

	b.AddPayment(p)
	if p.BillID != b.ID {
		t.Error("expected payment linked to bill")
	}
	if b.Status != StatusPaid {
		t.Fatalf("expected PAID, got %s", b.Status)
	}

	partial := payment("b", "30")
	b.Payments = nil
	b.AddPayment(partial)
	b.AddPayment(payment("c", "20"))
	if b.Status != StatusPosted {
		t.Fatalf("expected POSTED, got %s", b.Status)
	}
	if !b.RemovePayment(&Payment{UUID: "b"}) {
		t.Fatal("expected payment to be removed")
	}
	if len(b.Payments) != 1 || b.Payments[0].UUID != "c" {
		t.Errorf("unexpected payments after removal: %+v", b.Payments)
	}
	if b.RemovePayment(&Payment{UUID: "missing"}) {
		t.Error("expected no removal for unknown payment")
	}
}

func TestBill_RemovePayment_ByPointerWithoutUUID(t *testing.T) {
	b := persisted(StatusPending, item("x", "100", 1))
	p1 := &Payment{PaymentModeID: 1, AmountTendered: dec("10")}
	p2 := &Payment{PaymentModeID: 1, AmountTendered: dec("10")}
	b.AddPayment(p1)
	b.AddPayment(p2)

	if !b.RemovePayment(p2) {
		t.Fatal("expected removal")
	}
	if len(b.Payments) != 1 || b.Payments[0] != p1 {
		t.Error("wrong payment removed")
	}
}

func TestReconcilePayments(t *testing.T) {
	b := persisted(StatusPending, item("x", "100", 1))
	b.Payments = []*Payment{payment("a", "30"), payment("b", "30")}

	voidA := payment("a", "999")
	voidA.Voided = true
	voidA.Attributes = []PaymentAttribute{{Name: "ref", Value: "R1"}}

	err := ReconcilePayments(b, []*Payment{voidA, payment("c", "100")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(b.Payments))
	}
	a := findPayment(b.Payments, "a")
	if !a.Voided || !a.AmountTendered.Equal(dec("30")) || len(a.Attributes) != 1 {
		t.Errorf("expected only void and attributes taken: %+v", a)
	}
	if findPayment(b.Payments, "b") != nil {
		t.Error("expected payment b removed")
	}
	if b.Status != StatusPaid {
		t.Errorf("expected PAID, got %s", b.Status)
	}
}

func TestReconcilePayments_PaymentsAllowedOnLockedBill(t *testing.T) {
	b := persisted(StatusPaid, item("x", "100", 1))
	b.Payments = []*Payment{payment("a", "100")}
	if err := ReconcilePayments(b, []*Payment{payment("a", "100"), payment("b", "5")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Payments) != 2 {
		t.Errorf("expected 2 payments, got %d", len(b.Payments))
	}
}

func TestMergePayments_KeepsExisting(t *testing.T) {
	b := persisted(StatusPending, item("x", "100", 1))
	b.Payments = []*Payment{payment("a", "30")}
	if err := MergePayments(b, []*Payment{payment("b", "20")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Payments) != 2 || b.Status != StatusPosted {
		t.Errorf("unexpected result: %d payments, status %s", len(b.Payments), b.Status)
	}
}

func TestCheckIncomingPayments(t *testing.T) {
	neg := payment("n", "-1")
	tests := []struct {
		name string
		in   []*Payment
	}{
		{"nil", []*Payment{nil}},
		{"no mode", []*Payment{{UUID: "a", AmountTendered: dec("1")}}},
		{"negative", []*Payment{neg}},
		{"duplicate", []*Payment{payment("a", "1"), payment("a", "2")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := checkIncomingPayments(tt.in); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}
