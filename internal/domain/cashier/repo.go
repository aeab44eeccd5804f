package cashier

import (
	"context"

	"github.com/google/uuid"
)

// BillRepository persists whole bill graphs. Lookups that miss return (nil, nil).
type BillRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetByUUID(ctx context.Context, uuid string) (*Bill, error)
	// GetForUpdate loads the bill and locks its row for the current transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	// FindPendingByPatient serializes concurrent callers on the patient for the
	// rest of the transaction and returns the patient's non-voided PENDING bill.
	FindPendingByPatient(ctx context.Context, patientID uuid.UUID) (*Bill, error)
	Create(ctx context.Context, b *Bill) error
	// Update writes the bill row and diffs its line items and payments,
	// deleting children that are no longer present.
	Update(ctx context.Context, b *Bill) error
	Purge(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, q BillQuery, limit, offset int) ([]*Bill, int, error)
}

type AuditRepository interface {
	Append(ctx context.Context, entries []*BillAudit) error
	List(ctx context.Context, billID uuid.UUID, f AuditFilter, limit, offset int) ([]*BillAudit, int, error)
	Purge(ctx context.Context, billID uuid.UUID) (int64, error)
}

// SequenceCounter atomically reserves the next value for a grouping key.
// Two reservations for the same key never return the same value.
type SequenceCounter interface {
	ReserveNext(ctx context.Context, groupKey string) (int64, error)
}

// ReceiptSettingsRepository loads the current receipt generator model.
type ReceiptSettingsRepository interface {
	Load(ctx context.Context) (*ReceiptGeneratorModel, error)
	Save(ctx context.Context, m *ReceiptGeneratorModel) error
}

// Transactor runs fn inside a single transaction carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
