package cashier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	bills    BillRepository
	audits   AuditRepository
	settings ReceiptSettingsRepository
	tx       Transactor
	receipts *ReceiptNumberGenerator
	recorder *AuditRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(bills BillRepository, audits AuditRepository, settings ReceiptSettingsRepository, counter SequenceCounter, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{
		bills:    bills,
		audits:   audits,
		settings: settings,
		tx:       tx,
		receipts: NewReceiptNumberGenerator(settings, counter),
		recorder: NewAuditRecorder(audits),
		logger:   logger.With().Str("component", "cashier").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for stamps, audit rows and dated
// receipt numbers.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.receipts.now = now
}

// -- Bill lifecycle --

// Save runs the whole orchestration in one transaction: merge-or-create,
// line item reconciliation, payment reconciliation and status derivation,
// receipt number assignment, change validation, persistence and audit.
func (s *Service) Save(ctx context.Context, by Actor, in *Bill) (*Bill, error) {
	if err := validateBill(in); err != nil {
		return nil, err
	}

	var saved *Bill
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.resolveTarget(ctx, in)
		if err != nil {
			return err
		}
		if err := applyIncoming(t, in); err != nil {
			return err
		}

		b := t.bill
		if b.ReceiptNumber == "" {
			number, err := s.receipts.Generate(ctx, b)
			if err != nil {
				return err
			}
			b.ReceiptNumber = number
		}
		if err := ValidateChanges(t.prior, b); err != nil {
			return err
		}

		now := s.now()
		stampLifecycle(t.prior, b, by, now)
		if t.prior == nil {
			if err := s.bills.Create(ctx, b); err != nil {
				return fmt.Errorf("create bill: %w", err)
			}
		} else {
			if err := s.bills.Update(ctx, b); err != nil {
				return fmt.Errorf("update bill %s: %w", b.ID, err)
			}
		}
		if _, err := s.recorder.Record(ctx, t.prior, b, by, now); err != nil {
			return err
		}

		if b.AdjustedBillID != nil && (t.prior == nil || t.prior.AdjustedBillID == nil) {
			if err := s.markAdjusted(ctx, by, b, now); err != nil {
				return err
			}
		}
		saved = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("bill_id", saved.ID.String()).
		Str("receipt_number", saved.ReceiptNumber).
		Str("status", string(saved.Status)).
		Msg("bill saved")
	return saved, nil
}

func applyIncoming(t *saveTarget, in *Bill) error {
	b := t.bill
	if t.merged {
		if err := applyMerge(b, in); err != nil {
			return err
		}
	} else {
		b.PatientID = in.PatientID
		b.CashierID = in.CashierID
		b.CashPointID = in.CashPointID
		// Editability follows the stored status, so items go first.
		if err := ReconcileLineItems(b, in.LineItems); err != nil {
			return err
		}
		if in.Status != "" && in.Status != b.Status {
			if err := b.SetStatus(in.Status); err != nil {
				return err
			}
		}
		if err := ReconcilePayments(b, in.Payments); err != nil {
			return err
		}
	}

	if b.ReceiptNumber == "" && in.ReceiptNumber != "" {
		b.ReceiptNumber = in.ReceiptNumber
	}
	if b.AdjustedBillID == nil && in.AdjustedBillID != nil {
		id := *in.AdjustedBillID
		b.AdjustedBillID = &id
	}
	if in.AdjustmentReason != "" {
		b.AdjustmentReason = in.AdjustmentReason
	}
	return nil
}

// markAdjusted flags the bill named by adjusting.AdjustedBillID as ADJUSTED.
func (s *Service) markAdjusted(ctx context.Context, by Actor, adjusting *Bill, now time.Time) error {
	adjusted, err := s.bills.GetForUpdate(ctx, *adjusting.AdjustedBillID)
	if err != nil {
		return fmt.Errorf("load adjusted bill: %w", err)
	}
	if adjusted == nil {
		return fmt.Errorf("%w: adjusted bill %s does not exist", ErrValidation, *adjusting.AdjustedBillID)
	}
	if adjusted.ID == adjusting.ID {
		return fmt.Errorf("%w: a bill cannot adjust itself", ErrValidation)
	}

	before := adjusted.Clone()
	if err := adjusted.SetStatus(StatusAdjusted); err != nil {
		return err
	}
	if !containsUUID(adjusted.AdjustedBy, adjusting.ID) {
		adjusted.AdjustedBy = append(adjusted.AdjustedBy, adjusting.ID)
	}
	if err := ValidateChanges(before, adjusted); err != nil {
		return err
	}
	stampLifecycle(before, adjusted, by, now)
	if err := s.bills.Update(ctx, adjusted); err != nil {
		return fmt.Errorf("update adjusted bill %s: %w", adjusted.ID, err)
	}
	if _, err := s.recorder.Record(ctx, before, adjusted, by, now); err != nil {
		return err
	}
	s.logger.Info().
		Str("bill_id", adjusted.ID.String()).
		Str("adjusted_by", adjusting.ID.String()).
		Msg("bill adjusted")
	return nil
}

// Void marks the bill voided. The reason is mandatory.
func (s *Service) Void(ctx context.Context, by Actor, id uuid.UUID, reason string) (*Bill, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: void reason is required", ErrValidation)
	}
	return s.toggleVoid(ctx, by, id, func(b *Bill, now time.Time) {
		b.Void(by.UserID, reason, now)
	}, true)
}

// Unvoid restores a voided bill.
func (s *Service) Unvoid(ctx context.Context, by Actor, id uuid.UUID) (*Bill, error) {
	return s.toggleVoid(ctx, by, id, func(b *Bill, _ time.Time) {
		b.Unvoid()
	}, false)
}

func (s *Service) toggleVoid(ctx context.Context, by Actor, id uuid.UUID, apply func(*Bill, time.Time), voided bool) (*Bill, error) {
	var result *Bill
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load bill %s: %w", id, err)
		}
		if b == nil || b.Voided == voided {
			result = b
			return nil
		}

		before := b.Clone()
		now := s.now()
		apply(b, now)
		if err := ValidateChanges(before, b); err != nil {
			return err
		}
		stampLifecycle(before, b, by, now)
		if err := s.bills.Update(ctx, b); err != nil {
			return fmt.Errorf("update bill %s: %w", id, err)
		}
		if _, err := s.recorder.Record(ctx, before, b, by, now); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		s.logger.Info().Str("bill_id", id.String()).Bool("voided", voided).Msg("bill void state changed")
	}
	return result, nil
}

// GenerateReceiptNumber returns the bill's receipt number, reserving a new
// one only when the bill has none. The bill itself is not modified.
func (s *Service) GenerateReceiptNumber(ctx context.Context, b *Bill) (string, error) {
	if b.ReceiptNumber != "" {
		return b.ReceiptNumber, nil
	}
	var number string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		number, err = s.receipts.Generate(ctx, b)
		return err
	})
	return number, err
}

// -- Queries --

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.bills.GetByID(ctx, id)
}

func (s *Service) GetBillByUUID(ctx context.Context, uuid string) (*Bill, error) {
	return s.bills.GetByUUID(ctx, uuid)
}

func (s *Service) SearchBills(ctx context.Context, q BillQuery, limit, offset int) ([]*Bill, int, error) {
	for _, st := range q.Statuses {
		if !validBillStatuses[st] {
			return nil, 0, fmt.Errorf("%w: invalid bill status: %q", ErrValidation, st)
		}
	}
	return s.bills.Search(ctx, q, limit, offset)
}

// AuditHistory pages through a bill's audit trail, newest first.
func (s *Service) AuditHistory(ctx context.Context, billID uuid.UUID, f AuditFilter, limit, offset int) ([]*BillAudit, int, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, fmt.Errorf("%w: audit date range ends before it starts", ErrValidation)
	}
	return s.audits.List(ctx, billID, f, limit, offset)
}

// -- Receipt settings --

func (s *Service) ReceiptSettings(ctx context.Context) (*ReceiptGeneratorModel, error) {
	m, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		def := DefaultReceiptGeneratorModel()
		m = &def
	}
	return m, nil
}

func (s *Service) UpdateReceiptSettings(ctx context.Context, m *ReceiptGeneratorModel) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.settings.Save(ctx, m)
}

// -- Administrative cleanup --

// PurgeBill hard-deletes a bill, its children and its audit trail. A bill
// that other bills adjust cannot be purged until they are.
func (s *Service) PurgeBill(ctx context.Context, by Actor, id uuid.UUID) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load bill %s: %w", id, err)
		}
		if b != nil && len(b.AdjustedBy) > 0 {
			return fmt.Errorf("%w: bill %s is adjusted by %d other bill(s)", ErrIllegalState, id, len(b.AdjustedBy))
		}
		if _, err := s.audits.Purge(ctx, id); err != nil {
			return fmt.Errorf("purge audit for bill %s: %w", id, err)
		}
		return s.bills.Purge(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Warn().Str("bill_id", id.String()).Str("user_id", by.UserID).Msg("bill purged")
	return nil
}

// PurgeAudit removes a bill's audit trail. It is the only path that deletes audit rows.
func (s *Service) PurgeAudit(ctx context.Context, by Actor, billID uuid.UUID) (int64, error) {
	n, err := s.audits.Purge(ctx, billID)
	if err != nil {
		return 0, err
	}
	s.logger.Warn().Str("bill_id", billID.String()).Str("user_id", by.UserID).Int64("rows", n).Msg("bill audit purged")
	return n, nil
}

// -- helpers --

func validateBill(b *Bill) error {
	if b == nil {
		return fmt.Errorf("%w: bill is required", ErrValidation)
	}
	if b.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if b.CashierID <= 0 {
		return fmt.Errorf("%w: cashier_id is required", ErrValidation)
	}
	if b.CashPointID <= 0 {
		return fmt.Errorf("%w: cash_point_id is required", ErrValidation)
	}
	if b.Status != "" && !validBillStatuses[b.Status] {
		return fmt.Errorf("%w: invalid bill status: %q", ErrValidation, b.Status)
	}
	if b.AdjustedBillID != nil && strings.TrimSpace(b.AdjustmentReason) == "" {
		return fmt.Errorf("%w: adjustment_reason is required when adjusting a bill", ErrValidation)
	}
	if err := checkIncomingLineItems(b.LineItems); err != nil {
		return err
	}
	return checkIncomingPayments(b.Payments)
}

// stampLifecycle fills identities and creator, change and void stamps.
func stampLifecycle(prior, b *Bill, by Actor, now time.Time) {
	if prior == nil {
		b.CreatorID = by.UserID
		b.CreatedAt = now
	} else {
		b.ChangedByID = strPtr(by.UserID)
		b.ChangedAt = &now
	}
	stampVoid(&b.Lifecycle, by, now)
	for _, li := range b.LineItems {
		stampChild(&li.ID, &li.UUID, &li.Lifecycle, by, now)
	}
	for _, p := range b.Payments {
		stampChild(&p.ID, &p.UUID, &p.Lifecycle, by, now)
	}
}

func stampChild(id *uuid.UUID, uid *string, l *Lifecycle, by Actor, now time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if *uid == "" {
		*uid = id.String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatorID = by.UserID
		l.CreatedAt = now
	}
	stampVoid(l, by, now)
}

func stampVoid(l *Lifecycle, by Actor, now time.Time) {
	if !l.Voided {
		l.VoidedByID = nil
		l.VoidedAt = nil
		l.VoidReason = nil
		return
	}
	if l.VoidedAt == nil {
		l.VoidedByID = strPtr(by.UserID)
		l.VoidedAt = &now
	}
}
