package cashier

import (
	"context"
	"fmt"
)

// saveTarget is the row a save writes to. prior is the persisted snapshot
// (nil for inserts); bill is the working copy mutated by the save.
type saveTarget struct {
	bill   *Bill
	prior  *Bill
	merged bool
}

// resolveTarget picks the row a save writes to. Updates lock the existing row.
// Creations first look for the patient's PENDING bill and fold into it; bills
// past PENDING are never merge targets, so a new row is inserted instead.
// Targets are always reloaded by ID so the caller's graph is never aliased.
func (s *Service) resolveTarget(ctx context.Context, in *Bill) (*saveTarget, error) {
	if !in.IsNew() {
		existing, err := s.bills.GetForUpdate(ctx, in.ID)
		if err != nil {
			return nil, fmt.Errorf("load bill %s: %w", in.ID, err)
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: bill %s does not exist", ErrValidation, in.ID)
		}
		return &saveTarget{bill: existing.Clone(), prior: existing}, nil
	}

	pending, err := s.bills.FindPendingByPatient(ctx, in.PatientID)
	if err != nil {
		return nil, fmt.Errorf("find pending bill for patient %s: %w", in.PatientID, err)
	}
	if pending != nil {
		s.logger.Info().
			Str("bill_id", pending.ID.String()).
			Str("patient_id", in.PatientID.String()).
			Msg("merging into pending bill")
		return &saveTarget{bill: pending.Clone(), prior: pending, merged: true}, nil
	}

	return &saveTarget{bill: &Bill{
		UUID:        in.UUID,
		PatientID:   in.PatientID,
		CashierID:   in.CashierID,
		CashPointID: in.CashPointID,
		Status:      StatusPending,
	}}, nil
}

// applyMerge folds an incoming creation into the patient's pending bill.
func applyMerge(target, in *Bill) error {
	if in.CashierID > 0 {
		target.CashierID = in.CashierID
	}
	if in.CashPointID > 0 {
		target.CashPointID = in.CashPointID
	}
	if in.Status != "" {
		if err := target.SetStatus(in.Status); err != nil {
			return err
		}
	}
	if err := MergeLineItems(target, in.LineItems); err != nil {
		return err
	}
	return MergePayments(target, in.Payments)
}
