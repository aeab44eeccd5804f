package cashier

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =========== Receipt Sequence ===========

type sequenceCounterPG struct{ pool *pgxpool.Pool }

func NewSequenceCounterPG(pool *pgxpool.Pool) SequenceCounter { return &sequenceCounterPG{pool: pool} }

// ReserveNext increments the counter row under its row lock; the first
// reservation for a key returns 1.
func (r *sequenceCounterPG) ReserveNext(ctx context.Context, groupKey string) (int64, error) {
	var next int64
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO receipt_sequence (group_key, value) VALUES ($1, 1)
		ON CONFLICT (group_key) DO UPDATE SET value = receipt_sequence.value + 1
		RETURNING value`, groupKey).Scan(&next)
	return next, err
}

// =========== Receipt Settings ===========

type receiptSettingsRepoPG struct {
	pool     *pgxpool.Pool
	fallback ReceiptGeneratorModel
}

// NewReceiptSettingsRepoPG returns a settings store that falls back to the
// given model until settings are saved.
func NewReceiptSettingsRepoPG(pool *pgxpool.Pool, fallback ReceiptGeneratorModel) ReceiptSettingsRepository {
	return &receiptSettingsRepoPG{pool: pool, fallback: fallback}
}

func (r *receiptSettingsRepoPG) Load(ctx context.Context) (*ReceiptGeneratorModel, error) {
	var m ReceiptGeneratorModel
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT grouping_type, sequence_type, separator, sequence_padding,
			cashier_prefix, cash_point_prefix, include_check_digit
		FROM receipt_generator_settings WHERE id = 1`).
		Scan(&m.Grouping, &m.SequenceType, &m.Separator, &m.SequencePadding,
			&m.CashierPrefix, &m.CashPointPrefix, &m.IncludeCheckDigit)
	if errors.Is(err, pgx.ErrNoRows) {
		fallback := r.fallback
		return &fallback, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *receiptSettingsRepoPG) Save(ctx context.Context, m *ReceiptGeneratorModel) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO receipt_generator_settings (id, grouping_type, sequence_type, separator, sequence_padding,
			cashier_prefix, cash_point_prefix, include_check_digit, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			grouping_type=EXCLUDED.grouping_type, sequence_type=EXCLUDED.sequence_type,
			separator=EXCLUDED.separator, sequence_padding=EXCLUDED.sequence_padding,
			cashier_prefix=EXCLUDED.cashier_prefix, cash_point_prefix=EXCLUDED.cash_point_prefix,
			include_check_digit=EXCLUDED.include_check_digit, updated_at=NOW()`,
		string(m.Grouping), string(m.SequenceType), m.Separator, m.SequencePadding,
		m.CashierPrefix, m.CashPointPrefix, m.IncludeCheckDigit)
	return err
}
