package cashier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cashier/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// mapPgError turns unique and foreign key violations into ErrConflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23503") {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sendBatch runs queued single-row writes. A statement that touches no row
// hit an id owned by another bill and fails the batch with ErrConflict.
func sendBatch(ctx context.Context, c queryable, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := c.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return mapPgError(err)
		}
		if tag.RowsAffected() == 0 {
			br.Close()
			return fmt.Errorf("%w: child row %d belongs to another bill", ErrConflict, i)
		}
	}
	return br.Close()
}

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const billCols = `id, uuid, patient_id, cashier_id, cash_point_id, status,
	COALESCE(receipt_number, ''), adjusted_bill_id, COALESCE(adjustment_reason, ''),
	creator_id, created_at, changed_by_id, changed_at,
	voided, voided_by_id, voided_at, void_reason`

const lineItemCols = `id, bill_id, uuid, item_id, service_id, COALESCE(price_name, ''),
	price, quantity, line_item_order, payment_status,
	creator_id, created_at, changed_by_id, changed_at,
	voided, voided_by_id, voided_at, void_reason`

const paymentCols = `id, bill_id, uuid, payment_mode_id, amount, amount_tendered, attributes,
	creator_id, created_at, changed_by_id, changed_at,
	voided, voided_by_id, voided_at, void_reason`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.UUID, &b.PatientID, &b.CashierID, &b.CashPointID, &b.Status,
		&b.ReceiptNumber, &b.AdjustedBillID, &b.AdjustmentReason,
		&b.CreatorID, &b.CreatedAt, &b.ChangedByID, &b.ChangedAt,
		&b.Voided, &b.VoidedByID, &b.VoidedAt, &b.VoidReason)
	return &b, err
}

func scanLineItem(row pgx.Row) (*LineItem, error) {
	var li LineItem
	err := row.Scan(&li.ID, &li.BillID, &li.UUID, &li.ItemID, &li.ServiceID, &li.PriceName,
		&li.Price, &li.Quantity, &li.LineItemOrder, &li.PaymentStatus,
		&li.CreatorID, &li.CreatedAt, &li.ChangedByID, &li.ChangedAt,
		&li.Voided, &li.VoidedByID, &li.VoidedAt, &li.VoidReason)
	return &li, err
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.BillID, &p.UUID, &p.PaymentModeID, &p.Amount, &p.AmountTendered, &p.Attributes,
		&p.CreatorID, &p.CreatedAt, &p.ChangedByID, &p.ChangedAt,
		&p.Voided, &p.VoidedByID, &p.VoidedAt, &p.VoidReason)
	return &p, err
}

// getOne loads a single bill graph; a missing row yields (nil, nil).
func (r *billRepoPG) getOne(ctx context.Context, query string, args ...interface{}) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *billRepoPG) loadChildren(ctx context.Context, b *Bill) error {
	c := r.conn(ctx)

	rows, err := c.Query(ctx, `SELECT `+lineItemCols+` FROM bill_line_item WHERE bill_id = $1 ORDER BY line_item_order, created_at`, b.ID)
	if err != nil {
		return err
	}
	b.LineItems, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*LineItem, error) { return scanLineItem(row) })
	if err != nil {
		return fmt.Errorf("load line items for bill %s: %w", b.ID, err)
	}

	rows, err = c.Query(ctx, `SELECT `+paymentCols+` FROM bill_payment WHERE bill_id = $1 ORDER BY created_at, id`, b.ID)
	if err != nil {
		return err
	}
	b.Payments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Payment, error) { return scanPayment(row) })
	if err != nil {
		return fmt.Errorf("load payments for bill %s: %w", b.ID, err)
	}

	rows, err = c.Query(ctx, `SELECT id FROM bill WHERE adjusted_bill_id = $1 ORDER BY created_at`, b.ID)
	if err != nil {
		return err
	}
	b.AdjustedBy, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("load adjustments of bill %s: %w", b.ID, err)
	}
	return nil
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.getOne(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1`, id)
}

func (r *billRepoPG) GetByUUID(ctx context.Context, uuid string) (*Bill, error) {
	return r.getOne(ctx, `SELECT `+billCols+` FROM bill WHERE uuid = $1`, uuid)
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.getOne(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1 FOR UPDATE`, id)
}

// FindPendingByPatient takes a transaction-scoped advisory lock on the patient
// so concurrent creations for one patient run one after another. Callers must
// be inside a transaction for the lock to outlive the statement.
func (r *billRepoPG) FindPendingByPatient(ctx context.Context, patientID uuid.UUID) (*Bill, error) {
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		"bill-patient:"+patientID.String()); err != nil {
		return nil, fmt.Errorf("lock patient %s: %w", patientID, err)
	}
	return r.getOne(ctx, `SELECT `+billCols+` FROM bill
		WHERE patient_id = $1 AND status = 'PENDING' AND NOT voided
		ORDER BY created_at LIMIT 1 FOR UPDATE`, patientID)
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.UUID == "" {
		b.UUID = b.ID.String()
	}
	c := r.conn(ctx)
	_, err := c.Exec(ctx, `
		INSERT INTO bill (id, uuid, patient_id, cashier_id, cash_point_id, status,
			receipt_number, adjusted_bill_id, adjustment_reason,
			creator_id, created_at, voided, voided_by_id, voided_at, void_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		b.ID, b.UUID, b.PatientID, b.CashierID, b.CashPointID, b.Status,
		nullIfEmpty(b.ReceiptNumber), b.AdjustedBillID, nullIfEmpty(b.AdjustmentReason),
		b.CreatorID, b.CreatedAt, b.Voided, b.VoidedByID, b.VoidedAt, b.VoidReason)
	if err != nil {
		return mapPgError(err)
	}
	return r.upsertChildren(ctx, c, b)
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	c := r.conn(ctx)
	tag, err := c.Exec(ctx, `
		UPDATE bill SET patient_id=$2, cashier_id=$3, cash_point_id=$4, status=$5,
			receipt_number=$6, adjusted_bill_id=$7, adjustment_reason=$8,
			changed_by_id=$9, changed_at=$10,
			voided=$11, voided_by_id=$12, voided_at=$13, void_reason=$14
		WHERE id = $1`,
		b.ID, b.PatientID, b.CashierID, b.CashPointID, b.Status,
		nullIfEmpty(b.ReceiptNumber), b.AdjustedBillID, nullIfEmpty(b.AdjustmentReason),
		b.ChangedByID, b.ChangedAt,
		b.Voided, b.VoidedByID, b.VoidedAt, b.VoidReason)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bill %s not found", b.ID)
	}

	lineItemIDs := make([]string, 0, len(b.LineItems))
	for _, li := range b.LineItems {
		lineItemIDs = append(lineItemIDs, li.ID.String())
	}
	paymentIDs := make([]string, 0, len(b.Payments))
	for _, p := range b.Payments {
		paymentIDs = append(paymentIDs, p.ID.String())
	}
	if _, err := c.Exec(ctx, `DELETE FROM bill_line_item WHERE bill_id = $1 AND id <> ALL($2::uuid[])`, b.ID, lineItemIDs); err != nil {
		return err
	}
	if _, err := c.Exec(ctx, `DELETE FROM bill_payment WHERE bill_id = $1 AND id <> ALL($2::uuid[])`, b.ID, paymentIDs); err != nil {
		return err
	}
	return r.upsertChildren(ctx, c, b)
}

func (r *billRepoPG) upsertChildren(ctx context.Context, c queryable, b *Bill) error {
	batch := &pgx.Batch{}
	for _, li := range b.LineItems {
		li.BillID = b.ID
		batch.Queue(`
			INSERT INTO bill_line_item (id, bill_id, uuid, item_id, service_id, price_name,
				price, quantity, line_item_order, payment_status,
				creator_id, created_at, changed_by_id, changed_at,
				voided, voided_by_id, voided_at, void_reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (id) DO UPDATE SET
				item_id=EXCLUDED.item_id, service_id=EXCLUDED.service_id, price_name=EXCLUDED.price_name,
				price=EXCLUDED.price, quantity=EXCLUDED.quantity, line_item_order=EXCLUDED.line_item_order,
				payment_status=EXCLUDED.payment_status,
				changed_by_id=EXCLUDED.changed_by_id, changed_at=EXCLUDED.changed_at,
				voided=EXCLUDED.voided, voided_by_id=EXCLUDED.voided_by_id,
				voided_at=EXCLUDED.voided_at, void_reason=EXCLUDED.void_reason
			WHERE bill_line_item.bill_id = EXCLUDED.bill_id`,
			li.ID, li.BillID, li.UUID, li.ItemID, li.ServiceID, nullIfEmpty(li.PriceName),
			li.Price, li.Quantity, li.LineItemOrder, li.PaymentStatus,
			li.CreatorID, li.CreatedAt, li.ChangedByID, li.ChangedAt,
			li.Voided, li.VoidedByID, li.VoidedAt, li.VoidReason)
	}
	for _, p := range b.Payments {
		p.BillID = b.ID
		attrs := p.Attributes
		if attrs == nil {
			attrs = []PaymentAttribute{}
		}
		batch.Queue(`
			INSERT INTO bill_payment (id, bill_id, uuid, payment_mode_id, amount, amount_tendered, attributes,
				creator_id, created_at, changed_by_id, changed_at,
				voided, voided_by_id, voided_at, void_reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO UPDATE SET
				attributes=EXCLUDED.attributes,
				changed_by_id=EXCLUDED.changed_by_id, changed_at=EXCLUDED.changed_at,
				voided=EXCLUDED.voided, voided_by_id=EXCLUDED.voided_by_id,
				voided_at=EXCLUDED.voided_at, void_reason=EXCLUDED.void_reason
			WHERE bill_payment.bill_id = EXCLUDED.bill_id`,
			p.ID, p.BillID, p.UUID, p.PaymentModeID, p.Amount, p.AmountTendered, attrs,
			p.CreatorID, p.CreatedAt, p.ChangedByID, p.ChangedAt,
			p.Voided, p.VoidedByID, p.VoidedAt, p.VoidReason)
	}
	return sendBatch(ctx, c, batch)
}

// Purge deletes the bill's payments, line items and the bill row, in that order.
func (r *billRepoPG) Purge(ctx context.Context, id uuid.UUID) error {
	c := r.conn(ctx)
	for _, stmt := range []string{
		`DELETE FROM bill_payment WHERE bill_id = $1`,
		`DELETE FROM bill_line_item WHERE bill_id = $1`,
		`DELETE FROM bill WHERE id = $1`,
	} {
		if _, err := c.Exec(ctx, stmt, id); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

func (r *billRepoPG) Search(ctx context.Context, q BillQuery, limit, offset int) ([]*Bill, int, error) {
	where, args := billSearchClause(q)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bill`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+billCols+` FROM bill%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	bills, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Bill, error) { return scanBill(row) })
	if err != nil {
		return nil, 0, err
	}
	for _, b := range bills {
		if err := r.loadChildren(ctx, b); err != nil {
			return nil, 0, err
		}
	}
	return bills, total, nil
}

func billSearchClause(q BillQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.PatientID != nil {
		add("patient_id = $%d", *q.PatientID)
	}
	if q.CashierID != nil {
		add("cashier_id = $%d", *q.CashierID)
	}
	if q.CashPointID != nil {
		add("cash_point_id = $%d", *q.CashPointID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if !q.IncludeVoided {
		conds = append(conds, "NOT voided")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// =========== Audit Repository ===========

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository { return &auditRepoPG{pool: pool} }

func (r *auditRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

var auditCopyCols = []string{"id", "bill_id", "action", "field_name", "old_value", "new_value", "reason", "user_id", "created_at"}

func (r *auditRepoPG) Append(ctx context.Context, entries []*BillAudit) error {
	_, err := r.conn(ctx).CopyFrom(ctx, pgx.Identifier{"bill_audit"}, auditCopyCols,
		pgx.CopyFromSlice(len(entries), func(i int) ([]interface{}, error) {
			e := entries[i]
			return []interface{}{e.ID, e.BillID, string(e.Action), nullIfEmpty(e.FieldName),
				e.OldValue, e.NewValue, nullIfEmpty(e.Reason), e.UserID, e.CreatedAt}, nil
		}))
	return err
}

func (r *auditRepoPG) List(ctx context.Context, billID uuid.UUID, f AuditFilter, limit, offset int) ([]*BillAudit, int, error) {
	where, args := auditFilterClause(billID, f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bill_audit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT id, bill_id, action, COALESCE(field_name, ''), old_value, new_value,
			COALESCE(reason, ''), user_id, created_at
		FROM bill_audit%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*BillAudit, error) {
		var a BillAudit
		err := row.Scan(&a.ID, &a.BillID, &a.Action, &a.FieldName, &a.OldValue, &a.NewValue,
			&a.Reason, &a.UserID, &a.CreatedAt)
		return &a, err
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func auditFilterClause(billID uuid.UUID, f AuditFilter) (string, []interface{}) {
	conds := []string{"bill_id = $1"}
	args := []interface{}{billID}
	if f.Action != nil {
		args = append(args, string(*f.Action))
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *auditRepoPG) Purge(ctx context.Context, billID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_audit WHERE bill_id = $1`, billID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
