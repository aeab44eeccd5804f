package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cashier/internal/platform/auth"
)

// Parameter is a named query string argument bound positionally into a
// measure's SQL. Date parameters are parsed as YYYY-MM-DD.
type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

const (
	ParamDate   = "date"
	ParamString = "string"
)

// MeasureDefinition defines a cashier report with its SQL query.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"-"`
	Parameters  []Parameter `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

var dateRange = []Parameter{
	{Name: "from", Type: ParamDate, Required: true},
	{Name: "to", Type: ParamDate, Required: true},
}

// PredefinedMeasures is the list of available cashier reports. Amounts are
// returned as text so decimals survive JSON encoding unchanged.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "daily-takings",
		Name:        "Daily Takings",
		Description: "Tendered amounts per day and cash point over non-voided payments on non-voided bills",
		SQL: `SELECT date_trunc('day', p.created_at)::date AS day, b.cash_point_id,
				COUNT(*) AS payments, SUM(p.amount_tendered)::text AS tendered
			FROM bill_payment p JOIN bill b ON b.id = p.bill_id
			WHERE NOT p.voided AND NOT b.voided
				AND p.created_at >= $1 AND p.created_at < $2::date + 1
			GROUP BY 1, 2 ORDER BY 1, 2`,
		Parameters: dateRange,
	},
	{
		ID:          "payments-by-mode",
		Name:        "Payments by Mode",
		Description: "Tendered amounts grouped by payment mode",
		SQL: `SELECT p.payment_mode_id, COUNT(*) AS payments, SUM(p.amount_tendered)::text AS tendered
			FROM bill_payment p JOIN bill b ON b.id = p.bill_id
			WHERE NOT p.voided AND NOT b.voided
				AND p.created_at >= $1 AND p.created_at < $2::date + 1
			GROUP BY p.payment_mode_id ORDER BY p.payment_mode_id`,
		Parameters: dateRange,
	},
	{
		ID:          "outstanding-bills",
		Name:        "Outstanding Bills",
		Description: "Non-voided PENDING and POSTED bills with their remaining balance",
		SQL: `SELECT b.id, b.receipt_number, b.patient_id, b.status,
				COALESCE(li.total, 0)::text AS total,
				COALESCE(pay.paid, 0)::text AS paid,
				(COALESCE(li.total, 0) - COALESCE(pay.paid, 0))::text AS balance
			FROM bill b
			LEFT JOIN (SELECT bill_id, SUM(price * quantity) AS total FROM bill_line_item
				WHERE NOT voided GROUP BY bill_id) li ON li.bill_id = b.id
			LEFT JOIN (SELECT bill_id, SUM(amount_tendered) AS paid FROM bill_payment
				WHERE NOT voided GROUP BY bill_id) pay ON pay.bill_id = b.id
			WHERE NOT b.voided AND b.status IN ('PENDING', 'POSTED')
			ORDER BY b.created_at`,
		Parameters: []Parameter{},
	},
	{
		ID:          "bill-status-summary",
		Name:        "Bill Status Summary",
		Description: "Count of bills by status, optionally for one cashier",
		SQL: `SELECT status, COUNT(*) AS total FROM bill
			WHERE NOT voided AND ($1 = '' OR cashier_id::text = $1)
			GROUP BY status ORDER BY total DESC`,
		Parameters: []Parameter{{Name: "cashier_id", Type: ParamString}},
	},
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a new reporting handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole("admin", "cashier"))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	args, params, err := BindParameters(measure, c.QueryParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now(),
		Results:     results,
		Parameters:  params,
	})
}

// BindParameters reads the measure's parameters through lookup, in
// declaration order, and returns the positional SQL arguments.
func BindParameters(m *MeasureDefinition, lookup func(string) string) ([]interface{}, map[string]string, error) {
	args := make([]interface{}, 0, len(m.Parameters))
	params := map[string]string{}
	for _, p := range m.Parameters {
		v := lookup(p.Name)
		if v == "" && p.Required {
			return nil, nil, fmt.Errorf("parameter %q is required", p.Name)
		}
		if v != "" {
			params[p.Name] = v
		}
		switch p.Type {
		case ParamDate:
			if v == "" {
				args = append(args, nil)
				continue
			}
			d, err := time.Parse("2006-01-02", v)
			if err != nil {
				return nil, nil, fmt.Errorf("parameter %q: expected YYYY-MM-DD", p.Name)
			}
			args = append(args, d)
		default:
			args = append(args, v)
		}
	}
	return args, params, nil
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (h *Handler) executeSQL(ctx context.Context, sql string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := h.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
