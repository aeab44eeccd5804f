package cashier

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cashier/internal/platform/auth"
	"github.com/ehr/cashier/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Cashier endpoints
	cashierGroup := api.Group("", auth.RequireRole("cashier"))
	cashierGroup.POST("/bills", h.CreateBill)
	cashierGroup.GET("/bills", h.SearchBills)
	cashierGroup.GET("/bills/:id", h.GetBill)
	cashierGroup.PUT("/bills/:id", h.UpdateBill)
	cashierGroup.POST("/bills/:id/void", h.VoidBill)
	cashierGroup.POST("/bills/:id/unvoid", h.UnvoidBill)
	cashierGroup.GET("/bills/:id/audit", h.GetAuditHistory)
	cashierGroup.POST("/receipt-numbers", h.GenerateReceiptNumber)
	cashierGroup.GET("/receipt-settings", h.GetReceiptSettings)

	// Admin endpoints
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.DELETE("/bills/:id", h.PurgeBill)
	adminGroup.DELETE("/bills/:id/audit", h.PurgeAudit)
	adminGroup.PUT("/receipt-settings", h.UpdateReceiptSettings)
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrIllegalState), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrGeneration):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func actorFrom(c echo.Context) Actor {
	return Actor{UserID: auth.UserIDFromContext(c.Request().Context())}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Bill Handlers --

func (h *Handler) CreateBill(c echo.Context) error {
	var b Bill
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.ID = uuid.Nil
	cashierID, cashPointID := auth.CashierFromContext(c.Request().Context())
	if b.CashierID == 0 {
		b.CashierID = cashierID
	}
	if b.CashPointID == 0 {
		b.CashPointID = cashPointID
	}

	saved, err := h.svc.Save(c.Request().Context(), actorFrom(c), &b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, saved)
}

func (h *Handler) GetBill(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		b   *Bill
		err error
	)
	if id, perr := uuid.Parse(c.Param("id")); perr == nil {
		b, err = h.svc.GetBill(ctx, id)
	}
	if err == nil && b == nil {
		b, err = h.svc.GetBillByUUID(ctx, c.Param("id"))
	}
	if err != nil {
		return httpError(err)
	}
	if b == nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) UpdateBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	existing, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if existing == nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}

	var b Bill
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.ID = id
	saved, err := h.svc.Save(c.Request().Context(), actorFrom(c), &b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) SearchBills(c echo.Context) error {
	var q BillQuery
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		q.PatientID = &pid
	}
	for param, dst := range map[string]**int64{"cashier_id": &q.CashierID, "cash_point_id": &q.CashPointID} {
		if v := c.QueryParam(param); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &n
		}
	}
	if v := c.QueryParam("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			q.Statuses = append(q.Statuses, BillStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	q.IncludeVoided = c.QueryParam("include_voided") == "true"

	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchBills(c.Request().Context(), q, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) VoidBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req voidRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Void(c.Request().Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	if b == nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) UnvoidBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Unvoid(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	if b == nil {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) PurgeBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.PurgeBill(c.Request().Context(), actorFrom(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Audit Handlers --

func (h *Handler) GetAuditHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var f AuditFilter
	if v := c.QueryParam("action"); v != "" {
		a, err := ParseAuditAction(strings.ToUpper(v))
		if err != nil {
			return httpError(err)
		}
		f.Action = &a
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.QueryParam(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param+": expected RFC 3339 timestamp")
			}
			*dst = &t
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.AuditHistory(c.Request().Context(), id, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) PurgeAudit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.PurgeAudit(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"purged": n})
}

// -- Receipt Handlers --

func (h *Handler) GenerateReceiptNumber(c echo.Context) error {
	var b Bill
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cashierID, cashPointID := auth.CashierFromContext(c.Request().Context())
	if b.CashierID == 0 {
		b.CashierID = cashierID
	}
	if b.CashPointID == 0 {
		b.CashPointID = cashPointID
	}
	number, err := h.svc.GenerateReceiptNumber(c.Request().Context(), &b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"receipt_number": number})
}

func (h *Handler) GetReceiptSettings(c echo.Context) error {
	m, err := h.svc.ReceiptSettings(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateReceiptSettings(c echo.Context) error {
	var m ReceiptGeneratorModel
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateReceiptSettings(c.Request().Context(), &m); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}
