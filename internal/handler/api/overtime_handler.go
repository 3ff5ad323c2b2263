package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"timesheet/internal/overtime"
)

const maxOvertimeMonths = 24

type OvertimeService interface {
	MonthlyStats(ctx context.Context, userID string, year int, month time.Month, opening time.Duration) (overtime.MonthlySummary, error)
	Range(ctx context.Context, userID string, from, to time.Time, opening time.Duration) ([]overtime.MonthlySummary, error)
}

type OvertimeHandler struct {
	service OvertimeService
	logger  *zap.Logger
}

func NewOvertimeHandler(service OvertimeService, logger *zap.Logger) *OvertimeHandler {
	return &OvertimeHandler{service: service, logger: logger}
}

// Monthly handles GET /api/users/:userId/overtime?year=&month=&opening=.
// opening is the carried-over balance in hours.
func (h *OvertimeHandler) Monthly(c echo.Context) error {
	now := time.Now().UTC()
	year, err := queryInt(c, "year", now.Year())
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "year must be an integer")
	}
	month, err := queryInt(c, "month", int(now.Month()))
	if err != nil || month < 1 || month > 12 {
		return errorResponse(c, http.StatusBadRequest, "month must be between 1 and 12")
	}
	opening, err := openingBalance(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "opening must be a number of hours")
	}

	summary, err := h.service.MonthlyStats(c.Request().Context(), c.Param("userId"), year, time.Month(month), opening)
	if err != nil {
		h.logger.Error("Overtime computation failed", zap.String("user_id", c.Param("userId")), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
	return successResponse(c, "Successful", summary)
}

// Range handles GET /api/users/:userId/overtime/range?from=2024-01&to=2024-03&opening=.
// Each month opens with the previous month's closing balance.
func (h *OvertimeHandler) Range(c echo.Context) error {
	from, err := time.Parse("2006-01", c.QueryParam("from"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "from must be YYYY-MM")
	}
	to, err := time.Parse("2006-01", c.QueryParam("to"))
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "to must be YYYY-MM")
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()-from.Month()) + 1
	if months < 1 || months > maxOvertimeMonths {
		return errorResponse(c, http.StatusBadRequest, "range must cover 1 to "+strconv.Itoa(maxOvertimeMonths)+" months")
	}
	opening, err := openingBalance(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "opening must be a number of hours")
	}

	summaries, err := h.service.Range(c.Request().Context(), c.Param("userId"), from, to, opening)
	if err != nil {
		h.logger.Error("Overtime computation failed", zap.String("user_id", c.Param("userId")), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
	return successResponse(c, "Successful", summaries)
}

func openingBalance(c echo.Context) (time.Duration, error) {
	raw := c.QueryParam("opening")
	if raw == "" {
		return 0, nil
	}
	h, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(h * float64(time.Hour)), nil
}
