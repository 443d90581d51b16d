package handlers

import (
	"net/http"
	"strconv"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/services"
)

const (
	defaultAnalyticsMonths = 12
	maxAnalyticsMonths     = 36
)

type DashboardHandler struct {
	*Page
	dashboard *services.DashboardService
	profiles  *services.ProfileService
}

func NewDashboardHandler(p *Page, dashboard *services.DashboardService, profiles *services.ProfileService) *DashboardHandler {
	return &DashboardHandler{Page: p, dashboard: dashboard, profiles: profiles}
}

func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	summary, err := h.dashboard.Summary(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	profile, err := h.profiles.Profile(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats := make([]services.StatusStat, 0, len(models.InvoiceStatuses))
	for _, st := range models.InvoiceStatuses {
		stats = append(stats, summary.ByStatus[st])
	}
	h.render(w, r, "dashboard.html", map[string]any{
		"Summary":  summary,
		"Statuses": stats,
		"Currency": profile.Currency,
		"Profile":  profile,
	})
}

func (h *DashboardHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	months := defaultAnalyticsMonths
	if n, err := strconv.Atoi(r.URL.Query().Get("months")); err == nil && n > 0 {
		months = min(n, maxAnalyticsMonths)
	}
	uid := userID(r)
	data, err := h.dashboard.Analytics(r.Context(), uid, months)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	profile, err := h.profiles.Profile(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "analytics.html", map[string]any{
		"Analytics":    data,
		"Months":       months,
		"MonthOptions": []int{3, 6, 12, 24, maxAnalyticsMonths},
		"Currency":     profile.Currency,
		"Peak":         peakMonth(data.Months),
	})
}

// peakMonth is the largest issued amount, used to scale the bar chart.
func peakMonth(months []services.MonthStat) float64 {
	var peak float64
	for _, m := range months {
		if f := m.Issued.InexactFloat64(); f > peak {
			peak = f
		}
	}
	return peak
}
