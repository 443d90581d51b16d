package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
)

// StatusStat aggregates invoices of one status.
type StatusStat struct {
	Status  models.InvoiceStatus
	Count   int64
	Sum     decimal.Decimal
	Average decimal.Decimal
}

// Summary is the dashboard headline. All figures come from SQL aggregates;
// amounts mix currencies when the user bills in more than one.
type Summary struct {
	ByStatus map[models.InvoiceStatus]StatusStat

	InvoiceCount  int64
	TotalBilled   decimal.Decimal
	AverageValue  decimal.Decimal
	Revenue       decimal.Decimal // paid
	PaidCount     int64
	Outstanding   decimal.Decimal // unpaid + overdue
	OverdueAmount decimal.Decimal
	OverdueCount  int64
	DraftCount    int64

	Recent []models.Invoice
}

// MonthStat is one month of the analytics chart.
type MonthStat struct {
	Month   string // YYYY-MM
	Issued  decimal.Decimal
	Revenue decimal.Decimal
	Count   int64
}

// ClientStat ranks clients by paid revenue.
type ClientStat struct {
	ClientName string
	Invoices   int64
	Amount     decimal.Decimal
}

// Analytics backs the analytics page.
type Analytics struct {
	Months     []MonthStat
	TopClients []ClientStat
	ByStatus   []StatusStat
}

// DashboardService computes per-user statistics in the database.
type DashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db, now: time.Now}
}

type statusRow struct {
	Status models.InvoiceStatus
	N      int64
	Total  decimal.Decimal
	Avg    decimal.NullDecimal
}

// Summary runs one grouped aggregate, one overall aggregate and one query
// for the latest invoices.
func (s *DashboardService) Summary(ctx context.Context, userID uint) (*Summary, error) {
	db := s.db.WithContext(ctx)
	rows, err := s.statusRows(db, userID)
	if err != nil {
		return nil, err
	}

	out := &Summary{ByStatus: make(map[models.InvoiceStatus]StatusStat, len(models.InvoiceStatuses))}
	for _, st := range models.InvoiceStatuses {
		out.ByStatus[st] = StatusStat{Status: st}
	}
	for _, r := range rows {
		out.ByStatus[r.Status] = StatusStat{Status: r.Status, Count: r.N, Sum: amount(r.Total), Average: r.Avg.Decimal.Round(2)}
	}

	var overall struct {
		N     int64
		Total decimal.Decimal
		Avg   decimal.NullDecimal
	}
	err = db.Model(&models.Invoice{}).
		Select("COUNT(*) AS n, COALESCE(SUM(total), 0) AS total, AVG(total) AS avg").
		Where("user_id = ?", userID).
		Scan(&overall).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard totals: %w", err)
	}
	out.InvoiceCount = overall.N
	out.TotalBilled = amount(overall.Total)
	out.AverageValue = overall.Avg.Decimal.Round(2)

	paid := out.ByStatus[models.InvoiceStatusPaid]
	unpaid := out.ByStatus[models.InvoiceStatusUnpaid]
	overdue := out.ByStatus[models.InvoiceStatusOverdue]
	out.Revenue = paid.Sum
	out.PaidCount = paid.Count
	out.Outstanding = unpaid.Sum.Add(overdue.Sum)
	out.OverdueAmount = overdue.Sum
	out.OverdueCount = overdue.Count
	out.DraftCount = out.ByStatus[models.InvoiceStatusDraft].Count

	err = db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(5).
		Find(&out.Recent).Error
	if err != nil {
		return nil, fmt.Errorf("recent invoices: %w", err)
	}
	return out, nil
}

func (s *DashboardService) statusRows(db *gorm.DB, userID uint) ([]statusRow, error) {
	var rows []statusRow
	err := db.Model(&models.Invoice{}).
		Select("status, COUNT(*) AS n, COALESCE(SUM(total), 0) AS total, AVG(total) AS avg").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard status aggregate: %w", err)
	}
	return rows, nil
}

// amount drops binary float noise from SQLite aggregates. Stored amounts
// never have more than four decimals.
func amount(d decimal.Decimal) decimal.Decimal { return d.Round(4) }

// monthExpr formats a date column as YYYY-MM for the connected dialect.
func monthExpr(db *gorm.DB, column string) string {
	if db.Dialector.Name() == "postgres" {
		return "to_char(" + column + ", 'YYYY-MM')"
	}
	return "strftime('%Y-%m', " + column + ")"
}

// Analytics covers the last months months including the current one,
// filling months without invoices with zeros.
func (s *DashboardService) Analytics(ctx context.Context, userID uint, months int) (*Analytics, error) {
	if months < 1 || months > 36 {
		months = 12
	}
	db := s.db.WithContext(ctx)
	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	month := monthExpr(db, "issue_date")

	var monthly []struct {
		Month   string
		N       int64
		Issued  decimal.Decimal
		Revenue decimal.Decimal
	}
	err := db.Model(&models.Invoice{}).
		Select(month+" AS month, COUNT(*) AS n, COALESCE(SUM(total), 0) AS issued, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN total ELSE 0 END), 0) AS revenue", models.InvoiceStatusPaid).
		Where("user_id = ? AND issue_date >= ?", userID, first).
		Group(month).
		Order("month").
		Scan(&monthly).Error
	if err != nil {
		return nil, fmt.Errorf("monthly aggregate: %w", err)
	}
	byMonth := make(map[string]MonthStat, len(monthly))
	for _, m := range monthly {
		byMonth[m.Month] = MonthStat{Month: m.Month, Issued: amount(m.Issued), Revenue: amount(m.Revenue), Count: m.N}
	}

	out := &Analytics{}
	for i := 0; i < months; i++ {
		key := first.AddDate(0, i, 0).Format("2006-01")
		st, ok := byMonth[key]
		if !ok {
			st = MonthStat{Month: key}
		}
		out.Months = append(out.Months, st)
	}

	err = db.Model(&models.Invoice{}).
		Select("client_name, COUNT(*) AS invoices, COALESCE(SUM(total), 0) AS amount").
		Where("user_id = ? AND status = ?", userID, models.InvoiceStatusPaid).
		Group("client_name").
		Order("amount DESC, client_name").
		Limit(5).
		Scan(&out.TopClients).Error
	if err != nil {
		return nil, fmt.Errorf("top clients: %w", err)
	}
	for i := range out.TopClients {
		out.TopClients[i].Amount = amount(out.TopClients[i].Amount)
	}

	rows, err := s.statusRows(db, userID)
	if err != nil {
		return nil, err
	}
	seen := map[models.InvoiceStatus]StatusStat{}
	for _, r := range rows {
		seen[r.Status] = StatusStat{Status: r.Status, Count: r.N, Sum: amount(r.Total), Average: r.Avg.Decimal.Round(2)}
	}
	for _, st := range models.InvoiceStatuses {
		stat, ok := seen[st]
		if !ok {
			stat = StatusStat{Status: st}
		}
		out.ByStatus = append(out.ByStatus, stat)
	}
	return out, nil
}
