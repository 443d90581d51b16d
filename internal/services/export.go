package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/pdf"
)

// MaxExport bounds how many invoices one export may contain.
const MaxExport = 1000

const exportSheet = "Invoices"

// Exporter produces bulk downloads of a user's invoices.
type Exporter struct {
	invoices *InvoiceService
	profiles *ProfileService
	renderer pdf.Renderer
}

func NewExporter(invoices *InvoiceService, profiles *ProfileService, renderer pdf.Renderer) *Exporter {
	return &Exporter{invoices: invoices, profiles: profiles, renderer: renderer}
}

func (e *Exporter) load(ctx context.Context, userID uint, status models.InvoiceStatus) ([]models.Invoice, error) {
	q := e.invoices.db.WithContext(ctx).Preload("Items", orderedItems).Where("user_id = ?", userID)
	if status != "" && status.Valid() {
		q = q.Where("status = ?", status)
	}
	var invs []models.Invoice
	err := q.Order("issue_date DESC, id DESC").Limit(MaxExport).Find(&invs).Error
	return invs, err
}

// XLSX builds a spreadsheet with one row per invoice. An empty status
// exports every invoice.
func (e *Exporter) XLSX(ctx context.Context, userID uint, status models.InvoiceStatus) ([]byte, error) {
	invs, err := e.load(ctx, userID, status)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return nil, err
	}
	header := []any{"Number", "Client", "Client email", "Issue date", "Due date", "Status", "Currency", "Subtotal", "Tax", "Total", "Paid at"}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, err
	}
	for i, inv := range invs {
		var paid any
		if inv.PaidAt != nil {
			paid = inv.PaidAt.UTC()
		}
		row := []any{
			inv.Number,
			inv.ClientName,
			inv.ClientEmail,
			inv.IssueDate,
			inv.DueDate,
			string(inv.Status),
			inv.Currency,
			inv.Subtotal.Round(2).InexactFloat64(),
			inv.Tax.Round(2).InexactFloat64(),
			inv.Total.Round(2).InexactFloat64(),
			paid,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 14)
	_ = f.SetColWidth(exportSheet, "B", "C", 28)
	_ = f.SetColWidth(exportSheet, "D", "E", 12)
	_ = f.SetColWidth(exportSheet, "H", "K", 14)
	dateStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 14})
	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})
	_ = f.SetColStyle(exportSheet, "D:E", dateStyle)
	_ = f.SetColStyle(exportSheet, "H:J", moneyStyle)
	_ = f.SetColStyle(exportSheet, "K", dateStyle)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// ZIP renders every selected invoice to PDF and bundles them.
func (e *Exporter) ZIP(ctx context.Context, userID uint, status models.InvoiceStatus) ([]byte, error) {
	invs, err := e.load(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	user, err := e.profiles.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := range invs {
		inv := &invs[i]
		body, err := e.renderer.Render(ctx, pdf.FromInvoice(user.Profile, user.Email, inv))
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", inv.Number, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     pdf.Filename(inv.Number),
			Method:   zip.Deflate,
			Modified: inv.UpdatedAt.UTC().Truncate(time.Second),
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
