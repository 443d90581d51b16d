package pdf

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/phpdave11/gofpdf"
)

const dateLayout = "Jan 02, 2006"

// gofpdf copies its package defaults into each document maroto creates, so
// renders take turns setting them.
var fpdfDefaults sync.Mutex

// MarotoRenderer lays out invoices with maroto.
type MarotoRenderer struct{}

// NewRenderer returns the default Renderer.
func NewRenderer() *MarotoRenderer { return &MarotoRenderer{} }

// Render implements Renderer. Both document dates come from doc.Stamp and the
// resource catalogs are written in sorted order, so the same Document always
// yields the same bytes.
func (r *MarotoRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		WithTitle("Invoice "+doc.Number, true).
		WithAuthor(doc.Seller.Name, true).
		WithCreator("InvoiceFlow", true).
		WithCreationDate(doc.Stamp).
		Build()

	fpdfDefaults.Lock()
	defer fpdfDefaults.Unlock()
	gofpdf.SetDefaultCatalogSort(true)
	gofpdf.SetDefaultModificationDate(doc.Stamp)

	m := maroto.New(cfg)
	addHeader(m, doc)
	addParties(m, doc)
	addItems(m, doc)
	addTotals(m, doc)
	addFooter(m, doc)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf %s: %w", doc.Number, err)
	}
	return out.GetBytes(), nil
}

func addHeader(m core.Maroto, doc Document) {
	seller := doc.Seller.Name
	if seller == "" {
		seller = "Invoice"
	}
	m.AddRow(24,
		col.New(7).Add(
			text.New(seller, props.Text{Size: 16, Style: fontstyle.Bold, Align: align.Left}),
			text.New(joinNonEmpty(doc.Seller.Address, doc.Seller.Phone, doc.Seller.Email), props.Text{Size: 8, Top: 8, Align: align.Left}),
		),
		col.New(5).Add(
			text.New("INVOICE", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Right}),
			text.New("# "+doc.Number, props.Text{Size: 10, Top: 9, Align: align.Right}),
		),
	)
	m.AddRow(5, line.NewCol(12))
}

func addParties(m core.Maroto, doc Document) {
	m.AddRow(28,
		col.New(6).Add(
			text.New("BILL TO", props.Text{Size: 8, Style: fontstyle.Bold, Align: align.Left}),
			text.New(doc.Client.Name, props.Text{Size: 10, Top: 5, Align: align.Left}),
			text.New(joinNonEmpty(doc.Client.Address, doc.Client.Email, doc.Client.Phone), props.Text{Size: 8, Top: 11, Align: align.Left}),
		),
		col.New(6).Add(
			text.New("Issue date: "+doc.IssueDate.Format(dateLayout), props.Text{Size: 9, Align: align.Right}),
			text.New("Due date: "+doc.DueDate.Format(dateLayout), props.Text{Size: 9, Top: 5, Align: align.Right}),
			text.New("Status: "+strings.ToUpper(string(doc.Status)), props.Text{Size: 9, Top: 10, Align: align.Right}),
			text.New(taxIDLine(doc.Seller.TaxID), props.Text{Size: 8, Top: 15, Align: align.Right}),
		),
	)
	m.AddRow(4, line.NewCol(12))
}

func addItems(m core.Maroto, doc Document) {
	head := props.Text{Size: 9, Style: fontstyle.Bold}
	m.AddRow(8,
		text.NewCol(6, "Description", head),
		text.NewCol(2, "Qty", withAlign(head, align.Right)),
		text.NewCol(2, "Unit price", withAlign(head, align.Right)),
		text.NewCol(2, "Amount", withAlign(head, align.Right)),
	)
	m.AddRow(2, line.NewCol(12))
	body := props.Text{Size: 9}
	for _, l := range doc.Lines {
		m.AddRow(7,
			text.NewCol(6, l.Description, body),
			text.NewCol(2, Quantity(l.Quantity), withAlign(body, align.Right)),
			text.NewCol(2, Money(l.UnitPrice, doc.Currency), withAlign(body, align.Right)),
			text.NewCol(2, Money(l.Total, doc.Currency), withAlign(body, align.Right)),
		)
	}
	m.AddRow(3, line.NewCol(12))
}

func addTotals(m core.Maroto, doc Document) {
	label := props.Text{Size: 9, Align: align.Right}
	value := props.Text{Size: 9, Align: align.Right}
	m.AddRow(6, col.New(7), text.NewCol(3, "Subtotal", label), text.NewCol(2, Money(doc.Subtotal, doc.Currency), value))
	m.AddRow(6, col.New(7), text.NewCol(3, "Tax ("+doc.TaxRate.String()+"%)", label), text.NewCol(2, Money(doc.Tax, doc.Currency), value))
	bold := props.Text{Size: 11, Style: fontstyle.Bold, Align: align.Right}
	m.AddRow(8, col.New(7), text.NewCol(3, "Total", bold), text.NewCol(2, Money(doc.Total, doc.Currency), bold))
}

func addFooter(m core.Maroto, doc Document) {
	if doc.Notes == "" {
		return
	}
	m.AddRow(6)
	m.AddRow(6, text.NewCol(12, "Notes", props.Text{Size: 9, Style: fontstyle.Bold}))
	m.AddRow(16, text.NewCol(12, doc.Notes, props.Text{Size: 8}))
}

func withAlign(p props.Text, a align.Type) props.Text {
	p.Align = a
	return p
}

func taxIDLine(id string) string {
	if id == "" {
		return ""
	}
	return "Tax ID: " + id
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ReplaceAll(p, "\n", ", "))
		}
	}
	return strings.Join(out, " · ")
}
