package invoice

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"invoice-service/internal/models"

	"github.com/go-pdf/fpdf"
	"github.com/samber/lo"
)

// ErrRender wraps layout and encoding failures. No partial document is
// returned alongside it.
var ErrRender = errors.New("invoice render failed")

// Page geometry in millimetres (A4 portrait).
const (
	pageWidth  = 210.0
	pageHeight = 297.0
	margin     = 15.0
	tableWidth = pageWidth - 2*margin

	headerHeight      = 30.0
	sectionGap        = 6.0
	lineHeight        = 5.0
	maxColumnLines    = 8
	metaRowHeight     = 6.0
	tableHeaderHeight = 8.0
	rowHeight         = 7.0
	totalsRowHeight   = 7.0
	totalsRows        = 3
	footerHeight      = 18.0
	footerLineHeight  = 4.5
	notesLineHeight   = 4.5
	notesCharsPerLine = 95

	footerTop = pageHeight - footerHeight
	// Rows stop here so the overflow line, totals and footer always fit.
	rowLimit = footerTop - sectionGap - totalsRows*totalsRowHeight - rowHeight
)

// Column widths as fractions of the table width.
var tableColumns = []struct {
	title string
	width float64
	align string
}{
	{"Description", 0.46, "L"},
	{"Qty", 0.14, "R"},
	{"Unit price", 0.20, "R"},
	{"Amount", 0.20, "R"},
}

var (
	brandColor = [3]int{31, 56, 100}
	stripe     = [3]int{242, 244, 248}
	footerFill = [3]int{235, 235, 235}
)

// Issuer is the selling party printed in the header, address column and footer.
type Issuer struct {
	Name         string
	AddressLines []string
	Email        string
	Phone        string
	Registration string
}

// Document is everything needed to lay out one invoice.
type Document struct {
	Issuer        Issuer
	Customer      models.InvoiceCustomer
	InvoiceNumber string
	IssueDate     time.Time
	OrderRef      string
	Currency      string
	Policy        TaxPolicy
	Totals        Totals
	Notes         string
}

// Rendered is the complete document produced by one Render call.
type Rendered struct {
	Content    []byte
	PageCount  int
	HiddenRows int
}

type Renderer struct {
	compress bool
}

func NewRenderer() *Renderer {
	return &Renderer{compress: true}
}

// Render lays the document out top to bottom with a single cursor and
// returns the finished bytes. Rows that would run into the totals area are
// replaced by one "+N more items not shown" line; there is no second page.
func (r *Renderer) Render(doc Document) (*Rendered, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, footerHeight)
	pdf.SetTitle("Invoice "+doc.InvoiceNumber, true)
	pdf.SetAuthor(doc.Issuer.Name, true)
	if !doc.IssueDate.IsZero() {
		pdf.SetCreationDate(doc.IssueDate)
		pdf.SetModificationDate(doc.IssueDate)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	l := &layout{pdf: pdf, tr: tr}

	l.header(doc.Issuer.Name)
	l.parties(issuerLines(doc.Issuer), customerLines(doc.Customer))
	l.metaRow(doc)
	hidden := l.table(doc)
	l.totals(doc)
	l.notes(doc.Notes)
	l.footer(doc.Issuer)

	pageCount := pdf.PageCount()
	if pdf.Err() {
		return nil, fmt.Errorf("%w: %v", ErrRender, pdf.Error())
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	return &Rendered{
		Content:    buf.Bytes(),
		PageCount:  pageCount,
		HiddenRows: hidden,
	}, nil
}

// VisibleRows is how many of n table rows fit when the first row starts at y.
func VisibleRows(y float64, n int) int {
	visible := 0
	for visible < n && y+rowHeight <= rowLimit {
		y += rowHeight
		visible++
	}
	return visible
}

type layout struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
	y   float64
}

func (l *layout) text(x, y, w, h float64, s, align string, fill bool) {
	l.pdf.SetXY(x, y)
	l.pdf.CellFormat(w, h, l.fit(s, w), "", 0, align, fill, 0, "")
}

// fit trims s until it fits in w so long values never spill into the next column.
func (l *layout) fit(s string, w float64) string {
	out := l.tr(s)
	limit := w - 2
	if l.pdf.GetStringWidth(out) <= limit {
		return out
	}
	for len(out) > 0 && l.pdf.GetStringWidth(out+"...") > limit {
		out = out[:len(out)-1]
	}
	return out + "..."
}

func (l *layout) header(issuerName string) {
	l.pdf.SetFillColor(brandColor[0], brandColor[1], brandColor[2])
	l.pdf.Rect(0, 0, pageWidth, headerHeight, "F")

	l.pdf.SetTextColor(255, 255, 255)
	l.pdf.SetFont("Helvetica", "B", 16)
	l.text(margin, 10, tableWidth*0.6, 10, issuerName, "L", false)
	l.pdf.SetFont("Helvetica", "B", 22)
	l.text(margin+tableWidth*0.6, 10, tableWidth*0.4, 10, "INVOICE", "R", false)
	l.pdf.SetTextColor(0, 0, 0)

	l.y = headerHeight + sectionGap
}

func (l *layout) parties(issuer, customer []string) {
	half := tableWidth / 2
	left := l.column(margin, half, "From", issuer)
	right := l.column(margin+half, half, "Bill to", customer)
	l.y = math.Max(left, right) + sectionGap
}

func (l *layout) column(x, w float64, label string, lines []string) float64 {
	y := l.y
	l.pdf.SetFont("Helvetica", "B", 9)
	l.pdf.SetTextColor(brandColor[0], brandColor[1], brandColor[2])
	l.text(x, y, w, lineHeight, label, "L", false)
	l.pdf.SetTextColor(0, 0, 0)
	y += lineHeight

	l.pdf.SetFont("Helvetica", "", 10)
	for _, line := range lo.Slice(lines, 0, maxColumnLines) {
		l.text(x, y, w, lineHeight, line, "L", false)
		y += lineHeight
	}
	return y
}

func (l *layout) metaRow(doc Document) {
	cells := []string{"Invoice no: " + doc.InvoiceNumber}
	if !doc.IssueDate.IsZero() {
		cells = append(cells, "Issue date: "+doc.IssueDate.Format("02 Jan 2006"))
	}
	if doc.OrderRef != "" {
		cells = append(cells, "Order ref: "+doc.OrderRef)
	}

	l.pdf.SetFont("Helvetica", "", 10)
	w := tableWidth / 3
	for i, cell := range cells {
		l.text(margin+float64(i)*w, l.y, w, metaRowHeight, cell, "L", false)
	}
	l.y += metaRowHeight + sectionGap
}

func (l *layout) table(doc Document) int {
	l.pdf.SetFillColor(brandColor[0], brandColor[1], brandColor[2])
	l.pdf.SetTextColor(255, 255, 255)
	l.pdf.SetFont("Helvetica", "B", 10)
	x := margin
	for _, col := range tableColumns {
		w := tableWidth * col.width
		l.text(x, l.y, w, tableHeaderHeight, col.title, col.align, true)
		x += w
	}
	l.pdf.SetTextColor(0, 0, 0)
	l.y += tableHeaderHeight

	lines := doc.Totals.Lines
	visible := VisibleRows(l.y, len(lines))

	l.pdf.SetFont("Helvetica", "", 10)
	l.pdf.SetFillColor(stripe[0], stripe[1], stripe[2])
	for i, line := range lines[:visible] {
		cells := []string{
			line.Item.Description,
			FormatQuantity(line.Quantity),
			FormatUnitPrice(line.UnitNet, doc.Currency),
			FormatMoney(line.Net.Round(2), doc.Currency),
		}
		shade := i%2 == 1
		x := margin
		for c, col := range tableColumns {
			w := tableWidth * col.width
			l.text(x, l.y, w, rowHeight, cells[c], col.align, shade)
			x += w
		}
		l.y += rowHeight
	}

	hidden := len(lines) - visible
	if hidden > 0 {
		l.pdf.SetFont("Helvetica", "I", 9)
		l.text(margin, l.y, tableWidth, rowHeight, fmt.Sprintf("+%d more items not shown", hidden), "L", false)
		l.y += rowHeight
	}

	l.pdf.SetDrawColor(brandColor[0], brandColor[1], brandColor[2])
	l.pdf.Line(margin, l.y, margin+tableWidth, l.y)
	return hidden
}

func (l *layout) totals(doc Document) {
	l.y += sectionGap

	labelX := margin + tableWidth*(tableColumns[0].width+tableColumns[1].width)
	labelW := tableWidth * tableColumns[2].width
	valueW := tableWidth * tableColumns[3].width

	taxLabel := "Tax (not applied)"
	if doc.Policy.Enabled {
		taxLabel = fmt.Sprintf("Tax (%s%%)", doc.Policy.RatePercent.String())
	}

	rows := []struct{ label, value string }{
		{"Net", FormatMoney(doc.Totals.Net, doc.Currency)},
		{taxLabel, FormatMoney(doc.Totals.Tax, doc.Currency)},
		{"Total", FormatMoney(doc.Totals.Grand, doc.Currency)},
	}
	for i, row := range rows {
		last := i == len(rows)-1
		if last {
			l.pdf.SetFillColor(brandColor[0], brandColor[1], brandColor[2])
			l.pdf.SetTextColor(255, 255, 255)
			l.pdf.SetFont("Helvetica", "B", 11)
		} else {
			l.pdf.SetFont("Helvetica", "", 10)
		}
		l.text(labelX, l.y, labelW, totalsRowHeight, row.label, "R", last)
		l.text(labelX+labelW, l.y, valueW, totalsRowHeight, row.value, "R", last)
		l.y += totalsRowHeight
	}
	l.pdf.SetTextColor(0, 0, 0)
}

func (l *layout) notes(notes string) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return
	}
	l.y += sectionGap

	room := int((footerTop - sectionGap - l.y - lineHeight) / notesLineHeight)
	if room <= 0 {
		return
	}

	l.pdf.SetFont("Helvetica", "B", 9)
	l.text(margin, l.y, tableWidth, lineHeight, "Notes", "L", false)
	l.y += lineHeight

	lines := WrapText(notes, notesCharsPerLine)
	if len(lines) > room {
		lines = lines[:room]
		lines[room-1] = strings.TrimRight(lines[room-1], " .") + "..."
	}

	l.pdf.SetFont("Helvetica", "", 9)
	for _, line := range lines {
		l.text(margin, l.y, tableWidth, notesLineHeight, line, "L", false)
		l.y += notesLineHeight
	}
}

func (l *layout) footer(issuer Issuer) {
	// The band sits inside the bottom margin; stop the engine paginating here.
	l.pdf.SetAutoPageBreak(false, 0)
	l.pdf.SetFillColor(footerFill[0], footerFill[1], footerFill[2])
	l.pdf.Rect(0, footerTop, pageWidth, footerHeight, "F")

	lines := lo.Compact([]string{
		strings.Join(lo.Compact([]string{issuer.Name, issuer.Registration}), " | "),
		strings.Join(lo.Compact([]string{issuer.Email, issuer.Phone}), " | "),
	})

	l.pdf.SetFont("Helvetica", "", 8)
	y := footerTop + (footerHeight-float64(len(lines))*footerLineHeight)/2
	for _, line := range lines {
		l.text(0, y, pageWidth, footerLineHeight, line, "C", false)
		y += footerLineHeight
	}
}

func issuerLines(issuer Issuer) []string {
	lines := append([]string{issuer.Name}, issuer.AddressLines...)
	return lo.Compact(append(lines, issuer.Email, issuer.Phone))
}

func customerLines(c models.InvoiceCustomer) []string {
	lines := append([]string{c.Name}, c.AddressLines...)
	return lo.Compact(append(lines, c.Email))
}

// WrapText splits s into lines of at most width characters, breaking on
// whitespace and hard-splitting words longer than width.
func WrapText(s string, width int) []string {
	var lines []string
	for _, paragraph := range strings.Split(s, "\n") {
		var current []rune
		for _, word := range strings.Fields(paragraph) {
			runes := []rune(word)
			for len(runes) > width {
				if len(current) > 0 {
					lines = append(lines, string(current))
					current = nil
				}
				lines = append(lines, string(runes[:width]))
				runes = runes[width:]
			}
			switch {
			case len(current) == 0:
				current = runes
			case len(current)+1+len(runes) <= width:
				current = append(append(current, ' '), runes...)
			default:
				lines = append(lines, string(current))
				current = runes
			}
		}
		if len(current) > 0 {
			lines = append(lines, string(current))
		}
	}
	return lines
}
