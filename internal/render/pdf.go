package render

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-pdf/fpdf"

	"github.com/flightbot/flightbot-backend/internal/extraction"
)

// ErrRender means the PDF document could not be produced. Rendering is
// deterministic, so a failure here is a data or template defect, not a
// transient condition; it is never retried.
var ErrRender = errors.New("document rendering failed")

// Palette
var (
	navy   = rgb{13, 27, 62}
	gold   = rgb{200, 150, 62}
	lgray  = rgb{244, 246, 250}
	mgray  = rgb{136, 146, 164}
	dgray  = rgb{45, 55, 72}
	border = rgb{209, 217, 230}
)

type rgb struct{ r, g, b int }

// Renderer maps an extracted ticket onto the branded A4 summary document.
type Renderer struct {
	agencyName string
}

// NewRenderer creates a ticket document renderer.
func NewRenderer(agencyName string) *Renderer {
	return &Renderer{agencyName: agencyName}
}

// Render produces the PDF bytes for a ticket.
func (r *Renderer) Render(t *extraction.Ticket) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 18, 20)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AddPage()

	// Header
	setText(pdf, navy)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 10, r.agencyName, "", 1, "C", false, 0, "")
	setText(pdf, mgray)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, "Flight Ticket Summary", "", 1, "C", false, 0, "")
	pdf.Ln(3)
	pdf.SetDrawColor(gold.r, gold.g, gold.b)
	pdf.SetLineWidth(0.8)
	x, y := pdf.GetXY()
	pdf.Line(x, y, 210-20, y)
	pdf.Ln(6)

	// Passenger / booking ref row
	if t.PassengerName != "" || t.BookingRef != "" {
		r.labeled(pdf, "PASSENGER", orDash(t.PassengerName), 85, "L")
		r.labeled(pdf, "BOOKING REF", orDash(t.BookingRef), 85, "R")
		pdf.Ln(10)
	}

	for i, seg := range t.Segments {
		r.segment(pdf, i+1, seg, len(t.Segments) > 1)
	}

	if t.TotalPrice != "" {
		pdf.Ln(4)
		setText(pdf, mgray)
		pdf.SetFont("Helvetica", "", 7)
		pdf.CellFormat(0, 4, "TOTAL PRICE", "", 1, "R", false, 0, "")
		setText(pdf, navy)
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, 8, formatPrice(t.TotalPrice, t.Currency), "", 1, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// segment draws one flight leg block.
func (r *Renderer) segment(pdf *fpdf.Fpdf, n int, seg extraction.Segment, numbered bool) {
	pdf.SetFillColor(lgray.r, lgray.g, lgray.b)
	pdf.SetDrawColor(border.r, border.g, border.b)
	pdf.SetLineWidth(0.2)

	title := seg.Airline
	if title == "" {
		title = "Flight"
	}
	if seg.FlightNumber != "" {
		title += "  " + seg.FlightNumber
	}
	if numbered {
		title = fmt.Sprintf("Segment %d  -  %s", n, title)
	}

	setText(pdf, navy)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, title, "", 1, "L", true, 0, "")
	pdf.Ln(1)

	route := routeLine(seg)
	if route != "" {
		r.labeled(pdf, "ROUTE", route, 170, "L")
		pdf.Ln(9)
	}
	if seg.DepartureDate != "" {
		r.labeled(pdf, "DATE", seg.DepartureDate, 56, "L")
	}
	if seg.DepartureTime != "" {
		r.labeled(pdf, "DEPARTURE", seg.DepartureTime, 56, "L")
	}
	if seg.ArrivalTime != "" {
		r.labeled(pdf, "ARRIVAL", seg.ArrivalTime, 56, "L")
	}
	if seg.DepartureDate != "" || seg.DepartureTime != "" || seg.ArrivalTime != "" {
		pdf.Ln(10)
	}
	if seg.Duration != "" || seg.Stops != "" {
		r.labeled(pdf, "DURATION / STOPS", joinNonEmpty(seg.Duration, seg.Stops), 85, "L")
	}
	if seg.CabinBaggage != "" || seg.CheckinBaggage != "" {
		bag := joinNonEmpty(
			prefixed("Cabin ", seg.CabinBaggage),
			prefixed("Check-in ", seg.CheckinBaggage),
		)
		r.labeled(pdf, "BAGGAGE", bag, 85, "L")
	}
	pdf.Ln(12)
}

// labeled draws a small gray caption with a bold value underneath, side by
// side with whatever else is on the line.
func (r *Renderer) labeled(pdf *fpdf.Fpdf, label, value string, w float64, align string) {
	x, y := pdf.GetXY()
	setText(pdf, mgray)
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(w, 4, label, "", 0, align, false, 0, "")
	pdf.SetXY(x, y+4)
	setText(pdf, dgray)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(w, 5, value, "", 0, align, false, 0, "")
	pdf.SetXY(x+w, y)
}

func setText(pdf *fpdf.Fpdf, c rgb) {
	pdf.SetTextColor(c.r, c.g, c.b)
}

func routeLine(seg extraction.Segment) string {
	from := seg.FromCode
	if from == "" {
		from = seg.FromCity
	}
	to := seg.ToCode
	if to == "" {
		to = seg.ToCity
	}
	if from == "" && to == "" {
		return ""
	}
	return orDash(from) + "  ->  " + orDash(to)
}

func formatPrice(price, currency string) string {
	sym := map[string]string{
		"INR": "Rs ", "USD": "$", "AED": "AED ", "QAR": "QAR ",
		"SAR": "SAR ", "OMR": "OMR ", "KWD": "KWD ",
	}[currency]
	if n, err := strconv.ParseFloat(price, 64); err == nil {
		return sym + groupDigits(int64(n))
	}
	return sym + price
}

// groupDigits inserts thousands separators (14000 -> "14,000").
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "  -  "
		}
		out += p
	}
	return out
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}
