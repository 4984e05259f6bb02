package render

import (
	"fmt"
	"strings"

	"github.com/flightbot/flightbot-backend/internal/extraction"
)

// Caption builds the HTML summary message sent alongside the document.
func Caption(t *extraction.Ticket) string {
	lines := []string{"<b>Flight Ticket Summary</b>"}
	if t.PassengerName != "" {
		lines = append(lines, "Passenger: "+t.PassengerName)
	}
	if t.BookingRef != "" {
		lines = append(lines, "Ref: "+t.BookingRef)
	}

	for _, seg := range t.Segments {
		lines = append(lines, "")
		if seg.Airline != "" {
			lines = append(lines, "<b>"+seg.Airline+"</b>")
		}
		if route := routeLine(seg); route != "" {
			lines = append(lines, route)
		}
		if seg.DepartureDate != "" {
			lines = append(lines, seg.DepartureDate)
		}
		if seg.DepartureTime != "" {
			lines = append(lines, fmt.Sprintf("Dep: %s  |  Arr: %s", seg.DepartureTime, seg.ArrivalTime))
		}
		if seg.Duration != "" {
			lines = append(lines, joinNonEmpty(seg.Duration, seg.Stops))
		}
		if bag := joinNonEmpty(prefixed("Cabin ", seg.CabinBaggage), prefixed("Check-in ", seg.CheckinBaggage)); bag != "" {
			lines = append(lines, bag)
		}
	}

	if t.TotalPrice != "" {
		lines = append(lines, "", "<b>"+formatPrice(t.TotalPrice, t.Currency)+"</b>")
	}

	return strings.Join(lines, "\n")
}

// Filename derives a route-based name for the generated document, falling
// back to a constant when the first segment has no usable fields.
func Filename(t *extraction.Ticket) string {
	if len(t.Segments) == 0 {
		return "ticket.pdf"
	}
	seg := t.Segments[0]

	parts := make([]string, 0, 3)
	if seg.FromCode != "" {
		parts = append(parts, seg.FromCode)
	}
	if seg.ToCode != "" {
		parts = append(parts, seg.ToCode)
	}
	if seg.DepartureDate != "" {
		parts = append(parts, strings.ReplaceAll(seg.DepartureDate, " ", "_"))
	}
	if len(parts) == 0 {
		return "ticket.pdf"
	}
	return "ticket_" + sanitize(strings.Join(parts, "_")) + ".pdf"
}

// sanitize keeps filename characters that are safe everywhere.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
