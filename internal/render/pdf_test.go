package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightbot/flightbot-backend/internal/extraction"
)

func sampleTicket() *extraction.Ticket {
	return &extraction.Ticket{
		BookingRef:    "ABC123",
		PassengerName: "Jane Traveller",
		TotalPrice:    "14000",
		Currency:      "INR",
		Segments: []extraction.Segment{
			{
				Airline:        "Air India Express",
				FlightNumber:   "IX 342",
				FromCode:       "CNN",
				ToCode:         "DOH",
				DepartureDate:  "02 Mar 2025",
				DepartureTime:  "19:15",
				ArrivalTime:    "21:20",
				Duration:       "4h 35m",
				Stops:          "Direct",
				CabinBaggage:   "7kg",
				CheckinBaggage: "30kg",
			},
		},
	}
}

func TestRender_ProducesPDF(t *testing.T) {
	r := NewRenderer("Exile Automate")

	out, err := r.Render(sampleTicket())
	require.NoError(t, err)
	require.Greater(t, len(out), 4)
	assert.Equal(t, "%PDF", string(out[:4]))
}

func TestRender_SparseTicket(t *testing.T) {
	r := NewRenderer("Exile Automate")

	// Only a route; all optional fields empty.
	out, err := r.Render(&extraction.Ticket{
		Segments: []extraction.Segment{{FromCity: "Kannur", ToCity: "Doha"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(out[:4]))
}

func TestRender_MultiSegment(t *testing.T) {
	r := NewRenderer("Exile Automate")

	ticket := sampleTicket()
	ticket.Segments = append(ticket.Segments, extraction.Segment{
		Airline:       "Qatar Airways",
		FlightNumber:  "QR 101",
		FromCode:      "DOH",
		ToCode:        "LHR",
		DepartureDate: "03 Mar 2025",
	})

	out, err := r.Render(ticket)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(out[:4]))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "ticket_CNN_DOH_02_Mar_2025.pdf", Filename(sampleTicket()))
	assert.Equal(t, "ticket.pdf", Filename(&extraction.Ticket{}))
	assert.Equal(t, "ticket.pdf", Filename(&extraction.Ticket{
		Segments: []extraction.Segment{{FromCity: "Kannur"}},
	}))

	// Unsafe characters never reach the filename.
	assert.Equal(t, "ticket_CNN_DOH_02_03_25.pdf", Filename(&extraction.Ticket{
		Segments: []extraction.Segment{{FromCode: "CNN", ToCode: "DOH", DepartureDate: "02/03/25"}},
	}))
}

func TestCaption(t *testing.T) {
	got := Caption(sampleTicket())

	assert.Contains(t, got, "<b>Flight Ticket Summary</b>")
	assert.Contains(t, got, "Passenger: Jane Traveller")
	assert.Contains(t, got, "Ref: ABC123")
	assert.Contains(t, got, "CNN  ->  DOH")
	assert.Contains(t, got, "Dep: 19:15  |  Arr: 21:20")
	assert.Contains(t, got, "Cabin 7kg  -  Check-in 30kg")
	assert.Contains(t, got, "<b>Rs 14,000</b>")
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "Rs 14,000", formatPrice("14000", "INR"))
	assert.Equal(t, "$1,250", formatPrice("1250.00", "USD"))
	assert.Equal(t, "QAR 980", formatPrice("980", "QAR"))
	// Unknown currency drops the symbol but still groups digits.
	assert.Equal(t, "14,000", formatPrice("14000", "XYZ"))
	// Unparseable price passes through.
	assert.Equal(t, "Rs approx 14k", formatPrice("approx 14k", "INR"))
}

func TestGroupDigits(t *testing.T) {
	assert.Equal(t, "0", groupDigits(0))
	assert.Equal(t, "999", groupDigits(999))
	assert.Equal(t, "1,000", groupDigits(1000))
	assert.Equal(t, "1,234,567", groupDigits(1234567))
	assert.Equal(t, "-14,000", groupDigits(-14000))
}
