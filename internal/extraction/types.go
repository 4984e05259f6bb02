package extraction

// Segment is one flight leg of the itinerary.
type Segment struct {
	Airline        string `json:"airline"`
	FlightNumber   string `json:"flight_number"`
	FromCode       string `json:"from_code"`
	FromCity       string `json:"from_city"`
	ToCode         string `json:"to_code"`
	ToCity         string `json:"to_city"`
	DepartureDate  string `json:"departure_date"`
	DepartureTime  string `json:"departure_time"`
	ArrivalTime    string `json:"arrival_time"`
	Duration       string `json:"duration"`
	Stops          string `json:"stops"`
	CabinBaggage   string `json:"cabin_baggage"`
	CheckinBaggage string `json:"checkin_baggage"`
}

// Ticket is the structured result of one batched extraction call over the
// full ordered image set of a session. Immutable once produced.
type Ticket struct {
	BookingRef    string    `json:"booking_ref"`
	PassengerName string    `json:"passenger_name"`
	TotalPrice    string    `json:"total_price"`
	Currency      string    `json:"currency"`
	ContactEmail  string    `json:"contact_email"`
	ContactPhone  string    `json:"contact_phone"`
	Segments      []Segment `json:"segments"`
	RawNotes      string    `json:"raw_notes"`
}

// Complete reports whether the extraction actually identified flight data.
// A ticket without a single segment is treated as a miss.
func (t *Ticket) Complete() bool {
	return len(t.Segments) > 0
}
