package extraction

// ticketSchema is the contract the model's JSON must satisfy before we
// accept it. Field types only; emptiness is allowed since tickets rarely
// show every detail.
const ticketSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["segments"],
  "properties": {
    "booking_ref":    {"type": "string"},
    "passenger_name": {"type": "string"},
    "total_price":    {"type": "string"},
    "currency":       {"type": "string"},
    "contact_email":  {"type": "string"},
    "contact_phone":  {"type": "string"},
    "raw_notes":      {"type": "string"},
    "segments": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "airline":          {"type": "string"},
          "flight_number":    {"type": "string"},
          "from_code":        {"type": "string"},
          "from_city":        {"type": "string"},
          "to_code":          {"type": "string"},
          "to_city":          {"type": "string"},
          "departure_date":   {"type": "string"},
          "departure_time":   {"type": "string"},
          "arrival_time":     {"type": "string"},
          "duration":         {"type": "string"},
          "stops":            {"type": "string"},
          "cabin_baggage":    {"type": "string"},
          "checkin_baggage":  {"type": "string"}
        }
      }
    }
  }
}`

const extractPrompt = `You are an expert flight booking data extractor.

I'm giving you one or more images from a flight e-ticket or booking confirmation.
The images may be DIFFERENT screenshots of the SAME booking:
  - one image may show route + times
  - another baggage allowance
  - another price / booking reference
  - another passenger name / contact

YOUR JOB: Combine ALL images and return ONE complete JSON.
Return ONLY valid JSON - no markdown fences, no explanation.

{
  "booking_ref":    "PNR or booking code, else empty string",
  "passenger_name": "full name if visible, else empty string",
  "total_price":    "total as numeric string e.g. 14000",
  "currency":       "INR | USD | AED | QAR | SAR | OMR | KWD",
  "contact_email":  "email or empty string",
  "contact_phone":  "phone or empty string",
  "segments": [
    {
      "airline":          "e.g. Air India Express",
      "flight_number":    "e.g. IX 342",
      "from_code":        "3-letter IATA e.g. CNN",
      "from_city":        "e.g. Kozhikode",
      "to_code":          "e.g. DOH",
      "to_city":          "e.g. Doha",
      "departure_date":   "e.g. 02 Mar 2025",
      "departure_time":   "e.g. 19:15",
      "arrival_time":     "e.g. 21:20",
      "duration":         "e.g. 4h 35m",
      "stops":            "Direct | 1 Stop | 2 Stops",
      "cabin_baggage":    "e.g. 7 kg",
      "checkin_baggage":  "e.g. 30 kg"
    }
  ],
  "raw_notes": "anything else relevant"
}

RULES:
- Round trip -> two segment objects
- Missing info -> empty string ""
- Common IATA codes: Chennai=MAA, Kozhikode/Calicut=CNN, Mumbai=BOM, Delhi=DEL,
  Kochi=COK, Bengaluru=BLR, Dubai=DXB, Doha=DOH, Abu Dhabi=AUH,
  Riyadh=RUH, Jeddah=JED, Muscat=MCT, Kuwait=KWI, Bahrain=BAH
- Prices: strip commas (14,000 -> 14000)
- Data is spread across images - find it all`

// correctivePrompt is the stricter second-attempt prompt used after the
// first response failed to parse or validate.
const correctivePrompt = extractPrompt + `

IMPORTANT: Your previous answer was not valid JSON for this schema.
Respond with a SINGLE raw JSON object. Every field must be a string and
"segments" must be an array of objects. No markdown, no commentary, no
trailing text.`
