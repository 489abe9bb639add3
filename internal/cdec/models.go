package cdec

import (
	"errors"
	"math"
	"time"
)

const (
	// DefaultBaseURL is the CDEC CSV data servlet
	DefaultBaseURL = "https://cdec.water.ca.gov/dynamicapp/req/CSVDataServlet"

	// DiagnosticMessage is written to the diagnostic writer when a verbose fetch fails
	DiagnosticMessage = "Error retrieving data from CDEC. Check station, sensor, duration code and dates."

	// MinResponseLength is the shortest body treated as a data response.
	// Anything shorter is an error page or an empty result.
	MinResponseLength = 100

	// SentinelThreshold marks readings below it as missing
	SentinelThreshold = -100.0
)

var (
	// ErrShortResponse is returned when the body is under MinResponseLength characters
	ErrShortResponse = errors.New("response too short to contain data")

	// ErrInvalidQuery is returned when a query cannot be turned into a request URL
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNoRows is returned when the response parsed to zero usable rows
	ErrNoRows = errors.New("no rows with timestamps in response")
)

// Missing returns the marker stored in place of absent or invalid readings
func Missing() float64 {
	return math.NaN()
}

// IsMissing reports whether v is the missing-data marker
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Query identifies one sensor series over a date range
type Query struct {
	Station  string    // station ID, e.g. "ORO"
	Duration string    // duration code, e.g. "D" (daily), "E" (event), "H" (hourly)
	Sensor   string    // sensor number, 1-2 digits
	Start    time.Time // first day requested
	End      time.Time // last day requested; zero means "now"
}

// Status classifies the outcome of a fetch
type Status int

const (
	StatusOK Status = iota
	StatusNoData
	StatusTransportError
	StatusInvalidQuery
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "no_data"
	case StatusTransportError:
		return "transport_error"
	case StatusInvalidQuery:
		return "invalid_query"
	default:
		return "unknown"
	}
}

// Series holds aligned readings and date serials, in source order
type Series struct {
	Values []float64
	Dates  []float64
}

// Len returns the number of rows in the series
func (s Series) Len() int {
	return len(s.Values)
}

// MissingCount returns how many readings are the missing marker
func (s Series) MissingCount() int {
	n := 0
	for _, v := range s.Values {
		if IsMissing(v) {
			n++
		}
	}
	return n
}

// Times converts the date serials back to wall-clock times
func (s Series) Times() []time.Time {
	times := make([]time.Time, len(s.Dates))
	for i, d := range s.Dates {
		times[i] = FromDateSerial(d)
	}
	return times
}

// Result is the outcome of a single fetch
type Result struct {
	Status Status
	Series Series
	URL    string
	Err    error
}

// OK reports whether the fetch produced data
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Config represents the CDEC client configuration
type Config struct {
	BaseURL               string `toml:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	InsecureSkipVerify    bool   `toml:"insecure_skip_verify"`
	Verbose               bool   `toml:"verbose"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:               DefaultBaseURL,
		RequestTimeoutSeconds: 60,
		InsecureSkipVerify:    true,
		Verbose:               false,
	}
}
