package cdec

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/yegors/cdec-series/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2018, 10, 5, 9, 30, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = ts.URL
	client := NewClient(cfg, logger.Nop())
	client.SetHTTPClient(ts.Client())
	client.SetClock(func() time.Time { return fixedNow })

	var diag bytes.Buffer
	client.SetDiagnosticWriter(&diag)
	return client, &diag
}

func testQuery() Query {
	return Query{
		Station:  "oro",
		Duration: "d",
		Sensor:   "15",
		Start:    time.Date(2018, 9, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2018, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildURL(t *testing.T) {
	q := testQuery()

	got, err := BuildURL(DefaultBaseURL, q, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := DefaultBaseURL + "?Stations=ORO&SensorNums=15&dur_code=D&Start=2018-09-01&end_date=2018-10-01"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestBuildURLSameDayEndUsesNow(t *testing.T) {
	q := testQuery()
	q.End = time.Date(2018, 10, 5, 23, 59, 0, 0, time.UTC)

	got, err := BuildURL(DefaultBaseURL, q, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(got, "&end_date=Now") {
		t.Errorf("expected end_date=Now, got %s", got)
	}
	if strings.Contains(got, "2018-10-05") {
		t.Errorf("same-day end date leaked into URL: %s", got)
	}
}

func TestBuildURLZeroEndUsesNow(t *testing.T) {
	q := testQuery()
	q.End = time.Time{}

	got, err := BuildURL(DefaultBaseURL, q, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(got, "&end_date=Now") {
		t.Errorf("expected end_date=Now, got %s", got)
	}
}

func TestBuildURLInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Query)
	}{
		{"empty station", func(q *Query) { q.Station = " " }},
		{"empty duration", func(q *Query) { q.Duration = "" }},
		{"sensor too long", func(q *Query) { q.Sensor = "123" }},
		{"sensor not numeric", func(q *Query) { q.Sensor = "a1" }},
		{"zero start", func(q *Query) { q.Start = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := testQuery()
			tt.mutate(&q)
			_, err := BuildURL(DefaultBaseURL, q, fixedNow)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestFetchSuccess(t *testing.T) {
	var gotQuery string
	client, diag := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(body(
			"ORO,D,15,STORAGE,,20181001 0000,100,,AF",
			"ORO,D,15,STORAGE,201809300000,20180930 0000,-9999,,AF",
			"ORO,D,15,STORAGE,201810010000,20181001 0000,12.5,,AF",
		)))
	})

	result := client.Fetch(context.Background(), testQuery(), WithVerbose(true))
	if result.Status != StatusOK {
		t.Fatalf("expected ok, got %s (%v)", result.Status, result.Err)
	}
	if result.Series.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", result.Series.Len())
	}
	if !IsMissing(result.Series.Values[0]) || result.Series.Values[1] != 12.5 {
		t.Errorf("unexpected values: %v", result.Series.Values)
	}
	if gotQuery != "Stations=ORO&SensorNums=15&dur_code=D&Start=2018-09-01&end_date=2018-10-01" {
		t.Errorf("unexpected query: %s", gotQuery)
	}
	if diag.Len() != 0 {
		t.Errorf("expected no diagnostic output, got %q", diag.String())
	}
}

func TestFetchSingleRequest(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	result := client.Fetch(context.Background(), testQuery())
	if result.Status != StatusTransportError {
		t.Fatalf("expected transport error, got %s", result.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly one request, got %d", n)
	}
}

func TestFetchShortResponse(t *testing.T) {
	client, diag := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(header + "\n"))
	})

	result := client.Fetch(context.Background(), testQuery(), WithVerbose(true))
	if result.Status != StatusNoData {
		t.Fatalf("expected no data, got %s", result.Status)
	}
	if !errors.Is(result.Err, ErrShortResponse) {
		t.Errorf("expected ErrShortResponse, got %v", result.Err)
	}
	if strings.TrimSpace(diag.String()) != DiagnosticMessage {
		t.Errorf("expected diagnostic message, got %q", diag.String())
	}

	values, dates := client.FetchSeries(context.Background(), testQuery())
	if values != nil || dates != nil {
		t.Errorf("expected nil results, got %v %v", values, dates)
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	baseURL := ts.URL
	ts.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RequestTimeoutSeconds = 5

	tests := []struct {
		name    string
		verbose bool
	}{
		{"verbose", true},
		{"silent", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(cfg, logger.Nop())
			var diag bytes.Buffer
			client.SetDiagnosticWriter(&diag)

			values, dates := client.FetchSeries(context.Background(), testQuery(), WithVerbose(tt.verbose))
			if values != nil || dates != nil {
				t.Errorf("expected nil results, got %v %v", values, dates)
			}

			if tt.verbose {
				if strings.TrimSpace(diag.String()) != DiagnosticMessage {
					t.Errorf("expected diagnostic message, got %q", diag.String())
				}
			} else if diag.Len() != 0 {
				t.Errorf("expected no output, got %q", diag.String())
			}
		})
	}
}

func TestFetchVerboseDefaultFromConfig(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultConfig()
	cfg.BaseURL = ts.URL
	cfg.Verbose = true
	client := NewClient(cfg, logger.FromZap(zap.New(core)))
	var diag bytes.Buffer
	client.SetDiagnosticWriter(&diag)

	result := client.Fetch(context.Background(), testQuery())
	if result.Status != StatusTransportError {
		t.Fatalf("expected transport error, got %s", result.Status)
	}
	if diag.Len() == 0 {
		t.Error("expected diagnostic output from config verbose flag")
	}
	if logs.FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Errorf("expected one warning log, got %d", logs.FilterLevelExact(zapcore.WarnLevel).Len())
	}
}

func TestFetchNoRows(t *testing.T) {
	client, diag := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body(
			"ORO,D,15,STORAGE,,20181001 0000,100,,AF",
			"ORO,D,15,STORAGE,,20181002 0000,101,,AF",
		)))
	})

	result := client.Fetch(context.Background(), testQuery(), WithVerbose(true))
	if result.Status != StatusNoData {
		t.Fatalf("expected no data, got %s", result.Status)
	}
	if !errors.Is(result.Err, ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", result.Err)
	}
	if diag.Len() != 0 {
		t.Errorf("expected no diagnostic for empty range, got %q", diag.String())
	}
}

func TestFetchInvalidQuery(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid query")
	})

	q := testQuery()
	q.Sensor = ""
	result := client.Fetch(context.Background(), q)
	if result.Status != StatusInvalidQuery {
		t.Errorf("expected invalid query, got %s", result.Status)
	}
}

// sizedBody returns a one-row response padded to exactly n characters. The
// padding lands in the units column, which is ignored.
func sizedBody(n int, pad string) string {
	base := "H\nORO,D,15,STORAGE,201810010000,,1.5,,AF"
	return base + strings.Repeat(pad, n-utf8.RuneCountInString(base))
}

func TestFetchResponseLengthBoundary(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus Status
	}{
		{"99 characters", sizedBody(99, "x"), StatusNoData},
		{"100 characters", sizedBody(100, "x"), StatusOK},
		{"99 characters over 100 bytes", sizedBody(99, "é"), StatusNoData},
		{"100 multibyte characters", sizedBody(100, "é"), StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			result := client.Fetch(context.Background(), testQuery())
			if result.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s (%v)", tt.wantStatus, result.Status, result.Err)
			}
			if tt.wantStatus == StatusNoData && !errors.Is(result.Err, ErrShortResponse) {
				t.Errorf("expected ErrShortResponse, got %v", result.Err)
			}
			if tt.wantStatus == StatusOK && (result.Series.Len() != 1 || result.Series.Values[0] != 1.5) {
				t.Errorf("unexpected series: %+v", result.Series)
			}
		})
	}
}
