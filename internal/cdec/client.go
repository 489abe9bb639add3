package cdec

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yegors/cdec-series/pkg/logger"
)

const dateLayout = "2006-01-02"

var sensorPattern = regexp.MustCompile(`^[0-9]{1,2}$`)

// Client fetches sensor series from the CDEC CSV servlet
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
	diag       io.Writer
	now        func() time.Time
}

// NewClient creates a new CDEC client
func NewClient(config Config, log *logger.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.RequestTimeoutSeconds) * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				// cdec.water.ca.gov fails chain validation behind some proxies
				TLSClientConfig: &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify},
			},
		},
		logger: log.Named("cdec-client"),
		diag:   os.Stderr,
		now:    time.Now,
	}
}

// SetHTTPClient replaces the HTTP client (for testing)
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetDiagnosticWriter sets where verbose failures print DiagnosticMessage
func (c *Client) SetDiagnosticWriter(w io.Writer) {
	c.diag = w
}

// SetClock overrides the clock used to resolve same-day end dates
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// FetchOption adjusts a single fetch
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	verbose bool
}

// WithVerbose controls whether a failed fetch prints DiagnosticMessage
func WithVerbose(verbose bool) FetchOption {
	return func(o *fetchOptions) {
		o.verbose = verbose
	}
}

// BuildURL returns the servlet URL for q. An End on the same calendar day as
// now, or a zero End, requests everything through the present.
func BuildURL(base string, q Query, now time.Time) (string, error) {
	station := strings.ToUpper(strings.TrimSpace(q.Station))
	duration := strings.ToUpper(strings.TrimSpace(q.Duration))
	sensor := strings.TrimSpace(q.Sensor)

	if station == "" {
		return "", fmt.Errorf("%w: station is required", ErrInvalidQuery)
	}
	if duration == "" {
		return "", fmt.Errorf("%w: duration code is required", ErrInvalidQuery)
	}
	if !sensorPattern.MatchString(sensor) {
		return "", fmt.Errorf("%w: sensor number must be 1-2 digits, got %q", ErrInvalidQuery, q.Sensor)
	}
	if q.Start.IsZero() {
		return "", fmt.Errorf("%w: start date is required", ErrInvalidQuery)
	}

	end := "Now"
	if !q.End.IsZero() && !sameDay(q.End, now) {
		end = q.End.Format(dateLayout)
	}

	return fmt.Sprintf("%s?Stations=%s&SensorNums=%s&dur_code=%s&Start=%s&end_date=%s",
		base,
		url.QueryEscape(station),
		url.QueryEscape(sensor),
		url.QueryEscape(duration),
		q.Start.Format(dateLayout),
		end), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Fetch performs one request for q and parses the response. It never retries.
func (c *Client) Fetch(ctx context.Context, q Query, opts ...FetchOption) Result {
	o := fetchOptions{verbose: c.config.Verbose}
	for _, opt := range opts {
		opt(&o)
	}

	requestURL, err := BuildURL(c.config.BaseURL, q, c.now())
	if err != nil {
		return c.fail(Result{Status: StatusInvalidQuery, Err: err}, q, o)
	}
	result := Result{URL: requestURL}

	c.logger.Debug("Fetching sensor series",
		logger.String("station", q.Station),
		logger.String("sensor", q.Sensor),
		logger.String("duration", q.Duration),
		logger.String("url", requestURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		result.Status = StatusTransportError
		result.Err = fmt.Errorf("error creating request: %w", err)
		return c.fail(result, q, o)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Status = StatusTransportError
		result.Err = fmt.Errorf("error making request to CDEC: %w", err)
		return c.fail(result, q, o)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Status = StatusTransportError
		result.Err = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		return c.fail(result, q, o)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Status = StatusTransportError
		result.Err = fmt.Errorf("error reading CDEC response: %w", err)
		return c.fail(result, q, o)
	}

	if n := utf8.RuneCount(body); n < MinResponseLength {
		result.Status = StatusNoData
		result.Err = fmt.Errorf("%w: %d characters", ErrShortResponse, n)
		return c.fail(result, q, o)
	}

	series, dropped := parse(strings.NewReader(string(body)))
	result.Series = series

	c.logger.Debug("Parsed sensor series",
		logger.String("station", q.Station),
		logger.Int("rows", series.Len()),
		logger.Int("dropped_rows", dropped),
		logger.Int("missing_values", series.MissingCount()),
		logger.Duration("duration", time.Since(start)))

	if series.Len() == 0 {
		result.Status = StatusNoData
		result.Err = ErrNoRows
		return result
	}

	result.Status = StatusOK
	return result
}

// FetchSeries is the compatibility form of Fetch: it returns nil slices on
// any failure and never reports an error.
func (c *Client) FetchSeries(ctx context.Context, q Query, opts ...FetchOption) (values, dates []float64) {
	result := c.Fetch(ctx, q, opts...)
	if !result.OK() {
		return nil, nil
	}
	return result.Series.Values, result.Series.Dates
}

func (c *Client) fail(result Result, q Query, o fetchOptions) Result {
	fields := []logger.Field{
		logger.String("station", q.Station),
		logger.String("sensor", q.Sensor),
		logger.String("status", result.Status.String()),
		logger.Error(result.Err),
	}
	if !o.verbose {
		c.logger.Debug("Sensor series fetch failed", fields...)
		return result
	}

	c.logger.Warn("Sensor series fetch failed", fields...)
	if c.diag != nil {
		fmt.Fprintln(c.diag, DiagnosticMessage)
	}
	return result
}
