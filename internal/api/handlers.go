package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/cdec-series/internal/cdec"
	"github.com/yegors/cdec-series/pkg/logger"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05"
)

// SeriesFetcher retrieves a sensor series
type SeriesFetcher interface {
	Fetch(ctx context.Context, q cdec.Query, opts ...cdec.FetchOption) cdec.Result
}

// Handler contains the API handlers
type Handler struct {
	fetcher SeriesFetcher
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(fetcher SeriesFetcher, logger *logger.Logger) *Handler {
	return &Handler{
		fetcher: fetcher,
		logger:  logger.Named("api-handler"),
	}
}

// SeriesResponse is the JSON body returned for a sensor series.
// Missing readings are encoded as null.
type SeriesResponse struct {
	RequestID string     `json:"request_id"`
	Station   string     `json:"station"`
	Sensor    string     `json:"sensor"`
	Duration  string     `json:"duration"`
	Status    string     `json:"status"`
	URL       string     `json:"url,omitempty"`
	Error     string     `json:"error,omitempty"`
	Values    []*float64 `json:"values"`
	Dates     []float64  `json:"dates"`
	Times     []string   `json:"times"`
	Missing   int        `json:"missing"`
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetSeries fetches one sensor series from CDEC
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := RequestIDFromContext(r.Context())

	q, err := parseSeriesQuery(r)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, SeriesResponse{
			RequestID: requestID,
			Status:    cdec.StatusInvalidQuery.String(),
			Error:     err.Error(),
			Values:    []*float64{},
			Dates:     []float64{},
			Times:     []string{},
		})
		return
	}

	result := h.fetcher.Fetch(r.Context(), q)

	resp := SeriesResponse{
		RequestID: requestID,
		Station:   strings.ToUpper(q.Station),
		Sensor:    q.Sensor,
		Duration:  strings.ToUpper(q.Duration),
		Status:    result.Status.String(),
		URL:       result.URL,
		Values:    make([]*float64, 0, result.Series.Len()),
		Dates:     make([]float64, 0, result.Series.Len()),
		Times:     make([]string, 0, result.Series.Len()),
		Missing:   result.Series.MissingCount(),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	for i, v := range result.Series.Values {
		if cdec.IsMissing(v) {
			resp.Values = append(resp.Values, nil)
		} else {
			v := v
			resp.Values = append(resp.Values, &v)
		}
		resp.Dates = append(resp.Dates, result.Series.Dates[i])
	}
	for _, t := range result.Series.Times() {
		resp.Times = append(resp.Times, t.Format(timestampLayout))
	}

	h.logger.Info("Served sensor series",
		logger.String("request_id", requestID),
		logger.String("station", resp.Station),
		logger.String("sensor", resp.Sensor),
		logger.String("status", resp.Status),
		logger.Int("rows", result.Series.Len()),
		logger.Duration("duration", time.Since(start)))

	WriteJSON(w, statusCode(result.Status), resp)
}

func statusCode(s cdec.Status) int {
	switch s {
	case cdec.StatusOK:
		return http.StatusOK
	case cdec.StatusNoData:
		return http.StatusNotFound
	case cdec.StatusInvalidQuery:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func parseSeriesQuery(r *http.Request) (cdec.Query, error) {
	q := cdec.Query{
		Station:  chi.URLParam(r, "station"),
		Sensor:   chi.URLParam(r, "sensor"),
		Duration: r.URL.Query().Get("dur"),
	}
	if q.Duration == "" {
		return q, fmt.Errorf("dur is required")
	}

	startParam := r.URL.Query().Get("start")
	if startParam == "" {
		return q, fmt.Errorf("start is required")
	}
	start, err := time.Parse(dateLayout, startParam)
	if err != nil {
		return q, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", startParam)
	}
	q.Start = start

	if endParam := r.URL.Query().Get("end"); endParam != "" && !strings.EqualFold(endParam, "now") {
		end, err := time.Parse(dateLayout, endParam)
		if err != nil {
			return q, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD or now", endParam)
		}
		if end.Before(start) {
			return q, fmt.Errorf("end date %s is before start date %s", endParam, startParam)
		}
		q.End = end
	}

	return q, nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
