package cdec

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// CSV layout returned by the servlet:
// STATION_ID,DURATION,SENSOR_NUMBER,SENS_TYPE,DATE TIME,OBS DATE,VALUE,DATA_FLAG,UNITS
const (
	numColumns   = 9
	colTimestamp = 4
	colValue     = 6
)

const timestampLayout = "200601021504"

// Parse converts a CSV response body into a Series. The header line is
// skipped, rows without a timestamp are dropped, and readings that are not
// numeric or fall below SentinelThreshold become Missing.
func Parse(body string) Series {
	series, _ := parse(strings.NewReader(body))
	return series
}

// parse also reports how many rows were dropped
func parse(r io.Reader) (Series, int) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	return parseRecords(reader.Read)
}

// parseRecords consumes records from next until io.EOF. The first record is
// the header, even when it fails to parse.
func parseRecords(next func() ([]string, error)) (Series, int) {
	var series Series
	dropped := 0
	header := true

	for {
		record, err := next()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			break
		}
		if header {
			header = false
			continue
		}
		if err != nil {
			dropped++
			continue
		}

		fields := columns(record)
		stamp := stripSpace(fields[colTimestamp])
		if stamp == "" {
			dropped++
			continue
		}
		ts, err := time.Parse(timestampLayout, stamp)
		if err != nil {
			dropped++
			continue
		}

		series.Values = append(series.Values, cleanValue(fields[colValue]))
		series.Dates = append(series.Dates, DateSerial(ts))
	}

	return series, dropped
}

// columns pads or truncates a record to the fixed column count
func columns(record []string) []string {
	fields := make([]string, numColumns)
	for i := 0; i < numColumns && i < len(record); i++ {
		fields[i] = strings.TrimSpace(record[i])
	}
	return fields
}

func cleanValue(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < SentinelThreshold {
		return Missing()
	}
	return v
}

// stripSpace removes blanks the servlet puts between date and time
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
