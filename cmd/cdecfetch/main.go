package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/cdec-series/internal/cdec"
	"github.com/yegors/cdec-series/internal/config"
	"github.com/yegors/cdec-series/pkg/logger"
)

const dateLayout = "2006-01-02"

type options struct {
	configPath string
	station    string
	duration   string
	sensor     string
	start      string
	end        string
	verbose    bool
	strict     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (optional)")
	flag.StringVar(&opts.station, "station", "", "Station ID, e.g. ORO")
	flag.StringVar(&opts.duration, "dur", "D", "Duration code, e.g. D, H or E")
	flag.StringVar(&opts.sensor, "sensor", "", "Sensor number, 1-2 digits")
	flag.StringVar(&opts.start, "start", "", "Start date (YYYY-MM-DD)")
	flag.StringVar(&opts.end, "end", "now", "End date (YYYY-MM-DD) or now")
	flag.BoolVar(&opts.verbose, "verbose", false, "Print a diagnostic message when retrieval fails")
	flag.BoolVar(&opts.strict, "strict", false, "Exit with status 1 when no data is returned")
	flag.Parse()

	os.Exit(run(context.Background(), opts, os.Stdout, os.Stderr))
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) int {
	cfg, err := config.LoadWithFallback(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	if err := cfg.ValidateCDEC(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	// Logs go to stderr only when asked for; stdout stays pure CSV.
	log := logger.Nop()
	if opts.verbose {
		log, err = logger.New(logger.Config{Level: cfg.Logging.Level, Format: "console"})
		if err != nil {
			fmt.Fprintf(stderr, "Error creating logger: %v\n", err)
			return 1
		}
		defer log.Sync()
	}

	q, err := buildQuery(opts)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	client := cdec.NewClient(cfg.CDEC, log)
	client.SetDiagnosticWriter(stderr)

	result := client.Fetch(ctx, q, cdec.WithVerbose(opts.verbose || cfg.CDEC.Verbose))
	if result.Status == cdec.StatusInvalidQuery {
		fmt.Fprintf(stderr, "%v\n", result.Err)
		return 2
	}
	if !result.OK() {
		if opts.strict {
			return 1
		}
		return 0
	}

	if err := writeSeries(stdout, result.Series); err != nil {
		fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return 1
	}
	return 0
}

func buildQuery(opts options) (cdec.Query, error) {
	q := cdec.Query{
		Station:  opts.station,
		Duration: opts.duration,
		Sensor:   opts.sensor,
	}
	if opts.start == "" {
		return q, errors.New("-start is required")
	}
	start, err := time.Parse(dateLayout, opts.start)
	if err != nil {
		return q, fmt.Errorf("invalid -start %q: %w", opts.start, err)
	}
	q.Start = start

	if opts.end != "" && !strings.EqualFold(opts.end, "now") {
		end, err := time.Parse(dateLayout, opts.end)
		if err != nil {
			return q, fmt.Errorf("invalid -end %q: %w", opts.end, err)
		}
		q.End = end
	}

	if _, err := cdec.BuildURL(cdec.DefaultBaseURL, q, time.Now()); err != nil {
		return q, err
	}
	return q, nil
}

func writeSeries(w io.Writer, s cdec.Series) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "date_serial,timestamp,value")
	for i, t := range s.Times() {
		fmt.Fprintf(bw, "%s,%s,%s\n",
			strconv.FormatFloat(s.Dates[i], 'f', 6, 64),
			t.Format("2006-01-02 15:04"),
			strconv.FormatFloat(s.Values[i], 'f', -1, 64))
	}
	return bw.Flush()
}
