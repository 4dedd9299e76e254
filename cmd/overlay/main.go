// cmd/overlay computes indicator overlays from candle history stored in
// SQLite and prints the newest rows, optionally importing a CSV first.
//
// Usage:
//
//	go run ./cmd/overlay --symbol=BTCUSD --overlays=SMA:20,BB:20:2,VWAP --rows=10
//	go run ./cmd/overlay --import=candles.csv --symbol=BTCUSD
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"chartcore/internal/indicator"
	"chartcore/internal/logger"
	"chartcore/internal/model"
	sqlitestore "chartcore/internal/store/sqlite"
)

func main() {
	symbol := flag.String("symbol", "BTCUSD", "Symbol to read")
	dbPath := flag.String("db", "data/chart.db", "Path to SQLite database")
	specs := flag.String("overlays", "", "Overlay specs: TYPE:PERIOD[:MULT],... (default: SMA:20,EMA:9,EMA:21,BB:20:2,VWAP)")
	history := flag.Int("history", 500, "Candles to load")
	rows := flag.Int("rows", 10, "Newest rows to print")
	importPath := flag.String("import", "", "CSV to import first (time,open,high,low,close,volume; time is RFC3339 or unix seconds)")
	asJSON := flag.Bool("json", false, "Print overlays as JSON")
	flag.Parse()

	logger.Init("overlay", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		fatal("sqlite open failed", err)
	}
	defer store.Close()
	ctx := context.Background()

	if *importPath != "" {
		n, err := importCSV(ctx, store, *symbol, *importPath)
		if err != nil {
			fatal("import failed", err)
		}
		slog.Info("imported candles", "count", n, "path", *importPath)
	}

	engine, err := indicator.NewEngine(indicator.ParseSpecs(*specs))
	if err != nil {
		fatal("invalid overlays", err)
	}
	candles, err := store.LastCandles(ctx, *symbol, *history)
	if err != nil {
		fatal("load candles failed", err)
	}
	if len(candles) == 0 {
		fmt.Fprintf(os.Stderr, "no candles stored for %s\n", *symbol)
		os.Exit(1)
	}

	start := time.Now()
	overlays, err := engine.Compute(candles)
	if err != nil {
		fatal("compute failed", err)
	}
	elapsed := time.Since(start)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(overlays); err != nil {
			fatal("encode failed", err)
		}
		return
	}
	printTable(os.Stdout, candles, overlays, *rows)
	fmt.Printf("\n%d candles, %d overlays, computed in %s\n", len(candles), len(overlays), elapsed)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// printTable prints one column per overlay line for the newest n candles.
func printTable(w io.Writer, candles []model.Candle, overlays []indicator.Overlay, n int) {
	type column struct {
		name string
		s    indicator.Series
	}
	var cols []column
	for _, ov := range overlays {
		lines := make([]string, 0, len(ov.Lines))
		for l := range ov.Lines {
			lines = append(lines, l)
		}
		sort.Strings(lines)
		for _, l := range lines {
			name := ov.Name
			if l != "value" {
				name += "." + l
			}
			cols = append(cols, column{name: name, s: ov.Lines[l]})
		}
	}

	fmt.Fprintf(w, "%-20s %12s", "time", "close")
	for _, c := range cols {
		fmt.Fprintf(w, " %14s", c.name)
	}
	fmt.Fprintln(w)

	from := 0
	if n > 0 && len(candles) > n {
		from = len(candles) - n
	}
	for i := from; i < len(candles); i++ {
		fmt.Fprintf(w, "%-20s %12.4f", candles[i].Time.UTC().Format("2006-01-02 15:04:05"), candles[i].Close)
		for _, c := range cols {
			if v := c.s[i]; v.Valid {
				fmt.Fprintf(w, " %14.4f", v.Float)
			} else {
				fmt.Fprintf(w, " %14s", "-")
			}
		}
		fmt.Fprintln(w)
	}
}

// importCSV upserts candles from a CSV file. A header row is skipped.
func importCSV(ctx context.Context, store *sqlitestore.Store, symbol, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6
	r.TrimLeadingSpace = true

	var candles []model.Candle
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		c, err := parseRecord(rec)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	if err := store.UpsertCandles(ctx, symbol, candles); err != nil {
		return 0, err
	}
	return len(candles), nil
}

func parseRecord(rec []string) (model.Candle, error) {
	var c model.Candle
	ts := strings.TrimSpace(rec[0])
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		c.Time = t
	} else if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
		c.Time = time.Unix(sec, 0).UTC()
	} else {
		return c, fmt.Errorf("bad time %q", ts)
	}
	vals := make([]float64, 5)
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return c, fmt.Errorf("bad number %q", rec[i+1])
		}
		vals[i] = v
	}
	c.Open, c.High, c.Low, c.Close, c.Volume = vals[0], vals[1], vals[2], vals[3], vals[4]
	return c, nil
}
