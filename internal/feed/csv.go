package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"signal-relay/internal/logger"
	"signal-relay/internal/models"
)

// CSVSource reads signals from a CSV file with a header row. Columns are
// matched by name, case-insensitively, in any order; unknown columns are
// ignored and missing optional columns leave the zero value. A malformed row
// is skipped with a log line, never failing the whole fetch.
type CSVSource struct {
	path string
}

// NewCSVSource creates a source over the given file path
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Fetch reads and parses the entire feed file
func (s *CSVSource) Fetch(ctx context.Context) ([]models.Signal, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening signal feed: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading signal feed: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	cols := indexHeader(records[0])
	if _, ok := cols["id"]; !ok {
		return nil, fmt.Errorf("signal feed has no id column")
	}

	var signals []models.Signal
	for i, row := range records[1:] {
		sig, err := parseRow(cols, row)
		if err != nil {
			logger.S().Warnf("skipping feed row %d: %v", i+2, err)
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func parseRow(cols map[string]int, row []string) (models.Signal, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	floatField := func(name string) (float64, error) {
		raw := field(name)
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return v, nil
	}

	sig := models.Signal{
		ID:         field("id"),
		Instrument: field("instrument"),
		Comment:    field("comment"),
	}
	if sig.ID == "" {
		return sig, fmt.Errorf("missing id")
	}
	if sig.Instrument == "" {
		return sig, fmt.Errorf("missing instrument")
	}

	side, err := parseSide(field("side"))
	if err != nil {
		return sig, err
	}
	sig.Side = side

	kind, err := parseKind(field("orderkind"))
	if err != nil {
		return sig, err
	}
	sig.Kind = kind

	if sig.Price, err = floatField("price"); err != nil {
		return sig, err
	}
	if sig.StopLoss, err = floatField("stoploss"); err != nil {
		return sig, err
	}
	if sig.TakeProfit, err = floatField("takeprofit"); err != nil {
		return sig, err
	}
	if sig.Volume, err = floatField("volume"); err != nil {
		return sig, err
	}
	return sig, nil
}

func parseSide(raw string) (models.Side, error) {
	switch strings.ToLower(raw) {
	case "buy", "long":
		return models.SideBuy, nil
	case "sell", "short":
		return models.SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

func parseKind(raw string) (models.OrderKind, error) {
	switch strings.ToLower(raw) {
	case "", "market":
		return models.OrderKindMarket, nil
	case "limit":
		return models.OrderKindLimit, nil
	case "stop":
		return models.OrderKindStop, nil
	case "stoplimit", "stop-limit":
		return models.OrderKindStopLimit, nil
	default:
		return "", fmt.Errorf("unknown order kind %q", raw)
	}
}
