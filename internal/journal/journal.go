// Package journal records the session's executed signals and closed trades
// and renders them as a console summary or an Excel workbook at shutdown.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/xuri/excelize/v2"

	"signal-relay/internal/models"
)

// ExecutedSignal is one successfully submitted signal
type ExecutedSignal struct {
	Signal models.Signal
	At     time.Time
}

// ClosedTrade is one exit deal
type ClosedTrade struct {
	Deal models.Deal
	At   time.Time
}

// Journal accumulates session activity. Safe for use from the ingestion and
// reconciler loops.
type Journal struct {
	mu       sync.Mutex
	started  time.Time
	executed []ExecutedSignal
	closed   []ClosedTrade
}

// New creates an empty journal
func New() *Journal {
	return &Journal{started: time.Now()}
}

// RecordExecution logs a submitted signal
func (j *Journal) RecordExecution(sig models.Signal) {
	j.mu.Lock()
	j.executed = append(j.executed, ExecutedSignal{Signal: sig, At: time.Now()})
	j.mu.Unlock()
}

// RecordClose logs an exit deal
func (j *Journal) RecordClose(deal models.Deal) {
	j.mu.Lock()
	j.closed = append(j.closed, ClosedTrade{Deal: deal, At: time.Now()})
	j.mu.Unlock()
}

// PrintSummary renders the session to stdout
func (j *Journal) PrintSummary() {
	j.mu.Lock()
	defer j.mu.Unlock()

	fmt.Printf("\nSession summary (started %s)\n", j.started.Format(time.RFC3339))

	sigTable := table.NewWriter()
	sigTable.SetOutputMirror(os.Stdout)
	sigTable.SetTitle("Executed Signals")
	sigTable.AppendHeader(table.Row{"#", "Time", "Signal", "Instrument", "Side", "Kind", "Volume"})
	for i, e := range j.executed {
		sigTable.AppendRow(table.Row{
			i + 1, e.At.Format("15:04:05"), e.Signal.ID, e.Signal.Instrument,
			e.Signal.Side, e.Signal.Kind, e.Signal.Volume,
		})
	}
	sigTable.Render()

	var total float64
	tradeTable := table.NewWriter()
	tradeTable.SetOutputMirror(os.Stdout)
	tradeTable.SetTitle("Closed Trades")
	tradeTable.AppendHeader(table.Row{"#", "Time", "Instrument", "Side", "Volume", "Price", "Profit"})
	for i, c := range j.closed {
		total += c.Deal.Profit
		tradeTable.AppendRow(table.Row{
			i + 1, c.At.Format("15:04:05"), c.Deal.Instrument, c.Deal.Side,
			c.Deal.Volume, c.Deal.Price, fmt.Sprintf("%.2f", c.Deal.Profit),
		})
	}
	tradeTable.AppendFooter(table.Row{"", "", "", "", "", "Total", fmt.Sprintf("%.2f", total)})
	tradeTable.Render()
}

// ExportXLSX writes the session to an Excel workbook
func (j *Journal) ExportXLSX(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const signalsSheet = "Signals"
	const tradesSheet = "Closed Trades"
	fx.SetSheetName(fx.GetSheetName(0), signalsSheet)
	fx.NewSheet(tradesSheet)

	header := func(sheet string, cols []string) {
		for i, name := range cols {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			fx.SetCellValue(sheet, cell, name)
		}
	}

	header(signalsSheet, []string{"Time", "Signal", "Instrument", "Side", "Kind", "Volume", "Comment"})
	for i, e := range j.executed {
		row := i + 2
		fx.SetCellValue(signalsSheet, fmt.Sprintf("A%d", row), e.At.Format(time.RFC3339))
		fx.SetCellValue(signalsSheet, fmt.Sprintf("B%d", row), e.Signal.ID)
		fx.SetCellValue(signalsSheet, fmt.Sprintf("C%d", row), e.Signal.Instrument)
		fx.SetCellValue(signalsSheet, fmt.Sprintf("D%d", row), string(e.Signal.Side))
		fx.SetCellValue(signalsSheet, fmt.Sprintf("E%d", row), string(e.Signal.Kind))
		fx.SetCellValue(signalsSheet, fmt.Sprintf("F%d", row), e.Signal.Volume)
		fx.SetCellValue(signalsSheet, fmt.Sprintf("G%d", row), e.Signal.Comment)
	}

	header(tradesSheet, []string{"Time", "Deal", "Position", "Instrument", "Side", "Volume", "Price", "Profit"})
	for i, c := range j.closed {
		row := i + 2
		fx.SetCellValue(tradesSheet, fmt.Sprintf("A%d", row), c.At.Format(time.RFC3339))
		fx.SetCellValue(tradesSheet, fmt.Sprintf("B%d", row), c.Deal.Ticket)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("C%d", row), c.Deal.PositionTicket)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("D%d", row), c.Deal.Instrument)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("E%d", row), string(c.Deal.Side))
		fx.SetCellValue(tradesSheet, fmt.Sprintf("F%d", row), c.Deal.Volume)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("G%d", row), c.Deal.Price)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("H%d", row), c.Deal.Profit)
	}

	return fx.SaveAs(path)
}
