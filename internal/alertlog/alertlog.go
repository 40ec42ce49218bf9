// Package alertlog implements the Alert Log: an append-only spreadsheet
// sink, one sheet per alert horizon, with reserved enrichment columns
// filled in later by C11. Grounded on quotecache's
// durable-store-plus-in-memory-mirror discipline (the workbook lives on
// disk; every row lookup goes through an in-memory row-id index kept
// current after every successful save), using
// github.com/tealeg/xlsx/v3 — wired per DESIGN.md from the
// penny-vault-pvbt manifest in the retrieval pack.
package alertlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/tealeg/xlsx/v3"

	"nsewatch/internal/model"
)

var columns = []string{
	"row_id", "date", "time", "symbol", "kind", "direction",
	"alert_price", "previous_price", "change_pct", "change_abs",
	"volume_multiple", "telegram_sent",
	"price_plus_2m", "price_plus_10m", "price_eod", "status",
	"oi_pattern", "oi_change_pct", "oi_strength", "oi_priority",
}

// horizonSheet maps a horizon to its sheet name (spec §6: "one sheet per
// alert horizon").
func horizonSheet(h model.Horizon) string {
	switch h {
	case model.Horizon1m:
		return "1m"
	case model.Horizon5m:
		return "5m"
	case model.Horizon10m:
		return "10m"
	case model.Horizon30m:
		return "30m"
	case model.HorizonVolumeSpike:
		return "volume_spike"
	case model.HorizonOI:
		return "oi"
	default:
		return "other"
	}
}

type rowLoc struct {
	sheet string
	index int // row index within the sheet
}

// Log is the xlsx-backed model.AlertLog.
type Log struct {
	path string

	mu      sync.Mutex
	file    *xlsx.File
	nextRow int64
	index   map[int64]rowLoc
}

// Open loads (or creates) the workbook at path, rebuilding the row-id
// index and the monotone row_id counter by scanning every sheet.
func Open(path string) (*Log, error) {
	file, err := xlsx.OpenFile(path)
	if err != nil {
		file = xlsx.NewFile()
	}

	l := &Log{path: path, file: file, index: make(map[int64]rowLoc)}
	l.rebuildIndex()
	return l, nil
}

func (l *Log) rebuildIndex() {
	var maxID int64
	for _, sheet := range l.file.Sheets {
		_ = sheet.ForEachRow(func(row *xlsx.Row) error {
			if row == nil {
				return nil
			}
			cell := row.GetCell(0)
			if cell == nil {
				return nil
			}
			id, err := cell.Int64()
			if err != nil {
				return nil // header row
			}
			l.index[id] = rowLoc{sheet: sheet.Name, index: row.Num}
			if id > maxID {
				maxID = id
			}
			return nil
		})
	}
	l.nextRow = maxID + 1
}

func (l *Log) sheetFor(name string) (*xlsx.Sheet, error) {
	if sheet, ok := l.file.Sheet[name]; ok {
		return sheet, nil
	}
	sheet, err := l.file.AddSheet(name)
	if err != nil {
		return nil, fmt.Errorf("alertlog: add sheet %s: %w", name, err)
	}
	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c)
	}
	return sheet, nil
}

// Append adds a new row for alert and returns its assigned row_id
// (spec §3: "row_id (unique, monotone)").
func (l *Log) Append(ctx context.Context, alert model.Alert) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sheetName := horizonSheet(alert.Horizon)
	sheet, err := l.sheetFor(sheetName)
	if err != nil {
		return 0, err
	}

	rowID := l.nextRow
	row := sheet.AddRow()
	l.writeRow(row, rowID, alert)

	if err := l.file.Save(l.path); err != nil {
		return 0, fmt.Errorf("alertlog: save: %w", err)
	}

	l.index[rowID] = rowLoc{sheet: sheetName, index: row.Num}
	l.nextRow++
	return rowID, nil
}

func (l *Log) writeRow(row *xlsx.Row, rowID int64, alert model.Alert) {
	changeAbs := alert.CurrentPrice - alert.ReferencePrice
	ts := alert.Timestamp

	row.AddCell().SetInt64(rowID)
	row.AddCell().SetString(ts.Format("2006-01-02"))
	row.AddCell().SetString(ts.Format("15:04:05"))
	row.AddCell().SetString(alert.Symbol)
	row.AddCell().SetString(string(alert.Kind))
	row.AddCell().SetString(string(alert.Direction))
	row.AddCell().SetFloat(alert.CurrentPrice)
	row.AddCell().SetFloat(alert.ReferencePrice)
	row.AddCell().SetFloat(alert.MagnitudePct)
	row.AddCell().SetFloat(changeAbs)
	row.AddCell().SetFloat(alert.VolumeMultiple)
	row.AddCell().SetBool(false) // telegram_sent: written as false; nothing updates this cell after Send

	row.AddCell().SetString("") // price_plus_2m
	row.AddCell().SetString("") // price_plus_10m
	row.AddCell().SetString("") // price_eod
	row.AddCell().SetString(string(model.StatusPending))

	if oi := alert.OISnapshot; oi != nil {
		row.AddCell().SetString(string(oi.Pattern))
		row.AddCell().SetFloat(oi.OIChangePct)
		row.AddCell().SetString(string(oi.Strength))
		row.AddCell().SetString(string(oi.Priority))
	} else {
		row.AddCell().SetString("")
		row.AddCell().SetString("")
		row.AddCell().SetString("")
		row.AddCell().SetString("")
	}
}

const (
	colPricePlus2m  = 12
	colPricePlus10m = 13
	colPriceEOD     = 14
	colStatus       = 15
)

// UpdateSlot fills one reserved enrichment column on an existing row. A
// slot, once written, is never rewritten (spec §3's enrichment-record
// invariant) — C11's own idempotence check enforces that before calling
// here.
func (l *Log) UpdateSlot(ctx context.Context, rowID int64, slot model.EnrichmentSlot, value float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loc, ok := l.index[rowID]
	if !ok {
		return fmt.Errorf("alertlog: unknown row_id %d", rowID)
	}
	sheet, ok := l.file.Sheet[loc.sheet]
	if !ok {
		return fmt.Errorf("alertlog: sheet %s missing for row_id %d", loc.sheet, rowID)
	}
	row, err := sheet.Row(loc.index)
	if err != nil {
		return fmt.Errorf("alertlog: row lookup: %w", err)
	}

	col := 0
	switch slot {
	case model.SlotPlus2m:
		col = colPricePlus2m
	case model.SlotPlus10m:
		col = colPricePlus10m
	case model.SlotEOD:
		col = colPriceEOD
	default:
		return fmt.Errorf("alertlog: unknown slot %q", slot)
	}

	cell := row.GetCell(col)
	cell.SetFloat(value)

	return l.file.Save(l.path)
}

// SetStatus updates the status column for rowID (called alongside
// EnrichmentRecord.Recompute transitions).
func (l *Log) SetStatus(ctx context.Context, rowID int64, status model.EnrichmentStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loc, ok := l.index[rowID]
	if !ok {
		return fmt.Errorf("alertlog: unknown row_id %d", rowID)
	}
	sheet := l.file.Sheet[loc.sheet]
	row, err := sheet.Row(loc.index)
	if err != nil {
		return err
	}
	row.GetCell(colStatus).SetString(string(status))
	return l.file.Save(l.path)
}

// Close flushes the final state to disk.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Save(l.path)
}
