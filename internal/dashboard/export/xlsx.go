package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
)

const (
	recordsSheet   = "Registros"
	statsSheet     = "Resumen"
	breakdownSheet = "Desglose"
)

// WriteWorkbook builds the XLSX export: the filtered records, the stat
// strip, and the server-side breakdown for the current scope when one is
// available.
func WriteWorkbook(w io.Writer, records []catalog.DrugRecord, stats dashboard.SummaryStats, summary catalog.Summary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return fmt.Errorf("rename records sheet: %w", err)
	}
	for col, header := range recordHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(recordsSheet, cell, header); err != nil {
			return err
		}
	}
	for i, r := range records {
		row := i + 2
		values := []interface{}{
			r.CommercialName,
			r.ActiveIngredient,
			r.Manufacturer,
			r.Concentration,
			r.Channel,
			r.DispensingUnit,
			r.PricePerUnit,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(recordsSheet, cell, value); err != nil {
				return err
			}
		}
	}

	if _, err := f.NewSheet(statsSheet); err != nil {
		return fmt.Errorf("create stats sheet: %w", err)
	}
	statRows := []struct {
		label string
		value interface{}
	}{
		{"Registros", stats.Count},
		{"Precio mínimo", stats.Min},
		{"Precio máximo", stats.Max},
		{"Precio promedio", stats.Mean},
		{"Precio mediano", stats.Median},
	}
	for i, row := range statRows {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := f.SetCellValue(statsSheet, labelCell, row.label); err != nil {
			return err
		}
		if err := f.SetCellValue(statsSheet, valueCell, row.value); err != nil {
			return err
		}
	}

	if err := writeBreakdown(f, summary); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}

// writeBreakdown adds the per-manufacturer or per-ingredient rows the
// summary endpoint returned for the current scope. No sheet is added when
// the scope had neither dimension selected.
func writeBreakdown(f *excelize.File, summary catalog.Summary) error {
	type breakdownRow struct {
		label    string
		count    int
		minPrice float64
		maxPrice float64
		avgPrice float64
	}

	var label string
	var rows []breakdownRow
	switch {
	case len(summary.Manufacturers) > 0:
		label = "Fabricante"
		for _, m := range summary.Manufacturers {
			rows = append(rows, breakdownRow{m.Manufacturer, m.Count, m.MinPrice, m.MaxPrice, m.AvgPrice})
		}
	case len(summary.ActiveIngredients) > 0:
		label = "Principio activo"
		for _, ing := range summary.ActiveIngredients {
			rows = append(rows, breakdownRow{ing.ActiveIngredient, ing.Count, ing.MinPrice, ing.MaxPrice, ing.AvgPrice})
		}
	default:
		return nil
	}

	if _, err := f.NewSheet(breakdownSheet); err != nil {
		return fmt.Errorf("create breakdown sheet: %w", err)
	}
	headers := []string{label, "Registros", "Precio mínimo", "Precio máximo", "Precio promedio"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(breakdownSheet, cell, header); err != nil {
			return err
		}
	}
	for i, row := range rows {
		values := []interface{}{row.label, row.count, row.minPrice, row.maxPrice, row.avgPrice}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(breakdownSheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}
