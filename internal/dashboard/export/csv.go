package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
)

// recordHeader mirrors the dataset's own column names so an exported file
// lines up with the upstream catalog.
var recordHeader = []string{
	"nombre_comercial",
	"principio_activo",
	"fabricante",
	"concentracion",
	"canal",
	"unidad_de_dispensacion",
	"precio_por_tableta",
}

// WriteRecordsCSV serialises the filtered record slice to CSV.
func WriteRecordsCSV(w io.Writer, records []catalog.DrugRecord) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(recordHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write([]string{
			r.CommercialName,
			r.ActiveIngredient,
			r.Manufacturer,
			r.Concentration,
			r.Channel,
			r.DispensingUnit,
			formatFloat(r.PricePerUnit),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteStatsCSV emits the stat strip as metric/value rows.
func WriteStatsCSV(w io.Writer, stats dashboard.SummaryStats) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Métrica", "Valor"}); err != nil {
		return err
	}
	rows := [][]string{
		{"Registros", strconv.Itoa(stats.Count)},
		{"Precio mínimo", formatFloat(stats.Min)},
		{"Precio máximo", formatFloat(stats.Max)},
		{"Precio promedio", formatFloat(stats.Mean)},
		{"Precio mediano", formatFloat(stats.Median)},
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
