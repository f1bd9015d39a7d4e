// Command mockagg serves a small in-memory rendition of the aggregation
// API so the dashboard can run locally without the real service.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"

	"github.com/pharmalens/pharmalens/internal/catalog"
)

func main() {
	addr := getenv("MOCKAGG_ADDR", ":5000")
	srv := &server{records: sampleRecords()}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/metadata", srv.metadata)
	mux.HandleFunc("/api/data", srv.data)
	mux.HandleFunc("/api/summary", srv.summary)
	mux.HandleFunc("/api/histogram", srv.histogram)
	mux.HandleFunc("/api/boxplot", srv.boxplot)
	mux.HandleFunc("/api/ml/anomalies", srv.anomalies)
	mux.HandleFunc("/api/ml/clusters", srv.clusters)

	fmt.Println("→ Mock aggregation service listening on", addr)
	fmt.Println("→ Serving", len(srv.records), "sample records")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("mockagg: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type server struct {
	records []catalog.DrugRecord
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("mockagg: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"status":  "error",
		"message": message,
	})
}

// filtered applies the equality filters and price bounds from the query.
func (s *server) filtered(q url.Values) []catalog.DrugRecord {
	ingredient := q.Get("active_ingredient")
	manufacturer := q.Get("manufacturer")
	concentration := q.Get("concentration")
	channel := q.Get("channel")
	unit := q.Get("dispensing_unit")
	minPrice, _ := strconv.ParseFloat(q.Get("min_price"), 64)
	maxPrice := math.Inf(1)
	if raw := q.Get("max_price"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			maxPrice = v
		}
	}

	out := make([]catalog.DrugRecord, 0, len(s.records))
	for _, r := range s.records {
		if ingredient != "" && r.ActiveIngredient != ingredient {
			continue
		}
		if manufacturer != "" && r.Manufacturer != manufacturer {
			continue
		}
		if concentration != "" && r.Concentration != concentration {
			continue
		}
		if channel != "" && r.Channel != channel {
			continue
		}
		if unit != "" && r.DispensingUnit != unit {
			continue
		}
		if r.PricePerUnit < minPrice || r.PricePerUnit > maxPrice {
			continue
		}
		out = append(out, r)
	}
	return out
}

func prices(records []catalog.DrugRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.PricePerUnit
	}
	return out
}

func (s *server) metadata(w http.ResponseWriter, r *http.Request) {
	distinct := func(pick func(catalog.DrugRecord) string) []string {
		seen := map[string]bool{}
		out := []string{}
		for _, rec := range s.records {
			v := pick(rec)
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
		sort.Strings(out)
		return out
	}

	values := prices(s.records)
	min, _ := stats.Min(values)
	max, _ := stats.Max(values)
	avg, _ := stats.Mean(values)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"total_records": len(s.records),
		"active_ingredients": distinct(func(r catalog.DrugRecord) string {
			return r.ActiveIngredient
		}),
		"manufacturers": distinct(func(r catalog.DrugRecord) string {
			return r.Manufacturer
		}),
		"concentrations": distinct(func(r catalog.DrugRecord) string {
			return r.Concentration
		}),
		"channels": distinct(func(r catalog.DrugRecord) string {
			return r.Channel
		}),
		"dispensing_units": distinct(func(r catalog.DrugRecord) string {
			return r.DispensingUnit
		}),
		"price_range": map[string]float64{"min": min, "max": max, "avg": avg},
		"columns": []string{
			"nombre_comercial", "principio_activo", "fabricante",
			"concentracion", "canal", "unidad_de_dispensacion", "precio_por_tableta",
		},
	})
}

func (s *server) data(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records := s.filtered(q)

	sortBy := q.Get("sort_by")
	descending := q.Get("sort_order") == "desc"
	sort.SliceStable(records, func(i, j int) bool {
		var less bool
		if sortBy == "nombre_comercial" {
			less = records[i].CommercialName < records[j].CommercialName
		} else {
			less = records[i].PricePerUnit < records[j].PricePerUnit
		}
		if descending {
			return !less
		}
		return less
	})

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"count":  len(records),
		"data":   records,
	})
}

func (s *server) summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records := s.filtered(q)
	values := prices(records)

	min, _ := stats.Min(values)
	max, _ := stats.Max(values)
	mean, _ := stats.Mean(values)
	median, _ := stats.Median(values)
	std, _ := stats.StandardDeviation(values)

	summary := map[string]interface{}{
		"count": len(records),
		"price_stats": map[string]float64{
			"min": min, "max": max, "mean": mean, "median": median, "std": std,
		},
	}
	switch {
	case q.Get("active_ingredient") != "":
		summary["manufacturers"] = breakdown(records, func(r catalog.DrugRecord) string {
			return r.Manufacturer
		}, "manufacturer")
	case q.Get("manufacturer") != "":
		summary["active_ingredients"] = breakdown(records, func(r catalog.DrugRecord) string {
			return r.ActiveIngredient
		}, "active_ingredient")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"summary": summary,
	})
}

func breakdown(records []catalog.DrugRecord, pick func(catalog.DrugRecord) string, key string) []map[string]interface{} {
	groups := map[string][]float64{}
	order := []string{}
	for _, r := range records {
		label := pick(r)
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], r.PricePerUnit)
	}
	sort.Strings(order)
	out := make([]map[string]interface{}, 0, len(order))
	for _, label := range order {
		values := groups[label]
		min, _ := stats.Min(values)
		max, _ := stats.Max(values)
		avg, _ := stats.Mean(values)
		out = append(out, map[string]interface{}{
			key:         label,
			"count":     len(values),
			"min_price": min,
			"max_price": max,
			"avg_price": avg,
		})
	}
	return out
}

func (s *server) histogram(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records := s.filtered(q)
	bins, err := strconv.Atoi(q.Get("bins"))
	if err != nil || bins <= 0 {
		bins = 10
	}

	values := prices(records)
	out := []map[string]interface{}{}
	if len(values) > 0 {
		min, _ := stats.Min(values)
		max, _ := stats.Max(values)
		width := (max - min) / float64(bins)
		if width == 0 {
			width = 1
		}
		counts := make([]int, bins)
		for _, v := range values {
			idx := int((v - min) / width)
			if idx >= bins {
				idx = bins - 1
			}
			counts[idx]++
		}
		for i, count := range counts {
			lower := min + float64(i)*width
			upper := lower + width
			out = append(out, map[string]interface{}{
				"bin":             fmt.Sprintf("%.0f – %.0f", lower, upper),
				"binStart":        lower,
				"binEnd":          upper,
				"count":           count,
				"normalizedCount": float64(count) / float64(len(values)),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"histogram": out,
	})
}

func (s *server) boxplot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupBy := q.Get("group_by")
	if groupBy != "fabricante" && groupBy != "principio_activo" {
		writeError(w, "group_by must be fabricante or principio_activo")
		return
	}
	records := s.filtered(q)

	groups := map[string][]float64{}
	for _, rec := range records {
		label := rec.Manufacturer
		if groupBy == "principio_activo" {
			label = rec.ActiveIngredient
		}
		groups[label] = append(groups[label], rec.PricePerUnit)
	}

	type row struct {
		Name   string  `json:"name"`
		Min    float64 `json:"min"`
		Q1     float64 `json:"q1"`
		Median float64 `json:"median"`
		Q3     float64 `json:"q3"`
		Max    float64 `json:"max"`
		Count  int     `json:"count"`
	}
	rows := []row{}
	for label, values := range groups {
		if len(values) < 5 {
			continue
		}
		quartiles, err := stats.Quartile(values)
		if err != nil {
			continue
		}
		min, _ := stats.Min(values)
		max, _ := stats.Max(values)
		rows = append(rows, row{
			Name: label, Min: min, Q1: quartiles.Q1, Median: quartiles.Q2,
			Q3: quartiles.Q3, Max: max, Count: len(values),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Median == rows[j].Median {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Median > rows[j].Median
	})
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"boxplot": rows,
	})
}

// anomalies approximates the isolation forest with a two-sigma rule, which is
// close enough for development data.
func (s *server) anomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records := s.filtered(q)
	values := prices(records)

	mean, _ := stats.Mean(values)
	std, _ := stats.StandardDeviation(values)
	upper := mean + 2*std
	lower := mean - 2*std

	type flagged struct {
		rec     catalog.DrugRecord
		id      int
		anomaly bool
	}
	all := make([]flagged, len(records))
	normals, anomalies := []float64{}, []float64{}
	for i, rec := range records {
		isAnomaly := rec.PricePerUnit > upper || rec.PricePerUnit < lower
		all[i] = flagged{rec: rec, id: i, anomaly: isAnomaly}
		if isAnomaly {
			anomalies = append(anomalies, rec.PricePerUnit)
		} else {
			normals = append(normals, rec.PricePerUnit)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].rec.PricePerUnit > all[j].rec.PricePerUnit
	})

	out := []map[string]interface{}{}
	for _, f := range all {
		out = append(out, map[string]interface{}{
			"id":                 f.id,
			"nombre_comercial":   f.rec.CommercialName,
			"principio_activo":   f.rec.ActiveIngredient,
			"fabricante":         f.rec.Manufacturer,
			"precio_por_tableta": f.rec.PricePerUnit,
			"is_anomaly":         f.anomaly,
		})
	}
	normalAvg, _ := stats.Mean(normals)
	anomalyAvg, _ := stats.Mean(anomalies)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"statistics": map[string]interface{}{
			"normal_count":          len(normals),
			"anomaly_count":         len(anomalies),
			"normal_avg_price":      normalAvg,
			"anomaly_avg_price":     anomalyAvg,
			"price_threshold_upper": upper,
			"price_threshold_lower": lower,
		},
		"anomalies": out,
	})
}

// clusters splits the sorted price axis into k contiguous slices, a fair
// stand-in for one-dimensional k-means.
func (s *server) clusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records := s.filtered(q)
	k, err := strconv.Atoi(q.Get("n_clusters"))
	if err != nil || k <= 0 {
		k = 3
	}
	if k > len(records) {
		k = len(records)
	}

	sorted := make([]catalog.DrugRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PricePerUnit < sorted[j].PricePerUnit
	})

	assignment := make(map[string]int, len(sorted))
	clusters := []map[string]interface{}{}
	for id := 0; id < k && len(sorted) > 0; id++ {
		start := id * len(sorted) / k
		end := (id + 1) * len(sorted) / k
		if end <= start {
			continue
		}
		slice := sorted[start:end]
		values := prices(slice)
		min, _ := stats.Min(values)
		max, _ := stats.Max(values)
		avg, _ := stats.Mean(values)
		for _, rec := range slice {
			assignment[rec.CommercialName+"|"+rec.Manufacturer+"|"+rec.Concentration] = id
		}
		clusters = append(clusters, map[string]interface{}{
			"cluster_id": id,
			"count":      len(slice),
			"min_price":  min,
			"max_price":  max,
			"avg_price":  avg,
			"center":     avg,
		})
	}

	sample := []map[string]interface{}{}
	for i, rec := range records {
		if i >= 100 {
			break
		}
		sample = append(sample, map[string]interface{}{
			"id":                 i,
			"nombre_comercial":   rec.CommercialName,
			"principio_activo":   rec.ActiveIngredient,
			"fabricante":         rec.Manufacturer,
			"precio_por_tableta": rec.PricePerUnit,
			"cluster":            assignment[rec.CommercialName+"|"+rec.Manufacturer+"|"+rec.Concentration],
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"clusters":    clusters,
		"data_sample": sample,
	})
}

func sampleRecords() []catalog.DrugRecord {
	rec := func(name, ingredient, manufacturer, concentration, channel, unit string, price float64) catalog.DrugRecord {
		return catalog.DrugRecord{
			CommercialName:   name,
			ActiveIngredient: ingredient,
			Manufacturer:     manufacturer,
			Concentration:    concentration,
			Channel:          channel,
			DispensingUnit:   unit,
			PricePerUnit:     price,
		}
	}
	return []catalog.DrugRecord{
		rec("Dolex", "Acetaminofén", "GlaxoSmithKline", "500 mg", "Comercial", "Tableta", 350),
		rec("Dolex Forte", "Acetaminofén", "GlaxoSmithKline", "650 mg", "Comercial", "Tableta", 520),
		rec("Acetaminofén MK", "Acetaminofén", "Tecnoquímicas", "500 mg", "Comercial", "Tableta", 180),
		rec("Acetaminofén MK", "Acetaminofén", "Tecnoquímicas", "500 mg", "Institucional", "Tableta", 95),
		rec("Acetaminofén Genfar", "Acetaminofén", "Genfar", "500 mg", "Comercial", "Tableta", 150),
		rec("Acetaminofén Genfar", "Acetaminofén", "Genfar", "500 mg", "Institucional", "Tableta", 85),
		rec("Acetaminofén La Santé", "Acetaminofén", "La Santé", "500 mg", "Comercial", "Tableta", 140),
		rec("Advil", "Ibuprofeno", "Pfizer", "400 mg", "Comercial", "Tableta", 780),
		rec("Advil Max", "Ibuprofeno", "Pfizer", "600 mg", "Comercial", "Tableta", 1150),
		rec("Motrin", "Ibuprofeno", "Johnson & Johnson", "400 mg", "Comercial", "Tableta", 820),
		rec("Ibuprofeno MK", "Ibuprofeno", "Tecnoquímicas", "400 mg", "Comercial", "Tableta", 310),
		rec("Ibuprofeno MK", "Ibuprofeno", "Tecnoquímicas", "600 mg", "Comercial", "Tableta", 420),
		rec("Ibuprofeno Genfar", "Ibuprofeno", "Genfar", "400 mg", "Institucional", "Tableta", 190),
		rec("Ibuprofeno Genfar", "Ibuprofeno", "Genfar", "800 mg", "Comercial", "Tableta", 510),
		rec("Amoxil", "Amoxicilina", "GlaxoSmithKline", "500 mg", "Comercial", "Cápsula", 950),
		rec("Amoxicilina MK", "Amoxicilina", "Tecnoquímicas", "500 mg", "Comercial", "Cápsula", 430),
		rec("Amoxicilina Genfar", "Amoxicilina", "Genfar", "500 mg", "Institucional", "Cápsula", 260),
		rec("Amoxicilina La Santé", "Amoxicilina", "La Santé", "500 mg", "Comercial", "Cápsula", 390),
		rec("Clavulin", "Amoxicilina", "GlaxoSmithKline", "875 mg", "Comercial", "Tableta", 2850),
		rec("Losartán MK", "Losartán", "Tecnoquímicas", "50 mg", "Comercial", "Tableta", 280),
		rec("Losartán Genfar", "Losartán", "Genfar", "50 mg", "Institucional", "Tableta", 120),
		rec("Cozaar", "Losartán", "Organon", "50 mg", "Comercial", "Tableta", 1650),
		rec("Losartán La Santé", "Losartán", "La Santé", "100 mg", "Comercial", "Tableta", 340),
		rec("Glucophage", "Metformina", "Merck", "850 mg", "Comercial", "Tableta", 720),
		rec("Metformina MK", "Metformina", "Tecnoquímicas", "850 mg", "Comercial", "Tableta", 250),
		rec("Metformina Genfar", "Metformina", "Genfar", "850 mg", "Institucional", "Tableta", 110),
		rec("Clarityne", "Loratadina", "Bayer", "10 mg", "Comercial", "Tableta", 890),
		rec("Loratadina MK", "Loratadina", "Tecnoquímicas", "10 mg", "Comercial", "Tableta", 240),
		rec("Loratadina Genfar", "Loratadina", "Genfar", "10 mg", "Comercial", "Tableta", 210),
		rec("Loratadina La Santé", "Loratadina", "La Santé", "10 mg", "Institucional", "Tableta", 130),
		rec("Omeprazol MK", "Omeprazol", "Tecnoquímicas", "20 mg", "Comercial", "Cápsula", 380),
		rec("Omeprazol Genfar", "Omeprazol", "Genfar", "20 mg", "Institucional", "Cápsula", 160),
		rec("Losec", "Omeprazol", "AstraZeneca", "20 mg", "Comercial", "Cápsula", 4200),
	}
}
