package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/parlock/core/audit"
)

// WriteJSON writes records to w as JSON lines.
func WriteJSON(w io.Writer, recs []audit.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

var csvHeader = []string{
	"timestamp", "transaction_id", "kind", "outcome", "state", "unit_id", "tracking_number",
	"length_mm", "width_mm", "height_mm", "duration_ms", "error",
}

func mm(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// WriteCSV writes records to w in CSV format with a header row.
func WriteCSV(w io.Writer, recs []audit.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.TransactionID,
			r.Kind,
			r.Outcome,
			r.State,
			r.UnitID,
			r.TrackingNumber,
			mm(r.Dimensions.Length),
			mm(r.Dimensions.Width),
			mm(r.Dimensions.Height),
			strconv.FormatInt(r.DurationMS, 10),
			r.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
