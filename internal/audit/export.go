package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// CSVExporter renders audit records for download.
type CSVExporter struct{}

// WriteCSV renders records as CSV, one row per record, diffs flattened.
func (CSVExporter) WriteCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"at", "actor_id", "action", "table", "record_id", "severity", "ip", "device", "session_id", "signature_id", "diffs", "integrity_hash"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			rec.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(rec.ActorID, 10),
			rec.Action,
			rec.TableName,
			deref(rec.RecordID),
			string(rec.Severity),
			deref(rec.IP),
			deref(rec.Device),
			deref(rec.SessionID),
			signatureIDString(rec),
			flattenDiffs(rec.Diffs),
			rec.IntegrityHash,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func flattenDiffs(diffs []FieldDiff) string {
	if len(diffs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(diffs))
	for _, d := range diffs {
		parts = append(parts, d.Field+": "+d.Old+" -> "+d.New)
	}
	return strings.Join(parts, "; ")
}

func signatureIDString(rec Record) string {
	if rec.SignatureID == nil {
		return ""
	}
	return rec.SignatureID.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
