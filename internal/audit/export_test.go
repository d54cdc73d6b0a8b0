package audit

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWriteCSVFlattensRecords(t *testing.T) {
	sigID := uuid.New()
	ip := "10.0.0.1"
	recordID := "42"
	records := []Record{
		{
			ID:        1,
			Flavor:    FlavorCAPA,
			TableName: "capa",
			RecordID:  &recordID,
			Action:    "CAPA_CLOSED",
			ActorID:   9,
			At:        time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			Diffs: []FieldDiff{
				{Field: "status", Old: "OPEN", New: "CLOSED"},
				{Field: "owner", New: "qa"},
			},
			IP:            &ip,
			SignatureID:   &sigID,
			Severity:      SeverityWarning,
			IntegrityHash: "deadbeef",
		},
		{
			ID:        2,
			Flavor:    FlavorEvent,
			TableName: "users",
			Action:    "USER_DEACTIVATED",
			ActorID:   1,
			At:        time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
			Severity:  SeverityInfo,
		},
	}

	out, err := CSVExporter{}.WriteCSV(records)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "at", rows[0][0])
	require.Equal(t, "integrity_hash", rows[0][11])

	require.Equal(t, "2026-03-14T10:00:00Z", rows[1][0])
	require.Equal(t, "9", rows[1][1])
	require.Equal(t, "CAPA_CLOSED", rows[1][2])
	require.Equal(t, "42", rows[1][4])
	require.Equal(t, "WARNING", rows[1][5])
	require.Equal(t, sigID.String(), rows[1][9])
	require.Equal(t, "status: OPEN -> CLOSED; owner:  -> qa", rows[1][10])
	require.Equal(t, "deadbeef", rows[1][11])

	// Absent optionals come out as empty cells, not literals.
	require.Equal(t, "", rows[2][4])
	require.Equal(t, "", rows[2][9])
	require.Equal(t, "", rows[2][10])
}

func TestWriteCSVEmpty(t *testing.T) {
	out, err := CSVExporter{}.WriteCSV(nil)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
