// Package audit persists append-only, hash-verifiable audit records scoped
// by a forensic context.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies an audit record.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Flavor selects the audit table a record is written to. One append-only
// table per audited domain.
type Flavor string

const (
	FlavorEvent      Flavor = "EVENT"
	FlavorCAPA       Flavor = "CAPA"
	FlavorValidation Flavor = "VALIDATION"
	FlavorIncident   Flavor = "INCIDENT"
)

// flavorTables is the versioned schema mapping, validated once at startup
// via db.ValidateSchema rather than probed per read.
var flavorTables = map[Flavor]string{
	FlavorEvent:      "audit_events",
	FlavorCAPA:       "capa_audit",
	FlavorValidation: "validation_audit",
	FlavorIncident:   "incident_audit",
}

// Flavors lists every audit trail.
func Flavors() []Flavor {
	return []Flavor{FlavorEvent, FlavorCAPA, FlavorValidation, FlavorIncident}
}

// FieldDiff records one field change. Old and New are stored verbatim.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Record is one append-only audit row. Rows are created once and never
// mutated; administrative deletion must itself be audited.
type Record struct {
	ID            int64       `json:"id"`
	Flavor        Flavor      `json:"flavor"`
	TableName     string      `json:"table_name"`
	RecordID      *string     `json:"record_id,omitempty"`
	Action        string      `json:"action"`
	ActorID       int64       `json:"actor_id"`
	At            time.Time   `json:"at"`
	Diffs         []FieldDiff `json:"diffs,omitempty"`
	IP            *string     `json:"ip,omitempty"`
	Device        *string     `json:"device,omitempty"`
	SessionID     *string     `json:"session_id,omitempty"`
	SignatureID   *uuid.UUID  `json:"signature_id,omitempty"`
	SignatureHash *string     `json:"signature_hash,omitempty"`
	Severity      Severity    `json:"severity"`
	IntegrityHash string      `json:"integrity_hash"`
}

// Filters narrows audit reads. Zero values are ignored. Results are always
// ordered by timestamp ascending.
type Filters struct {
	RecordID string
	ActorID  int64
	Action   string
	From     time.Time
	To       time.Time
}
