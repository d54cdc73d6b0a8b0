// Package forensic builds the immutable context bound to every audited
// action: actor, network origin, device, session and electronic signature.
package forensic

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-qms/meridian/internal/shared"
)

// Signature methods and statuses.
const (
	MethodBasicAuth   = "BASIC_AUTH"
	MethodElectronic  = "ELECTRONIC"
	SignatureValid    = "VALID"
	SignatureRejected = "REJECTED"
	SignatureUnsigned = "UNSIGNED"
)

// Signature carries the signature fields of a forensic context. ID and Hash
// are nil unless an electronic signature was captured; they always reference
// a previously stored signature record, never a synthesized value.
type Signature struct {
	ID     *uuid.UUID
	Hash   *string
	Method string
	Status string
	Note   *string
}

// Context is the forensic bundle attached to an audited action. Treated as
// an immutable value after construction.
type Context struct {
	ActorID   int64
	IP        *string
	Device    *string
	SessionID *string
	Signature Signature
	Reason    *string
	Notes     *string
}

// SignatureResult is the outcome of an electronic-signature capture,
// consumed when building a signature-backed context.
type SignatureResult struct {
	ID           uuid.UUID
	Hash         string
	Method       string
	Status       string
	Note         string
	ReasonCode   string
	ReasonDetail string
}

// New builds a basic-authentication context. Blank or whitespace-only
// inputs become true absence so persistence can tell "not supplied" from an
// explicitly stored value. The signature defaults to a basic-auth marker
// with a valid status: a deliberate trade-off that keeps low-risk actions
// signable without a captured electronic signature.
func New(actorID int64, ip, device, sessionID, reason, notes string) (Context, error) {
	if actorID <= 0 {
		return Context{}, fmt.Errorf("forensic: actor id required: %w", shared.ErrValidationFailure)
	}
	return Context{
		ActorID:   actorID,
		IP:        optional(ip),
		Device:    optional(device),
		SessionID: optional(sessionID),
		Signature: Signature{Method: MethodBasicAuth, Status: SignatureValid},
		Reason:    optional(reason),
		Notes:     optional(notes),
	}, nil
}

// NewSigned builds a context backed by a captured electronic signature. The
// signature's own id, hash, method, status and note take precedence; when
// the note is absent it falls back to the reason-detail/reason-code pair
// from the capture result.
func NewSigned(actorID int64, ip, device, sessionID string, sig SignatureResult, reason, notes string) (Context, error) {
	fc, err := New(actorID, ip, device, sessionID, reason, notes)
	if err != nil {
		return Context{}, err
	}
	if sig.ID == uuid.Nil {
		return Context{}, fmt.Errorf("forensic: signature id required: %w", shared.ErrValidationFailure)
	}
	id := sig.ID
	method := sig.Method
	if strings.TrimSpace(method) == "" {
		method = MethodElectronic
	}
	status := sig.Status
	if strings.TrimSpace(status) == "" {
		status = SignatureValid
	}
	fc.Signature = Signature{
		ID:     &id,
		Hash:   optional(sig.Hash),
		Method: method,
		Status: status,
		Note:   signatureNote(sig),
	}
	return fc, nil
}

func signatureNote(sig SignatureResult) *string {
	if note := optional(sig.Note); note != nil {
		return note
	}
	detail := strings.TrimSpace(sig.ReasonDetail)
	code := strings.TrimSpace(sig.ReasonCode)
	switch {
	case detail != "" && code != "":
		s := detail + " (" + code + ")"
		return &s
	case detail != "":
		return &detail
	case code != "":
		return &code
	default:
		return nil
	}
}

// optional normalizes blank and whitespace-only strings to absence.
func optional(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
