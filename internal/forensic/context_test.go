package forensic

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-qms/meridian/internal/shared"
)

func TestNewNormalizesBlankFields(t *testing.T) {
	fc, err := New(42, "  10.1.2.3 ", "   ", "", "periodic review", "\t")
	require.NoError(t, err)

	require.Equal(t, int64(42), fc.ActorID)
	require.NotNil(t, fc.IP)
	require.Equal(t, "10.1.2.3", *fc.IP)
	require.Nil(t, fc.Device)
	require.Nil(t, fc.SessionID)
	require.Equal(t, "periodic review", *fc.Reason)
	require.Nil(t, fc.Notes)

	require.Equal(t, MethodBasicAuth, fc.Signature.Method)
	require.Equal(t, SignatureValid, fc.Signature.Status)
	require.Nil(t, fc.Signature.ID)
	require.Nil(t, fc.Signature.Hash)
}

func TestNewRejectsMissingActor(t *testing.T) {
	_, err := New(0, "", "", "", "", "")
	require.ErrorIs(t, err, shared.ErrValidationFailure)

	_, err = New(-5, "", "", "", "", "")
	require.ErrorIs(t, err, shared.ErrValidationFailure)
}

func TestNewSignedTakesSignatureFields(t *testing.T) {
	id := uuid.New()
	fc, err := NewSigned(7, "10.0.0.1", "device", "sess", SignatureResult{
		ID:     id,
		Hash:   "abc123",
		Method: MethodElectronic,
		Status: SignatureValid,
		Note:   "batch release",
	}, "release", "")
	require.NoError(t, err)

	require.Equal(t, id, *fc.Signature.ID)
	require.Equal(t, "abc123", *fc.Signature.Hash)
	require.Equal(t, MethodElectronic, fc.Signature.Method)
	require.Equal(t, SignatureValid, fc.Signature.Status)
	require.Equal(t, "batch release", *fc.Signature.Note)
}

func TestNewSignedRequiresSignatureID(t *testing.T) {
	_, err := NewSigned(7, "", "", "", SignatureResult{}, "reason", "")
	require.ErrorIs(t, err, shared.ErrValidationFailure)
}

func TestNewSignedDefaultsMethodAndStatus(t *testing.T) {
	fc, err := NewSigned(7, "", "", "", SignatureResult{ID: uuid.New()}, "", "")
	require.NoError(t, err)
	require.Equal(t, MethodElectronic, fc.Signature.Method)
	require.Equal(t, SignatureValid, fc.Signature.Status)
}

func TestSignatureNoteFallsBackToReasonPair(t *testing.T) {
	cases := []struct {
		name string
		sig  SignatureResult
		want *string
	}{
		{"note wins", SignatureResult{Note: "explicit", ReasonCode: "QA-1", ReasonDetail: "detail"}, strptr("explicit")},
		{"detail and code", SignatureResult{ReasonCode: "QA-1", ReasonDetail: "lot disposition"}, strptr("lot disposition (QA-1)")},
		{"detail only", SignatureResult{ReasonDetail: "lot disposition"}, strptr("lot disposition")},
		{"code only", SignatureResult{ReasonCode: "QA-1"}, strptr("QA-1")},
		{"nothing", SignatureResult{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := signatureNote(tc.sig)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}
}

func TestDescribeDevice(t *testing.T) {
	require.Equal(t, "", DescribeDevice("   "))
	require.Equal(t, "acceptance-probe", DescribeDevice(" acceptance-probe "))

	chrome := DescribeDevice("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	require.Contains(t, chrome, "Chrome 120")
	require.Contains(t, chrome, "(desktop)")

	mobile := DescribeDevice("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	require.Contains(t, mobile, "(mobile)")
}

func TestStartImpersonation(t *testing.T) {
	fc, err := New(3, "10.0.0.3", "", "sess-3", "support case 118", "")
	require.NoError(t, err)

	sess, err := StartImpersonation(fc, 7, "support case 118")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sess.SessionLogID)
	require.Equal(t, int64(3), sess.ActorID)
	require.Equal(t, int64(7), sess.TargetID)
	require.Equal(t, fc, sess.Context)

	_, err = StartImpersonation(fc, 3, "self")
	require.ErrorIs(t, err, shared.ErrValidationFailure)
	_, err = StartImpersonation(fc, 0, "nobody")
	require.ErrorIs(t, err, shared.ErrValidationFailure)
	_, err = StartImpersonation(fc, 7, "   ")
	require.ErrorIs(t, err, shared.ErrValidationFailure)
}

func strptr(s string) *string { return &s }
