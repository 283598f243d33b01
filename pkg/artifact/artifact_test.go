package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
	"github.com/Mindburn-Labs/attest/pkg/gate"
)

func TestEncodeDecode(t *testing.T) {
	m := Manifest{
		SchemaVersion: CurrentSchemaVersion,
		RunID:         "run-1",
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		PRDDigest:     "sha256:abc",
	}
	data, err := Encode(m)
	require.NoError(t, err)
	require.True(t, data[len(data)-1] == '\n')

	var got Manifest
	require.NoError(t, Decode(data, &got))
	require.Equal(t, m, got)
}

func TestGateCasesProjection(t *testing.T) {
	tc := TestCases{
		SchemaVersion: CurrentSchemaVersion,
		RunID:         "run-1",
		Items: []Case{
			{CaseID: "TC-1", RequirementID: "REQ-001", Title: "login", Priority: gate.PriorityP0},
			{CaseID: "TC-2", RequirementID: "REQ-002"},
		},
	}
	cases := tc.GateCases()
	require.Len(t, cases, 2)
	require.Equal(t, gate.TestCase{CaseID: "TC-1", RequirementID: "REQ-001", Title: "login"}, cases[0])
}

func TestCheckVersion(t *testing.T) {
	require.NoError(t, CheckVersion(CurrentSchemaVersion))
	require.NoError(t, CheckVersion("1.3.0"))
	require.Error(t, CheckVersion("2.0.0"))
	require.Error(t, CheckVersion("0.9.0"))
	require.Error(t, CheckVersion(""))
	require.Error(t, CheckVersion("not-a-version"))
}

func TestValidatorAcceptsWellFormedDocuments(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	reqs := Requirements{
		SchemaVersion: CurrentSchemaVersion,
		RunID:         "run-1",
		Items: []gate.Requirement{
			{ID: "1", RequirementID: "REQ-001", Priority: gate.PriorityP0, Testable: true},
		},
	}
	data, err := Encode(reqs)
	require.NoError(t, err)
	require.NoError(t, v.Validate(NameRequirements, data))

	reviews := ReviewResults{
		SchemaVersion: CurrentSchemaVersion,
		RunID:         "run-1",
		Reviewer:      "codex",
		Reviews:       []arbiter.Review{{AssertionID: "a-1", Verdict: arbiter.ReviewAgree}},
	}
	data, err = Encode(reviews)
	require.NoError(t, err)
	require.NoError(t, v.Validate(NameReviewResults, data))
}

func TestValidatorRejectsMalformedDocuments(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	// Missing run_id.
	require.Error(t, v.Validate(NameRequirements, []byte(`{"schema_version":"1.0.0","items":[]}`)))
	// Bad priority enum value.
	require.Error(t, v.Validate(NameRequirements, []byte(`{
		"schema_version":"1.0.0","run_id":"r",
		"items":[{"id":"1","requirement_id":"REQ-001","priority":"P9","testable":true}]
	}`)))
	// Bad review verdict.
	require.Error(t, v.Validate(NameReviewResults, []byte(`{
		"schema_version":"1.0.0","run_id":"r",
		"reviews":[{"assertion_id":"a","verdict":"maybe"}]
	}`)))
	// Not JSON at all.
	require.Error(t, v.Validate(NameExecutionResults, []byte(`not json`)))
}

func TestValidatorSkipsUnregisteredNames(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	require.NoError(t, v.Validate(NameReport, []byte(`anything`)))
}
