package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrolytics/uidwatch/internal/config"
	"github.com/enrolytics/uidwatch/internal/golden"
)

func testSchemaSet() *SchemaSet {
	return NewSchemaSet(config.Default().Sources)
}

func TestSchema_Resolve_CaseAndUnderscoreInsensitive(t *testing.T) {
	schema, ok := testSchemaSet().Schema(golden.KindEnrolment)
	require.True(t, ok)

	tests := []struct {
		name   string
		header []string
		okWant bool
	}{
		{
			name:   "canonical headers",
			header: []string{"state", "district", "pincode", "date", "age_0_5", "age_5_17", "age_18_greater"},
			okWant: true,
		},
		{
			name:   "mixed case and spaces",
			header: []string{"State", "District", "Pin Code", "Date", "Age 0 5", "Age 5 17", "Age 18 Greater"},
			okWant: true,
		},
		{
			name:   "hyphenated",
			header: []string{"STATE", "DISTRICT", "PIN-CODE", "DATE", "AGE-0-5", "AGE-5-17", "AGE-18-PLUS"},
			okWant: true,
		},
		{
			name:   "missing required date",
			header: []string{"state", "district", "pincode", "age_0_5"},
			okWant: false,
		},
		{
			name:   "leading byte order mark",
			header: []string{"\ufeffstate", "district", "pincode", "date", "age_0_5"},
			okWant: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, ok := schema.Resolve(tt.header)
			assert.Equal(t, tt.okWant, ok)
			if tt.okWant {
				assert.Contains(t, cols, "state")
				assert.Contains(t, cols, "age_0_5")
			}
		})
	}
}

func TestSchema_Resolve_DropsUnmatchedColumns(t *testing.T) {
	schema, _ := testSchemaSet().Schema(golden.KindEnrolment)
	cols, ok := schema.Resolve([]string{"state", "district", "pincode", "date", "registrar_code", "operator_id"})
	require.True(t, ok)
	assert.NotContains(t, cols, "registrar_code", "unmatched columns are dropped, not guessed")
	assert.NotContains(t, cols, "operator_id")
	assert.Len(t, cols, 4)
}

func TestSchemaSet_KindForPath(t *testing.T) {
	set := testSchemaSet()

	tests := []struct {
		dir, file string
		want      golden.Kind
		found     bool
	}{
		{"/data/api_data_aadhar_biometric", "2025_q1.csv", golden.KindBiometric, true},
		{"/data/api_data_aadhar_enrolment", "anything.csv", golden.KindEnrolment, true},
		{"/data/flat", "demographic_updates_jan.csv", golden.KindDemographic, true},
		{"/data/flat", "quarterly_totals.csv", "", false},
	}

	for _, tt := range tests {
		kind, found := set.KindForPath(tt.dir, tt.file)
		assert.Equal(t, tt.found, found, "%s/%s", tt.dir, tt.file)
		if found {
			assert.Equal(t, tt.want, kind)
		}
	}
}

func TestSchemaSet_KindForHeader(t *testing.T) {
	set := testSchemaSet()

	kind, ok := set.KindForHeader([]string{"state", "district", "pincode", "date", "bio_age_0_5", "bio_age_5_17"})
	require.True(t, ok)
	assert.Equal(t, golden.KindBiometric, kind)

	// shared headers only: no count column resolves, so no kind matches
	_, ok = set.KindForHeader([]string{"state", "district", "pincode", "date"})
	assert.False(t, ok)

	// ambiguous: generic age buckets resolve for every kind
	_, ok = set.KindForHeader([]string{"state", "district", "pincode", "date", "age_0_5"})
	assert.False(t, ok, "ambiguous headers must not guess a kind")
}
