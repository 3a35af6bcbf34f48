package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrolytics/uidwatch/internal/config"
	"github.com/enrolytics/uidwatch/internal/golden"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestLoader(root string) *Loader {
	return NewLoader(root, config.Default().Sources)
}

func TestLoader_Load_HappyPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api_data_aadhar_enrolment"), "jan.csv",
		"state,district,pincode,date,age_0_5,age_5_17,age_18_greater\n"+
			"Kerala,Ernakulam,682001,01-01-2025,10,20,30\n"+
			"Kerala,Ernakulam,682002,01-01-2025,1,2,3\n")

	rows, report, err := newTestLoader(root).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, golden.KindEnrolment, rows[0].Kind)
	assert.Equal(t, "Kerala", rows[0].State)
	assert.Equal(t, int64(60), rows[0].Counts.Total())
	assert.Equal(t, "2025-01-01", rows[0].Date.Format("2006-01-02"), "dd-mm-yyyy dates are normalized")

	assert.Equal(t, 1, report.FilesRead)
	assert.Equal(t, 2, report.RowsMapped)
	assert.Zero(t, report.RowsSkipped)
}

func TestLoader_Load_MalformedRowsSkippedAndCounted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api_data_aadhar_biometric"), "feb.csv",
		"state,district,pincode,date,bio_age_0_5,bio_age_5_17,bio_age_18_greater\n"+
			"Kerala,Ernakulam,682001,01-02-2025,5,6,7\n"+
			"Kerala,Ernakulam,682002,not-a-date,5,6,7\n"+
			"Kerala,Ernakulam,682003,02-02-2025,five,6,7\n"+
			",Ernakulam,682004,03-02-2025,5,6,7\n"+
			"Kerala,Ernakulam,682005,04-02-2025,-3,6,7\n")

	rows, report, err := newTestLoader(root).Load(context.Background())
	require.NoError(t, err, "malformed rows never abort ingestion")
	assert.Len(t, rows, 1)
	assert.Equal(t, 5, report.RowsRead)
	assert.Equal(t, 1, report.RowsMapped)
	assert.Equal(t, 4, report.RowsSkipped)
}

func TestLoader_Load_SchemaMismatchFileSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api_data_aadhar_enrolment"), "good.csv",
		"state,district,pincode,date,age_0_5\nKerala,Ernakulam,682001,01-01-2025,4\n")
	writeFile(t, root, "operators.csv",
		"operator_id,registrar,count\nOP1,R1,10\n")

	rows, report, err := newTestLoader(root).Load(context.Background())
	require.NoError(t, err, "an unclassifiable file never fails the load")
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, report.FilesRead)
	assert.Equal(t, 1, report.FilesSkipped)

	var skipped *FileReport
	for i := range report.Files {
		if report.Files[i].Skipped {
			skipped = &report.Files[i]
		}
	}
	require.NotNil(t, skipped)
	assert.Contains(t, skipped.Reason, "no source kind")
}

func TestLoader_Load_MissingKindStillSucceeds(t *testing.T) {
	// biometric files entirely absent: ingestion succeeds and the merge
	// zero-fills bio counts downstream
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api_data_aadhar_enrolment"), "jan.csv",
		"state,district,pincode,date,age_0_5\nKerala,Ernakulam,682001,01-01-2025,4\n")
	writeFile(t, filepath.Join(root, "api_data_aadhar_demographic"), "jan.csv",
		"state,district,pincode,date,demo_age_0_5\nKerala,Ernakulam,682001,01-01-2025,9\n")

	rows, _, err := newTestLoader(root).Load(context.Background())
	require.NoError(t, err)

	records, _ := golden.Merge(rows)
	require.Len(t, records, 1)
	assert.Equal(t, int64(4), records[0].EnrolTotal())
	assert.Equal(t, int64(9), records[0].DemoTotal())
	assert.Equal(t, int64(0), records[0].BioTotal(), "missing kind reads as zero, not as failure")
}

func TestLoader_Load_FloatCountsFromSpreadsheetExports(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api_data_aadhar_enrolment"), "export.csv",
		"state,district,pincode,date,age_0_5\nKerala,Ernakulam,682001,01-01-2025,12.0\n")

	rows, _, err := newTestLoader(root).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(12), rows[0].Counts.Age05)
}

func TestLoader_Load_EmptyRootFails(t *testing.T) {
	_, _, err := newTestLoader(t.TempDir()).Load(context.Background())
	assert.Error(t, err, "a dataset root with no CSVs is a configuration error")
}

func TestLoader_Load_HonorsCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api_data_aadhar_enrolment"), "jan.csv",
		"state,district,pincode,date,age_0_5\nKerala,Ernakulam,682001,01-01-2025,4\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newTestLoader(root).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
