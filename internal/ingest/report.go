package ingest

import "github.com/enrolytics/uidwatch/internal/golden"

// FileReport records what happened to one source file during ingestion.
type FileReport struct {
	Path        string      `json:"path"`
	Kind        golden.Kind `json:"kind,omitempty"`
	RowsRead    int         `json:"rows_read"`
	RowsMapped  int         `json:"rows_mapped"`
	RowsSkipped int         `json:"rows_skipped"`
	Skipped     bool        `json:"skipped"`
	Reason      string      `json:"reason,omitempty"`
}

// Report is the structured ingestion audit returned alongside the data.
// Downstream layers can always render whatever ingested successfully,
// accompanied by these explicit skip counts.
type Report struct {
	Files        []FileReport `json:"files"`
	FilesRead    int          `json:"files_read"`
	FilesSkipped int          `json:"files_skipped"`
	RowsRead     int          `json:"rows_read"`
	RowsMapped   int          `json:"rows_mapped"`
	RowsSkipped  int          `json:"rows_skipped"`
}

// addFile folds one file report into the totals.
func (r *Report) addFile(fr FileReport) {
	r.Files = append(r.Files, fr)
	if fr.Skipped {
		r.FilesSkipped++
		return
	}
	r.FilesRead++
	r.RowsRead += fr.RowsRead
	r.RowsMapped += fr.RowsMapped
	r.RowsSkipped += fr.RowsSkipped
}
