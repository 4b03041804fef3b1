package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/forPelevin/scriptreel/internal/types"
)

func summary(id string, start time.Time) *types.RunSummary {
	s := types.NewRunSummary(id, start, map[string]string{"VOICE_MODE": "silent"})
	s.ScriptsFound = 2

	ok := types.NewScriptResult(types.ScriptDescriptor{Name: "a", Path: "/s/a.md"})
	ok.Success = true
	video := "/out/a.mp4"
	ok.VideoPath = &video
	s.Add(ok)

	bad := types.NewScriptResult(types.ScriptDescriptor{Name: "b", Path: "/s/b.md"})
	bad.FailedStage = "audio"
	bad.Errors = append(bad.Errors, "No audio files were generated")
	s.Add(bad)

	s.Finish(start.Add(time.Minute))
	return s
}

func TestStore_SaveRun(t *testing.T) {
	t.Parallel()

	st, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := st.SaveRun(ctx, summary("run-old", base)); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := st.SaveRun(ctx, summary("run-new", base.Add(time.Hour))); err != nil {
		t.Fatalf("save new: %v", err)
	}

	runs, err := recentRuns(ctx, st, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	got := runs[0]
	if got.RunID != "run-new" || got.SuccessCount != 1 || got.FailureCount != 1 || got.Results != 2 {
		t.Fatalf("unexpected newest run: %+v", got)
	}
}

func TestOpen_Reopens(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "history.db")
	st, err := Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.SaveRun(context.Background(), summary("r1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.Close()

	st, err = Open(p)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	runs, err := recentRuns(context.Background(), st, 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected persisted run, got %v %v", runs, err)
	}
}

type runRecord struct {
	RunID        string
	ScriptsFound int
	SuccessCount int
	FailureCount int
	Results      int
}

func recentRuns(ctx context.Context, s *Store, limit int) ([]runRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.run_id, r.scripts_found, r.success_count, r.failure_count,
		        (SELECT COUNT(*) FROM script_results sr WHERE sr.run_id = r.run_id)
		 FROM runs r ORDER BY r.start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []runRecord
	for rows.Next() {
		var rec runRecord
		if err := rows.Scan(&rec.RunID, &rec.ScriptsFound, &rec.SuccessCount, &rec.FailureCount, &rec.Results); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
