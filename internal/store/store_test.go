package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarteridge/galleryd/internal/domain"
	"github.com/quarteridge/galleryd/internal/state"
)

func newTestStore(t *testing.T) *PersistentStore {
	t.Helper()
	s, err := NewPersistentStore(filepath.Join(t.TempDir(), "galleryd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(at time.Time) state.Snapshot {
	return state.Snapshot{
		Timestamp: at,
		Sessions: map[int]domain.Session{
			0: {
				Index:           0,
				SourceURL:       "https://example.org/g/1",
				Title:           "spring scans",
				Status:          domain.StatusDownloading,
				AbsoluteCurrent: 25,
				AbsoluteTotal:   100,
				RelativeCurrent: 16,
				RelativeTotal:   31,
				Window:          domain.Window{Enabled: true, Start: 10, End: 40},
				StartTime:       at.Add(-time.Minute),
				PausedDuration:  3 * time.Second,
			},
			1: {
				Index:        1,
				SourceURL:    "https://example.org/g/2",
				Status:       domain.StatusError,
				ErrorMessage: "gallery not found",
			},
		},
	}
}

func TestSaveAndLatestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	want := sampleSnapshot(at)

	runID, err := s.Save(context.Background(), want)
	if err != nil {
		t.Fatal(err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}

	got, err := s.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if len(got.Sessions) != len(want.Sessions) {
		t.Fatalf("got %d sessions, want %d", len(got.Sessions), len(want.Sessions))
	}
	for index, w := range want.Sessions {
		g, ok := got.Sessions[index]
		if !ok {
			t.Fatalf("session %d missing", index)
		}
		if !g.StartTime.Equal(w.StartTime) {
			t.Errorf("session %d StartTime = %v, want %v", index, g.StartTime, w.StartTime)
		}
		// Times compared above; normalize for the struct comparison.
		g.StartTime, w.StartTime = time.Time{}, time.Time{}
		if g != w {
			t.Errorf("session %d mismatch:\n got %+v\nwant %+v", index, g, w)
		}
	}
}

func TestLatestWithoutSnapshots(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Latest(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("err = %v, want ErrNoSnapshot", err)
	}
}

func TestLatestPicksNewestRun(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		snap := sampleSnapshot(base.Add(time.Duration(i) * time.Minute))
		sess := snap.Sessions[0]
		sess.AbsoluteCurrent = 25 + i
		snap.Sessions[0] = sess
		if _, err := s.Save(context.Background(), snap); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Sessions[0].AbsoluteCurrent != 27 {
		t.Errorf("AbsoluteCurrent = %d, want 27 from the newest run", got.Sessions[0].AbsoluteCurrent)
	}
}

func TestSavePrunesOldRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < keepRuns+5; i++ {
		snap := sampleSnapshot(base.Add(time.Duration(i) * time.Minute))
		if _, err := s.Save(context.Background(), snap); err != nil {
			t.Fatal(err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != keepRuns {
		t.Errorf("snapshot count = %d, want %d after pruning", count, keepRuns)
	}

	got, err := s.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wantTS := base.Add(time.Duration(keepRuns+4) * time.Minute)
	if !got.Timestamp.Equal(wantTS) {
		t.Errorf("latest timestamp = %v, want %v", got.Timestamp, wantTS)
	}
}
