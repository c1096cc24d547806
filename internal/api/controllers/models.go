package controllers

import (
	"time"

	"github.com/quarteridge/galleryd/internal/domain"
)

// StatusResponse is the aggregate run state for /api/status.
type StatusResponse struct {
	State        string  `json:"state"`
	Running      bool    `json:"running"`
	Paused       bool    `json:"paused"`
	CurrentIndex int     `json:"current_index"`
	TotalURLs    int     `json:"total_urls"`
	RunCurrent   int     `json:"run_current"`
	RunTotal     int     `json:"run_total"`
	Completed    int     `json:"completed"`
	Errors       int     `json:"errors"`
	TotalPausedS float64 `json:"total_paused_seconds"`
}

// DownloadItem is one URL in a download request. Start and End bound
// the page window; both zero means the whole gallery.
type DownloadItem struct {
	URL   string `json:"url"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

type DownloadRequest struct {
	Items  []DownloadItem `json:"items"`
	OutDir string         `json:"out_dir,omitempty"`
}

type WindowRequest struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SessionView is a session plus its derived timing fields.
type SessionView struct {
	domain.Session
	ElapsedS   float64 `json:"elapsed_seconds"`
	RemainingS float64 `json:"remaining_seconds"`
	// RemainingKnown is false while there is not enough progress to
	// estimate.
	RemainingKnown bool `json:"remaining_known"`
}

func sessionView(sess domain.Session, now time.Time) SessionView {
	v := SessionView{
		Session:  sess,
		ElapsedS: sess.Elapsed(now).Seconds(),
	}
	if rem, ok := sess.EstimatedRemaining(now); ok {
		v.RemainingS = rem.Seconds()
		v.RemainingKnown = true
	}
	return v
}
