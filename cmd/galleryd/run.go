package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarteridge/galleryd/internal/domain"
	"github.com/quarteridge/galleryd/internal/scheduler"
	"github.com/quarteridge/galleryd/internal/state"
)

var (
	runStart  int
	runEnd    int
	runOutDir string
	runList   string
)

var runCmd = &cobra.Command{
	Use:   "run [urls...]",
	Short: "Download galleries and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runList != "" {
			urls, err := readURLList(runList)
			if err != nil {
				return err
			}
			args = append(args, urls...)
		}
		if len(args) == 0 {
			return errors.New("no urls given; pass them as arguments or with --list")
		}

		appCtx, err := buildApp()
		if err != nil {
			return err
		}
		defer teardown(appCtx)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go appCtx.Scheduler.Run(ctx)

		items := make([]scheduler.QueueItem, 0, len(args))
		for i, raw := range args {
			qi := scheduler.QueueItem{Index: i, URL: raw}
			if runStart > 0 || runEnd > 0 {
				start := runStart
				if start < 1 {
					start = 1
				}
				qi.Window = domain.Window{Enabled: true, Start: start, End: runEnd}
			}
			items = append(items, qi)
		}

		done := make(chan scheduler.SequenceCompletedEvent, 1)
		appCtx.Scheduler.RegisterHandler(scheduler.EventSequenceCompleted, func(ev scheduler.Event) {
			done <- ev.(scheduler.SequenceCompletedEvent)
		})

		appCtx.Scheduler.Send(scheduler.StartDownload{Items: items, OutDir: runOutDir})

		result, err := watchRun(ctx, appCtx.Scheduler, appCtx.State, done)
		fmt.Println()

		appCtx.State.Sync()
		if _, serr := appCtx.Snapshots.Save(context.Background(), appCtx.State.Export()); serr != nil {
			appCtx.Logger.Error("saving snapshot: %v", serr)
		}
		if err != nil {
			return err
		}

		printSummary(appCtx.State)
		if result.Errors > 0 {
			return fmt.Errorf("%d of %d downloads failed", result.Errors, len(items))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runStart, "start", 0, "first page to download")
	runCmd.Flags().IntVar(&runEnd, "end", 0, "last page to download (0 = through the end)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "", "destination directory")
	runCmd.Flags().StringVarP(&runList, "list", "l", "", "file with one gallery URL per line")
	rootCmd.AddCommand(runCmd)
}

// readURLList loads URLs from a file, one per line. Blank lines and
// #-comments are skipped.
func readURLList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading url list: %w", err)
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}

// watchRun renders progress once a second until the run finishes or
// the context is cancelled.
func watchRun(ctx context.Context, sch *scheduler.Scheduler, st *state.Store, done <-chan scheduler.SequenceCompletedEvent) (scheduler.SequenceCompletedEvent, error) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		sch.PollEvents()
		select {
		case ev := <-done:
			return ev, nil
		case <-ticker.C:
			renderProgress(st)
		case <-ctx.Done():
			// Workers wind down on cancellation; give the final
			// event a moment to land.
			deadline := time.After(3 * time.Second)
			for {
				sch.PollEvents()
				select {
				case ev := <-done:
					return ev, errors.New("interrupted")
				case <-deadline:
					return scheduler.SequenceCompletedEvent{}, errors.New("interrupted")
				case <-time.After(50 * time.Millisecond):
				}
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func renderProgress(st *state.Store) {
	idx := st.CurrentIndex()
	sess, ok := st.Session(idx)
	if !ok || sess.RelativeTotal == 0 {
		return
	}

	now := time.Now()
	percent := float64(sess.RelativeCurrent) / float64(sess.RelativeTotal) * 100

	etaStr := "calc..."
	if rem, ok := sess.EstimatedRemaining(now); ok {
		etaStr = rem.Truncate(time.Second).String()
	}
	if sess.Status == domain.StatusPaused {
		etaStr = "paused"
	}

	// Progress Bar go brrr [====>   ]
	const barWidth = 20
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	title := sess.Title
	if title == "" {
		title = sess.SourceURL
	}

	fmt.Printf("\r[%s] %5.1f%% | %d/%d pages | ETA: %-7s | %d/%d urls | %-30.30s",
		bar, percent, sess.RelativeCurrent, sess.RelativeTotal, etaStr,
		st.CompletedCount(), st.TotalURLs(), title)
}

func printSummary(st *state.Store) {
	for _, sess := range st.Sessions() {
		label := string(sess.Status)
		if sess.ErrorMessage != "" {
			label += ": " + sess.ErrorMessage
		}
		fmt.Printf("%3d  %-10s %s\n", sess.Index, label, sess.SourceURL)
	}
}
