package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/spf13/cobra"

	"deepscan/internal/apiclient"
	deepprogress "deepscan/internal/progress"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a job's progress until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return watchJob(cmd, ctx, client, args[0])
		},
	}
}

// watchJob streams events for id. Interactive terminals get a progress bar;
// everything else gets one line per event (or JSON lines with --json).
func watchJob(cmd *cobra.Command, ctx *commandContext, client *apiclient.Client, id string) error {
	out := cmd.OutOrStdout()
	var view eventView
	switch {
	case ctx.jsonOutput():
		view = &jsonView{cmd: cmd}
	case shouldColorize(out):
		view = newBarView(out, id)
	default:
		view = &lineView{out: out}
	}

	last, err := client.Watch(cmd.Context(), id, view.observe)
	view.finish(last)
	if err != nil {
		return wrapAPIError(err)
	}
	if strings.EqualFold(last.Status, "failed") {
		return fmt.Errorf("job %s failed: %s", id, dash(last.Message))
	}
	return nil
}

type eventView interface {
	observe(deepprogress.Event)
	finish(deepprogress.Event)
}

type lineView struct {
	out io.Writer
}

func (v *lineView) observe(evt deepprogress.Event) {
	fmt.Fprintf(v.out, "%s %-10s %4s  %s  %s\n",
		evt.Timestamp.Local().Format(time.TimeOnly),
		strings.ToUpper(evt.Status),
		formatPercent(evt.Percentage),
		stageLabel(evt.Stage),
		evt.Message,
	)
}

func (v *lineView) finish(deepprogress.Event) {}

type jsonView struct {
	cmd *cobra.Command
}

func (v *jsonView) observe(evt deepprogress.Event) {
	_ = writeJSON(v.cmd, evt)
}

func (v *jsonView) finish(deepprogress.Event) {}

type barView struct {
	writer  progress.Writer
	tracker *progress.Tracker
}

func newBarView(out io.Writer, id string) *barView {
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = false

	tracker := &progress.Tracker{Message: id, Total: 100, Units: progress.UnitsDefault}
	pw.AppendTracker(tracker)
	go pw.Render()
	return &barView{writer: pw, tracker: tracker}
}

func (v *barView) observe(evt deepprogress.Event) {
	v.tracker.UpdateMessage(fmt.Sprintf("%s: %s", stageLabel(evt.Stage), dash(evt.Message)))
	v.tracker.SetValue(int64(evt.Percentage))
}

func (v *barView) finish(last deepprogress.Event) {
	if strings.EqualFold(last.Status, "failed") {
		v.tracker.MarkAsErrored()
	} else if last.Terminal() {
		v.tracker.SetValue(100)
		v.tracker.MarkAsDone()
	}
	// Let the renderer draw the final state before stopping it.
	time.Sleep(150 * time.Millisecond)
	v.writer.Stop()
}
