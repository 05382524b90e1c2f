package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"deepscan/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		jobID      string
		filename   string
		size       int64
		maxRetries int
		settings   []string
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "submit <media-ref>",
		Short: "Queue a media file for detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			req, err := buildSubmitRequest(args[0], jobID, filename, size, settings)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}

			job, err := client.Submit(cmd.Context(), req)
			if err != nil {
				return wrapAPIError(err)
			}
			if !wait {
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%s)\n", job.JobID, job.MediaRef)
				return nil
			}
			if !ctx.jsonOutput() {
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s, waiting for completion\n", job.JobID)
			}
			return watchJob(cmd, ctx, client, job.JobID)
		},
	}

	cmd.Flags().StringVar(&jobID, "id", "", "Explicit job id (generated when empty)")
	cmd.Flags().StringVar(&filename, "filename", "", "Display filename (defaults to the ref's base name)")
	cmd.Flags().Int64Var(&size, "size", 0, "File size in bytes (read from disk when the ref is a local file)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Override the configured retry budget")
	cmd.Flags().StringArrayVar(&settings, "set", nil, "Job config entry as key=value (repeatable)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Stream progress until the job finishes")
	return cmd
}

func buildSubmitRequest(ref, jobID, filename string, size int64, settings []string) (api.SubmitRequest, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return api.SubmitRequest{}, fmt.Errorf("media ref is required")
	}
	if filename == "" {
		filename = filepath.Base(ref)
	}
	if size <= 0 {
		if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
			size = info.Size()
		}
	}
	config, err := parseSettings(settings)
	if err != nil {
		return api.SubmitRequest{}, err
	}
	return api.SubmitRequest{
		JobID:         strings.TrimSpace(jobID),
		MediaRef:      ref,
		Filename:      filename,
		FileSizeBytes: size,
		Config:        config,
	}, nil
}

func parseSettings(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", raw)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context(), statuses, limit)
			if err != nil {
				return wrapAPIError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.JobID,
					formatStatus(job.Status, colorize),
					stageLabel(job.ProgressStage),
					formatPercent(job.ProgressPercentage),
					strconv.Itoa(job.RetryCount),
					dash(job.Filename),
					dash(job.UpdatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Stage", "Progress", "Retries", "File", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (queued, processing, retrying, completed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to list")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show daemon health, or one job's state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				job, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					return wrapAPIError(err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				printJob(cmd, job)
				return nil
			}

			health, err := client.Health(cmd.Context())
			if err != nil {
				return wrapAPIError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}
			printHealth(cmd, health)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job api.Job) {
	colorize := shouldColorize(cmd.OutOrStdout())
	rows := [][]string{
		{"Job", job.JobID},
		{"Status", formatStatus(job.Status, colorize)},
		{"Stage", stageLabel(job.ProgressStage)},
		{"Progress", formatPercent(job.ProgressPercentage)},
		{"Media", job.MediaRef},
		{"Content hash", dash(job.ContentHash)},
		{"Retries", fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
		{"Worker", dash(job.Worker)},
		{"Created", dash(job.CreatedAt)},
		{"Started", dash(job.StartedAt)},
		{"Completed", dash(job.CompletedAt)},
	}
	if job.ErrorMessage != "" {
		rows = append(rows, []string{"Error", fmt.Sprintf("%s (%s)", job.ErrorMessage, dash(job.ErrorKind))})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
}

func printHealth(cmd *cobra.Command, health api.HealthResponse) {
	out := cmd.OutOrStdout()
	storeState := "ready"
	if !health.Store.Ready {
		storeState = "unavailable: " + dash(health.Store.Detail)
	}
	workers := "stopped"
	if health.Workers.Running {
		workers = fmt.Sprintf("%d busy of %d (%d held)", health.Workers.Busy, health.Workers.Workers, health.Workers.Held)
	}
	rows := [][]string{
		{"Status", health.Status},
		{"Store", storeState},
		{"Workers", workers},
		{"Queued", strconv.Itoa(health.Queue.Queued)},
		{"Processing", strconv.Itoa(health.Queue.Processing)},
		{"Retrying", strconv.Itoa(health.Queue.Retrying)},
		{"Completed", strconv.Itoa(health.Queue.Completed)},
		{"Failed", strconv.Itoa(health.Queue.Failed)},
	}
	if health.Cache != nil {
		rows = append(rows, []string{"Cache", fmt.Sprintf("%d/%d entries, %d hits, %d misses",
			health.Cache.Entries, health.Cache.Capacity, health.Cache.Hits, health.Cache.Misses)})
	}
	if health.Device != nil {
		rows = append(rows, []string{"Device", fmt.Sprintf("%s (busy %d)", health.Device.Device, health.Device.Busy)})
	}
	if health.Workers.LastError != "" {
		rows = append(rows, []string{"Last error", health.Workers.LastError})
	}
	fmt.Fprintln(out, renderTable([]string{"Component", "State"}, rows, nil))
}

func newResultCommand(ctx *commandContext) *cobra.Command {
	var showFrames bool

	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show a completed job's detection result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			res, err := client.Result(cmd.Context(), args[0])
			if err != nil {
				return wrapAPIError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, res)
			}
			printResult(cmd, res, showFrames)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showFrames, "frames", false, "Include per-frame confidences")
	return cmd
}

func printResult(cmd *cobra.Command, res api.ResultResponse, showFrames bool) {
	out := cmd.OutOrStdout()
	if res.DetectionResult == nil {
		fmt.Fprintf(out, "Job %s is %s; no result yet\n", res.JobID, strings.ToUpper(res.Status))
		return
	}
	det := res.DetectionResult
	rows := [][]string{
		{"Job", res.JobID},
		{"Confidence", formatConfidence(det.OverallConfidence)},
		{"Frames", strconv.Itoa(det.Summary.TotalFrames)},
		{"Suspicious frames", strconv.Itoa(det.Summary.SuspiciousFrames)},
		{"Distribution", fmt.Sprintf("low %d, medium %d, high %d",
			det.Summary.Distribution.Low, det.Summary.Distribution.Medium, det.Summary.Distribution.High)},
		{"Model", dash(det.ModelVersion)},
		{"Scorer", dash(det.Summary.Scorer)},
		{"Processing", fmt.Sprintf("%.0f ms", res.ProcessingTimeMS)},
		{"Source", res.Source},
	}
	if res.PerformanceMetrics != nil {
		rows = append(rows, []string{"Cache hit", strconv.FormatBool(res.PerformanceMetrics.CacheHit)})
	}
	if res.Version > 0 {
		rows = append(rows, []string{"Version", strconv.Itoa(res.Version)})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

	if !showFrames || len(det.Frames) == 0 {
		return
	}
	frames := make([][]string, 0, len(det.Frames))
	for _, frame := range det.Frames {
		frames = append(frames, []string{
			strconv.Itoa(frame.FrameNumber),
			formatConfidence(frame.Confidence),
			strconv.Itoa(len(frame.SuspiciousRegions)),
			fmt.Sprintf("%.0f", frame.ProcessingTimeMS),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Frame", "Confidence", "Regions", "Elapsed ms"},
		frames,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
	))
}
