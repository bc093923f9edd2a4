package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/s3storage"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/uploadqueue"
)

func newUploadsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Manage the on-device upload queue",
	}
	cmd.AddCommand(
		newUploadsAddCmd(a),
		newUploadsListCmd(a),
		newUploadsPendingCmd(a),
		newUploadsDrainCmd(a),
		newUploadsClearCmd(a),
	)
	return cmd
}

func (a *app) openUploads() (*uploadqueue.SQLiteStore, error) {
	store, err := uploadqueue.Open(a.cfg.Device.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open upload queue: %w", err)
	}
	return store, nil
}

func newUploadsAddCmd(a *app) *cobra.Command {
	var (
		locationID, jobID, jobTitle string
		durationSeconds             int
	)
	cmd := &cobra.Command{
		Use:   "add <video-file>",
		Short: "Queue a recorded video for upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("video file: %w", err)
			}
			store, err := a.openUploads()
			if err != nil {
				return err
			}
			defer store.Close()

			in := uploadqueue.NewItem{
				VideoRef:   path,
				LocationID: locationID,
				JobID:      jobID,
				JobTitle:   jobTitle,
			}
			if cmd.Flags().Changed("duration") {
				in.DurationSeconds = &durationSeconds
			}
			item, err := store.Add(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s)\n", item.ID, filepath.Base(path))
			return nil
		},
	}
	cmd.Flags().StringVar(&locationID, "location", "", "Location the video was recorded at")
	cmd.Flags().StringVar(&jobID, "job", "", "Job the video belongs to")
	cmd.Flags().StringVar(&jobTitle, "title", "", "Human readable job title")
	cmd.Flags().IntVar(&durationSeconds, "duration", 0, "Recording length in seconds, when known")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newUploadsListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show every queued upload in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openUploads()
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tJOB\tFILE\tERROR")
			for _, item := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\t%s\n",
					item.ID, item.Status, item.Progress, item.JobID, filepath.Base(item.VideoRef), item.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	return cmd
}

func newUploadsPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Count uploads still waiting (pending or errored)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openUploads()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newUploadsDrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Upload every pending or errored video",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openUploads()
			if err != nil {
				return err
			}
			defer store.Close()

			objects, err := s3storage.New(a.cfg.S3)
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			uploader, err := uploadqueue.NewRemoteUploader(objects, a.cfg.Device.APIURL,
				&http.Client{Timeout: a.cfg.Device.HTTPTimeout})
			if err != nil {
				return err
			}
			drainLease, err := uploadqueue.NewDrainLease(ctx, store)
			if err != nil {
				return err
			}
			w, err := uploadqueue.NewWorker(store, uploader, drainLease, a.logg, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			res, err := w.Drain(ctx, func(item uploadqueue.Item, percent int) {
				fmt.Fprintf(out, "\r%s %3d%%", filepath.Base(item.VideoRef), percent)
				if percent == 100 {
					fmt.Fprintln(out)
				}
			})
			if errors.Is(err, uploadqueue.ErrDrainInProgress) {
				fmt.Fprintln(out, "another drain is already running")
				return nil
			}
			fmt.Fprintf(out, "attempted %d, succeeded %d, failed %d\n", res.Attempted, res.Succeeded, res.Failed)
			return err
		},
	}
}

func newUploadsClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Remove successfully uploaded items from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openUploads()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.ClearCompleted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d\n", n)
			return nil
		},
	}
}
