package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"panoramer/internal/config"
	"panoramer/internal/pipeline"
	"panoramer/internal/stitch"
	"panoramer/internal/storage"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "panoramer",
		Short: "Panoramer stitches overlapping photos into panoramas",
		Long: `Panoramer detects corner features in an ordered set of overlapping photos,
matches them pairwise, estimates homographies with RANSAC and composites the
images right to left into a single panorama.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStitchCmd(root))
	rootCmd.AddCommand(newGenerateCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newRemoteCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newStitchCmd(root *Root) *cobra.Command {
	var quality int

	cmd := &cobra.Command{
		Use:   "stitch [input_directory] [output_directory]",
		Short: "Stitch every image in a directory into one panorama",
		Long: `Stitch the images of a directory, ordered by numeric file name, into
panorama_image.jpg and write the final match visualization to
matched_points.jpg.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        pipeline.NewJobID("stitch"),
				Type:      pipeline.JobStitch,
				InputPath: argOr(args, 0, root.cfg.Paths.UploadDir),
				Output:    argOr(args, 1, root.cfg.Paths.OutputDir),
				Options:   map[string]any{"source": "cli"},
			}
			if quality > 0 {
				job.Options["quality"] = quality
			}
			return root.runAndReport(cmd, job)
		},
	}

	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "JPEG quality 1-100 (default from config)")
	return cmd
}

func newGenerateCmd(root *Root) *cobra.Command {
	var (
		results string
		quality int
	)

	cmd := &cobra.Command{
		Use:   "generate [input_directory]",
		Short: "Stitch numbered images and keep every intermediate step",
		Long: `Stitch images named 1.jpg, 2.jpg, ... and write, for every fold step, the
ratio-test correspondences, the inlier/outlier classification and the running
panorama into the results directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        pipeline.NewJobID("generate"),
				Type:      pipeline.JobGenerate,
				InputPath: argOr(args, 0, root.cfg.Paths.UploadDir),
				Output:    results,
				Options:   map[string]any{"source": "cli"},
			}
			if quality > 0 {
				job.Options["quality"] = quality
			}
			return root.runAndReport(cmd, job)
		},
	}

	cmd.Flags().StringVarP(&results, "results", "r", "", "results directory (default <input>/results)")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "JPEG quality 1-100 (default from config)")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC APIs",
		Long: `Start the HTTP upload/stitch API and the gRPC Stitcher service on the shared
job pipeline. With --watch, settled uploads are stitched automatically.

Examples:
  panoramer serve
  panoramer serve --addr :8080 --grpc-addr "" --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server",
				"addr", opts.HTTPAddr,
				"grpc_addr", opts.GRPCAddr,
				"upload_dir", root.cfg.Paths.UploadDir,
				"watch", opts.Watch,
			)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "addr", root.cfg.Server.HTTPAddr, "HTTP listen address")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC listen address, empty to disable")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "stitch the upload directory whenever it settles")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [directory]",
		Short: "Stitch a directory whenever new images settle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := root.newWatcher(argOr(args, 0, root.cfg.Paths.UploadDir))
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs [job_id]",
		Short: "List recent jobs or show one job with its fold steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("job store unavailable")
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return root.showJob(cmd, args[0])
			}

			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED\tERROR")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.JobType, rec.Status, rec.CreatedAt.Local().Format(time.DateTime), rec.ErrorKind)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to list")
	return cmd
}

func (r *Root) showJob(cmd *cobra.Command, id string) error {
	rec, err := r.store.Job(id)
	if err != nil {
		return err
	}
	steps, err := r.store.JobSteps(id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s (%s): %s\n", rec.ID, rec.JobType, rec.Status)
	fmt.Fprintf(out, "  input: %s\n  output: %s\n", rec.InputPath, rec.OutputPath)
	if rec.Error != "" {
		fmt.Fprintf(out, "  error [%s]: %s\n", rec.ErrorKind, rec.Error)
	}
	if len(steps) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tLEFT\tRIGHT\tKEYPOINTS\tMATCHES\tINLIERS\tCANVAS")
	for _, s := range steps {
		right := fmt.Sprint(s.RightIndex)
		if s.RightIndex == stitch.RunningPanorama {
			right = "panorama"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%d\t%dx%d\n", s.Step, s.LeftIndex, right, s.Keypoints, s.Matches, s.Inliers, s.Width, s.Height)
	}
	return tw.Flush()
}

func newRemoteCmd(root *Root) *cobra.Command {
	var (
		addr string
		mode string
	)

	cmd := &cobra.Command{
		Use:   "remote [input_subdir] [output_subdir]",
		Short: "Run a job on a remote panoramer over gRPC",
		Long: `Run a job on a remote panoramer over gRPC. Directories are names
relative to the server's upload and output directories; omit them to use
the server's configured directories.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.dialFn(addr)
			if err != nil {
				return fmt.Errorf("connect %s: %w", addr, err)
			}
			defer client.Close()

			meta, err := client.Stitch(cmd.Context(), mode, argOr(args, 0, ""), argOr(args, 1, ""))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Remote %s job %v completed\n", mode, meta["job_id"])
			printMeta(cmd.OutOrStdout(), meta)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost"+root.cfg.Server.GRPCAddr, "gRPC server address")
	cmd.Flags().StringVar(&mode, "mode", string(pipeline.JobStitch), "job mode (stitch|generate)")
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(versionString())
		},
	}
}

func (r *Root) runAndReport(cmd *cobra.Command, job pipeline.Job) error {
	start := time.Now()
	res, err := r.enqueueAndWait(cmd.Context(), job)
	if err != nil {
		if kind := stitch.Kind(err); kind != "Internal" {
			return fmt.Errorf("%s job failed (%s): %w", job.Type, kind, err)
		}
		return fmt.Errorf("%s job failed: %w", job.Type, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s completed in %s\n", job.ID, time.Since(start).Round(time.Millisecond))
	if results, ok := res.Meta["results"]; ok {
		b, _ := json.MarshalIndent(results, "  ", "  ")
		fmt.Fprintf(out, "  results: %s\n", b)
		delete(res.Meta, "results")
	}
	printMeta(out, res.Meta)
	return nil
}

func argOr(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}
