package cli

import (
	"fmt"
	"strings"
	"time"

	"camtrap/internal/pipeline"
	"camtrap/internal/storage"
	"camtrap/internal/video"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "camtrap",
		Short: "Camtrap analyses camera-trap video for moving animals",
		Long: `Camtrap scans camera-trap recordings into a project catalogue, detects
moving animals against a background model, links detections into tracks,
and exports annotated snapshots.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newProjectCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newAnalyzeCmd(root))
	rootCmd.AddCommand(newExportCmd(root))
	rootCmd.AddCommand(newTracksCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newProjectCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage registered projects",
	}

	var (
		description   string
		projectFolder string
		relativePaths bool
	)
	addCmd := &cobra.Command{
		Use:   "add <name> <data_folder>",
		Short: "Register a project and its data folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := storage.ProjectRecord{
				Name:          args[0],
				ProjectFolder: projectFolder,
				DataFolder:    args[1],
				RelativePaths: relativePaths,
				Description:   description,
			}
			id, err := root.store.InsertProject(rec)
			if err != nil {
				return fmt.Errorf("failed to register project: %w", err)
			}
			root.log.Info("project registered", "id", id, "name", rec.Name, "data_folder", rec.DataFolder)
			cmd.Printf("Registered project %s (id %d)\n", rec.Name, id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&description, "description", "", "free-form project description")
	addCmd.Flags().StringVar(&projectFolder, "project-folder", "", "folder for project outputs (defaults to data folder)")
	addCmd.Flags().BoolVar(&relativePaths, "relative", true, "store video paths relative to the data folder")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := root.store.Projects()
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				cmd.Println("No projects registered")
				return nil
			}
			for _, p := range projects {
				cmd.Printf("%4d  %-20s %s\n", p.ID, p.Name, p.DataFolder)
			}
			return nil
		},
	}

	locationsCmd := &cobra.Command{
		Use:   "locations <name>",
		Short: "List the camera locations of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := root.store.ProjectByName(args[0])
			if err != nil {
				return fmt.Errorf("unknown project %q: %w", args[0], err)
			}
			locations, err := root.store.LocationsByProject(proj.ID)
			if err != nil {
				return err
			}
			for _, loc := range locations {
				videos, err := root.store.VideosByLocation(loc.ID)
				if err != nil {
					return err
				}
				cmd.Printf("%4d  %-20s %d videos\n", loc.ID, loc.Name, len(videos))
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, locationsCmd)
	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var locations []string

	cmd := &cobra.Command{
		Use:   "scan <project>",
		Short: "Scan the project data folder for new videos",
		Long: `Walk the project data folder, register each subdirectory as a camera
location and catalogue every video with its recording metadata.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := root.store.ProjectByName(args[0])
			if err != nil {
				return fmt.Errorf("unknown project %q: %w", args[0], err)
			}

			job := pipeline.Job{
				ID:        newID("scan"),
				Type:      pipeline.JobScan,
				InputPath: proj.DataFolder,
				Options: map[string]any{
					"project": proj.Name,
					"source":  "cli",
				},
			}
			if len(locations) > 0 {
				job.Options["locations"] = locations
			}

			meta, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			cmd.Printf("Scanned %v locations, %v videos (%v metadata failures)\n",
				meta["locations"], meta["videos"], meta["metadata_fails"])
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&locations, "location", nil, "restrict the scan to named locations (repeatable)")
	return cmd
}

func newAnalyzeCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <project> <location>",
		Short: "Detect and track animals in a location's videos",
		Long: `Decode the catalogued videos of a location in recording order, subtract
the background model, extract moving blobs and link them into tracks.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := root.store.ProjectByName(args[0])
			if err != nil {
				return fmt.Errorf("unknown project %q: %w", args[0], err)
			}
			if err := video.RequireTools("ffmpeg", "ffprobe"); err != nil {
				return err
			}

			job := pipeline.Job{
				ID:        newID("analyze"),
				Type:      pipeline.JobAnalyze,
				InputPath: proj.DataFolder,
				Options: map[string]any{
					"project":  proj.Name,
					"location": args[1],
					"source":   "cli",
				},
			}

			meta, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			cmd.Printf("Analyzed %v frames: %v detections, %v tracks, %v sequence breaks\n",
				meta["frames"], meta["detections"], meta["tracks"], meta["sequence_breaks"])
			return nil
		},
	}
	return cmd
}

func newExportCmd(root *Root) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export <project> <location>",
		Short: "Export annotated snapshots for a location's tracks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := root.store.ProjectByName(args[0])
			if err != nil {
				return fmt.Errorf("unknown project %q: %w", args[0], err)
			}
			if outDir == "" {
				outDir = root.cfg.Paths.SnapshotDir
			}

			job := pipeline.Job{
				ID:        newID("export"),
				Type:      pipeline.JobExport,
				InputPath: proj.DataFolder,
				Output:    outDir,
				Options: map[string]any{
					"project":  proj.Name,
					"location": args[1],
					"source":   "cli",
				},
			}

			meta, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			cmd.Printf("Exported %v snapshots to %s\n", meta["snapshots"], outDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "", "snapshot output directory")
	return cmd
}

func newTracksCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracks <project> <location>",
		Short: "List the finished tracks of a location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := root.store.ProjectByName(args[0])
			if err != nil {
				return fmt.Errorf("unknown project %q: %w", args[0], err)
			}
			loc, err := root.store.LocationByName(proj.ID, args[1])
			if err != nil {
				return fmt.Errorf("unknown location %q: %w", args[1], err)
			}
			tracks, err := root.store.TracksByLocation(loc.ID)
			if err != nil {
				return err
			}
			if len(tracks) == 0 {
				cmd.Println("No tracks recorded")
				return nil
			}
			for _, tr := range tracks {
				start := time.Unix(0, tr.FirstTsNanos).UTC()
				dur := time.Duration(tr.LastTsNanos - tr.FirstTsNanos)
				cmd.Printf("%-45s %s  %6s  %3d obs  %6.1f px/s avg\n",
					tr.ID, start.Format("2006-01-02 15:04:05"), dur.Round(time.Second), tr.ObservationCount, tr.AvgSpeedPps)
			}
			return nil
		},
	}
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr         string
		watchProject string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start an HTTP server exposing the catalogue, job submission and live job
results. With --watch, new recordings in the named project's data folder
are scanned and analyzed automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server", "addr", addr, "watch_project", watchProject)
			return root.serveFn(cmd.Context(), addr, watchProject)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "server address (host:port)")
	cmd.Flags().StringVar(&watchProject, "watch", "", "project whose data folder is watched for new recordings")
	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show external tool availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"ffmpeg", "ffprobe", "exiftool"} {
				status := video.CheckTool(name)
				if status.Available {
					cmd.Printf("  %-10s available  %s\n", name, status.Version)
				} else {
					cmd.Printf("  %-10s missing    (%v)\n", name, status.Error)
				}
			}
			return nil
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			cmd.Printf("Database Path:   %s\n", cfg.Paths.DatabasePath)
			cmd.Printf("Snapshot Dir:    %s\n", cfg.Paths.SnapshotDir)
			cmd.Printf("Parallel Jobs:   %d\n", cfg.Processing.ParallelJobs)
			cmd.Printf("Log Level:       %s\n", cfg.Logging.Level)
			cmd.Printf("Video Formats:   %s\n", strings.Join(cfg.Ingest.VideoFormats, ", "))
			cmd.Printf("Skip Frames:     %d\n", cfg.Ingest.SkipFrames)
			cmd.Printf("Max Time Gap:    %s\n", cfg.Ingest.MaxTimeGap())
			cmd.Printf("Threshold:       %d\n", cfg.Detect.Threshold)
			cmd.Printf("Min Blob Area:   %d\n", cfg.Detect.MinArea)
			cmd.Printf("Hits To Confirm: %d\n", cfg.Track.HitsToConfirm)
			cmd.Printf("Server Addr:     %s\n", cfg.Server.Addr)
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("camtrap v1.0.0")
		},
	}
}
