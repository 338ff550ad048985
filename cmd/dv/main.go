package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"docvault/internal/app"
	"docvault/internal/config"
	"docvault/internal/dv"
	"docvault/internal/indexer"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError renders engine errors as problems and everything else as is.
func printError(err error) {
	if p := dv.ProblemFor(err); p.Code != "internal" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", p)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// newApp reads the config and creates a DVApp. The caller must defer app.Close().
func newApp(cmd *cobra.Command, op *app.Operation, opts ...app.Option) (*app.DVApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewDVApp(cmd.Context(), cfg, op, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, string, error) {
	paths, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, paths.ConfigPath, nil
}

var rootCmd = &cobra.Command{
	Use:           "dv",
	Short:         "Document vault: store files and keep their index in sync",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Run `dv db migrate` to create the index.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s (level %s)\n", cfg.LogDir, cfg.Logging.Level)
		switch cfg.Storage.Type {
		case "filesystem":
			fmt.Printf("Storage:   filesystem at %s\n", cfg.Storage.FSRoot)
		case "s3":
			fmt.Printf("Storage:   s3://%s/%s\n", cfg.Storage.S3Bucket, cfg.Storage.S3Prefix)
		default:
			fmt.Printf("Storage:   %s\n", cfg.Storage.Type)
		}
		fmt.Printf("Database:  %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Indexer:   %d workers, batch %d, %s queue\n", cfg.Indexer.Workers, cfg.Indexer.BatchSize, cfg.Indexer.Queue)
		if cfg.Metrics.Enabled {
			fmt.Printf("Metrics:   http://%s/metrics\n", cfg.Metrics.Listen)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the index database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.NewOperation("Migrate"), app.WithoutMigrationCheck())
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Printf("Schema at version %d\n", status.Version)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.NewOperation("MigrationStatus"), app.WithoutMigrationCheck())
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.MigrationStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Version: %d of %d\n", status.Version, status.Latest)
		if status.Dirty {
			fmt.Println("Dirty:   yes (a migration failed part way)")
		}
		if n := status.Pending(); n > 0 {
			fmt.Printf("Pending: %d migration(s), run `dv db migrate`\n", n)
		}
		return nil
	},
}

var dbSnapshotCmd = &cobra.Command{
	Use:   "snapshot PATH",
	Short: "Write a consistent copy of the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.NewOperation("Snapshot", args[0]))
		if err != nil {
			return err
		}
		defer a.Close()

		dest, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if err := a.Snapshot(cmd.Context(), dest); err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", dest)
		return nil
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.NewOperation("MakeDirectory", args[0]))
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.MakeDirectory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s)\n", f.PublicPath, f.Slug)
		return nil
	},
}

// put command
var putCmd = &cobra.Command{
	Use:   "put LOCAL PATH",
	Short: "Store a local file (- for stdin) at PATH",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()
			r = f
		}

		a, err := newApp(cmd, app.NewOperation("Put", args[1]))
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.Put(cmd.Context(), args[1], r)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %s (%d bytes, slug %s)\n", f.PublicPath, f.FileSize, f.Slug)
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get PATH|SLUG",
	Short: "Write a document to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, app.NewOperation("Get", args[0]))
		if err != nil {
			return err
		}
		defer a.Close()

		_, rc, err := a.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer rc.Close()

		var w io.Writer = os.Stdout
		if output != "" {
			out, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			defer out.Close()
			w = out
		}
		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("writing content: %w", err)
		}
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv SRC DEST",
	Short: "Move or rename an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.NewOperation("Move", args...))
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Move(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Moved %s to %s\n", args[0], args[1])
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Remove an entry and everything below it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.NewOperation("Remove", args[0]))
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.ListOptions
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.Offset, _ = cmd.Flags().GetInt("offset")
		opts.Order, _ = cmd.Flags().GetString("order")
		opts.ShowHidden, _ = cmd.Flags().GetBool("all")
		opts.Recursive, _ = cmd.Flags().GetBool("recursive")
		opts.Search, _ = cmd.Flags().GetString("search")

		target := "/"
		if len(args) > 0 {
			target = args[0]
		}

		a, err := newApp(cmd, app.NewOperation("List", target))
		if err != nil {
			return err
		}
		defer a.Close()

		files, total, err := a.List(cmd.Context(), target, opts)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No entries found.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, f := range files {
			kind, size := "d", "-"
			if !f.IsDir() {
				kind, size = "f", fmt.Sprint(f.FileSize)
			}
			if f.Hidden {
				kind += "h"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", kind, size, f.CreatedAt.Format(time.DateOnly), f.DisplayName(), f.PublicPath)
		}
		tw.Flush()
		if int64(len(files)) < total {
			fmt.Printf("(%d-%d of %d)\n", opts.Offset+1, opts.Offset+len(files), total)
		}
		return nil
	},
}

// hide / unhide commands
func hiddenCmd(use, short, op string, hidden bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " PATH",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, app.NewOperation(op, args[0]))
			if err != nil {
				return err
			}
			defer a.Close()
			return a.SetHidden(cmd.Context(), args[0], hidden)
		},
	}
}

var (
	hideCmd   = hiddenCmd("hide", "Hide an entry from listings", "Hide", true)
	unhideCmd = hiddenCmd("unhide", "Show a hidden entry again", "Unhide", false)
)

// reindex command
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the index from the stored files",
	RunE: func(cmd *cobra.Command, args []string) error {
		modeName, _ := cmd.Flags().GetString("mode")
		workers, _ := cmd.Flags().GetInt("workers")
		deferred, _ := cmd.Flags().GetBool("deferred")

		mode, err := indexer.ParseMode(modeName)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, app.NewOperation("Reindex", string(mode)))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if _, err := a.ServeMetrics(ctx); err != nil {
			return fmt.Errorf("starting metrics listener: %w", err)
		}

		// Progress goes to the terminal only; piped output stays clean.
		var onState func(from, to indexer.State)
		tty := term.IsTerminal(int(os.Stdout.Fd()))
		if tty {
			onState = func(_, to indexer.State) {
				fmt.Printf("\r\033[K%s...", to)
			}
		}

		rep, err := a.Reindex(ctx, indexer.Options{Mode: mode, Workers: workers, Deferred: deferred}, onState)
		if tty {
			fmt.Print("\r\033[K")
		}
		if rep != nil {
			printReport(rep, err)
		}
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("reindex interrupted: %w", err)
		}
		return err
	},
}

const maxFailuresShown = 20

func printReport(rep *indexer.Report, err error) {
	fmt.Printf("Reindex (%s, %d worker(s)) %s in %s\n", rep.Mode, rep.Workers, rep.Status(err), rep.Duration().Truncate(time.Millisecond))
	fmt.Printf("  indexed: %d (%d directories, %d documents)\n", rep.Indexed(), rep.Directories, rep.Documents)
	fmt.Printf("  skipped: %d\n", rep.Skipped)
	if len(rep.Failures) == 0 {
		return
	}
	fmt.Printf("  failed:  %d\n", len(rep.Failures))
	for i, f := range rep.Failures {
		if i == maxFailuresShown {
			fmt.Printf("    ... and %d more (see log)\n", len(rep.Failures)-maxFailuresShown)
			break
		}
		fmt.Printf("    %s: %v\n", f.Path, f.Err)
	}
}

// runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "View recorded operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, app.NewOperation("Runs"))
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.FinishedAt.Time.Sub(r.StartedAt.Time).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-14s  %s  %-8s  %6d ok %4d failed  %-8s  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Time.Format("2006-01-02 15:04:05"),
				r.Status,
				r.Indexed,
				r.Failed,
				duration,
				r.Parameters,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbSnapshotCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries (0 for all)")
	lsCmd.Flags().Int("offset", 0, "Skip this many entries")
	lsCmd.Flags().StringP("order", "s", "", `Sort order, e.g. "fileSize:desc,name"`)
	lsCmd.Flags().BoolP("all", "a", false, "Include hidden entries")
	lsCmd.Flags().BoolP("recursive", "r", false, "List all descendants")
	lsCmd.Flags().String("search", "", "Only entries whose name contains this text")
	rootCmd.AddCommand(hideCmd)
	rootCmd.AddCommand(unhideCmd)
	rootCmd.AddCommand(reindexCmd)
	reindexCmd.Flags().StringP("mode", "m", "full", "full (clear and rebuild) or safe (rebuild into a shadow and swap)")
	reindexCmd.Flags().IntP("workers", "w", 0, "Parallel workers (0 uses the configured count, 1 walks sequentially)")
	reindexCmd.Flags().Bool("deferred", true, "Commit index writes in batches")
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
