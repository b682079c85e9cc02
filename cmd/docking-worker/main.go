package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/docking-worker/internal/config"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

var (
	manifestPath  string
	inputFilesDir string
	vcpus         int
)

var rootCmd = &cobra.Command{
	Use:   "docking-worker",
	Short: "Dock one subjob of a virtual screening work unit.",
	Long: `docking-worker fetches the work unit named by VFVS_WORKUNIT, downloads the
ligand collections of subjob VFVS_WORKUNIT_SUBJOB, docks every ligand against
each configured scenario and uploads results, summaries and status listings.

Configuration is read from VFVS_* environment variables; flags override them.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("manifest") {
			cfg.Worker.ManifestPath = manifestPath
		}
		if cmd.Flags().Changed("input-files") {
			cfg.Worker.InputFilesDir = inputFilesDir
		}
		if cmd.Flags().Changed("vcpus") {
			cfg.Perf.VCPUs = vcpus
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Graceful shutdown handler
		go func() {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			sig := <-ch
			log.Printf("[shutdown] received signal: %v", sig)
			cancel()
		}()

		err = run(ctx, cfg)
		if errors.Is(err, errNothingToDo) {
			log.Printf("[main] %v", err)
			return nil
		}
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docking-worker %s (%s)\n", Version, GitSHA)
	},
}

func init() {
	rootCmd.Flags().StringVar(&manifestPath, "manifest", "", "extracted work unit manifest; skips the work unit fetch")
	rootCmd.Flags().StringVar(&inputFilesDir, "input-files", "", "scenario input files directory used with --manifest")
	rootCmd.Flags().IntVar(&vcpus, "vcpus", 0, "compute units to use (default VFVS_VCPUS or all CPUs)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] docking-worker %s (%s)", Version, GitSHA)

	if err := rootCmd.Execute(); err != nil {
		log.Printf("[main] subjob failed: %v", err)
		os.Exit(1)
	}
}
