package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mojyack/daemonfs/internal/mountlib"
)

var (
	bootstrapFlag string
	verboseFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "daemonfs [flags] mountpoint",
	Short: "Mount a synthetic filesystem that supervises daemon processes",
	Long: `daemonfs exposes a small set of user-space daemons as a FUSE
filesystem: each daemon is a directory containing args/state/pid/stdout/
stderr virtual files. Writing to a daemon's state file starts or stops it;
the supervisor restarts a daemon that exits after at least five seconds of
uptime and marks one that exits sooner as failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving mount point: %w", err)
		}

		bootstrap := bootstrapFlag
		if bootstrap != "" {
			bootstrap, err = filepath.Abs(bootstrap)
			if err != nil {
				return fmt.Errorf("resolving bootstrap path: %w", err)
			}
		}

		return mountlib.Run(mountlib.Config{
			MountPoint: mountPoint,
			Bootstrap:  bootstrap,
			Verbose:    verboseFlag,
		})
	},
}

func init() {
	rootCmd.Flags().StringVarP(&bootstrapFlag, "bootstrap", "b", "", "executable started as an oneshot daemon at mount time")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "log at debug severity")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
