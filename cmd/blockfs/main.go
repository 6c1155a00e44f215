// Command blockfs runs the interactive shell described in spec.md §6
// over an in-memory block device: mkfs, mount, and the POSIX-flavored
// file and directory calls, dispatched from stdin the way the teacher's
// own cmd package wires flags, viper, and cobra for its mount command.
package main

import (
	"fmt"
	"os"

	"github.com/oss-samples/blockfs/cfg"
	"github.com/oss-samples/blockfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	bindErr      error
	unmarshalErr error
	mountConfig  cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "blockfs",
	Short: "An educational Unix-style filesystem above an in-memory block device.",
	Long: `blockfs implements a small Unix-style filesystem - superblock, allocation
bitmaps, a node table, and a data region - entirely above a block-addressed
storage device held in memory, driven from an interactive shell.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&mountConfig); err != nil {
			return err
		}
		logger.SetLevel(string(mountConfig.Logging.Severity))
		return runShell(mountConfig, os.Stdin, os.Stdout)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	mountConfig = cfg.GetDefaultConfig()
	unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(cfg.DecodeHook()))
}

func main() {
	Execute()
}
