package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ilcpm/numhess/internal/config"
)

var configDirFlag string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage program launch configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write annotated example config files",
	Long: `Create the config directory and write an annotated example file per
supported program. Copy an example to <PROGRAM>.yaml and edit it to match the
local installation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		written, err := config.WriteExamples(dir)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Printf("wrote %s\n", path)
		}
		return nil
	},
}

var configHashUpdateCmd = &cobra.Command{
	Use:   "hash-update",
	Short: "Record integrity checksums for the config files",
	Long: `Hash every config file in the directory and record the digests. A later
load warns when a file changed without a matching hash-update, which catches
accidental edits on shared machines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir()
		if err != nil {
			return err
		}
		if err := config.GenerateChecksums(dir); err != nil {
			return err
		}
		fmt.Printf("checksums updated in %s\n", dir)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify config files against their recorded checksums",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir()
		if err != nil {
			return err
		}
		if err := config.VerifyChecksums(dir); err != nil {
			return err
		}
		fmt.Printf("config files in %s verified\n", dir)
		return nil
	},
}

func configDir() (string, error) {
	if configDirFlag != "" {
		return configDirFlag, nil
	}
	return config.DefaultDir()
}

func init() {
	configCmd.PersistentFlags().StringVar(&configDirFlag, "dir", "", "config directory (default ~/.numhess)")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configHashUpdateCmd)
	configCmd.AddCommand(configCheckCmd)
}
