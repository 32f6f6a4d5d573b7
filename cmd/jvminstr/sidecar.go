package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"jvminstr/internal/sidecar"
)

func init() {
	rootCmd.AddCommand(sidecarCmd)
	sidecarCmd.Flags().String("name", "", "internal name of the class (default from profile)")
	sidecarCmd.Flags().Uint64("threshold", 0, "smallest count reported at exit (default from profile)")
	sidecarCmd.Flags().StringP("out", "o", ".", "class path root to write the class under")
}

var sidecarCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Write the runtime counter class that usage-instrumented code calls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("out")
		p, err := loadProfile(outDir)
		if err != nil {
			return err
		}
		name := p.Usage.Sidecar
		if cmd.Flags().Changed("name") {
			name, _ = cmd.Flags().GetString("name")
		}
		threshold := p.Usage.ReportThreshold
		if cmd.Flags().Changed("threshold") {
			threshold, _ = cmd.Flags().GetUint64("threshold")
		}

		path, err := writeSidecar(outDir, name, threshold)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func writeSidecar(root, name string, threshold uint64) (string, error) {
	c, err := sidecar.Class(name, threshold)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, filepath.FromSlash(name)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if _, err := writeClass(path, c); err != nil {
		return "", err
	}
	return path, nil
}
