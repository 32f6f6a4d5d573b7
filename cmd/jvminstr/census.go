package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"jvminstr/internal/sidecar"
)

func init() {
	rootCmd.AddCommand(censusCmd)
	censusCmd.Flags().Uint64P("threshold", "t", 0, "hide mnemonics counted fewer times")
}

var censusCmd = &cobra.Command{
	Use:   "census <report>...",
	Short: "Merge and summarize instruction usage reports printed by the sidecar",
	Long: `Reads the "<MNEMONIC>    <count>" lines the sidecar prints at JVM exit,
from files or "-" for stdin, and prints the merged counts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetUint64("threshold")
		total := sidecar.NewTable()
		for _, arg := range args {
			t, err := readReportFile(arg)
			if err != nil {
				return err
			}
			total.Merge(t)
		}
		printCensus(cmd.OutOrStdout(), total, threshold)
		return nil
	},
}

func readReportFile(path string) (*sidecar.Table, error) {
	if path == "-" {
		return sidecar.ReadReport(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := sidecar.ReadReport(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func printCensus(w io.Writer, t *sidecar.Table, threshold uint64) {
	mnemonic := color.New(color.FgCyan).SprintFunc()
	var shown, sum uint64
	for _, e := range t.Snapshot() {
		if e.Count < threshold {
			continue
		}
		fmt.Fprintf(w, "%-16s %12s\n", mnemonic(e.Mnemonic), humanize.Comma(int64(e.Count)))
		shown++
		sum += e.Count
	}
	fmt.Fprintf(w, "%s mnemonics, %s executions\n",
		color.New(color.Bold).Sprint(humanize.Comma(int64(shown))), color.New(color.Bold).Sprint(humanize.Comma(int64(sum))))
}
