package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"jvminstr/internal/callgraph"
	"jvminstr/internal/classfile"
	"jvminstr/internal/output"
)

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("out", "o", "graph", "output directory for DOT files")
}

var graphCmd = &cobra.Command{
	Use:   "graph <Name.class>",
	Short: "Write the call graph and CFGs of a class as DOT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("out")
		path, err := locate(viper.GetString("classpath"), args[0])
		if err != nil {
			return err
		}
		c, _, err := readClass(path)
		if err != nil {
			return err
		}
		nodes, cfgs, err := writeGraphs(outDir, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d nodes)\n", filepath.Join(outDir, "callgraph.dot"), nodes)
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d per-method CFG DOTs to %s\n", cfgs, filepath.Join(outDir, "cfg"))
		return nil
	},
}

var fileNamer = strings.NewReplacer("/", ".", "<", "_", ">", "_", ";", "", "(", "_", ")", "_", "[", "A")

// writeGraphs writes callgraph.dot, cfg.dot with every method of the class,
// and one cfg/<method>.dot for every method with more than one block.
func writeGraphs(dir string, c *classfile.Class) (nodes, cfgs int, err error) {
	methods, err := callgraph.Methods(c)
	if err != nil {
		return 0, 0, err
	}
	for _, m := range methods {
		lcfg, nblocks := callgraph.BuildFuncCFG(m)
		if nblocks <= 1 {
			continue
		}
		g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}
		if err := output.WriteDOT(filepath.Join(dir, "cfg"), fileNamer.Replace(m.Name), render.DOTCFG(g, m.Name)); err != nil {
			return 0, 0, err
		}
		cfgs++
	}

	if err := output.WriteDOT(dir, "cfg", render.DOTCFG(callgraph.BuildCFG(methods), c.This)); err != nil {
		return 0, 0, err
	}

	cg := callgraph.BuildCallGraph(methods)
	if err := output.WriteDOT(dir, "callgraph", render.DOT(cg, c.This)); err != nil {
		return 0, 0, err
	}
	log.WithFields(log.Fields{"class": c.This, "nodes": len(cg.Nodes), "edges": len(cg.Edges), "cfgs": cfgs}).Debug("graphs")
	return len(cg.Nodes), cfgs, nil
}
