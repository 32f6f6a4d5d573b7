package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/output"
	"jvminstr/internal/passes"
	"jvminstr/internal/profile"
)

func init() {
	rootCmd.AddCommand(instrumentCmd)
	instrumentCmd.Flags().StringSliceP("pass", "p", nil, "passes to run, in order (default from profile)")
	instrumentCmd.Flags().StringP("out", "o", "", "write report.json and sites.jsonl here")
	instrumentCmd.Flags().Bool("graph", false, "also write call graph and CFG DOT files per class")
	instrumentCmd.Flags().Bool("listing", false, "also write listings of rewritten methods")
	instrumentCmd.Flags().Bool("best-effort", false, "leave failing methods unchanged instead of aborting")
	instrumentCmd.Flags().Bool("emit-sidecar", false, "write the runtime counter class when the usage pass runs")
	instrumentCmd.Flags().IntP("jobs", "j", runtime.NumCPU(), "classes processed in parallel")
	viper.BindPFlag("instrument.out", instrumentCmd.Flags().Lookup("out"))
	viper.BindPFlag("instrument.jobs", instrumentCmd.Flags().Lookup("jobs"))
}

var instrumentCmd = &cobra.Command{
	Use:   "instrument <class file or directory>...",
	Short: "Run a profile's passes over class files in place",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile(args[0])
		if err != nil {
			return err
		}
		names, _ := cmd.Flags().GetStringSlice("pass")
		if len(names) == 0 && len(p.Instrument.Passes) == 0 {
			return fmt.Errorf("no passes selected: use --pass or [instrument] passes in %s", profile.FileName)
		}
		if bestEffort, _ := cmd.Flags().GetBool("best-effort"); bestEffort {
			p.Instrument.BestEffort = true
		}
		b := batch{profile: p, names: names, out: viper.GetString("instrument.out")}
		b.graph, _ = cmd.Flags().GetBool("graph")
		b.listing, _ = cmd.Flags().GetBool("listing")
		if b.out == "" {
			b.out = p.Output.Dir
		}
		b.graph = b.graph || p.Output.Graph
		if (b.graph || b.listing) && b.out == "" {
			return fmt.Errorf("--graph and --listing need --out")
		}

		files, err := classFiles(args)
		if err != nil {
			return err
		}
		reports, err := b.run(files, viper.GetInt("instrument.jobs"))
		if err != nil {
			return err
		}

		if emit, _ := cmd.Flags().GetBool("emit-sidecar"); emit && b.usesUsage() {
			root := args[0]
			if fi, err := os.Stat(root); err == nil && !fi.IsDir() {
				root = filepath.Dir(root)
			}
			path, err := writeSidecar(root, p.Usage.Sidecar, p.Usage.ReportThreshold)
			if err != nil {
				return err
			}
			log.Infof("wrote %s", path)
		}
		if b.out != "" {
			if err := b.write(reports); err != nil {
				return err
			}
		}
		summarize(cmd.OutOrStdout(), reports)
		return nil
	},
}

// classFiles expands directories into the .class files below them.
func classFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".class") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

type batch struct {
	profile *profile.Profile
	names   []string
	out     string
	graph   bool
	listing bool

	sites [][]passes.Site
}

func (b *batch) usesUsage() bool {
	names := b.names
	if len(names) == 0 {
		names = b.profile.Instrument.Passes
	}
	return slices.Contains(names, "usage")
}

// run instruments every file, jobs classes at a time, and returns the
// first failure.
func (b *batch) run(files []string, jobs int) ([]output.ClassReport, error) {
	reports := make([]output.ClassReport, len(files))
	b.sites = make([][]passes.Site, len(files))

	var g errgroup.Group
	g.SetLimit(max(jobs, 1))
	for i, path := range files {
		g.Go(func() error {
			r, sites, err := b.class(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			reports[i] = r
			b.sites[i] = sites
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The sidecar itself is never instrumented.
	out := reports[:0]
	for _, r := range reports {
		if r.Class != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *batch) class(path string) (output.ClassReport, []passes.Site, error) {
	r := output.ClassReport{Path: path}
	c, sizeIn, err := readClass(path)
	if err != nil {
		return r, nil, err
	}
	if c.This == b.profile.Usage.Sidecar {
		log.WithField("class", c.This).Debug("skipping sidecar")
		return output.ClassReport{}, nil, nil
	}

	ps, err := b.profile.Passes(b.names...)
	if err != nil {
		return r, nil, err
	}
	rep, err := passes.Run(c, b.profile.Options(), ps...)
	if err != nil {
		return r, nil, err
	}
	r.Class = c.This
	r.SizeIn = sizeIn
	r.Sites = len(rep.Sites)
	r.Diags = rep.Diags.Items()
	for _, p := range ps {
		r.Passes = append(r.Passes, p.Name())
	}
	for _, k := range rep.Rewritten {
		r.Rewritten = append(r.Rewritten, k.String())
	}
	for _, d := range r.Diags {
		log.WithField("class", c.This).Warn(d.String())
	}

	if len(rep.Rewritten) > 0 {
		if r.SizeOut, err = writeClass(path, c); err != nil {
			return r, nil, err
		}
	} else {
		r.SizeOut = sizeIn
	}

	if b.graph {
		if _, _, err := writeGraphs(filepath.Join(b.out, "graph", filepath.FromSlash(c.This)), c); err != nil {
			return r, nil, err
		}
	}
	if b.listing {
		for _, k := range rep.Rewritten {
			m := c.Method(k.Name, k.Desc)
			s, err := bytecode.Decode(c, m)
			if err != nil {
				return r, nil, err
			}
			if err := output.WriteListing(b.out, c.This+"/"+fileNamer.Replace(k.String()), s, c.Pool, bytecode.FrameAnnotator(s)); err != nil {
				return r, nil, err
			}
		}
	}
	return r, rep.Sites, nil
}

func (b *batch) write(reports []output.ClassReport) error {
	if err := os.MkdirAll(b.out, 0755); err != nil {
		return err
	}
	if err := output.WriteReportJSON(b.out, reports); err != nil {
		return err
	}
	var sites []passes.Site
	for _, s := range b.sites {
		sites = append(sites, s...)
	}
	return output.WriteSitesJSONL(b.out, sites)
}

func summarize(w io.Writer, reports []output.ClassReport) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	var methods, sites, diags, in, out int
	for _, r := range reports {
		methods += len(r.Rewritten)
		sites += r.Sites
		diags += len(r.Diags)
		in += r.SizeIn
		out += r.SizeOut
	}
	fmt.Fprintf(w, "%s %d classes, %d methods, %d sites (%s -> %s)\n",
		ok("instrumented"), len(reports), methods, sites,
		humanize.Bytes(uint64(in)), humanize.Bytes(uint64(out)))
	if diags > 0 {
		fmt.Fprintf(w, "%s %d diagnostics\n", warn("warning:"), diags)
	}
}
