package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/flow"
	"jvminstr/internal/output"
)

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringP("method", "m", "", "only dump methods with this name")
	dumpCmd.Flags().Bool("frames", false, "annotate instructions with stack map frames")
	dumpCmd.Flags().StringP("out", "o", "", "also write listing/<class>/<method>.txt files here")
}

var dumpCmd = &cobra.Command{
	Use:   "dump <Name.class>",
	Short: "Disassemble the methods of a class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		only, _ := cmd.Flags().GetString("method")
		frames, _ := cmd.Flags().GetBool("frames")
		outDir, _ := cmd.Flags().GetString("out")

		path, err := locate(viper.GetString("classpath"), args[0])
		if err != nil {
			return err
		}
		c, size, err := readClass(path)
		if err != nil {
			return err
		}
		return dump(cmd.OutOrStdout(), c, size, only, frames, outDir)
	},
}

var (
	headerColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
	commentColor = color.New(color.Faint).SprintFunc()
	addedColor   = color.New(color.FgGreen).SprintFunc()
)

func dump(w io.Writer, c *classfile.Class, size int, only string, frames bool, outDir string) error {
	fmt.Fprintf(w, "%s extends %s  (version %d.%d, %d bytes)\n",
		headerColor("class "+c.This), c.Super, c.Major, c.Minor, size)

	for _, m := range c.Methods {
		if m.Code == nil || (only != "" && m.Name != only) {
			continue
		}
		s, err := bytecode.Decode(c, m)
		if err != nil {
			return err
		}
		anns := []bytecode.Annotator{unreachableAnnotator(m.Name, s)}
		if frames {
			anns = append(anns, bytecode.FrameAnnotator(s))
		}

		fmt.Fprintf(w, "\n%s  stack=%d locals=%d code=%d\n",
			headerColor(m.Key().String()), m.Code.MaxStack, m.Code.MaxLocals, len(m.Code.Bytecode))
		for _, line := range strings.Split(strings.TrimSuffix(bytecode.Format(s, c.Pool, anns...), "\n"), "\n") {
			fmt.Fprintln(w, colorLine(line))
		}
		for _, h := range s.Handlers {
			catch := "any"
			if h.CatchType != 0 {
				if catch, err = c.Pool.ClassName(h.CatchType); err != nil {
					return err
				}
			}
			end := len(m.Code.Bytecode)
			if h.End != nil {
				end = h.End.Offset
			}
			fmt.Fprintln(w, commentColor(fmt.Sprintf("  handler [%d, %d) -> %d %s",
				h.Start.Offset, end, h.Handler.Offset, catch)))
		}

		if outDir != "" {
			if err := output.WriteListing(outDir, c.This+"/"+fileNamer.Replace(m.Key().String()), s, c.Pool, anns...); err != nil {
				return err
			}
		}
	}
	return nil
}

// unreachableAnnotator marks the first instruction of every block no path
// from the entry reaches.
func unreachableAnnotator(name string, s *bytecode.Stream) bytecode.Annotator {
	g := flow.BuildCFG(name, s)
	live := g.Reachable()
	return func(n *bytecode.Node) string {
		if id := g.BlockOf(n); id < 0 || live[id] {
			return ""
		}
		return "unreachable"
	}
}

func colorLine(line string) string {
	if i := strings.Index(line, "  ; "); i >= 0 {
		line = line[:i] + commentColor(line[i:])
	}
	if len(line) > 2 && line[2] == '+' {
		return addedColor(line)
	}
	return line
}
