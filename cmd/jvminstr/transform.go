package main

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jvminstr/internal/passes"
)

func init() {
	rootCmd.AddCommand(passCmd("callresult", "Print every call and the value it returns"))
	rootCmd.AddCommand(passCmd("fieldread", "Describe primitive field reads and warn above a threshold"))
	rootCmd.AddCommand(passCmd("usage", "Count executed instructions per mnemonic"))
}

// passCmd builds the single-class command for one pass. The class file is
// rewritten in place.
func passCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <Name.class>",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			arg, err := classArg(args)
			if err != nil {
				return err
			}
			if err := transform(name, arg); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Cannot transform .class file! Reason: %v\n", err)
			}
			return nil
		},
	}
}

func transform(pass, arg string) error {
	path, err := locate(viper.GetString("classpath"), arg)
	if err != nil {
		return err
	}
	p, err := loadProfile(filepath.Dir(path))
	if err != nil {
		return err
	}
	ps, err := p.Passes(pass)
	if err != nil {
		return err
	}

	c, sizeIn, err := readClass(path)
	if err != nil {
		return err
	}
	rep, err := passes.Run(c, p.Options(), ps...)
	if err != nil {
		return err
	}
	for _, d := range rep.Diags.Items() {
		log.Warn(d.String())
	}
	sizeOut, err := writeClass(path, c)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"class":   c.This,
		"pass":    pass,
		"methods": len(rep.Rewritten),
		"sites":   len(rep.Sites),
		"size":    fmt.Sprintf("%s -> %s", humanize.Bytes(uint64(sizeIn)), humanize.Bytes(uint64(sizeOut))),
	}).Debug("transformed")
	return nil
}
