package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Verbose switches logging to debug level.
var Verbose bool

// errUsage makes Execute print the usage line and exit 1.
var errUsage = errors.New("usage")

var rootCmd = &cobra.Command{
	Use:   "jvminstr",
	Short: "Instrument JVM class files",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return errUsage
	},
}

func main() {
	os.Exit(Execute())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	cmd, err := rootCmd.ExecuteC()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage) && cmd == rootCmd:
		fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
		return 1
	case errors.Is(err, errUsage):
		fmt.Fprintf(cmd.OutOrStdout(), "Usage: jvminstr %s <.class file>\n", cmd.Name())
		return 1
	default:
		log.Error(err.Error())
		return 1
	}
}

func init() {
	log.SetHandler(clihander.Default)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().String("classpath", ".", "class path used to resolve class names")
	rootCmd.PersistentFlags().String("profile", "", "instrumentation profile (default: nearest jvminstr.toml)")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("classpath", rootCmd.PersistentFlags().Lookup("classpath"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// initConfig reads ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("jvminstr")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}
