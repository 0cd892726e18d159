package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pipelined.dev/graph/config"
)

var (
	successExitCode = 0
	errorExitCode   = 1
)

// app holds state shared by commands.
type app struct {
	viper   *viper.Viper
	cfgFile string
	config  *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{viper: config.New()}
	root := &cobra.Command{
		Use:           "graphplay",
		Short:         "Graphplay plays audio files through a filter graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Bind(a.viper, cmd.Flags(), flagKeys); err != nil {
				return err
			}
			c, err := config.Load(a.viper, a.cfgFile)
			if err != nil {
				return err
			}
			a.config = c
			return c.Apply()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	root.PersistentFlags().String("loglevel", "info", "log level")
	root.AddCommand(newPlayCommand(a), newProbeCommand())
	return root
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"loglevel": "loglevel",
	"device":   "device",
	"volume":   "render.volume",
	"balance":  "render.balance",
	"realtime": "render.realtime",
	"buffers":  "pool.buffers",
	"size":     "pool.size",
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
		os.Exit(errorExitCode)
	}
	os.Exit(successExitCode)
}
