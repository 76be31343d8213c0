package main

import (
	"github.com/spf13/cobra"

	"github.com/edumarques81/yoganc/internal/config"
)

type rootFlags struct {
	configPath string
	debug      bool
	listen     string
	dbPath     string
	class      string
	mpdHost    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "yoganc",
		Short: "Companion daemon for the YogaSMC service",
		Long: `yoganc connects to the YogaSMC privileged service, restores fan and
performance settings, forwards hotkey events to the menu client and
persists user settings across sessions.

Running yoganc without a subcommand starts the daemon.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			setupLogging(opts.Debug)
			return runDaemon(opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", config.DefaultOptionsPath(), "Options file")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&flags.dbPath, "db", "", "Settings database path")

	f := root.Flags()
	f.StringVar(&flags.listen, "listen", "", "HTTP listen address")
	f.StringVar(&flags.class, "class", "", "Service class filter")
	f.StringVar(&flags.mpdHost, "mpd-host", "", "MPD host for volume changes")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigCmd(flags))

	return root
}

// options loads the options file and applies flags set on the command line.
func (f *rootFlags) options(cmd *cobra.Command) (config.Options, error) {
	opts, err := config.LoadOptions(f.configPath)
	if err != nil {
		return opts, err
	}

	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("debug") {
		opts.Debug = f.debug
	}
	if changed("db") {
		opts.DBPath = f.dbPath
	}
	if changed("listen") {
		opts.Listen = f.listen
	}
	if changed("class") {
		opts.ClassFilter = f.class
	}
	if changed("mpd-host") {
		opts.MPDHost = f.mpdHost
	}
	return opts, opts.Validate()
}
