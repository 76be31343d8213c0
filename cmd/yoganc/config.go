package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/edumarques81/yoganc/internal/config"
	"github.com/edumarques81/yoganc/internal/infra/store"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
)

const configCommandLong = `Inspect and edit the persisted settings while the daemon is stopped.

USAGE:
    yoganc config <subcommand>

SUBCOMMANDS:
    list             Show every setting
    get <key>        Show one setting
    set <key> <val>  Store a setting
    delete <key>     Remove a setting so the default applies

EXAMPLES:
    yoganc config set SaveFanLevel true
    yoganc config set FanLevel 3
    yoganc config delete FanLevel`

// settingsStore is the part of the settings database the config command uses.
type settingsStore interface {
	Get(key string) (vpc.Value, bool, error)
	Set(key string, v vpc.Value) error
	Delete(key string) error
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage persisted settings",
		Long:  configCommandLong,
	}

	// withStore opens the settings database for the duration of fn.
	withStore := func(cmd *cobra.Command, fn func(settingsStore) error) error {
		opts, err := flags.options(cmd)
		if err != nil {
			return err
		}
		setupLogging(opts.Debug)

		db := store.NewDB(opts.DBPath)
		if err := db.Open(); err != nil {
			return err
		}
		defer db.Close()
		return fn(db)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st settingsStore) error {
				return listSettings(cmd.OutOrStdout(), st)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Show one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st settingsStore) error {
				return getSetting(cmd.OutOrStdout(), st, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st settingsStore) error {
				return setSetting(st, args[0], args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a setting so the default applies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st settingsStore) error {
				return deleteSetting(st, args[0])
			})
		},
	})

	return cmd
}

func listSettings(w io.Writer, st settingsStore) error {
	for _, key := range config.Keys() {
		v, ok, err := st.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "%s = (default)\n", key)
			continue
		}
		fmt.Fprintf(w, "%s = %s\n", key, v)
	}
	return nil
}

func getSetting(w io.Writer, st settingsStore, key string) error {
	if !config.IsKnownKey(key) {
		return fmt.Errorf("%w: %s", config.ErrUnknownKey, key)
	}
	v, ok, err := st.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		_, err = fmt.Fprintln(w, "(default)")
		return err
	}
	_, err = fmt.Fprintln(w, v)
	return err
}

func setSetting(st settingsStore, key, text string) error {
	v, err := config.ParseValue(key, text)
	if err != nil {
		return err
	}
	return st.Set(key, v)
}

func deleteSetting(st settingsStore, key string) error {
	if !config.IsKnownKey(key) {
		return fmt.Errorf("%w: %s", config.ErrUnknownKey, key)
	}
	return st.Delete(key)
}
