// Package cli defines the easm command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go-easm/config"
	"go-easm/database"
	"go-easm/nuclei"
	"go-easm/orchestrator"
)

// Version is set at build time.
var Version = "0.1.0"

// env carries the loaded settings shared by the subcommands.
type env struct {
	file  string
	binds []binding
	v     *viper.Viper
	cfg   *config.Config
}

// binding maps a command line flag onto a config key.
type binding struct {
	key  string
	flag string
}

// bind registers flag of cmd as the command line source of key.
func (e *env) bind(key, flag string) {
	e.binds = append(e.binds, binding{key: key, flag: flag})
}

// NewRootCmd returns the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	e := &env{}
	e.bind("log.level", "log-level")
	e.bind("database.path", "db")

	root := &cobra.Command{
		Use:           "easm",
		Short:         "External attack surface scanning service",
		Long:          "easm runs nuclei scans against managed assets, deduplicates the findings into vulnerabilities and tracks their triage.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&e.file, "config", "c", "", "Config file (YAML)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("db", "", "SQLite database path")

	root.AddCommand(newServeCmd(e))
	root.AddCommand(newScanCmd(e))
	root.AddCommand(newTemplatesCmd(e))
	root.AddCommand(newNucleiCmd(e))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) load(cmd *cobra.Command) error {
	v, err := config.New(e.file)
	if err != nil {
		return err
	}
	for _, b := range e.binds {
		if f := cmd.Flags().Lookup(b.flag); f != nil {
			if err := v.BindPFlag(b.key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := config.ConfigureLogging(cfg.Log); err != nil {
		return err
	}
	e.v, e.cfg = v, cfg
	return nil
}

func (e *env) scanner() *nuclei.Scanner {
	return nuclei.NewScanner(e.cfg.Nuclei.Path, e.cfg.Nuclei.TemplatesPath, nil)
}

func (e *env) openDB() (*database.DB, error) {
	return database.New(e.cfg.Database.Path)
}

func (e *env) service(db *database.DB, scanner orchestrator.Scanner, opts ...orchestrator.Option) *orchestrator.Service {
	opts = append([]orchestrator.Option{orchestrator.WithDefaults(e.cfg.ScanDefaults())}, opts...)
	return orchestrator.New(db, scanner, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
