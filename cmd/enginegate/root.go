package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"enginegate/internal/config"
)

// options collects flags shared by serve and check-config.
type options struct {
	configPath  string
	envFile     string
	addr        string
	logLevel    string
	logFormat   string
	corsOrigins string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "enginegate",
		Short:         "Routing and lifecycle gateway for vLLM, TGI and TensorRT engines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .json, .toml); defaults to $"+config.EnvConfig)
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment; missing files are ignored")

	serve := &cobra.Command{
		Use:     "serve",
		Short:   "Load configured backends and serve the HTTP API",
		Example: "  enginegate serve --config enginegate.yaml\n  enginegate serve -c enginegate.toml --addr :9090 --log-format console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			return serve(cmd.Context(), cfg, log)
		},
	}
	serve.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. :8080 (overrides config and $"+config.EnvAddr+")")
	serve.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error|off")
	serve.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: json|console")
	serve.Flags().StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated CORS origins; enables CORS when set")

	check := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and list its backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			printBackends(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "enginegate", version)
		},
	}

	root.AddCommand(serve, check, ver)
	return root
}

// loadConfig resolves the config file, applies env and flag overrides, then
// defaults, and validates the result. Without a file the gateway starts
// empty and backends are added over the API.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("env file %s: %w", opts.envFile, err)
		}
	}
	path := opts.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	var cfg config.Config
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = opts.addr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if origins := splitCSV(opts.corsOrigins); len(origins) > 0 {
		cfg.HTTP.CORS.Enabled = true
		cfg.HTTP.CORS.AllowedOrigins = origins
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLogger builds the root logger. Unknown levels fall back to info.
func newLogger(level, format string, w io.Writer) zerolog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "off":
		lvl = zerolog.Disabled
	case "":
	default:
		if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			lvl = l
		}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func printBackends(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "config ok: %d backend(s), listening on %s\n", len(cfg.Backends), cfg.Addr)
	if len(cfg.Backends) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENGINE\tMODEL\tREGION\tCHIP\tMODE")
	for _, b := range cfg.Backends {
		mode := "spawn"
		if b.BaseURL != "" {
			mode = "attach " + b.BaseURL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.Engine, b.Model, b.Region, b.ChipType, mode)
	}
	_ = tw.Flush()
}

// splitCSV splits a comma-separated list, trimming blanks and dropping
// empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
