package config

import (
	"flag"
	"io"
)

// CLIFlags holds command-line overrides. Nil fields were not set on
// the command line and leave the loaded config untouched.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	DSN        *string
	NatsURL    *string
	LogLevel   *string

	// One-shot maintenance commands. When set the binary performs the
	// migration action and exits instead of starting the server.
	MigrateDown   *int
	MigrateStatus bool
}

// Maintenance reports whether the flags request a one-shot migration command.
func (f CLIFlags) Maintenance() bool {
	return f.MigrateDown != nil || f.MigrateStatus
}

// ParseFlags parses command-line arguments into CLIFlags.
// Flags not present on the command line stay nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("stagesync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP listen port")
	fs.StringVar(port, "p", "", "HTTP listen port (shorthand)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")
	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	migrateDown := fs.Int("migrate-down", 0, "roll back N migrations and exit")
	migrateStatus := fs.Bool("migrate-status", false, "print migration version and exit")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var flags CLIFlags
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	if *port != "" {
		flags.Port = port
	}
	if *dsn != "" {
		flags.DSN = dsn
	}
	if *natsURL != "" {
		flags.NatsURL = natsURL
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *migrateDown > 0 {
		flags.MigrateDown = migrateDown
	}
	flags.MigrateStatus = *migrateStatus
	return flags, nil
}

// LoadWithCLI loads configuration using the hierarchy:
// defaults < YAML < ENV < CLI flags. Returns the resolved YAML path.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		return nil, "", err
	}

	applyCLI(cfg, flags)

	if err := validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, yamlPath, nil
}

// applyCLI overlays non-nil CLI flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
}
