// Package config defines cinder's runtime configuration and how it is
// assembled from command-line flags, following the teacher's plain
// flag-parsed-struct convention (no viper/cobra config layer — the
// teacher itself takes configuration as constructor arguments, not
// through a config framework).
package config

import (
	"flag"
	"time"
)

// Config collects every tunable the server needs: listener, worker
// pool, idle timeout, static file root, log level, and the database
// connection the auth package's Verifier queries.
type Config struct {
	Port        int
	ThreadCount int
	TimeoutMS   int
	SrcDir      string
	LogLevel    string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPass     string
	DBName     string
	DBPoolSize int
}

// IdleTimeout converts TimeoutMS to a time.Duration for the reactor.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Default returns the configuration used when no flags are supplied.
func Default() Config {
	return Config{
		Port:        8080,
		ThreadCount: 8,
		TimeoutMS:   60_000,
		SrcDir:      "./resources",
		LogLevel:    "info",
		DBHost:      "127.0.0.1",
		DBPort:      3306,
		DBUser:      "root",
		DBPass:      "",
		DBName:      "webserver",
		DBPoolSize:  8,
	}
}

// Parse builds a Config from Default() overlaid with args (typically
// os.Args[1:]).
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("cinderd", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listening port")
	fs.IntVar(&cfg.ThreadCount, "threads", cfg.ThreadCount, "worker pool size")
	fs.IntVar(&cfg.TimeoutMS, "timeout-ms", cfg.TimeoutMS, "idle connection timeout in milliseconds")
	fs.StringVar(&cfg.SrcDir, "src-dir", cfg.SrcDir, "static file root")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|error")
	fs.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "MySQL host")
	fs.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "MySQL port")
	fs.StringVar(&cfg.DBUser, "db-user", cfg.DBUser, "MySQL user")
	fs.StringVar(&cfg.DBPass, "db-pass", cfg.DBPass, "MySQL password")
	fs.StringVar(&cfg.DBName, "db-name", cfg.DBName, "MySQL database name")
	fs.IntVar(&cfg.DBPoolSize, "db-pool-size", cfg.DBPoolSize, "database connection pool size")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
