package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-mizu/dbobj"
)

type Config struct {
	Database struct {
		Driver       string `mapstructure:"driver"`
		DSN          string `mapstructure:"dsn"`
		Placeholder  string `mapstructure:"placeholder"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
	} `mapstructure:"database"`

	Log struct {
		Level  string `mapstructure:"level"`
		SeqURL string `mapstructure:"seq_url"`
	} `mapstructure:"log"`

	Tables []Table `mapstructure:"tables"`
}

// Table declares one table type for config-driven rows.
type Table struct {
	Name    string   `mapstructure:"name"`
	Columns []Column `mapstructure:"columns"`
}

type Column struct {
	Name           string   `mapstructure:"name"`
	Flags          []string `mapstructure:"flags"`
	Relation       string   `mapstructure:"relation"`
	RelationColumn string   `mapstructure:"relation_column"`
}

// FlagSet folds the flag names into a dbobj.Flag.
func (c Column) FlagSet() (dbobj.Flag, error) {
	var f dbobj.Flag
	for _, name := range c.Flags {
		bit, ok := dbobj.ParseFlag(name)
		if !ok {
			return 0, fmt.Errorf("column %s: unknown flag %q", c.Name, name)
		}
		f |= bit
	}
	return f, nil
}

// Placeholder resolves the configured placeholder style, falling back to the
// driver's default.
func (c *Config) Placeholder() (dbobj.Placeholder, error) {
	if c.Database.Placeholder == "" {
		return dbobj.PlaceholderFor(c.Database.Driver), nil
	}
	ph, ok := dbobj.ParsePlaceholder(c.Database.Placeholder)
	if !ok {
		return 0, fmt.Errorf("unknown placeholder style %q", c.Database.Placeholder)
	}
	return ph, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.Driver == "" {
		errs = append(errs, errors.New("database.driver is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if _, err := c.Placeholder(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool)
	for _, t := range c.Tables {
		if t.Name == "" {
			errs = append(errs, errors.New("table without name"))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("table %s declared twice", t.Name))
		}
		seen[t.Name] = true
		for _, col := range t.Columns {
			if _, err := col.FlagSet(); err != nil {
				errs = append(errs, fmt.Errorf("table %s: %w", t.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Find returns the declaration of table name.
func (c *Config) Find(name string) (Table, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Load reads the YAML file at path. Environment variables prefixed DBOBJ_
// (DBOBJ_DATABASE_DSN) and flags, when given, override file values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	// Every key needs a default for AutomaticEnv to see it during Unmarshal.
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.placeholder", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.seq_url", "")

	v.SetEnvPrefix("DBOBJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, flag := range map[string]string{
			"database.driver": "driver",
			"database.dsn":    "dsn",
			"log.level":       "log-level",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
