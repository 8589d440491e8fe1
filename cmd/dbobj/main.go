// Command dbobj runs row-object operations against tables declared in a YAML
// configuration file.
//
//	dbobj --config dbobj.yaml count users
//	dbobj --config dbobj.yaml get users 42
//	dbobj --config dbobj.yaml find users email ada@example.com
//	dbobj --config dbobj.yaml dump users "team_id = 3"
//	dbobj --config dbobj.yaml relation users 42 team_id
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"github.com/go-mizu/dbobj"
	"github.com/go-mizu/dbobj/internal/config"
	"github.com/go-mizu/dbobj/internal/dynamic"
	"github.com/go-mizu/dbobj/internal/logging"
)

var errUsage = errors.New("usage: dbobj [flags] count|get|find|dump|relation <table> [args]")

func main() {
	flags := pflag.NewFlagSet("dbobj", pflag.ExitOnError)
	cfgPath := flags.StringP("config", "c", "dbobj.yaml", "configuration file")
	flags.String("driver", "", "database/sql driver name (mysql, postgres)")
	flags.String("dsn", "", "data source name")
	flags.String("log-level", "", "debug, info, warn or error")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *cfgPath, flags, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dbobj:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, flags *pflag.FlagSet, out io.Writer) error {
	cfg, err := config.Load(cfgPath, flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, closeLog := logging.Setup(os.Stderr, level, cfg.Log.SeqURL)
	defer closeLog()
	slog.SetDefault(logger)

	sqlDB, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	ph, _ := cfg.Placeholder()
	conn := dbobj.NewSQLConnector(sqlDB, ph, dbobj.WithConnectorLogger(logger))
	defer func() { _ = conn.Close() }()
	db := dbobj.New(conn, dbobj.WithLogger(logger))

	ctors, err := dynamic.Register(db, cfg.Tables)
	if err != nil {
		return err
	}
	return dispatch(ctx, db, ctors, flags.Args(), out)
}

func dispatch(ctx context.Context, db *dbobj.DB, ctors map[string]dynamic.Constructor, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}
	cmd, table, rest := args[0], args[1], args[2:]
	ctor, ok := ctors[table]
	if !ok {
		return fmt.Errorf("table %q is not declared in the configuration", table)
	}
	repo := dbobj.NewRepository(db, ctor)
	enc := json.NewEncoder(out)

	switch cmd {
	case "count":
		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, n)
		return err

	case "get":
		if len(rest) != 1 {
			return errUsage
		}
		rec, ok, err := repo.FindByUniqueID(ctx, rest[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s: not found", table, rest[0])
		}
		return enc.Encode(printable(rec))

	case "find":
		if len(rest) != 2 {
			return errUsage
		}
		rec, ok, err := repo.FindByColumn(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s=%s: not found", table, rest[0], rest[1])
		}
		return enc.Encode(printable(rec))

	case "dump":
		where := ""
		if len(rest) > 0 {
			where = rest[0]
		}
		return repo.Each(ctx, where, nil, func(rec *dynamic.Record) error {
			return enc.Encode(printable(rec))
		})

	case "relation":
		if len(rest) != 2 {
			return errUsage
		}
		rec, ok, err := repo.FindByUniqueID(ctx, rest[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s: not found", table, rest[0])
		}
		target, ok, err := rec.Relation(ctx, rest[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s: relation %s not found", table, rest[0], rest[1])
		}
		return enc.Encode(printable(target))
	}
	return errUsage
}

// printable snapshots the readable columns, turning text bytes into strings.
func printable(m dbobj.Model) map[string]any {
	t := m.Row()
	out := make(map[string]any)
	for _, name := range t.Columns() {
		v, ok := t.Get(name)
		if !ok {
			continue
		}
		if b, isBytes := v.([]byte); isBytes {
			v = string(b)
		}
		out[name] = v
	}
	return out
}
