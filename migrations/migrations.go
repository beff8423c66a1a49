// Package migrations embeds the schema migrations so the binary can
// bring a database up to date without shipping SQL files alongside it.
package migrations

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres/*.sql
var files embed.FS

// Up applies every *_up.sql migration in ascending order and returns
// the names applied.
func Up(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	return run(ctx, pool, "_up.sql", false)
}

// Down applies every *_down.sql migration in descending order.
func Down(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	return run(ctx, pool, "_down.sql", true)
}

func run(ctx context.Context, pool *pgxpool.Pool, suffix string, reverse bool) ([]string, error) {
	names, err := list(suffix)
	if err != nil {
		return nil, err
	}
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	var applied []string
	for _, name := range names {
		sql, err := files.ReadFile("postgres/" + name)
		if err != nil {
			return applied, err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func list(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(files, "postgres")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
