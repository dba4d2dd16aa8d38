package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type tickRow struct {
	Tick       int64 `json:"tick"`
	DurationUS int64 `json:"duration_us"`
	Viewers    int   `json:"viewers"`
	Entities   int   `json:"entities"`
	Admitted   int   `json:"admitted"`
	Removed    int   `json:"removed"`
	Evicted    int   `json:"evicted"`
	Events     int   `json:"events"`
}

type eventRow struct {
	Tick     int64  `json:"tick"`
	Seq      int    `json:"seq"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	EntityID int    `json:"entity_id"`
	Viewer   int    `json:"viewer"`
	Priority int    `json:"priority,omitempty"`
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	viewer := fs.Int("viewer", 0, "viewer id (viewer query)")
	name := fs.String("name", "", "event name filter (events query)")
	_ = fs.Parse(args)

	q := "ticks"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "stream.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, q, *limit, *viewer, *name, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, q string, limit, viewer int, name string, emit func(any)) error {
	switch q {
	case "ticks":
		rows, err := db.Query(`SELECT tick,duration_us,viewers,entities,admitted,removed,evicted,events FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r tickRow
			if err := rows.Scan(&r.Tick, &r.DurationUS, &r.Viewers, &r.Entities, &r.Admitted, &r.Removed, &r.Evicted, &r.Events); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "events", "viewer":
		query := `SELECT tick,seq,name,kind,entity_id,viewer,priority FROM events`
		var where []string
		var params []any
		if q == "viewer" {
			where = append(where, "viewer=?")
			params = append(params, viewer)
		}
		if name != "" {
			where = append(where, "name=?")
			params = append(params, name)
		}
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY tick DESC, seq DESC LIMIT ?"
		params = append(params, limit)

		rows, err := db.Query(query, params...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r eventRow
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Name, &r.Kind, &r.EntityID, &r.Viewer, &r.Priority); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "tuning":
		var r struct {
			Digest    string `json:"digest"`
			UpdatedAt string `json:"updated_at"`
			JSON      string `json:"json"`
		}
		row := db.QueryRow(`SELECT digest,updated_at,json FROM configs WHERE name='tuning'`)
		if err := row.Scan(&r.Digest, &r.UpdatedAt, &r.JSON); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		emit(r)
		return nil
	}
	return fmt.Errorf("unknown query %q (want ticks, events, viewer, tuning)", q)
}
