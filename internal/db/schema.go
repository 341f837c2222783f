package db

import (
	"database/sql"
	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Open opens (and creates if needed) the sqlite database at path, ":memory:"
// gives a private in-memory database.
func Open(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// an in-memory database only lives as long as its connection
	database.SetMaxOpenConns(1)

	_, err = database.Exec("pragma foreign_keys = on")
	if err != nil {
		database.Close()
		return nil, err
	}
	_, err = database.Exec(Schema)
	if err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
