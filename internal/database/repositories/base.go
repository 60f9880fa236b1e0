// Package repositories holds one repository per persisted entity (C2): each
// wraps the shared *sql.DB connection and exposes row-scoped reads, bulk
// reads filtered by indexed columns, and write operations returning
// WriteResult.
package repositories

import (
	"database/sql"

	"github.com/rs/zerolog"
)

// BaseRepository provides the connection and logger every repository shares.
type BaseRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBase creates a new base repository.
func NewBase(db *sql.DB, log zerolog.Logger) *BaseRepository {
	return &BaseRepository{db: db, log: log}
}

// DB returns the database connection.
func (r *BaseRepository) DB() *sql.DB {
	return r.db
}

// WriteResult is the uniform shape a write operation returns (§4.2).
type WriteResult struct {
	LastInsertedID int64
	RowsChanged    int64
}

func writeResultFrom(res sql.Result) (WriteResult, error) {
	id, err := res.LastInsertId()
	if err != nil {
		id = 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{LastInsertedID: id, RowsChanged: n}, nil
}
