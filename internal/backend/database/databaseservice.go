package database

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoRows is returned by Select when no row matches.
var ErrNoRows = errors.New("no matching row")

// Row is a single record keyed by column name.
type Row map[string]any

// Fields are column values to write. Values are always bound as parameters.
type Fields map[string]any

// Where holds equality conditions joined with AND. A nil value matches NULL.
type Where map[string]any

// Order sorts a selection by a single column.
type Order struct {
	Column     string
	Descending bool
}

type DatabaseService interface {
	CreateDatabase(ctx context.Context) (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	// Insert writes a new row and returns the identifier assigned by the store.
	Insert(ctx context.Context, table string, fields Fields) (int64, error)
	// Update changes the row with the given id and reports whether it existed.
	Update(ctx context.Context, table string, fields Fields, id int64) (bool, error)
	Select(ctx context.Context, table string, where Where) (Row, error)
	// SelectAll returns all matching rows; a limit <= 0 means no limit.
	SelectAll(ctx context.Context, table string, where Where, order []Order, limit int) ([]Row, error)
	Count(ctx context.Context, table string, where Where) (int, error)
	// Delete removes the matching rows and reports whether any were removed.
	Delete(ctx context.Context, table string, where Where) (bool, error)
}
