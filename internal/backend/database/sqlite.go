package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLDatabase implements DatabaseService on top of database/sql.
type SQLDatabase struct {
	db               *sql.DB
	connectionString string
	dialect          dialect
	schema           Schema
}

func NewSQLiteDatabase(connectionString string, schema Schema) (*SQLDatabase, error) {
	db, err := sql.Open(sqliteDialect{}.driverName(), connectionString)
	if err != nil {
		return nil, err
	}
	// every connection to ":memory:" is a separate database, and sqlite
	// serialises writers anyway
	db.SetMaxOpenConns(1)

	return &SQLDatabase{
		db:               db,
		connectionString: connectionString,
		dialect:          sqliteDialect{},
		schema:           schema,
	}, nil
}

func (s *SQLDatabase) CreateDatabase(ctx context.Context) (*sql.DB, error) {
	query, err := buildCreateTable(s.dialect, s.schema)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, err
	}
	return s.db, nil
}

func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLDatabase) Insert(ctx context.Context, table string, fields Fields) (int64, error) {
	stmt, err := buildInsert(s.dialect, table, fields)
	if err != nil {
		return 0, err
	}
	slog.Debug("database: insert", "table", table, "columns", len(fields))

	if s.dialect.returningID() {
		var id int64
		if err := s.db.QueryRowContext(ctx, stmt.query, stmt.args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := s.db.ExecContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLDatabase) Update(ctx context.Context, table string, fields Fields, id int64) (bool, error) {
	stmt, err := buildUpdate(s.dialect, table, fields, id)
	if err != nil {
		return false, err
	}
	slog.Debug("database: update", "table", table, "id", id, "columns", len(fields))

	result, err := s.db.ExecContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLDatabase) Select(ctx context.Context, table string, where Where) (Row, error) {
	rows, err := s.SelectAll(ctx, table, where, nil, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

func (s *SQLDatabase) SelectAll(ctx context.Context, table string, where Where, order []Order, limit int) ([]Row, error) {
	stmt, err := buildSelect(s.dialect, table, where, order, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	return scanRows(rows)
}

func (s *SQLDatabase) Count(ctx context.Context, table string, where Where) (int, error) {
	stmt, err := buildCount(s.dialect, table, where)
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, stmt.query, stmt.args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLDatabase) Delete(ctx context.Context, table string, where Where) (bool, error) {
	stmt, err := buildDelete(s.dialect, table, where)
	if err != nil {
		return false, err
	}
	slog.Debug("database: delete", "table", table)

	result, err := s.db.ExecContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			// text may arrive as raw bytes depending on the driver
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
				continue
			}
			row[column] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// IsNoRows reports whether err means that nothing matched.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
