package database

import (
	"database/sql"

	_ "github.com/lib/pq"
)

func NewPostgresDatabase(connectionString string, schema Schema) (*SQLDatabase, error) {
	db, err := sql.Open(postgresDialect{}.driverName(), connectionString)
	if err != nil {
		return nil, err
	}

	return &SQLDatabase{
		db:               db,
		connectionString: connectionString,
		dialect:          postgresDialect{},
		schema:           schema,
	}, nil
}
