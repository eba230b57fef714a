package database

import (
	"fmt"
	"regexp"
	"strings"
)

// Logical column types, mapped to SQL types by each dialect.
const (
	TypeText      = "text"
	TypeInteger   = "integer"
	TypeReal      = "real"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
)

// Core testimonial columns.
const (
	ColumnID          = "id"
	ColumnName        = "name"
	ColumnTestimonial = "testimonial"
	ColumnHeading     = "heading"
	ColumnImage       = "image"
	ColumnWidth       = "width"
	ColumnHeight      = "height"
	ColumnApproved    = "approved"
	ColumnSubmitted   = "submitted"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column describes one column of a table.
type Column struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	NotNull bool   `yaml:"notNull"`
	Default string `yaml:"-"`
}

// Schema is the table definition created by CreateDatabase.
// The first column is always the generated primary key "id".
type Schema struct {
	Table   string
	Columns []Column
}

// NewTestimonialSchema returns the testimonial table with the core columns
// followed by any deployment specific columns.
func NewTestimonialSchema(table string, additional []Column) (Schema, error) {
	if err := ValidateIdentifier(table); err != nil {
		return Schema{}, fmt.Errorf("invalid table name: %w", err)
	}

	columns := []Column{
		{Name: ColumnName, Type: TypeText, NotNull: true},
		{Name: ColumnTestimonial, Type: TypeText, NotNull: true},
		{Name: ColumnHeading, Type: TypeText},
		{Name: ColumnImage, Type: TypeText},
		{Name: ColumnWidth, Type: TypeInteger, NotNull: true, Default: "0"},
		{Name: ColumnHeight, Type: TypeInteger, NotNull: true, Default: "0"},
		{Name: ColumnApproved, Type: TypeInteger, NotNull: true, Default: "0"},
		{Name: ColumnSubmitted, Type: TypeTimestamp, NotNull: true},
	}

	seen := map[string]bool{ColumnID: true}
	for _, c := range columns {
		seen[c.Name] = true
	}
	for i, c := range additional {
		if err := ValidateIdentifier(c.Name); err != nil {
			return Schema{}, fmt.Errorf("additional column at index %d: %w", i, err)
		}
		name := strings.ToLower(c.Name)
		if seen[name] {
			return Schema{}, fmt.Errorf("duplicate column name: %s", c.Name)
		}
		seen[name] = true
		if c.Type == "" {
			c.Type = TypeText
		}
		if !isKnownType(c.Type) {
			return Schema{}, fmt.Errorf("column %s has unsupported type %q", c.Name, c.Type)
		}
		// deployment columns are always optional so inserts without them succeed
		c.NotNull = false
		c.Default = ""
		c.Name = name
		columns = append(columns, c)
	}

	return Schema{Table: table, Columns: columns}, nil
}

// HasColumn reports whether the schema contains the column, including "id".
func (s Schema) HasColumn(name string) bool {
	if name == ColumnID {
		return true
	}
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnNames lists all columns including "id".
func (s Schema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns)+1)
	names = append(names, ColumnID)
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	return names
}

// ValidateIdentifier rejects anything that could not be safely quoted as a
// table or column name.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func isKnownType(t string) bool {
	switch t {
	case TypeText, TypeInteger, TypeReal, TypeBoolean, TypeTimestamp:
		return true
	}
	return false
}
