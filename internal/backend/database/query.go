package database

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// statement is a query with its bound arguments.
type statement struct {
	query string
	args  []any
}

// argList numbers placeholders across all clauses of one statement.
type argList struct {
	d    dialect
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return a.d.placeholder(len(a.args))
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildCreateTable(d dialect, schema Schema) (string, error) {
	if err := ValidateIdentifier(schema.Table); err != nil {
		return "", err
	}
	defs := []string{quoteIdentifier(ColumnID) + " " + d.primaryKey()}
	for _, c := range schema.Columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return "", err
		}
		def := quoteIdentifier(c.Name) + " " + d.columnType(c.Type)
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Default != "" {
			if _, err := strconv.ParseFloat(c.Default, 64); err != nil {
				return "", fmt.Errorf("column %s has non-numeric default %q", c.Name, c.Default)
			}
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdentifier(schema.Table), strings.Join(defs, ",\n\t")), nil
}

func buildInsert(d dialect, table string, fields Fields) (statement, error) {
	if err := ValidateIdentifier(table); err != nil {
		return statement{}, err
	}
	if len(fields) == 0 {
		return statement{}, fmt.Errorf("insert into %s without fields", table)
	}
	args := &argList{d: d}
	columns := make([]string, 0, len(fields))
	values := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		if err := ValidateIdentifier(k); err != nil {
			return statement{}, err
		}
		columns = append(columns, quoteIdentifier(k))
		values = append(values, args.add(fields[k]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdentifier(table), strings.Join(columns, ", "), strings.Join(values, ", "))
	if d.returningID() {
		query += " RETURNING " + quoteIdentifier(ColumnID)
	}
	return statement{query: query, args: args.args}, nil
}

func buildUpdate(d dialect, table string, fields Fields, id int64) (statement, error) {
	if err := ValidateIdentifier(table); err != nil {
		return statement{}, err
	}
	if len(fields) == 0 {
		return statement{}, fmt.Errorf("update of %s without fields", table)
	}
	args := &argList{d: d}
	sets := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		if err := ValidateIdentifier(k); err != nil {
			return statement{}, err
		}
		if k == ColumnID {
			return statement{}, fmt.Errorf("column %s cannot be updated", ColumnID)
		}
		sets = append(sets, quoteIdentifier(k)+" = "+args.add(fields[k]))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", quoteIdentifier(table), strings.Join(sets, ", "), quoteIdentifier(ColumnID), args.add(id))
	return statement{query: query, args: args.args}, nil
}

func buildWhere(args *argList, where Where) (string, error) {
	if len(where) == 0 {
		return "", nil
	}
	conditions := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		if err := ValidateIdentifier(k); err != nil {
			return "", err
		}
		if where[k] == nil {
			conditions = append(conditions, quoteIdentifier(k)+" IS NULL")
			continue
		}
		conditions = append(conditions, quoteIdentifier(k)+" = "+args.add(where[k]))
	}
	return " WHERE " + strings.Join(conditions, " AND "), nil
}

func buildSelect(d dialect, table string, where Where, order []Order, limit int) (statement, error) {
	if err := ValidateIdentifier(table); err != nil {
		return statement{}, err
	}
	args := &argList{d: d}
	clause, err := buildWhere(args, where)
	if err != nil {
		return statement{}, err
	}
	query := "SELECT * FROM " + quoteIdentifier(table) + clause
	if len(order) > 0 {
		parts := make([]string, 0, len(order))
		for _, o := range order {
			if err := ValidateIdentifier(o.Column); err != nil {
				return statement{}, err
			}
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			parts = append(parts, quoteIdentifier(o.Column)+" "+dir)
		}
		query += " ORDER BY " + strings.Join(parts, ", ")
	}
	if limit > 0 {
		query += " LIMIT " + args.add(limit)
	}
	return statement{query: query, args: args.args}, nil
}

func buildCount(d dialect, table string, where Where) (statement, error) {
	if err := ValidateIdentifier(table); err != nil {
		return statement{}, err
	}
	args := &argList{d: d}
	clause, err := buildWhere(args, where)
	if err != nil {
		return statement{}, err
	}
	return statement{query: "SELECT COUNT(*) FROM " + quoteIdentifier(table) + clause, args: args.args}, nil
}

func buildDelete(d dialect, table string, where Where) (statement, error) {
	if err := ValidateIdentifier(table); err != nil {
		return statement{}, err
	}
	if len(where) == 0 {
		return statement{}, fmt.Errorf("delete from %s without conditions", table)
	}
	args := &argList{d: d}
	clause, err := buildWhere(args, where)
	if err != nil {
		return statement{}, err
	}
	return statement{query: "DELETE FROM " + quoteIdentifier(table) + clause, args: args.args}, nil
}
