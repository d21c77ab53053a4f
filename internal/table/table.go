// Package table defines the columnar tabular value exchanged between the
// ingest, cleaning, analysis, and storage layers, together with its
// versioned binary payload encoding and CSV boundary format.
package table

import (
	"fmt"
	"time"
)

// Type identifies the declared type of a column.
type Type uint8

const (
	Int Type = iota + 1
	Float
	Bool
	String
	Time
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Time:
		return "time"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Column is a single named, typed column. Exactly one value slice is
// populated, matching Type. Null is parallel to the value slice and marks
// missing cells; the value at a null index is the type's zero value.
type Column struct {
	Name string
	Type Type

	Ints    []int64
	Floats  []float64
	Bools   []bool
	Strings []string
	Times   []time.Time

	Null []bool
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	switch c.Type {
	case Int:
		return len(c.Ints)
	case Float:
		return len(c.Floats)
	case Bool:
		return len(c.Bools)
	case String:
		return len(c.Strings)
	case Time:
		return len(c.Times)
	default:
		return 0
	}
}

// Table is an ordered collection of equally sized columns.
type Table struct {
	Columns []Column
}

// NumRows returns the row count; zero for a table with no columns.
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumCols returns the column count.
func (t *Table) NumCols() int {
	return len(t.Columns)
}

// Column returns the column with the given name, or false if absent.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Validate checks that every column has a known type, a null mask parallel
// to its values, and the same row count as the first column.
func (t *Table) Validate() error {
	rows := t.NumRows()
	for i := range t.Columns {
		c := &t.Columns[i]
		switch c.Type {
		case Int, Float, Bool, String, Time:
		default:
			return fmt.Errorf("column %q has unknown type %d", c.Name, c.Type)
		}
		if c.Len() != rows {
			return fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), rows)
		}
		if c.Null != nil && len(c.Null) != rows {
			return fmt.Errorf("column %q null mask has %d entries, expected %d", c.Name, len(c.Null), rows)
		}
	}
	return nil
}

// IsNull reports whether the cell at row is missing.
func (c *Column) IsNull(row int) bool {
	return c.Null != nil && c.Null[row]
}
