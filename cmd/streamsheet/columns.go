package main

import (
	"fmt"
	"strings"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
)

type column struct {
	name string
	typ  models.CellType
}

// parseColumns parses "name[:type]" specs. Columns without a type are text.
func parseColumns(specs []string) ([]column, error) {
	cols := make([]column, 0, len(specs))
	for _, spec := range specs {
		name, typ, found := strings.Cut(spec, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid column %q: empty name", spec)
		}
		c := column{name: name, typ: models.TypeText}
		if found {
			t, err := models.ParseCellType(typ)
			if err != nil {
				return nil, fmt.Errorf("invalid column %q: %w", spec, err)
			}
			c.typ = t
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// inferType maps a database type name to a cell type.
func inferType(dbType string) models.CellType {
	t := strings.ToUpper(dbType)
	switch {
	case t == "":
		return models.TypeText
	case strings.Contains(t, "BOOL"):
		return models.TypeBoolean
	case strings.Contains(t, "INT"), strings.Contains(t, "DEC"), strings.Contains(t, "NUMERIC"),
		strings.Contains(t, "REAL"), strings.Contains(t, "FLOAT"), strings.Contains(t, "DOUBLE"):
		return models.TypeNumber
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return models.TypeDate
	}
	return models.TypeText
}

// mapSchema builds a schema over records keyed by column name.
func mapSchema(sheet string, cols []column) (*schema.Schema[map[string]any], error) {
	b := schema.New[map[string]any](sheet)
	for _, c := range cols {
		name := c.name
		b.Field(name, c.typ, func(m map[string]any) (any, error) { return m[name], nil })
	}
	return b.Build()
}

// override replaces the types of cols named in overrides.
func override(cols, overrides []column) ([]column, error) {
	for _, o := range overrides {
		found := false
		for i := range cols {
			if cols[i].name == o.name {
				cols[i].typ = o.typ
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("column %q is not in the result set", o.name)
		}
	}
	return cols, nil
}
