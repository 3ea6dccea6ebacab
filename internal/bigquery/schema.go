package bigquery

import (
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
)

// Table pairs a table name with the schema it is provisioned with.
type Table struct {
	Name   string
	Schema bigquery.Schema
}

// rowSchema infers the schema of a row struct. Plain fields are REQUIRED,
// bigquery.Null* fields are NULLABLE. The result is a copy the caller may modify.
func rowSchema(row interface{}) bigquery.Schema {
	inferred, err := bigquery.InferSchema(row)
	if err != nil {
		panic(fmt.Sprintf("bigquery: inferring schema of %T: %v", row, err))
	}
	schema := make(bigquery.Schema, 0, len(inferred))
	for _, f := range inferred {
		field := *f
		schema = append(schema, &field)
	}
	return schema
}

// MerchantsSchema is the schema of merchants_tb.
func MerchantsSchema() bigquery.Schema {
	return rowSchema(MerchantRow{})
}

// SalesStageSchema is the schema of walmart_sales_stage.
func SalesStageSchema() bigquery.Schema {
	return rowSchema(SaleStageRow{})
}

// SalesTargetSchema is the schema of walmart_sales_tgt.
func SalesTargetSchema() bigquery.Schema {
	return rowSchema(SaleTargetRow{})
}

// IngestionRunsSchema is the schema of the run audit table.
func IngestionRunsSchema() bigquery.Schema {
	return rowSchema(IngestionRunRow{})
}

// ColumnNames lists the schema's top-level column names in order.
func ColumnNames(schema bigquery.Schema) []string {
	names := make([]string, 0, len(schema))
	for _, f := range schema {
		names = append(names, f.Name)
	}
	return names
}

// MismatchKind classifies a schema difference.
type MismatchKind string

const (
	MismatchMissing    MismatchKind = "missing"
	MismatchUnexpected MismatchKind = "unexpected"
	MismatchType       MismatchKind = "type"
	MismatchMode       MismatchKind = "mode"
)

// Mismatch is a single difference between a declared and a live schema.
type Mismatch struct {
	Column string
	Kind   MismatchKind
	Want   string
	Got    string
}

func (m Mismatch) String() string {
	switch m.Kind {
	case MismatchMissing:
		return fmt.Sprintf("column %s is missing (want %s)", m.Column, m.Want)
	case MismatchUnexpected:
		return fmt.Sprintf("column %s is not declared (got %s)", m.Column, m.Got)
	default:
		return fmt.Sprintf("column %s %s mismatch: want %s, got %s", m.Column, m.Kind, m.Want, m.Got)
	}
}

// Diff compares a declared schema to a live one. Column names compare
// case-insensitively and legacy type aliases (INT64/INTEGER, FLOAT64/FLOAT)
// are treated as equal. The result follows declared order, then unexpected columns.
func Diff(declared, actual bigquery.Schema) []Mismatch {
	live := make(map[string]*bigquery.FieldSchema, len(actual))
	for _, f := range actual {
		live[strings.ToLower(f.Name)] = f
	}

	var out []Mismatch
	seen := make(map[string]bool, len(declared))
	for _, want := range declared {
		key := strings.ToLower(want.Name)
		seen[key] = true

		got, ok := live[key]
		if !ok {
			out = append(out, Mismatch{Column: want.Name, Kind: MismatchMissing, Want: describe(want)})
			continue
		}
		if normalizeType(want.Type) != normalizeType(got.Type) {
			out = append(out, Mismatch{
				Column: want.Name,
				Kind:   MismatchType,
				Want:   string(normalizeType(want.Type)),
				Got:    string(normalizeType(got.Type)),
			})
		}
		if mode(want) != mode(got) {
			out = append(out, Mismatch{Column: want.Name, Kind: MismatchMode, Want: mode(want), Got: mode(got)})
		}
	}

	for _, f := range actual {
		if !seen[strings.ToLower(f.Name)] {
			out = append(out, Mismatch{Column: f.Name, Kind: MismatchUnexpected, Got: describe(f)})
		}
	}
	return out
}

func normalizeType(t bigquery.FieldType) bigquery.FieldType {
	switch strings.ToUpper(string(t)) {
	case "INT64":
		return bigquery.IntegerFieldType
	case "FLOAT64":
		return bigquery.FloatFieldType
	case "BOOL":
		return bigquery.BooleanFieldType
	case "STRUCT":
		return bigquery.RecordFieldType
	}
	return bigquery.FieldType(strings.ToUpper(string(t)))
}

func mode(f *bigquery.FieldSchema) string {
	switch {
	case f.Repeated:
		return "REPEATED"
	case f.Required:
		return "REQUIRED"
	default:
		return "NULLABLE"
	}
}

func describe(f *bigquery.FieldSchema) string {
	return fmt.Sprintf("%s %s", normalizeType(f.Type), mode(f))
}
