// Package merge renders the upsert that folds staged sales and the merchant
// lookup into the denormalized sales target.
package merge

import (
	"fmt"
	"regexp"
	"strings"

	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
)

var (
	identPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	tableRefPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+){1,2}$`)
)

// Spec describes a MERGE of a staging table, left-joined to a lookup table,
// into a target keyed by Key.
type Spec struct {
	// Fully qualified table references (project.dataset.table or dataset.table).
	Target string
	Stage  string
	Lookup string

	// Key identifies a target row; it must be one of StageColumns.
	Key string
	// JoinKey joins stage to lookup; it must be one of StageColumns.
	JoinKey string

	// StageColumns are taken from the staging table (alias S).
	StageColumns []string
	// LookupColumns are taken from the lookup table (alias M).
	LookupColumns []string

	// RefreshColumn, when set, is stamped with CURRENT_TIMESTAMP() on every upsert.
	RefreshColumn string
}

// DefaultSpec returns the sales merge: walmart_sales_stage LEFT JOIN merchants_tb
// on merchant_id, upserted into walmart_sales_tgt by sale_id.
func DefaultSpec(target, stage, lookup string) Spec {
	const refresh = "last_update"

	var stageCols []string
	for _, name := range bq.ColumnNames(bq.SalesStageSchema()) {
		if name != refresh {
			stageCols = append(stageCols, name)
		}
	}

	var lookupCols []string
	for _, name := range bq.ColumnNames(bq.MerchantsSchema()) {
		if name != refresh && name != "merchant_id" {
			lookupCols = append(lookupCols, name)
		}
	}

	return Spec{
		Target:        target,
		Stage:         stage,
		Lookup:        lookup,
		Key:           "sale_id",
		JoinKey:       "merchant_id",
		StageColumns:  stageCols,
		LookupColumns: lookupCols,
		RefreshColumn: refresh,
	}
}

// Columns returns the target columns in insert order.
func (s Spec) Columns() []string {
	cols := make([]string, 0, len(s.StageColumns)+len(s.LookupColumns)+1)
	cols = append(cols, s.StageColumns...)
	cols = append(cols, s.LookupColumns...)
	if s.RefreshColumn != "" {
		cols = append(cols, s.RefreshColumn)
	}
	return cols
}

// UpdateColumns returns every target column except the key.
func (s Spec) UpdateColumns() []string {
	var cols []string
	for _, c := range s.Columns() {
		if c != s.Key {
			cols = append(cols, c)
		}
	}
	return cols
}

// Validate checks identifiers and the relationships between columns.
func (s Spec) Validate() error {
	refs := []struct{ name, ref string }{
		{"target", s.Target},
		{"stage", s.Stage},
		{"lookup", s.Lookup},
	}
	for _, r := range refs {
		if !tableRefPattern.MatchString(r.ref) {
			return fmt.Errorf("merge: invalid %s table reference %q", r.name, r.ref)
		}
	}

	if s.Key == "" {
		return fmt.Errorf("merge: key column is required")
	}
	if s.JoinKey == "" {
		return fmt.Errorf("merge: join column is required")
	}
	if len(s.StageColumns) == 0 {
		return fmt.Errorf("merge: at least one stage column is required")
	}

	seen := make(map[string]bool)
	for _, c := range s.Columns() {
		if !identPattern.MatchString(c) {
			return fmt.Errorf("merge: invalid column name %q", c)
		}
		lc := strings.ToLower(c)
		if seen[lc] {
			return fmt.Errorf("merge: duplicate column %q", c)
		}
		seen[lc] = true
	}

	if !contains(s.StageColumns, s.Key) {
		return fmt.Errorf("merge: key %q is not a stage column", s.Key)
	}
	if !contains(s.StageColumns, s.JoinKey) {
		return fmt.Errorf("merge: join column %q is not a stage column", s.JoinKey)
	}
	return nil
}

// Build renders the MERGE statement described by s.
func Build(s Spec) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder

	fmt.Fprintf(&b, "MERGE `%s` T\n", s.Target)
	b.WriteString("USING (\n  SELECT\n")

	var selects []string
	for _, c := range s.StageColumns {
		selects = append(selects, "S."+c)
	}
	for _, c := range s.LookupColumns {
		selects = append(selects, "M."+c)
	}
	if s.RefreshColumn != "" {
		selects = append(selects, "CURRENT_TIMESTAMP() AS "+s.RefreshColumn)
	}
	b.WriteString("    " + strings.Join(selects, ",\n    ") + "\n")

	fmt.Fprintf(&b, "  FROM `%s` S\n", s.Stage)
	fmt.Fprintf(&b, "  LEFT JOIN `%s` M\n", s.Lookup)
	fmt.Fprintf(&b, "  ON S.%s = M.%s\n", s.JoinKey, s.JoinKey)
	b.WriteString(") S\n")
	fmt.Fprintf(&b, "ON T.%s = S.%s\n", s.Key, s.Key)

	if updates := s.UpdateColumns(); len(updates) > 0 {
		sets := make([]string, 0, len(updates))
		for _, c := range updates {
			sets = append(sets, fmt.Sprintf("T.%s = S.%s", c, c))
		}
		b.WriteString("WHEN MATCHED THEN\n  UPDATE SET\n")
		b.WriteString("    " + strings.Join(sets, ",\n    ") + "\n")
	}

	cols := s.Columns()
	values := make([]string, 0, len(cols))
	for _, c := range cols {
		values = append(values, "S."+c)
	}
	b.WriteString("WHEN NOT MATCHED THEN\n")
	fmt.Fprintf(&b, "  INSERT (%s)\n", strings.Join(cols, ", "))
	fmt.Fprintf(&b, "  VALUES (%s);\n", strings.Join(values, ", "))

	return b.String(), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
