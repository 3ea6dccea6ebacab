// Package ingest checks newline-delimited JSON source files against a table
// schema before they are handed to a load job.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

const (
	// DefaultMaxIssues caps the issues kept in a Report. IssueCount stays exact.
	DefaultMaxIssues = 100

	maxLineBytes = 10 << 20
)

// Issue is one problem found on a line of input.
type Issue struct {
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Column == "" {
		return fmt.Sprintf("line %d: %s", i.Line, i.Message)
	}
	return fmt.Sprintf("line %d: %s: %s", i.Line, i.Column, i.Message)
}

// Report summarises a validation pass.
type Report struct {
	Lines      int     `json:"lines"`
	Records    int     `json:"records"`
	IssueCount int     `json:"issue_count"`
	Issues     []Issue `json:"issues"`
	Truncated  bool    `json:"truncated"`

	maxIssues int
}

// Valid reports whether no issues were found.
func (r *Report) Valid() bool {
	return r.IssueCount == 0
}

func (r *Report) add(line int, column, format string, args ...interface{}) {
	r.IssueCount++
	if len(r.Issues) >= r.maxIssues {
		r.Truncated = true
		return
	}
	r.Issues = append(r.Issues, Issue{Line: line, Column: column, Message: fmt.Sprintf(format, args...)})
}

// ValidateNDJSON streams r line by line and checks every record against
// schema. Blank lines are skipped. The returned error is reserved for read
// failures; data problems are reported in the Report.
func ValidateNDJSON(r io.Reader, schema bigquery.Schema) (*Report, error) {
	return ValidateNDJSONWithLimit(r, schema, DefaultMaxIssues)
}

// ValidateNDJSONWithLimit is ValidateNDJSON keeping at most maxIssues issues.
func ValidateNDJSONWithLimit(r io.Reader, schema bigquery.Schema, maxIssues int) (*Report, error) {
	if maxIssues <= 0 {
		maxIssues = DefaultMaxIssues
	}
	report := &Report{maxIssues: maxIssues}

	fields := make(map[string]*bigquery.FieldSchema, len(schema))
	for _, f := range schema {
		fields[strings.ToLower(f.Name)] = f
	}

	reader := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	for {
		line, oversized, err := readLine(reader, buf, maxLineBytes)
		if err != nil && err != io.EOF {
			return report, fmt.Errorf("ValidateNDJSON: reading line %d: %w", report.Lines+1, err)
		}
		if err == io.EOF && len(line) == 0 && !oversized {
			break
		}
		report.Lines++
		if oversized {
			report.Records++
			report.add(report.Lines, "", "line exceeds %d bytes", maxLineBytes)
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			report.Records++
			validateRecord(report, report.Lines, trimmed, schema, fields)
		}
		if err == io.EOF {
			break
		}
		buf = line
	}
	return report, nil
}

// readLine reads one newline-terminated line into buf. A line longer than
// limit is consumed and discarded and reported as oversized.
func readLine(r *bufio.Reader, buf []byte, limit int) ([]byte, bool, error) {
	buf = buf[:0]
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > limit {
				oversized = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, oversized, err
	}
}

func validateRecord(report *Report, lineNo int, line []byte, schema bigquery.Schema, fields map[string]*bigquery.FieldSchema) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var record map[string]interface{}
	if err := dec.Decode(&record); err != nil {
		report.add(lineNo, "", "not a JSON object: %v", err)
		return
	}
	if dec.More() {
		report.add(lineNo, "", "trailing data after JSON object")
		return
	}

	present := make(map[string]interface{}, len(record))
	for name, value := range record {
		key := strings.ToLower(name)
		if _, ok := fields[key]; !ok {
			report.add(lineNo, name, "unknown field")
			continue
		}
		present[key] = value
	}

	for _, f := range schema {
		value, ok := present[strings.ToLower(f.Name)]
		if !ok || value == nil {
			if f.Required {
				report.add(lineNo, f.Name, "required field is missing or null")
			}
			continue
		}
		if msg := checkValue(f.Type, value); msg != "" {
			report.add(lineNo, f.Name, "%s", msg)
		}
	}
}

// checkValue returns a description of why value cannot load into a column of
// type t, or "" when it can.
func checkValue(t bigquery.FieldType, value interface{}) string {
	switch t {
	case bigquery.StringFieldType:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected string, got %s", kind(value))
		}

	case bigquery.IntegerFieldType:
		if !isInteger(value) {
			return fmt.Sprintf("expected integer, got %s", describe(value))
		}

	case bigquery.FloatFieldType, bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		if !isNumber(value) {
			return fmt.Sprintf("expected number, got %s", describe(value))
		}

	case bigquery.BooleanFieldType:
		switch v := value.(type) {
		case bool:
		case string:
			if _, err := strconv.ParseBool(v); err != nil {
				return fmt.Sprintf("expected boolean, got %s", describe(value))
			}
		default:
			return fmt.Sprintf("expected boolean, got %s", kind(value))
		}

	case bigquery.DateFieldType:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected date string, got %s", kind(value))
		}
		if _, err := civil.ParseDate(s); err != nil {
			return fmt.Sprintf("invalid date %q (want YYYY-MM-DD)", s)
		}

	case bigquery.DateTimeFieldType:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected datetime string, got %s", kind(value))
		}
		if _, err := civil.ParseDateTime(strings.Replace(s, " ", "T", 1)); err != nil {
			return fmt.Sprintf("invalid datetime %q", s)
		}

	case bigquery.TimestampFieldType:
		s, ok := value.(string)
		if !ok {
			if isNumber(value) {
				return ""
			}
			return fmt.Sprintf("expected timestamp, got %s", kind(value))
		}
		if _, err := ParseTimestamp(s); err != nil {
			return err.Error()
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 UTC",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses the textual timestamp forms accepted by load jobs:
// RFC 3339, "YYYY-MM-DD HH:MM:SS[.ffffff]" with an optional offset or " UTC"
// suffix, and a bare date. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func isInteger(value interface{}) bool {
	var s string
	switch v := value.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = v
	default:
		return false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f == math.Trunc(f) && math.Abs(f) < math.MaxInt64
}

func isNumber(value interface{}) bool {
	switch v := value.(type) {
	case json.Number:
		return true
	case string:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	}
	return false
}

func kind(value interface{}) string {
	switch value.(type) {
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

func describe(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case json.Number:
		return v.String()
	}
	return kind(value)
}
