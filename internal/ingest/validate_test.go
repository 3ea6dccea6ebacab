package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
)

func TestValidateNDJSON_ValidSales(t *testing.T) {
	input := `{"sale_id":"S1","sale_date":"2024-03-01","product_id":"P1","quantity_sold":3,"total_sale_amount":29.97,"merchant_id":"M1","last_update":"2024-03-01 10:00:00 UTC"}
{"sale_id":"S2","sale_date":"2024-03-02","product_id":"P2","quantity_sold":"1","total_sale_amount":"9.99","merchant_id":"M2","last_update":"2024-03-02T10:00:00Z"}

{"sale_id":"S3","merchant_id":null}
`
	report, err := ValidateNDJSON(strings.NewReader(input), bq.SalesStageSchema())
	require.NoError(t, err)

	assert.True(t, report.Valid(), "issues: %v", report.Issues)
	assert.Equal(t, 4, report.Lines)
	assert.Equal(t, 3, report.Records)
}

func TestValidateNDJSON_Problems(t *testing.T) {
	input := strings.Join([]string{
		`{"merchant_name":"Acme"}`,
		`{"merchant_id":null}`,
		`{"merchant_id":"M1","merchant_name":42}`,
		`{"merchant_id":"M1","colour":"red"}`,
		`{"merchant_id":"M1","last_update":"yesterday"}`,
		`not json`,
		`{"merchant_id":"M1"} {"merchant_id":"M2"}`,
	}, "\n")

	report, err := ValidateNDJSON(strings.NewReader(input), bq.MerchantsSchema())
	require.NoError(t, err)

	assert.False(t, report.Valid())
	assert.Equal(t, 7, report.Records)
	require.Len(t, report.Issues, 7)

	want := []Issue{
		{Line: 1, Column: "merchant_id", Message: "required field is missing or null"},
		{Line: 2, Column: "merchant_id", Message: "required field is missing or null"},
		{Line: 3, Column: "merchant_name", Message: "expected string, got number"},
		{Line: 4, Column: "colour", Message: "unknown field"},
		{Line: 5, Column: "last_update", Message: `invalid timestamp "yesterday"`},
	}
	assert.Equal(t, want, report.Issues[:5])
	assert.Equal(t, 6, report.Issues[5].Line)
	assert.Contains(t, report.Issues[5].Message, "not a JSON object")
	assert.Equal(t, Issue{Line: 7, Message: "trailing data after JSON object"}, report.Issues[6])
}

func TestValidateNDJSON_TypeChecks(t *testing.T) {
	schema := bigquery.Schema{
		{Name: "id", Type: bigquery.StringFieldType, Required: true},
		{Name: "qty", Type: bigquery.IntegerFieldType},
		{Name: "amount", Type: bigquery.FloatFieldType},
		{Name: "day", Type: bigquery.DateFieldType},
		{Name: "flag", Type: bigquery.BooleanFieldType},
	}

	tests := []struct {
		name    string
		line    string
		wantMsg string
	}{
		{"fractional integer", `{"id":"a","qty":1.5}`, "expected integer, got 1.5"},
		{"integral float ok", `{"id":"a","qty":2.0}`, ""},
		{"word integer", `{"id":"a","qty":"two"}`, `expected integer, got "two"`},
		{"bool amount", `{"id":"a","amount":true}`, "expected number, got boolean"},
		{"bad date", `{"id":"a","day":"03/01/2024"}`, `invalid date "03/01/2024" (want YYYY-MM-DD)`},
		{"numeric date", `{"id":"a","day":20240301}`, "expected date string, got number"},
		{"string bool ok", `{"id":"a","flag":"true"}`, ""},
		{"bad bool", `{"id":"a","flag":"maybe"}`, `expected boolean, got "maybe"`},
		{"case-insensitive names", `{"ID":"a","Qty":3}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ValidateNDJSON(strings.NewReader(tt.line), schema)
			require.NoError(t, err)
			if tt.wantMsg == "" {
				assert.True(t, report.Valid(), "issues: %v", report.Issues)
				return
			}
			require.Len(t, report.Issues, 1)
			assert.Equal(t, tt.wantMsg, report.Issues[0].Message)
		})
	}
}

func TestValidateNDJSON_TruncatesIssues(t *testing.T) {
	input := strings.Repeat(`{"merchant_name":"x"}`+"\n", 10)

	report, err := ValidateNDJSONWithLimit(strings.NewReader(input), bq.MerchantsSchema(), 3)
	require.NoError(t, err)

	assert.Equal(t, 10, report.IssueCount)
	assert.Len(t, report.Issues, 3)
	assert.True(t, report.Truncated)
}

func TestValidateNDJSON_OversizedLine(t *testing.T) {
	long := `{"merchant_id":"M2","merchant_name":"` + strings.Repeat("x", maxLineBytes+1<<20) + `"}`
	input := `{"merchant_id":"M1"}` + "\n" + long + "\n" + `{"merchant_id":"M3"}`

	report, err := ValidateNDJSON(strings.NewReader(input), bq.MerchantsSchema())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Lines)
	assert.Equal(t, 3, report.Records)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, 2, report.Issues[0].Line)
	assert.Contains(t, report.Issues[0].Message, "line exceeds")
}

func TestValidateNDJSON_LastLineWithoutNewline(t *testing.T) {
	report, err := ValidateNDJSON(strings.NewReader(`{"merchant_id":"M1"}`+"\n"+`{"merchant_name":"x"}`), bq.MerchantsSchema())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Lines)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, 2, report.Issues[0].Line)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestValidateNDJSON_ReadError(t *testing.T) {
	_, err := ValidateNDJSON(failingReader{}, bq.MerchantsSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, s := range []string{
		"2024-03-01T10:00:00Z",
		"2024-03-01T12:00:00+02:00",
		"2024-03-01 10:00:00",
		"2024-03-01 10:00:00 UTC",
		"2024-03-01 10:00:00.000000",
		"2024-03-01 10:00:00+00:00",
	} {
		got, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	for _, s := range []string{
		"2024-13-01 10:00:00",
		"2024-03-01 10:00:00 PST",
		"2024-03-01 10:00:00 CET",
		"2024-03-01 10:00:00 utc",
	} {
		_, err := ParseTimestamp(s)
		assert.Error(t, err, s)
	}
}

func TestIssueString(t *testing.T) {
	assert.Equal(t, "line 2: sale_id: unknown field", Issue{Line: 2, Column: "sale_id", Message: "unknown field"}.String())
	assert.Equal(t, "line 4: bad", Issue{Line: 4, Message: "bad"}.String())
}
