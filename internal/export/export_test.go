package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/store"
)

func seedStore(t *testing.T) (*store.SQLiteStore, string) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	search := &model.Search{
		ID:     uuid.NewString(),
		UserID: "user-1",
		Name:   "dentists in bologna",
		Request: model.SearchRequest{
			Query:       "dentista",
			Categories:  []string{"dentist"},
			Cities:      []string{"Bologna"},
			Countries:   []string{"IT"},
			TargetCount: 10,
			Tier:        model.TierStandard,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateSearch(context.Background(), search))

	leads := []*model.LeadRecord{
		{
			ID:                uuid.NewString(),
			SearchID:          search.ID,
			Name:              "Studio Dentistico Rossi",
			Phone:             "+39 051 123456",
			AltPhones:         []string{"+39 051 654321"},
			Email:             "info@rossi.it",
			Website:           "https://rossi.it",
			Address:           "Via Indipendenza 12",
			PostalCode:        "40121",
			City:              "Bologna",
			Country:           "IT",
			Category:          "dentist",
			EmployeeMin:       5,
			EmployeeMax:       10,
			Sources:           []string{"places", "directory"},
			SourcesCount:      2,
			PhoneValidation:   model.ValidationValid,
			EmailValidation:   model.ValidationValid,
			WebsiteValidation: model.ValidationValid,
			MatchScore:        90,
			ConfidenceScore:   85,
			QualityScore:      88.5,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			ID:              uuid.NewString(),
			SearchID:        search.ID,
			Name:            "Ambulatorio Bianchi",
			City:            "Bologna",
			Country:         "IT",
			Category:        "dentist",
			Sources:         []string{"places"},
			SourcesCount:    1,
			PhoneValidation: model.ValidationUnchecked,
			EmailValidation: model.ValidationUnchecked,
			MatchScore:      70,
			ConfidenceScore: 40,
			QualityScore:    62,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		{
			ID:              uuid.NewString(),
			SearchID:        search.ID,
			Name:            "Low Quality Srl",
			City:            "Bologna",
			Country:         "IT",
			Sources:         []string{"serp"},
			SourcesCount:    1,
			QualityScore:    22,
			BelowThreshold:  true,
			PhoneValidation: model.ValidationUnchecked,
			EmailValidation: model.ValidationUnchecked,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
	require.NoError(t, st.UpsertLeads(context.Background(), leads))
	return st, search.ID
}

func TestExportCSV(t *testing.T) {
	st, searchID := seedStore(t)
	out := filepath.Join(t.TempDir(), "leads.csv")

	n, err := New(st).Export(context.Background(), searchID, out, Options{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "below-threshold lead excluded by default")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, leadColumns, rows[0])

	byName := map[string][]string{}
	for _, row := range rows[1:] {
		byName[row[0]] = row
	}
	rossi := byName["Studio Dentistico Rossi"]
	require.NotNil(t, rossi)
	assert.Equal(t, "+39 051 123456", rossi[1])
	assert.Equal(t, "+39 051 654321", rossi[2])
	assert.Equal(t, "info@rossi.it", rossi[3])
	assert.Equal(t, "5-10", rossi[12])
	assert.Equal(t, "places; directory", rossi[13])
	assert.Equal(t, "2", rossi[14])
	assert.Equal(t, "valid", rossi[15])
	assert.Equal(t, "88.5", rossi[20])
}

func TestExportCSVIncludesBelowThreshold(t *testing.T) {
	st, searchID := seedStore(t)
	out := filepath.Join(t.TempDir(), "leads.csv")

	n, err := New(st).Export(context.Background(), searchID, out, Options{
		Format:                FormatCSV,
		IncludeBelowThreshold: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestExportCSVMinScore(t *testing.T) {
	st, searchID := seedStore(t)
	out := filepath.Join(t.TempDir(), "leads.csv")

	n, err := New(st).Export(context.Background(), searchID, out, Options{
		Format:   FormatCSV,
		MinScore: 80,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExportMaxRows(t *testing.T) {
	st, searchID := seedStore(t)
	out := filepath.Join(t.TempDir(), "leads.csv")

	n, err := New(st).Export(context.Background(), searchID, out, Options{
		Format:  FormatCSV,
		MaxRows: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExportXLSX(t *testing.T) {
	st, searchID := seedStore(t)
	out := filepath.Join(t.TempDir(), "leads.xlsx")

	n, err := New(st).Export(context.Background(), searchID, out, Options{Format: FormatXLSX})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "Leads", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "company_name", sheet.Rows[0].Cells[0].String())

	names := map[string]bool{}
	for _, row := range sheet.Rows[1:] {
		names[row.Cells[0].String()] = true
	}
	assert.True(t, names["Studio Dentistico Rossi"])
	assert.True(t, names["Ambulatorio Bianchi"])
}

func TestExportJSONL(t *testing.T) {
	st, searchID := seedStore(t)
	out := filepath.Join(t.TempDir(), "leads.jsonl")

	n, err := New(st).Export(context.Background(), searchID, out, Options{Format: FormatJSONL})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var leads []model.LeadRecord
	for _, line := range splitLines(data) {
		var l model.LeadRecord
		require.NoError(t, json.Unmarshal(line, &l))
		leads = append(leads, l)
	}
	require.Len(t, leads, 2)
	assert.Equal(t, searchID, leads[0].SearchID)
	assert.NotEmpty(t, leads[0].Sources)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"csv": FormatCSV, "XLSX": FormatXLSX, " jsonl ": FormatJSONL,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
