// Package export writes a search's leads to CSV, XLSX or JSONL files.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/store"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
	FormatJSONL Format = "jsonl"
)

// ParseFormat maps a user-supplied string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatJSONL:
		return FormatJSONL, nil
	}
	return "", eris.Errorf("export: unknown format %q", s)
}

// Options configures a single export.
type Options struct {
	Format                Format
	MinScore              float64
	IncludeBelowThreshold bool
	MaxRows               int // 0 means unlimited (xlsx still enforces its sheet ceiling)
}

// xlsxRowCeiling caps XLSX exports well below the format's sheet limit.
const xlsxRowCeiling = 65000

// leadColumns defines the ordered output columns shared by CSV and XLSX.
var leadColumns = []string{
	"company_name",
	"phone",
	"alternative_phones",
	"email",
	"website",
	"address_line",
	"postal_code",
	"city",
	"region",
	"country",
	"category",
	"description",
	"employee_range",
	"sources",
	"sources_count",
	"phone_validation",
	"email_validation",
	"website_validation",
	"match_score",
	"confidence_score",
	"quality_score",
	"created_at",
}

// Exporter reads leads from the store and writes export artifacts.
type Exporter struct {
	store store.Store
}

// New returns an Exporter backed by st.
func New(st store.Store) *Exporter {
	return &Exporter{store: st}
}

// Export writes the leads of searchID to outputPath in the requested format
// and returns the number of data rows written.
func (e *Exporter) Export(ctx context.Context, searchID, outputPath string, opts Options) (int, error) {
	leads, err := e.leads(ctx, searchID, opts)
	if err != nil {
		return 0, err
	}

	switch opts.Format {
	case FormatCSV:
		err = writeCSV(leads, outputPath)
	case FormatXLSX:
		err = writeXLSX(leads, outputPath)
	case FormatJSONL:
		err = writeJSONL(leads, outputPath)
	default:
		return 0, eris.Errorf("export: unknown format %q", opts.Format)
	}
	if err != nil {
		return 0, err
	}

	zap.L().Info("export written",
		zap.String("search_id", searchID),
		zap.String("format", string(opts.Format)),
		zap.String("path", outputPath),
		zap.Int("rows", len(leads)))
	return len(leads), nil
}

func (e *Exporter) leads(ctx context.Context, searchID string, opts Options) ([]model.LeadRecord, error) {
	leads, err := e.store.ListLeads(ctx, searchID, store.LeadFilter{
		MinScore:              opts.MinScore,
		IncludeBelowThreshold: opts.IncludeBelowThreshold,
	})
	if err != nil {
		return nil, eris.Wrap(err, "export: list leads")
	}

	limit := opts.MaxRows
	if opts.Format == FormatXLSX && (limit == 0 || limit > xlsxRowCeiling) {
		limit = xlsxRowCeiling
	}
	if limit > 0 && len(leads) > limit {
		leads = leads[:limit]
	}
	return leads, nil
}

// buildLeadRow maps a LeadRecord to the leadColumns order.
func buildLeadRow(l *model.LeadRecord) []string {
	return []string{
		l.Name,
		l.Phone,
		strings.Join(l.AltPhones, "; "),
		l.Email,
		l.Website,
		l.Address,
		l.PostalCode,
		l.City,
		l.Region,
		l.Country,
		l.Category,
		l.Description,
		employeeRange(l),
		strings.Join(l.Sources, "; "),
		fmt.Sprintf("%d", l.SourcesCount),
		string(l.PhoneValidation),
		string(l.EmailValidation),
		string(l.WebsiteValidation),
		formatScore(l.MatchScore),
		formatScore(l.ConfidenceScore),
		formatScore(l.QualityScore),
		l.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func employeeRange(l *model.LeadRecord) string {
	switch {
	case l.EmployeeMin == 0 && l.EmployeeMax == 0:
		return ""
	case l.EmployeeMax == 0:
		return fmt.Sprintf("%d+", l.EmployeeMin)
	default:
		return fmt.Sprintf("%d-%d", l.EmployeeMin, l.EmployeeMax)
	}
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
