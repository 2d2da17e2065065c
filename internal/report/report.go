// Package report turns an uploaded CSV file into the plain-text analysis
// report that gets mailed to the requester.
//
// The flow is Parse (bytes to Frame), Describe (numeric summaries) and
// Generate, which assembles the sections in a fixed order: general
// information, descriptive statistics (only when a numeric column exists),
// missing values and a five-row sample.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvreport/internal/logging"
)

// SampleRows is how many leading rows the sample section shows.
const SampleRows = 5

var (
	// ErrEmptyCSV means the upload held no records at all.
	ErrEmptyCSV = errors.New("Arquivo CSV está vazio")

	// ErrNoData means the upload had a header but no data rows.
	ErrNoData = errors.New("Arquivo CSV está vazio ou não possui dados válidos")
)

// ParseError reports input that could not be read as delimited tabular data.
type ParseError struct {
	Line int // 1-based line of the offending record, 0 when unknown
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("Erro ao processar CSV: linha %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("Erro ao processar CSV: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err was caused by the uploaded content rather
// than by the service.
func IsInputError(err error) bool {
	var pe *ParseError
	return errors.Is(err, ErrEmptyCSV) || errors.Is(err, ErrNoData) || errors.As(err, &pe)
}

var rule = strings.Repeat("=", 50)

// Generate parses data and returns the formatted report.
func Generate(ctx context.Context, data []byte) (string, error) {
	f, err := Parse(data)
	if err != nil {
		return "", err
	}

	logging.FromContext(ctx).Info("csv parsed", "rows", f.Rows, "columns", len(f.Columns))

	return Format(f), nil
}

// Format renders the report for an already parsed frame.
func Format(f *Frame) string {
	parts := []string{
		rule,
		"RELATÓRIO DE ANÁLISE DE DADOS",
		rule,
		"\n📊 INFORMAÇÕES GERAIS:",
		fmt.Sprintf("   • Total de registros: %d", f.Rows),
		fmt.Sprintf("   • Total de colunas: %d", len(f.Columns)),
		fmt.Sprintf("   • Colunas: %s", strings.Join(f.Names(), ", ")),
	}

	if summaries := Describe(f); len(summaries) > 0 {
		parts = append(parts, "\n📈 ESTATÍSTICAS DESCRITIVAS:", renderSummaries(summaries))
	}

	if f.TotalMissing() > 0 {
		parts = append(parts, "\n⚠️  VALORES AUSENTES:")
		for i, n := range f.MissingCounts() {
			if n > 0 {
				parts = append(parts, fmt.Sprintf("   • %s: %d valores ausentes", f.Columns[i].Name, n))
			}
		}
	} else {
		parts = append(parts, "\n✅ Nenhum valor ausente encontrado")
	}

	parts = append(parts,
		fmt.Sprintf("\n📋 AMOSTRA DOS DADOS (primeiras %d linhas):", SampleRows),
		renderHead(f, SampleRows),
		"\n"+rule,
	)

	return strings.Join(parts, "\n")
}
