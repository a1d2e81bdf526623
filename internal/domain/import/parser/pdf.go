package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

// pdfConfig configures the line engine used by the PDF family. Transactions
// are the lines matching TransactionPattern, which must define the named
// groups date, description and amount, and may define balance and sign.
type pdfConfig struct {
	headerSpec `yaml:",inline"`

	TransactionPattern string   `yaml:"transaction_pattern"`
	DateFormats        []string `yaml:"date_formats"`
	// SectionStart and SectionEnd bound the transaction listing. Several
	// sections may appear in one document.
	SectionStart   string   `yaml:"section_start"`
	SectionEnd     string   `yaml:"section_end"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
	// Continuation appends unmatched lines inside a section to the previous
	// transaction's description.
	Continuation bool `yaml:"continuation"`
	// Negate flips amount signs, for card statements that print charges as positive.
	Negate   bool `yaml:"negate"`
	European bool `yaml:"european"`
}

type pdfAdapter struct {
	cfg          pdfConfig
	header       *headerMatcher
	transaction  *regexp.Regexp
	sectionStart *regexp.Regexp
	sectionEnd   *regexp.Regexp
	ignore       []*regexp.Regexp
}

func newPDFAdapter(spec plugin.AdapterSpec) (plugin.Adapter, error) {
	var cfg pdfConfig
	if err := spec.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.TransactionPattern == "" {
		return nil, fmt.Errorf("transaction_pattern is required")
	}

	a := &pdfAdapter{cfg: cfg}
	var err error
	if a.header, err = cfg.headerSpec.compile(); err != nil {
		return nil, err
	}
	if a.transaction, err = regexp.Compile(cfg.TransactionPattern); err != nil {
		return nil, fmt.Errorf("transaction_pattern: %w", err)
	}
	for _, group := range []string{"date", "description", "amount"} {
		if a.transaction.SubexpIndex(group) < 0 {
			return nil, fmt.Errorf("transaction_pattern: missing named group %q", group)
		}
	}
	if a.sectionStart, err = compileOptional("section_start", cfg.SectionStart); err != nil {
		return nil, err
	}
	if a.sectionEnd, err = compileOptional("section_end", cfg.SectionEnd); err != nil {
		return nil, err
	}
	for _, expr := range cfg.IgnorePatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("ignore_patterns: %w", err)
		}
		a.ignore = append(a.ignore, re)
	}
	return a, nil
}

func (a *pdfAdapter) Family() plugin.Family { return plugin.FamilyPDF }

func (a *pdfAdapter) Parse(doc *plugin.Document) (*plugin.Extraction, error) {
	if len(doc.Lines) == 0 {
		return nil, plugin.NewStructureError("%s: no text lines", doc.Filename)
	}

	ext := &plugin.Extraction{}
	if err := a.header.apply(doc.Text, a.cfg.European, &ext.Header); err != nil {
		return nil, err
	}

	inSection := a.sectionStart == nil
	sawSection := inSection
	var current *plugin.TransactionRecord

	for i, line := range doc.Lines {
		rowNum := i + 1
		if !inSection {
			if a.sectionStart.MatchString(line) {
				inSection, sawSection = true, true
			}
			continue
		}
		if a.sectionEnd != nil && a.sectionEnd.MatchString(line) {
			inSection = a.sectionStart == nil
			current = nil
			if a.sectionStart == nil {
				break
			}
			continue
		}
		if a.ignored(line) {
			continue
		}

		match := a.transaction.FindStringSubmatch(line)
		if match == nil {
			if a.cfg.Continuation && current != nil {
				current.Description = cleanDescription(current.Description + " " + line)
			}
			continue
		}

		tx, err := a.record(match, rowNum, ext.Header.EndDate)
		if err != nil {
			return nil, err
		}
		ext.Transactions = append(ext.Transactions, *tx)
		current = &ext.Transactions[len(ext.Transactions)-1]
	}

	if !sawSection {
		return nil, plugin.NewStructureError("transaction section not found")
	}
	if len(ext.Transactions) == 0 {
		return nil, plugin.NewStructureError("no transaction lines matched")
	}
	ext.DeriveHeader()
	return ext, nil
}

func (a *pdfAdapter) ignored(line string) bool {
	for _, re := range a.ignore {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (a *pdfAdapter) group(match []string, name string) string {
	idx := a.transaction.SubexpIndex(name)
	if idx < 0 || idx >= len(match) {
		return ""
	}
	return strings.TrimSpace(match[idx])
}

func (a *pdfAdapter) record(match []string, rowNum int, periodEnd time.Time) (*plugin.TransactionRecord, error) {
	dateStr := a.group(match, "date")
	date, err := parseDate(dateStr, a.cfg.DateFormats)
	if err != nil {
		return nil, plugin.NewFieldError(rowNum, "date", dateStr, err)
	}
	if date.Year() == 0 {
		if periodEnd.IsZero() {
			return nil, plugin.NewFieldError(rowNum, "date", dateStr, fmt.Errorf("date has no year and the statement period is unknown"))
		}
		date = absoluteDate(date, periodEnd)
	}

	amountStr := a.group(match, "amount") + a.group(match, "sign")
	amount, err := money.ParseCents(amountStr, a.cfg.European)
	if err != nil {
		return nil, plugin.NewFieldError(rowNum, "amount", amountStr, err)
	}
	if a.cfg.Negate {
		amount = -amount
	}

	tx := &plugin.TransactionRecord{
		Date:        date,
		AmountCents: amount,
		Description: cleanDescription(a.group(match, "description")),
		Row:         rowNum,
	}
	if balanceStr := a.group(match, "balance"); balanceStr != "" {
		balance, err := money.ParseCents(balanceStr, a.cfg.European)
		if err != nil {
			return nil, plugin.NewFieldError(rowNum, "balance", balanceStr, err)
		}
		tx.Balance = &balance
	}
	return tx, nil
}

// absoluteDate places a month/day inside the year ending at periodEnd, so a
// December line on a January statement lands in the previous year.
func absoluteDate(d, periodEnd time.Time) time.Time {
	t := time.Date(periodEnd.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	if t.After(periodEnd) {
		t = t.AddDate(-1, 0, 0)
	}
	return t
}
