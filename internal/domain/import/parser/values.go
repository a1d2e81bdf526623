// Package parser provides the format-family engines behind statement adapters:
// regex-driven PDF line extraction, column-mapped CSV and XLSX tables, and the
// compiled-in order history adapter. Engines are configured from adapter
// manifests and never touch the ledger.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

// defaultDateFormats apply when an adapter declares no formats.
var defaultDateFormats = []string{
	"2006-01-02",           // ISO 8601
	"01/02/2006",           // MM/DD/YYYY (American)
	"02/01/2006",           // DD/MM/YYYY (European)
	"01-02-2006",           // MM-DD-YYYY
	"02-01-2006",           // DD-MM-YYYY
	"2006/01/02",           // YYYY/MM/DD
	"02.01.2006",           // DD.MM.YYYY (German)
	"Jan 2, 2006",          // Month name
	"January 2, 2006",      // Long month name
	"2006-01-02T15:04:05Z", // ISO 8601 with time
	"2006-01-02 15:04:05",  // ISO with space
	"01/02/2006 15:04",     // American with time
}

// parseDate parses s with the declared formats, or with the defaults when
// none are declared. Declared formats are exclusive so one document never
// mixes day-first and month-first readings.
func parseDate(s string, formats []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if len(formats) == 0 {
		formats = defaultDateFormats
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized format: %s", s)
}

// cleanDescription normalizes a transaction description
func cleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// headerSpec declares regular expressions that find statement-level values
// in the document text. Each pattern's first capture group (or the named
// groups start/end for the period) holds the value.
type headerSpec struct {
	AccountNumber       string   `yaml:"account_number"`
	AccountPattern      string   `yaml:"account_pattern"`
	CardPattern         string   `yaml:"card_pattern"`
	PeriodPattern       string   `yaml:"period_pattern"`
	PeriodFormats       []string `yaml:"period_formats"`
	StartBalancePattern string   `yaml:"start_balance_pattern"`
	EndBalancePattern   string   `yaml:"end_balance_pattern"`
	CountPattern        string   `yaml:"count_pattern"`
}

type headerMatcher struct {
	fixedAccount string
	account      *regexp.Regexp
	card         *regexp.Regexp
	period       *regexp.Regexp
	periodFmts   []string
	startBalance *regexp.Regexp
	endBalance   *regexp.Regexp
	count        *regexp.Regexp
}

func compileOptional(name, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return re, nil
}

func (s headerSpec) compile() (*headerMatcher, error) {
	m := &headerMatcher{fixedAccount: s.AccountNumber, periodFmts: s.PeriodFormats}
	var err error
	if m.account, err = compileOptional("account_pattern", s.AccountPattern); err != nil {
		return nil, err
	}
	if m.card, err = compileOptional("card_pattern", s.CardPattern); err != nil {
		return nil, err
	}
	if m.period, err = compileOptional("period_pattern", s.PeriodPattern); err != nil {
		return nil, err
	}
	if m.period != nil && (m.period.SubexpIndex("start") < 0 || m.period.SubexpIndex("end") < 0) {
		return nil, fmt.Errorf("period_pattern: needs named groups start and end")
	}
	if m.startBalance, err = compileOptional("start_balance_pattern", s.StartBalancePattern); err != nil {
		return nil, err
	}
	if m.endBalance, err = compileOptional("end_balance_pattern", s.EndBalancePattern); err != nil {
		return nil, err
	}
	if m.count, err = compileOptional("count_pattern", s.CountPattern); err != nil {
		return nil, err
	}
	return m, nil
}

func firstGroup(re *regexp.Regexp, text string) (string, bool) {
	if re == nil {
		return "", false
	}
	match := re.FindStringSubmatch(text)
	if len(match) < 2 {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}

// apply extracts header values from text. A declared pattern that is absent
// from the document is a structure error; a present value that cannot be
// converted is a field error.
func (m *headerMatcher) apply(text string, european bool, h *plugin.StatementHeader) error {
	h.AccountNumber = m.fixedAccount
	if m.account != nil {
		v, ok := firstGroup(m.account, text)
		if !ok {
			return plugin.NewStructureError("account number not found")
		}
		h.AccountNumber = v
	}
	if v, ok := firstGroup(m.card, text); ok {
		h.CardLastFour = lastFour(v)
	}

	if m.period != nil {
		match := m.period.FindStringSubmatch(text)
		if match == nil {
			return plugin.NewStructureError("statement period not found")
		}
		start, err := parseDate(match[m.period.SubexpIndex("start")], m.periodFmts)
		if err != nil {
			return plugin.NewFieldError(0, "period_start", match[0], err)
		}
		end, err := parseDate(match[m.period.SubexpIndex("end")], m.periodFmts)
		if err != nil {
			return plugin.NewFieldError(0, "period_end", match[0], err)
		}
		h.StartDate, h.EndDate = start, end
	}

	for _, b := range []struct {
		re     *regexp.Regexp
		name   string
		target **int64
	}{
		{m.startBalance, "start_balance", &h.StartBalance},
		{m.endBalance, "end_balance", &h.EndBalance},
	} {
		raw, ok := firstGroup(b.re, text)
		if !ok {
			continue
		}
		cents, err := money.ParseCents(raw, european)
		if err != nil {
			return plugin.NewFieldError(0, b.name, raw, err)
		}
		*b.target = &cents
	}

	if raw, ok := firstGroup(m.count, text); ok {
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			return plugin.NewFieldError(0, "count", raw, err)
		}
		h.Count = n
	}
	return nil
}

func lastFour(s string) string {
	digits := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return string(digits[len(digits)-4:])
}
