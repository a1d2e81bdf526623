// Package coverage reports the calendar days each account's committed
// statements leave uncovered.
package coverage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

// DefaultMonths is the length of the month grid when none is requested.
const DefaultMonths = 13

// margin pads the month grid around the ledger's statements.
const margin = 28

// PeriodSource lists committed statement periods.
type PeriodSource interface {
	StatementPeriods(ctx context.Context) ([]repository.StatementPeriod, error)
}

// Gap is an inclusive run of days no statement of the account covers.
type Gap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days is the length of the gap.
func (g Gap) Days() int {
	return int(g.End.Sub(g.Start).Hours()/24) + 1
}

// Month reports whether the first day of a month is covered.
type Month struct {
	Month   time.Time `json:"month"`
	Covered bool      `json:"covered"`
}

// Account is the coverage of one account.
type Account struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Statements int       `json:"statements"`
	First      time.Time `json:"first"`
	Last       time.Time `json:"last"`
	Gaps       []Gap     `json:"gaps,omitempty"`
	Months     []Month   `json:"months"`
}

// Report is the coverage of every account with at least one statement.
type Report struct {
	Months   []time.Time `json:"months"`
	Accounts []Account   `json:"accounts"`
}

// Load reads the ledger's statement periods and computes their coverage.
func Load(ctx context.Context, src PeriodSource, months int) (*Report, error) {
	periods, err := src.StatementPeriods(ctx)
	if err != nil {
		return nil, fmt.Errorf("load statement periods: %w", err)
	}
	return Compute(periods, months), nil
}

// Compute builds the report. Gaps lie between an account's first and last
// statement. The month grid spans every account's statements plus four weeks
// either side and keeps the latest months entries; months <= 0 keeps all.
func Compute(periods []repository.StatementPeriod, months int) *Report {
	report := &Report{}
	if len(periods) == 0 {
		return report
	}

	index := make(map[uuid.UUID]int)
	var byAccount [][]repository.StatementPeriod
	lo, hi := day(periods[0].Start), day(periods[0].End)
	for _, p := range periods {
		i, ok := index[p.AccountID]
		if !ok {
			i = len(byAccount)
			index[p.AccountID] = i
			byAccount = append(byAccount, nil)
			report.Accounts = append(report.Accounts, Account{ID: p.AccountID, Name: p.AccountName})
		}
		byAccount[i] = append(byAccount[i], p)
		lo = earliest(lo, day(p.Start))
		hi = latest(hi, day(p.End))
	}

	report.Months = monthGrid(lo.AddDate(0, 0, -margin), hi.AddDate(0, 0, margin), months)
	for i := range report.Accounts {
		fill(&report.Accounts[i], byAccount[i], report.Months)
	}
	return report
}

func fill(a *Account, periods []repository.StatementPeriod, months []time.Time) {
	a.Statements = len(periods)
	sort.SliceStable(periods, func(i, j int) bool { return periods[i].Start.Before(periods[j].Start) })

	a.First = day(periods[0].Start)
	covered := day(periods[0].End)
	for _, p := range periods[1:] {
		start, end := day(p.Start), day(p.End)
		if next := covered.AddDate(0, 0, 1); start.After(next) {
			a.Gaps = append(a.Gaps, Gap{Start: next, End: start.AddDate(0, 0, -1)})
		}
		covered = latest(covered, end)
	}
	a.Last = covered

	a.Months = make([]Month, len(months))
	for i, m := range months {
		a.Months[i] = Month{Month: m, Covered: coveredOn(periods, m)}
	}
}

// monthGrid lists the checkpoint day of each month touching [from, to]: the
// first of the month, or from itself for the partial first month.
func monthGrid(from, to time.Time, keep int) []time.Time {
	var grid []time.Time
	for m := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(to); m = m.AddDate(0, 1, 0) {
		grid = append(grid, latest(m, from))
	}
	if keep > 0 && len(grid) > keep {
		grid = grid[len(grid)-keep:]
	}
	return grid
}

func coveredOn(periods []repository.StatementPeriod, d time.Time) bool {
	for _, p := range periods {
		if !d.Before(day(p.Start)) && !d.After(day(p.End)) {
			return true
		}
	}
	return false
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
