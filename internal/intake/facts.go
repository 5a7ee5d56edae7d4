package intake

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hsa-planner/internal/model"
)

// Statement is an optional fact volunteered by the user, e.g.
// "enrolled 2025-03-15" or "changed to family on 2025-07-01".
type Statement struct {
	Fact     model.Fact
	Date     time.Time
	Amount   decimal.Decimal
	Coverage model.Coverage
	Reason   model.TerminationReason
}

type factPrefix struct {
	prefix string
	fact   model.Fact
}

// Longer prefixes first so "employer contributed" wins over "employer".
var factPrefixes = []factPrefix{
	{"enrolled on ", model.FactEnrollment},
	{"enrolled ", model.FactEnrollment},
	{"enrollment ", model.FactEnrollment},
	{"employer contributed ", model.FactEmployer},
	{"employer contribution ", model.FactEmployer},
	{"employer ", model.FactEmployer},
	{"coverage ended ", model.FactTermination},
	{"terminated on ", model.FactTermination},
	{"terminated ", model.FactTermination},
	{"changed to ", model.FactCoverageChange},
	{"switched to ", model.FactCoverageChange},
	{"born on ", model.FactBirthDate},
	{"born ", model.FactBirthDate},
}

var reasonWords = map[string]model.TerminationReason{
	"death":      model.TerminationDeath,
	"died":       model.TerminationDeath,
	"deceased":   model.TerminationDeath,
	"disability": model.TerminationDisability,
	"disabled":   model.TerminationDisability,
	"medicare":   model.TerminationMedicare,
	"ended":      model.TerminationEnded,
	"job":        model.TerminationEnded,
}

// ParseStatement recognizes an optional-fact statement. ok is false when raw
// is not a statement at all; err is set when it is one but its value does not
// parse.
func ParseStatement(raw string) (st Statement, ok bool, err error) {
	s := normalize(raw)
	for _, fp := range factPrefixes {
		if !strings.HasPrefix(s, fp.prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(s, fp.prefix))
		st, err = parseFact(fp.fact, rest)
		return st, true, err
	}
	return Statement{}, false, nil
}

func parseFact(f model.Fact, rest string) (Statement, error) {
	st := Statement{Fact: f}
	if rest == "" {
		return st, ErrFactArgument
	}

	switch f {
	case model.FactEmployer:
		amt, err := Amount(rest)
		if err != nil {
			return st, err
		}
		st.Amount = amt
		return st, nil

	case model.FactTermination:
		st.Reason = model.TerminationEnded
		words := strings.Fields(rest)
		for i := len(words); i > 0; i-- {
			d, err := Date(strings.Join(words[:i], " "))
			if err != nil {
				continue
			}
			st.Date = d
			for _, w := range words[i:] {
				if r, ok := reasonWords[strings.Trim(w, "(),")]; ok {
					st.Reason = r
				}
			}
			return st, nil
		}
		return st, ErrInvalidDate

	case model.FactCoverageChange:
		cat, date, found := strings.Cut(rest, " on ")
		if !found {
			cat, date, found = strings.Cut(rest, " from ")
		}
		if !found {
			return st, ErrFactArgument
		}
		c, err := Coverage(cat)
		if err != nil {
			return st, err
		}
		d, err := Date(date)
		if err != nil {
			return st, err
		}
		st.Coverage, st.Date = c, d
		return st, nil
	}

	d, err := Date(rest)
	if err != nil {
		return st, err
	}
	st.Date = d
	return st, nil
}

// Apply returns a copy of snap with the statement recorded. A coverage change
// replaces any earlier change on the same date and keeps changes sorted.
func (st Statement) Apply(snap model.UserSnapshot) model.UserSnapshot {
	out := snap.Clone()
	switch st.Fact {
	case model.FactEnrollment:
		out.EnrollmentDate = model.TimePtr(st.Date)
	case model.FactEmployer:
		out.EmployerContribution = st.Amount
	case model.FactTermination:
		out.TerminationDate = model.TimePtr(st.Date)
		out.TerminationReason = st.Reason
	case model.FactBirthDate:
		out.BirthDate = model.TimePtr(st.Date)
	case model.FactCoverageChange:
		changes := make([]model.CoverageChange, 0, len(out.CoverageChanges)+1)
		inserted := false
		for _, c := range out.CoverageChanges {
			if !inserted && !c.Effective.Before(st.Date) {
				changes = append(changes, model.CoverageChange{Effective: st.Date, Category: st.Coverage})
				inserted = true
				if c.Effective.Equal(st.Date) {
					continue
				}
			}
			changes = append(changes, c)
		}
		if !inserted {
			changes = append(changes, model.CoverageChange{Effective: st.Date, Category: st.Coverage})
		}
		out.CoverageChanges = changes
	}
	return out
}
