package deadline

import (
	"fmt"
	"sort"
	"time"

	"remindflow/account"
)

type dueRule struct {
	returnType ReturnType
	dueDay     int
}

var (
	monthlyRules = []dueRule{
		{ReturnGSTR1, 11},
		{ReturnGSTR3B, 20},
	}
	quarterlyRules = []dueRule{
		{ReturnGSTR1Quarterly, 13},
		{ReturnGSTR3BQuarterly, 22},
	}
)

const (
	monthlyHorizon   = 12
	quarterlyHorizon = 4
)

// Generate returns the drafts for the periods starting with the one before asOf's month (or quarter)
// and spanning the cadence horizon. Drafts due before the first day of asOf's month are dropped.
// The result is ordered by due date, then return type.
func Generate(cadence account.Cadence, asOf time.Time) ([]Draft, error) {
	c, err := account.ParseCadence(string(cadence))
	if err != nil {
		return nil, fmt.Errorf("deadline: generate: %w", err)
	}

	monthStart := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)

	var (
		periods []Period
		rules   []dueRule
	)
	switch c {
	case account.CadenceMonthly:
		rules = monthlyRules
		for i := 0; i < monthlyHorizon; i++ {
			m := monthStart.AddDate(0, i-1, 0)
			periods = append(periods, Period{Year: m.Year(), Month: m.Month()})
		}
	case account.CadenceQuarterly:
		rules = quarterlyRules
		quarterStart := time.Date(asOf.Year(), ((asOf.Month()-1)/3)*3+1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < quarterlyHorizon; i++ {
			last := quarterStart.AddDate(0, 3*(i-1)+2, 0)
			periods = append(periods, Period{Year: last.Year(), Month: last.Month()})
		}
	}

	drafts := make([]Draft, 0, len(periods)*len(rules))
	for _, p := range periods {
		for _, r := range rules {
			due := DueDate(p, r.dueDay)
			if due.Before(monthStart) {
				continue
			}
			drafts = append(drafts, Draft{ReturnType: r.returnType, Period: p, DueDate: due})
		}
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		if !drafts[i].DueDate.Equal(drafts[j].DueDate) {
			return drafts[i].DueDate.Before(drafts[j].DueDate)
		}
		return drafts[i].ReturnType < drafts[j].ReturnType
	})
	return drafts, nil
}

// DueDate places dueDay in the month after the period and rolls weekends forward.
func DueDate(p Period, dueDay int) time.Time {
	return RollForward(time.Date(p.Year, p.Month+1, dueDay, 0, 0, 0, 0, time.UTC))
}

// RollForward moves Saturdays and Sundays to the following Monday.
func RollForward(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, 2)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}
