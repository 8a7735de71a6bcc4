package recurrence

// Frequency is a structured repeat period.
type Frequency struct {
	Unit     Unit `json:"unit"`
	Interval int  `json:"interval"`
}

var knownPeriods = map[int]Frequency{
	1:   {Daily, 1},
	7:   {Weekly, 1},
	14:  {Weekly, 2},
	30:  {Monthly, 1},
	31:  {Monthly, 1},
	60:  {Monthly, 2},
	61:  {Monthly, 2},
	90:  {Monthly, 3},
	91:  {Monthly, 3},
	180: {Monthly, 6},
	183: {Monthly, 6},
	365: {Yearly, 1},
	366: {Yearly, 1},
}

// FromDays converts a legacy "days between occurrences" value into a Frequency.
// The mapping is approximate and kept stable for existing data: anything that
// is not a known period or an exact multiple of a year, a 30-day month or a
// week stays daily (45 -> DAILY/45). Callers must pass days >= 1.
func FromDays(days int) Frequency {
	if f, ok := knownPeriods[days]; ok {
		return f
	}
	switch {
	case days%365 == 0:
		return Frequency{Yearly, days / 365}
	case days%30 == 0:
		return Frequency{Monthly, days / 30}
	case days%7 == 0:
		return Frequency{Weekly, days / 7}
	}
	return Frequency{Daily, days}
}
