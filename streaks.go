package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DebtLevel buckets a month-end balance into one of five ordered bands.
type DebtLevel int

const (
	LevelN0 DebtLevel = iota
	LevelN1
	LevelN2
	LevelN3
	LevelN4
)

func (l DebtLevel) String() string {
	return [...]string{"N0", "N1", "N2", "N3", "N4"}[l]
}

func (l DebtLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// classifyBalance maps a balance to its debt level. Thresholds are inclusive
// on the lower edge: exactly 300000 is N1, not N0.
func classifyBalance(balance int64) DebtLevel {
	switch {
	case balance < 300000:
		return LevelN0
	case balance < 1000000:
		return LevelN1
	case balance < 3000000:
		return LevelN2
	case balance < 5000000:
		return LevelN3
	default:
		return LevelN4
	}
}

type BalanceObservation struct {
	ClientID string
	MonthEnd time.Time
	Balance  int64
}

// WithdrawalRecord marks a client as inactive from the withdrawal month
// onward. A zero WithdrawalDate means the client is still active.
type WithdrawalRecord struct {
	ClientID       string
	WithdrawalDate time.Time
}

// ClientRange is the usable observation window for one client.
type ClientRange struct {
	ClientID     string
	FirstMonth   time.Time
	EffectiveEnd time.Time
}

type TimelineEntry struct {
	MonthEnd time.Time
	Level    DebtLevel
}

// Streak is a maximal run of consecutive months at the same debt level.
type Streak struct {
	ClientID   string
	Level      DebtLevel
	StartMonth time.Time
	EndMonth   time.Time
	Length     int
}

type StreakResult struct {
	ClientID string
	Length   int
	EndMonth time.Time
	Level    DebtLevel
}

// MarshalJSON emits fecha_fin as a plain date, matching the results CSV.
func (r StreakResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ClientID string    `json:"identificacion"`
		Length   int       `json:"racha"`
		EndMonth string    `json:"fecha_fin"`
		Level    DebtLevel `json:"nivel"`
	}{r.ClientID, r.Length, formatDate(r.EndMonth), r.Level})
}

// monthEnd returns the last calendar day of t's month, at UTC midnight.
func monthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

// nextMonthEnd steps exactly one calendar month forward from a month end.
func nextMonthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+2, 0, 0, 0, 0, 0, time.UTC)
}

// prevMonthEnd returns the last day of the month before t's month.
func prevMonthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 0, 0, 0, 0, 0, time.UTC)
}

// baseMonthEnd resolves the last complete month as of the reference date.
// The reference month itself only counts once its final day has been reached;
// a partially elapsed month never does.
func baseMonthEnd(ref time.Time) time.Time {
	end := monthEnd(ref)
	if dateOnly(ref).Equal(end) {
		return end
	}
	return prevMonthEnd(ref)
}

// resolveClientRange computes the window [first observed month, effective
// end] for one client. ok is false when the client's first observation
// postdates the usable window, which excludes the client entirely.
func resolveClientRange(clientID string, firstMonth, withdrawal, ref time.Time) (ClientRange, bool) {
	end := baseMonthEnd(ref)
	if !withdrawal.IsZero() {
		withdrawalEnd := prevMonthEnd(withdrawal)
		if withdrawalEnd.Before(end) {
			end = withdrawalEnd
		}
	}
	if firstMonth.After(end) {
		return ClientRange{}, false
	}
	return ClientRange{ClientID: clientID, FirstMonth: firstMonth, EffectiveEnd: end}, true
}

// buildTimeline expands a client range into exactly one entry per calendar
// month, inclusive of both bounds. Months without an observation fall back to
// the default level N0.
func buildTimeline(rng ClientRange, balances map[time.Time]int64) []TimelineEntry {
	var entries []TimelineEntry
	for cur := rng.FirstMonth; !cur.After(rng.EffectiveEnd); cur = nextMonthEnd(cur) {
		level := LevelN0
		if balance, ok := balances[cur]; ok {
			level = classifyBalance(balance)
		}
		entries = append(entries, TimelineEntry{MonthEnd: cur, Level: level})
	}
	return entries
}

// segmentTimeline run-length-encodes an ordered monthly timeline into maximal
// same-level streaks. Any level change opens a new streak; the first entry
// always does.
func segmentTimeline(clientID string, timeline []TimelineEntry) []Streak {
	var runs []Streak
	for _, entry := range timeline {
		if len(runs) > 0 {
			last := &runs[len(runs)-1]
			if last.Level == entry.Level {
				last.EndMonth = entry.MonthEnd
				last.Length++
				continue
			}
		}
		runs = append(runs, Streak{
			ClientID:   clientID,
			Level:      entry.Level,
			StartMonth: entry.MonthEnd,
			EndMonth:   entry.MonthEnd,
			Length:     1,
		})
	}
	return runs
}

// selectStreak picks the winning run among those reaching the minimum
// length: longest first, ties broken by the later end month. ok is false
// when no run qualifies, which is a normal outcome, not an error.
func selectStreak(runs []Streak, minMonths int) (Streak, bool) {
	var best Streak
	found := false
	for _, run := range runs {
		if run.Length < minMonths {
			continue
		}
		if !found || run.Length > best.Length ||
			(run.Length == best.Length && run.EndMonth.After(best.EndMonth)) {
			best = run
			found = true
		}
	}
	return best, found
}

// computeStreaks runs the whole per-client pipeline: group observations,
// resolve each client's window, densify the timeline, segment it into runs
// and select the winner. Returns at most one row per client, sorted by
// client id. Conflicting duplicate observations are an upstream data-quality
// error and abort the run.
func computeStreaks(historia []BalanceObservation, retiros []WithdrawalRecord, fechaBase time.Time, minMonths int) ([]StreakResult, error) {
	if minMonths <= 0 {
		return nil, fmt.Errorf("minimum streak length must be positive, got %d", minMonths)
	}

	balances := map[string]map[time.Time]int64{}
	firstMonths := map[string]time.Time{}
	for _, obs := range historia {
		byMonth, ok := balances[obs.ClientID]
		if !ok {
			byMonth = map[time.Time]int64{}
			balances[obs.ClientID] = byMonth
		}
		if existing, dup := byMonth[obs.MonthEnd]; dup && existing != obs.Balance {
			return nil, fmt.Errorf("conflicting balances for client %s at %s: %d vs %d",
				obs.ClientID, formatDate(obs.MonthEnd), existing, obs.Balance)
		}
		byMonth[obs.MonthEnd] = obs.Balance
		if first, ok := firstMonths[obs.ClientID]; !ok || obs.MonthEnd.Before(first) {
			firstMonths[obs.ClientID] = obs.MonthEnd
		}
	}

	// Clients appearing only in retiros have no first month and are skipped
	// by construction.
	withdrawals := make(map[string]time.Time, len(retiros))
	for _, record := range retiros {
		withdrawals[record.ClientID] = record.WithdrawalDate
	}

	results := make([]StreakResult, 0, len(balances))
	for clientID, byMonth := range balances {
		rng, ok := resolveClientRange(clientID, firstMonths[clientID], withdrawals[clientID], fechaBase)
		if !ok {
			continue
		}
		timeline := buildTimeline(rng, byMonth)
		best, ok := selectStreak(segmentTimeline(clientID, timeline), minMonths)
		if !ok {
			continue
		}
		results = append(results, StreakResult{
			ClientID: clientID,
			Length:   best.Length,
			EndMonth: best.EndMonth,
			Level:    best.Level,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].ClientID < results[j].ClientID
	})
	return results, nil
}
