package feedback

import "sort"

// CalculateSuccessMetrics recomputes the trailing-window view wholesale.
// The success-rate denominator is every entry in the window, so actions the
// chat silently ignored count against the score.
func (s *Store) CalculateSuccessMetrics() Metrics {
	entries := s.windowEntries()

	m := Metrics{WindowDays: metricsWindowDays, TotalEntries: len(entries)}

	ratingSum, ratingCount := 0, 0
	byAction := make(map[string]*ActionStat)

	for _, e := range entries {
		stat := byAction[e.Action.Action]
		if stat == nil {
			stat = &ActionStat{Action: e.Action.Action}
			byAction[e.Action.Action] = stat
		}
		stat.Total++

		if e.Success() {
			m.Successes++
			stat.Successes++
		}
		if e.HasSample() {
			stat.Samples++
		}
		for _, f := range e.UserFeedback {
			ratingSum += f.Rating
			ratingCount++
		}
	}

	m.SuccessRate = float64(m.Successes) / float64(max(1, m.TotalEntries))
	if ratingCount > 0 {
		m.AverageRating = float64(ratingSum) / float64(ratingCount)
	}

	// Per-action ranking needs at least two feedback samples; one rating is
	// noise, not a signal.
	var ranked []ActionStat
	for _, stat := range byAction {
		stat.SuccessRate = float64(stat.Successes) / float64(max(1, stat.Total))
		fillActionFeedback(stat, entries)
		if stat.Samples >= 2 {
			ranked = append(ranked, *stat)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].SuccessRate != ranked[j].SuccessRate {
			return ranked[i].SuccessRate > ranked[j].SuccessRate
		}
		return ranked[i].Action < ranked[j].Action
	})

	const rankDepth = 3
	if len(ranked) > 0 {
		top := min(rankDepth, len(ranked))
		m.TopActions = append(m.TopActions, ranked[:top]...)
		bottomStart := max(0, len(ranked)-rankDepth)
		m.BottomActions = append(m.BottomActions, ranked[bottomStart:]...)
	}
	return m
}

// fillActionFeedback computes the rating and effectiveness averages for one
// action over the window entries.
func fillActionFeedback(stat *ActionStat, entries []Entry) {
	ratingSum, ratingCount := 0, 0
	effective, outcomes := 0, 0
	for _, e := range entries {
		if e.Action.Action != stat.Action {
			continue
		}
		for _, f := range e.UserFeedback {
			ratingSum += f.Rating
			ratingCount++
		}
		for _, o := range e.Outcomes {
			outcomes++
			if o.Effective {
				effective++
			}
		}
	}
	stat.RatingSamples = ratingCount
	if ratingCount > 0 {
		stat.AvgRating = float64(ratingSum) / float64(ratingCount)
	}
	stat.OutcomeSamples = outcomes
	if outcomes > 0 {
		stat.Effectiveness = float64(effective) / float64(outcomes)
	}
}
