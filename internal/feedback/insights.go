package feedback

import (
	"fmt"
	"log"
	"sort"
)

const (
	lowRatingThreshold        = 2.5
	lowEffectivenessThreshold = 0.3
	lowPatternSuccess         = 0.4
	patternSampleFloor        = 3
	insufficientDataFloor     = 10
)

// GenerateLearningInsights recomputes the window aggregates and overwrites
// the rolling insights document.
func (s *Store) GenerateLearningInsights() *Insights {
	ins := s.ComputeInsights()
	if err := s.WriteInsights(ins); err != nil {
		log.Printf("[feedback] write insights warning: %v", err)
	}
	return ins
}

// ComputeInsights aggregates the window by (pattern type x severity band)
// and per-action averages, with fixed-threshold recommendations. Pure
// computation, nothing persisted.
func (s *Store) ComputeInsights() *Insights {
	entries := s.windowEntries()

	ins := &Insights{GeneratedAt: s.now()}

	type key struct {
		ptype string
		band  int
	}
	patternAgg := make(map[key]*PatternStat)
	actionAgg := make(map[string]*ActionStat)

	for _, e := range entries {
		if e.HasSample() {
			ins.TotalSamples++
		}

		stat := actionAgg[e.Action.Action]
		if stat == nil {
			stat = &ActionStat{Action: e.Action.Action}
			actionAgg[e.Action.Action] = stat
		}
		stat.Total++
		if e.HasSample() {
			stat.Samples++
		}
		if e.Success() {
			stat.Successes++
		}

		for _, p := range e.Action.Patterns {
			k := key{ptype: string(p.Type), band: p.Severity / 2}
			ps := patternAgg[k]
			if ps == nil {
				ps = &PatternStat{PatternType: k.ptype, SeverityBand: k.band}
				patternAgg[k] = ps
			}
			ps.Samples++
			if e.Success() {
				ps.Successes++
			}
		}
	}

	for _, ps := range patternAgg {
		ps.SuccessRate = float64(ps.Successes) / float64(max(1, ps.Samples))
		ins.PatternStats = append(ins.PatternStats, *ps)
	}
	sort.Slice(ins.PatternStats, func(i, j int) bool {
		a, b := ins.PatternStats[i], ins.PatternStats[j]
		if a.PatternType != b.PatternType {
			return a.PatternType < b.PatternType
		}
		return a.SeverityBand < b.SeverityBand
	})

	for _, stat := range actionAgg {
		stat.SuccessRate = float64(stat.Successes) / float64(max(1, stat.Total))
		fillActionFeedback(stat, entries)
		ins.ActionStats = append(ins.ActionStats, *stat)
	}
	sort.Slice(ins.ActionStats, func(i, j int) bool {
		return ins.ActionStats[i].Action < ins.ActionStats[j].Action
	})

	ins.Recommendations = recommendations(ins)
	return ins
}

func recommendations(ins *Insights) []string {
	var recs []string

	for _, stat := range ins.ActionStats {
		if stat.Samples == 0 {
			continue
		}
		if stat.RatingSamples > 0 && stat.AvgRating < lowRatingThreshold {
			recs = append(recs, fmt.Sprintf("reduce frequency of %s (average rating %.1f)", stat.Action, stat.AvgRating))
		}
		if stat.OutcomeSamples > 0 && stat.Effectiveness < lowEffectivenessThreshold {
			recs = append(recs, fmt.Sprintf("review parameters of %s (effectiveness %.0f%%)", stat.Action, stat.Effectiveness*100))
		}
	}

	for _, ps := range ins.PatternStats {
		if ps.Samples >= patternSampleFloor && ps.SuccessRate < lowPatternSuccess {
			recs = append(recs, fmt.Sprintf("review thresholds for %s patterns in severity band %d (success %.0f%%)",
				ps.PatternType, ps.SeverityBand, ps.SuccessRate*100))
		}
	}

	if ins.TotalSamples < insufficientDataFloor {
		recs = append(recs, fmt.Sprintf("insufficient feedback data (%d samples); conclusions are provisional", ins.TotalSamples))
	}
	return recs
}
