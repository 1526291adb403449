// Package observability exports gauges derived from the state document.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/fitstate/internal/domain"
	"example.com/fitstate/internal/selector"
	"example.com/fitstate/internal/store"
)

var (
	totalXPGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "progress",
		Name:      "total_xp",
		Help:      "Total experience points in the local state.",
	})
	rankTierGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "progress",
		Name:      "rank_tier",
		Help:      "Tier index of the current rank.",
	})
	streakGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "progress",
		Name:      "streak_days",
		Help:      "Workout streaks in days.",
	}, []string{"kind"})
	workoutsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "progress",
		Name:      "workouts",
		Help:      "Live workouts grouped by completion.",
	}, []string{"status"})
	lamportGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "store",
		Name:      "lamport",
		Help:      "Highest lamport stamp seen by the store.",
	})
)

func init() {
	prometheus.MustRegister(totalXPGauge, rankTierGauge, streakGauge, workoutsGauge, lamportGauge)
}

// Progress is the slice of state the gauges report.
type Progress struct {
	TotalXP       int64
	Tier          int
	CurrentStreak int
	BestStreak    int
	Completed     int
	Open          int
	Lamport       int64
}

// Watch keeps the gauges in step with st until the returned function is called.
func Watch(st *store.Store, sel *selector.Selectors) (stop func()) {
	project := func(s domain.State) Progress {
		p := Progress{
			TotalXP:       s.Gamification.TotalXP,
			Tier:          sel.Rank(s.Gamification.TotalXP).Tier,
			CurrentStreak: s.Gamification.CurrentStreak,
			BestStreak:    s.Gamification.BestStreak,
			Lamport:       s.Lamport,
		}
		for _, w := range s.Workouts {
			switch {
			case w.Deleted:
			case w.Completed:
				p.Completed++
			default:
				p.Open++
			}
		}
		return p
	}
	Record(project(st.State()))
	return store.Subscribe(st, project, Record)
}

// Record sets the gauges from p.
func Record(p Progress) {
	totalXPGauge.Set(float64(p.TotalXP))
	rankTierGauge.Set(float64(p.Tier))
	streakGauge.WithLabelValues("current").Set(float64(p.CurrentStreak))
	streakGauge.WithLabelValues("best").Set(float64(p.BestStreak))
	workoutsGauge.WithLabelValues("completed").Set(float64(p.Completed))
	workoutsGauge.WithLabelValues("open").Set(float64(p.Open))
	lamportGauge.Set(float64(p.Lamport))
}
