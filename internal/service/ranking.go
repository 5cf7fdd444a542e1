package service

import (
	"sort"
	"strings"
	"time"

	"github.com/shiva/traits/internal/model"
)

// buildItinerary resolves legs to timestamps and derives the itinerary metrics.
func buildItinerary(legs []model.Leg, pricer Pricer) model.Itinerary {
	it := model.Itinerary{Legs: legs}
	for i := range it.Legs {
		it.Legs[i].PriceCents = pricer.LegPrice(it.Legs[i])
		it.EstimatedPriceCents += it.Legs[i].PriceCents
		if i > 0 {
			it.WaitingTime += minutesBetween(it.Legs[i-1].Arrival, it.Legs[i].Departure)
		}
	}
	it.NumberOfChanges = len(legs) - 1
	it.OverallTravelTime = minutesBetween(it.Departure(), it.Arrival())
	return it
}

func minutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}

func metric(it *model.Itinerary, c model.SortCriterion) int64 {
	switch c {
	case model.SortOverallTravelTime:
		return int64(it.OverallTravelTime)
	case model.SortChanges:
		return int64(it.NumberOfChanges)
	case model.SortWaitingTime:
		return int64(it.WaitingTime)
	case model.SortEstimatedPrice:
		return it.EstimatedPriceCents
	}
	panic("ranking: unknown sort criterion " + string(c))
}

// rankItineraries sorts in place by criterion. The direction applies to the
// criterion only; ties always fall back to earliest departure, then the
// station key sequence, then trains, schedules and service dates.
func rankItineraries(its []model.Itinerary, c model.SortCriterion, ascending bool) {
	sort.SliceStable(its, func(i, j int) bool {
		a, b := metric(&its[i], c), metric(&its[j], c)
		if a != b {
			if ascending {
				return a < b
			}
			return a > b
		}
		return tieLess(&its[i], &its[j])
	})
}

func tieLess(a, b *model.Itinerary) bool {
	if !a.Departure().Equal(b.Departure()) {
		return a.Departure().Before(b.Departure())
	}
	if sa, sb := stationSequence(a), stationSequence(b); sa != sb {
		return sa < sb
	}
	if ta, tb := trainSequence(a), trainSequence(b); ta != tb {
		return ta < tb
	}
	for i := 0; i < len(a.Legs) && i < len(b.Legs); i++ {
		la, lb := a.Legs[i], b.Legs[i]
		if la.ScheduleID != lb.ScheduleID {
			return la.ScheduleID < lb.ScheduleID
		}
		if la.ServiceDate != lb.ServiceDate {
			return la.ServiceDate.Before(lb.ServiceDate)
		}
	}
	return len(a.Legs) < len(b.Legs)
}

// stationSequence joins the canonical keys of every boarding station and
// the final destination, e.g. "i:1|s:B|i:7".
func stationSequence(it *model.Itinerary) string {
	parts := make([]string, 0, len(it.Legs)+1)
	for _, l := range it.Legs {
		parts = append(parts, l.From.String())
	}
	parts = append(parts, it.Legs[len(it.Legs)-1].To.String())
	return strings.Join(parts, "|")
}

func trainSequence(it *model.Itinerary) string {
	parts := make([]string, 0, len(it.Legs))
	for _, l := range it.Legs {
		parts = append(parts, l.TrainKey.String())
	}
	return strings.Join(parts, "|")
}
