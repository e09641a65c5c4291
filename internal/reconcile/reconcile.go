// Package reconcile merges the expanded occurrences of both event
// collections into the canonical occurrence set.
package reconcile

import (
	appLog "appdate/internal/log"
	"appdate/internal/model"
	"appdate/internal/recurrence"
)

// Result is the canonical occurrence set plus bookkeeping about how it was
// built.
type Result struct {
	// Occurrences holds one occurrence per (date, title) key. The order is
	// stable for identical input but carries no meaning.
	Occurrences []model.Occurrence
	// Collisions counts overwritten occurrences.
	Collisions int
	// Truncated lists ids of series that hit the expansion step cap.
	Truncated []string
}

// Reconcile expands every manual event, then every synced event, and keys
// the occurrences by (date, title). An occurrence whose key is already taken
// replaces the earlier one, so a synced occurrence wins over a manual one on
// the same date with the same title, and within one collection the later
// record wins.
func Reconcile(exp *recurrence.Expander, manual, synced []model.Event) Result {
	var res Result
	slots := make(map[model.MergeKey]int)

	for _, events := range [][]model.Event{manual, synced} {
		for _, ev := range events {
			series := exp.ExpandSeries(ev, recurrence.Window{})
			if series.Truncated {
				res.Truncated = append(res.Truncated, ev.ID)
			}
			for _, occ := range series.Occurrences {
				key := occ.Key()
				if i, ok := slots[key]; ok {
					appLog.Debug("reconcile: occurrence replaced",
						"date", key.Date,
						"title", key.Title,
						"replaced_id", res.Occurrences[i].EventID,
						"replaced_source", res.Occurrences[i].Source,
						"winner_id", occ.EventID,
						"winner_source", occ.Source,
					)
					res.Occurrences[i] = occ
					res.Collisions++
					continue
				}
				slots[key] = len(res.Occurrences)
				res.Occurrences = append(res.Occurrences, occ)
			}
		}
	}

	return res
}

// FromSnapshot reconciles both collections of snap.
func FromSnapshot(exp *recurrence.Expander, snap model.Snapshot) Result {
	return Reconcile(exp, snap.Manual, snap.Synced)
}
