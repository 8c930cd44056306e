package queue

import "github.com/rzpsarthak13/inventory-sync/internal/core"

// PruneHistory bounds a newest-first history log. When it holds more than
// limit entries, synced entries beyond the newest keepSynced are dropped.
// Entries in any other status are always kept, so the result may still exceed
// limit. A limit of 0 disables pruning.
func PruneHistory(history []*core.Operation, limit, keepSynced int) []*core.Operation {
	if limit <= 0 || len(history) <= limit {
		return history
	}

	pruned := make([]*core.Operation, 0, limit)
	synced := 0
	for _, op := range history {
		if op.Status == core.StatusSynced {
			synced++
			if synced > keepSynced {
				continue
			}
		}
		pruned = append(pruned, op)
	}
	return pruned
}
