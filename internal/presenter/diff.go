package presenter

import "github.com/courierclub/courier/internal/verification"

// ItemChange is one line of the change summary shown to the customer.
// From is nil for additions, To is nil for removals.
type ItemChange struct {
	Name string             `json:"name"`
	From *verification.Item `json:"from,omitempty"`
	To   *verification.Item `json:"to,omitempty"`
}

// Diff summarizes what the rider changed, grouped the way the dialog
// renders it. Unchanged lines are omitted entirely.
type Diff struct {
	Added    []ItemChange `json:"added,omitempty"`
	Removed  []ItemChange `json:"removed,omitempty"`
	Modified []ItemChange `json:"modified,omitempty"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// DiffItems compares two item lists keyed by item name. A name present only
// in updated is an addition, only in original a removal, and in both with a
// different quantity or price a modification. Order follows the updated list
// for additions and modifications and the original list for removals.
func DiffItems(original, updated []verification.Item) Diff {
	byName := make(map[string]verification.Item, len(original))
	for _, item := range original {
		byName[item.Name] = item
	}
	seen := make(map[string]bool, len(updated))

	var diff Diff
	for _, item := range updated {
		seen[item.Name] = true
		before, ok := byName[item.Name]
		if !ok {
			to := item
			diff.Added = append(diff.Added, ItemChange{Name: item.Name, To: &to})
			continue
		}
		if before.Quantity != item.Quantity || before.Price != item.Price {
			from, to := before, item
			diff.Modified = append(diff.Modified, ItemChange{Name: item.Name, From: &from, To: &to})
		}
	}
	for _, item := range original {
		if !seen[item.Name] {
			from := item
			diff.Removed = append(diff.Removed, ItemChange{Name: item.Name, From: &from})
		}
	}
	return diff
}
