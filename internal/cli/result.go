package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/engine"
)

// Result is what every command prints.
type Result struct {
	Message     string                                 `json:"message,omitempty"`
	UserID      string                                 `json:"user_id,omitempty"`
	Collections []CollectionView                       `json:"collections,omitempty"`
	Reconciled  map[domain.Kind]engine.ReconcileResult `json:"reconciled,omitempty"`
	Settled     bool                                   `json:"settled"`

	kinds []domain.Kind
}

// CollectionView is one collection after the command settled.
type CollectionView struct {
	Kind  domain.Kind `json:"kind"`
	Count int         `json:"count"`
	Items []ItemView  `json:"items"`
}

// ItemView is an item with its sync state and any server warning.
type ItemView struct {
	domain.Item
	SyncState domain.SyncState `json:"sync_state"`
	Warning   *domain.Warning  `json:"warning,omitempty"`
}

func newResult(message string, kinds ...domain.Kind) *Result {
	return &Result{Message: message, kinds: kinds}
}

func (r *Result) fill(inv *invocation) {
	if cred := inv.manager.Cart().Engine.Credentials(); cred != nil {
		r.UserID = cred.UserID
	}
	for _, kind := range r.kinds {
		b, err := inv.manager.Bundle(kind)
		if err != nil {
			continue
		}
		state := b.Store.State()
		pending := b.Engine.Pending()

		view := CollectionView{Kind: kind, Count: b.Store.Count(), Items: make([]ItemView, 0, len(state.Items))}
		for _, item := range state.Items {
			iv := ItemView{Item: item, SyncState: syncState(item, pending)}
			if w, ok := state.Warnings[item.ProductID]; ok {
				iv.Warning = &w
			}
			view.Items = append(view.Items, iv)
		}
		r.Collections = append(r.Collections, view)
	}
}

func syncState(item domain.Item, pending map[string]domain.SyncState) domain.SyncState {
	if s, ok := pending[item.ProductID]; ok && s.IsPending() {
		return s
	}
	if item.RecordID != "" {
		return domain.StateConfirmed
	}
	return domain.StateAbsent
}

// String renders the text output.
func (r *Result) String() string {
	var b strings.Builder
	if r.Message != "" {
		fmt.Fprintln(&b, r.Message)
	}
	if r.UserID != "" {
		fmt.Fprintf(&b, "user: %s\n", r.UserID)
	}

	kinds := make([]domain.Kind, 0, len(r.Reconciled))
	for k := range r.Reconciled {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		res := r.Reconciled[k]
		fmt.Fprintf(&b, "%s: kept=%d confirmed=%d inserted=%d adopted=%d dropped=%d skipped=%d\n",
			k, res.Kept, res.Confirmed, res.Inserted, res.Adopted, res.Dropped, res.Skipped)
	}

	for _, c := range r.Collections {
		fmt.Fprintf(&b, "%s (%d)\n", c.Kind, c.Count)
		for _, item := range c.Items {
			name := item.Snapshot.Name
			if name == "" {
				name = "-"
			}
			line := fmt.Sprintf("  %-20s %-24s", item.ProductID, name)
			if c.Kind.Quantified() {
				line += fmt.Sprintf(" x%-3d", item.Quantity)
			}
			line += fmt.Sprintf(" %s", item.SyncState)
			if item.Warning != nil {
				line += fmt.Sprintf(" [%s: %s]", item.Warning.Code, item.Warning.Message)
			}
			fmt.Fprintln(&b, line)
		}
	}

	if !r.Settled {
		fmt.Fprintln(&b, "some changes had not reached the server when --wait elapsed")
	}
	return b.String()
}
