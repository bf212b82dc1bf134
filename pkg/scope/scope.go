package scope

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Combine selects how the territory and branch conditions are joined.
type Combine string

const (
	CombineAND Combine = "AND"
	CombineOR  Combine = "OR"
)

// Options tunes filter construction. The territory/branch combination policy
// is deliberately configurable; product rules differ per surface.
type Options struct {
	Combine Combine
}

// DefaultOptions joins territory and branch conditions with AND.
func DefaultOptions() Options {
	return Options{Combine: CombineAND}
}

// JoinSpec describes a many-to-many territory tagging table for entities
// that carry multiple territories instead of a single foreign key.
type JoinSpec struct {
	Table           string // e.g. "post_territories"
	EntityColumn    string // e.g. "post_id"
	TerritoryColumn string // e.g. "territory_id"
}

// Filter is a derived, ephemeral predicate over territorial fields. The zero
// value matches only global rows; use Unrestricted for the universal filter.
type Filter struct {
	TerritoryIDs []string
	BranchID     string
	Combine      Combine

	all bool
}

// Unrestricted returns the universally permissive filter used for the top
// administrative role.
func Unrestricted() Filter {
	return Filter{all: true}
}

// IsUnrestricted reports whether the filter matches everything.
func (f Filter) IsUnrestricted() bool {
	return f.all
}

// BuildFilter derives the predicate for a caller's effective scope. Pure: no
// I/O, deterministic. An empty territory list means the caller only sees
// global rows (territory_id IS NULL), not everything.
func BuildFilter(territoryIDs []string, branchID string, opts Options) Filter {
	combine := opts.Combine
	if combine == "" {
		combine = CombineAND
	}
	return Filter{
		TerritoryIDs: territoryIDs,
		BranchID:     branchID,
		Combine:      combine,
	}
}

// SQL renders the filter as a WHERE fragment with $n placeholders starting
// at argOffset+1. A nil join means the entity carries a single nullable
// territory_id column; a non-nil join switches to the tagging-table shape.
// Unrestricted filters render as TRUE so callers can splice unconditionally.
func (f Filter) SQL(alias string, join *JoinSpec, argOffset int) (string, []interface{}) {
	if f.all {
		return "TRUE", nil
	}

	var conds []string
	var args []interface{}
	n := argOffset

	if join == nil {
		if len(f.TerritoryIDs) > 0 {
			n++
			conds = append(conds, fmt.Sprintf("(%s.territory_id IS NULL OR %s.territory_id = ANY($%d))", alias, alias, n))
			args = append(args, pq.Array(f.TerritoryIDs))
		} else {
			conds = append(conds, fmt.Sprintf("%s.territory_id IS NULL", alias))
		}
	} else {
		untagged := fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s jt WHERE jt.%s = %s.id)",
			join.Table, join.EntityColumn, alias)
		if len(f.TerritoryIDs) > 0 {
			n++
			tagged := fmt.Sprintf("EXISTS (SELECT 1 FROM %s jt WHERE jt.%s = %s.id AND jt.%s = ANY($%d))",
				join.Table, join.EntityColumn, alias, join.TerritoryColumn, n)
			conds = append(conds, fmt.Sprintf("(%s OR %s)", untagged, tagged))
			args = append(args, pq.Array(f.TerritoryIDs))
		} else {
			conds = append(conds, untagged)
		}
	}

	if f.BranchID != "" {
		n++
		conds = append(conds, fmt.Sprintf("(%s.branch_id IS NULL OR %s.branch_id = $%d)", alias, alias, n))
		args = append(args, f.BranchID)
	}

	combine := string(f.Combine)
	if combine == "" {
		combine = string(CombineAND)
	}
	return "(" + strings.Join(conds, " "+combine+" ") + ")", args
}

// AllowsTerritory reports whether a single entity territory assignment falls
// inside the filter. Used on the write path before applying a mutation.
func (f Filter) AllowsTerritory(territoryID *string) bool {
	if f.all {
		return true
	}
	if territoryID == nil {
		return true // global rows are visible to everyone
	}
	for _, id := range f.TerritoryIDs {
		if id == *territoryID {
			return true
		}
	}
	return false
}
