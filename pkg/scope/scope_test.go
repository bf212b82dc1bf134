package scope

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUnrestricted(t *testing.T) {
	f := Unrestricted()
	assert.True(t, f.IsUnrestricted())

	sql, args := f.SQL("t", nil, 0)
	assert.Equal(t, "TRUE", sql)
	assert.Nil(t, args)
}

func TestBuildFilter_Deterministic(t *testing.T) {
	a := BuildFilter([]string{"t1", "t2"}, "b1", DefaultOptions())
	b := BuildFilter([]string{"t1", "t2"}, "b1", DefaultOptions())
	assert.Equal(t, a, b)
	assert.False(t, a.IsUnrestricted())
}

func TestFilterSQL_SingleValued(t *testing.T) {
	f := BuildFilter([]string{"t1", "t2"}, "", DefaultOptions())

	sql, args := f.SQL("t", nil, 0)
	assert.Equal(t, "((t.territory_id IS NULL OR t.territory_id = ANY($1)))", sql)
	require.Len(t, args, 1)
	assert.Equal(t, pq.Array([]string{"t1", "t2"}), args[0])
}

func TestFilterSQL_EmptyScopeMatchesOnlyGlobal(t *testing.T) {
	f := BuildFilter(nil, "", DefaultOptions())

	sql, args := f.SQL("t", nil, 0)
	assert.Equal(t, "(t.territory_id IS NULL)", sql)
	assert.Empty(t, args)
}

func TestFilterSQL_BranchCombineAND(t *testing.T) {
	f := BuildFilter([]string{"t1"}, "b1", Options{Combine: CombineAND})

	sql, args := f.SQL("t", nil, 0)
	assert.Equal(t,
		"((t.territory_id IS NULL OR t.territory_id = ANY($1)) AND (t.branch_id IS NULL OR t.branch_id = $2))",
		sql)
	require.Len(t, args, 2)
	assert.Equal(t, "b1", args[1])
}

func TestFilterSQL_BranchCombineOR(t *testing.T) {
	f := BuildFilter([]string{"t1"}, "b1", Options{Combine: CombineOR})

	sql, _ := f.SQL("t", nil, 0)
	assert.Contains(t, sql, ") OR (")
}

func TestFilterSQL_ArgOffset(t *testing.T) {
	f := BuildFilter([]string{"t1"}, "b1", DefaultOptions())

	sql, args := f.SQL("t", nil, 3)
	assert.Contains(t, sql, "ANY($4)")
	assert.Contains(t, sql, "$5")
	assert.Len(t, args, 2)
}

func TestFilterSQL_JoinTable(t *testing.T) {
	join := &JoinSpec{Table: "post_territories", EntityColumn: "post_id", TerritoryColumn: "territory_id"}
	f := BuildFilter([]string{"t1"}, "", DefaultOptions())

	sql, args := f.SQL("p", join, 0)
	assert.Contains(t, sql, "NOT EXISTS (SELECT 1 FROM post_territories jt WHERE jt.post_id = p.id)")
	assert.Contains(t, sql, "jt.territory_id = ANY($1)")
	assert.Len(t, args, 1)
}

func TestFilterSQL_JoinTableEmptyScope(t *testing.T) {
	join := &JoinSpec{Table: "post_territories", EntityColumn: "post_id", TerritoryColumn: "territory_id"}
	f := BuildFilter(nil, "", DefaultOptions())

	sql, args := f.SQL("p", join, 0)
	assert.Equal(t, "(NOT EXISTS (SELECT 1 FROM post_territories jt WHERE jt.post_id = p.id))", sql)
	assert.Empty(t, args)
}

func TestAllowsTerritory(t *testing.T) {
	f := BuildFilter([]string{"t1", "t2"}, "", DefaultOptions())

	assert.True(t, f.AllowsTerritory(nil), "global rows always visible")
	assert.True(t, f.AllowsTerritory(strPtr("t1")))
	assert.False(t, f.AllowsTerritory(strPtr("t9")), "outside scope")

	assert.True(t, Unrestricted().AllowsTerritory(strPtr("anything")))
}
