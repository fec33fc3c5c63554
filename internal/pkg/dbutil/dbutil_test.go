package dbutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalize(t *testing.T) {
	q, args := Finalize("SELECT id FROM documents WHERE group_id=? ORDER BY id LIMIT ?,?", []interface{}{int64(7), 10, 20})
	require.Equal(t, "SELECT id FROM documents WHERE group_id=$1 ORDER BY id LIMIT $2 OFFSET $3", q)
	require.Equal(t, []interface{}{int64(7), 20, 10}, args)

	q, args = Finalize("SELECT 1 WHERE a=?", []interface{}{1})
	require.Equal(t, "SELECT 1 WHERE a=$1", q)
	require.Equal(t, []interface{}{1}, args)
}

func TestIn(t *testing.T) {
	q, args, err := In("SELECT id FROM documents WHERE status=? AND id IN (?)", "failed", []int64{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, "SELECT id FROM documents WHERE status=$1 AND id IN ($2, $3, $4)", q)
	require.Len(t, args, 4)

	_, _, err = In("SELECT id FROM documents WHERE id IN (?)", []int64{})
	require.Error(t, err)
}
