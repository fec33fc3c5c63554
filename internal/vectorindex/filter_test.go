package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterWhere(t *testing.T) {
	require.Nil(t, And())
	require.Nil(t, And().Where())

	single := And(Eq("group_id", int64(3)))
	require.Equal(t, map[string]interface{}{
		"group_id": map[string]interface{}{"$eq": int64(3)},
	}, single.Where())

	both := And(In("document_id", int64(1), int64(2)), Eq("group_id", int64(3)))
	require.Equal(t, map[string]interface{}{
		"$and": []interface{}{
			map[string]interface{}{"document_id": map[string]interface{}{"$in": []interface{}{int64(1), int64(2)}}},
			map[string]interface{}{"group_id": map[string]interface{}{"$eq": int64(3)}},
		},
	}, both.Where())
}

func TestFilterMatch(t *testing.T) {
	f := And(In("document_id", int64(1), int64(2)), Eq("group_id", 3))
	require.True(t, f.Match(map[string]interface{}{"document_id": float64(2), "group_id": int64(3)}))
	require.False(t, f.Match(map[string]interface{}{"document_id": float64(4), "group_id": int64(3)}))
	require.False(t, f.Match(map[string]interface{}{"document_id": int64(1)}))
	require.False(t, f.Match(nil))

	var none *Filter
	require.True(t, none.Match(nil))
	require.True(t, none.IsEmpty())
}

func TestFilterSQL(t *testing.T) {
	where, args := filterSQL(And(In("document_id", int64(1), 2.0), Eq("filename", "a.txt")), []interface{}{"vec", 10})
	require.Equal(t, " WHERE metadata->>$3::text = ANY($4::text[]) AND metadata->>$5::text = $6", where)
	require.Equal(t, []interface{}{"vec", 10, "document_id", []string{"1", "2"}, "filename", "a.txt"}, args)

	where, args = filterSQL(nil, nil)
	require.Empty(t, where)
	require.Empty(t, args)
}

func TestScore(t *testing.T) {
	require.Equal(t, 1.0, Score(0))
	require.Equal(t, 0.5, Score(1))
	require.Equal(t, 1.0, Score(-3))
	require.InDelta(t, 0.2, Score(4), 1e-9)
}
