package ranking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortByRecommendationIsStableDescending(t *testing.T) {
	t.Parallel()

	books := []Book{
		{ID: "A", WeeklyRecommendation: 100},
		{ID: "B", WeeklyRecommendation: 100},
		{ID: "C", WeeklyRecommendation: 50},
		{ID: "D", WeeklyRecommendation: 300},
		{ID: "E", WeeklyRecommendation: 50},
	}
	SortByRecommendation(books)

	ids := make([]string, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	require.Equal(t, []string{"D", "A", "B", "C", "E"}, ids)
}

func TestDefaultBookIsFullyPopulated(t *testing.T) {
	t.Parallel()

	b := DefaultBook("1035420986")
	require.Equal(t, "1035420986", b.ID)
	require.Contains(t, b.Name, "1035420986")
	require.Equal(t, UnknownAuthor, b.Author)
	require.Zero(t, b.WeeklyRecommendation)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	t.Parallel()

	b := Book{ID: "7", WeeklyRecommendation: -3}.Normalize()
	require.Equal(t, PlaceholderName("7"), b.Name)
	require.Equal(t, UnknownAuthor, b.Author)
	require.Zero(t, b.WeeklyRecommendation)

	kept := Book{ID: "8", Name: "诡秘之主", Author: "爱潜水的乌贼", WeeklyRecommendation: 12}.Normalize()
	require.Equal(t, "诡秘之主", kept.Name)
	require.Equal(t, "爱潜水的乌贼", kept.Author)
	require.Equal(t, 12, kept.WeeklyRecommendation)
}

func TestPersistedFormat(t *testing.T) {
	t.Parallel()

	data, err := MarshalBooks([]Book{{ID: "1035420986", Name: "深海余烬", Author: "远瞳", WeeklyRecommendation: 2110}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"1035420986","name":"深海余烬","author":"远瞳","weeklyRecommendation":2110}]`, string(data))

	empty, err := MarshalBooks(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(empty))
}

func TestUnmarshalBooksFillsDefaults(t *testing.T) {
	t.Parallel()

	books, err := UnmarshalBooks([]byte(`[{"id":"7","weeklyRecommendation":3}]`))
	require.NoError(t, err)
	require.Equal(t, []Book{{ID: "7", Name: "书籍7", Author: UnknownAuthor, WeeklyRecommendation: 3}}, books)

	_, err = UnmarshalBooks([]byte(`{"not":"an array"}`))
	require.Error(t, err)
}
