package statistic

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemMerge(t *testing.T) {
	a := &Item{EntityClassName: "Order", Created: 3, Updated: 1}
	b := &Item{EntityClassName: "Order", Created: 2, Deleted: 5}

	a.Merge(b)

	assert.Equal(t, int64(5), a.Created)
	assert.Equal(t, int64(1), a.Updated)
	assert.Equal(t, int64(5), a.Deleted)
	// Source is untouched
	assert.Equal(t, int64(2), b.Created)
}

func TestAppendCreatesClassEntry(t *testing.T) {
	acc := NewAccumulator(uuid.New(), uuid.New())
	require.True(t, acc.Empty())

	acc.Append(&Item{EntityClassName: "Order", Created: 1})
	acc.Append(&Item{EntityClassName: "Order", Updated: 2})
	acc.Append(&Item{EntityClassName: "Payment", Deleted: 3})

	require.Len(t, acc.ClassStatistics, 2)
	assert.Equal(t, int64(1), acc.ClassStatistics["Order"].Created)
	assert.Equal(t, int64(2), acc.ClassStatistics["Order"].Updated)
	assert.Equal(t, int64(3), acc.ClassStatistics["Payment"].Deleted)
}

func TestAppendDoesNotAliasSource(t *testing.T) {
	acc := NewAccumulator(uuid.New(), uuid.New())
	src := &Item{EntityClassName: "Order", Created: 1}

	acc.Append(src)
	src.Created = 100

	assert.Equal(t, int64(1), acc.ClassStatistics["Order"].Created)
}

func TestNewFlushBatchCopiesMap(t *testing.T) {
	perClass := map[string]*Item{"Order": {EntityClassName: "Order", Created: 1}}
	batch := NewFlushBatch(42, perClass)

	delete(perClass, "Order")

	require.Contains(t, batch.ClassStatistics, "Order")
	assert.Equal(t, int64(42), batch.RevisionTo)
}

// Merging the same set of items in any order must produce identical totals.
func TestMergeOrderIndependence(t *testing.T) {
	classes := []string{"Order", "Payment", "Delivery"}
	items := make([]*Item, 0, 30)
	for n := 0; n < 30; n++ {
		items = append(items, &Item{
			EntityClassName: classes[n%len(classes)],
			Created:         int64(n % 4),
			Updated:         int64(n % 3),
			Deleted:         int64(n % 2),
		})
	}

	reference := NewAccumulator(uuid.New(), uuid.New())
	for _, item := range items {
		reference.Append(item)
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]*Item, len(items))
		copy(shuffled, items)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		acc := NewAccumulator(uuid.New(), uuid.New())
		for _, item := range shuffled {
			acc.Append(item)
		}

		require.Len(t, acc.ClassStatistics, len(reference.ClassStatistics))
		for name, want := range reference.ClassStatistics {
			got := acc.ClassStatistics[name]
			require.NotNil(t, got, "missing class %s", name)
			assert.Equal(t, want.Created, got.Created)
			assert.Equal(t, want.Updated, got.Updated)
			assert.Equal(t, want.Deleted, got.Deleted)
		}
	}
}
