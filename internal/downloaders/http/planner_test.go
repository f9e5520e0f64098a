package pdlhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

func TestPlan(t *testing.T) {
	t.Run("full chunks then remainder", func(t *testing.T) {
		tasks := Plan(250, 100)
		require.Len(t, tasks, 3)
		assert.Equal(t, utils.ChunkTask{Index: 0, Start: 0, End: 99}, tasks[0])
		assert.Equal(t, utils.ChunkTask{Index: 1, Start: 100, End: 199}, tasks[1])
		assert.Equal(t, utils.ChunkTask{Index: 2, Start: 200, End: 249}, tasks[2])
	})

	t.Run("exact multiple", func(t *testing.T) {
		tasks := Plan(300, 100)
		require.Len(t, tasks, 3)
		assert.EqualValues(t, 100, tasks[2].Length())
	})

	t.Run("chunk size at least total", func(t *testing.T) {
		for _, chunkSize := range []int64{100, 101, 1 << 30} {
			tasks := Plan(100, chunkSize)
			require.Len(t, tasks, 1)
			assert.Equal(t, utils.ChunkTask{Index: 0, Start: 0, End: 99}, tasks[0])
		}
	})

	t.Run("zero length", func(t *testing.T) {
		tasks := Plan(0, 100)
		require.Len(t, tasks, 1)
		assert.True(t, tasks[0].Empty())
		assert.False(t, tasks[0].Whole)
	})

	t.Run("unknown length", func(t *testing.T) {
		tasks := Plan(utils.UnknownLength, 100)
		require.Len(t, tasks, 1)
		assert.True(t, tasks[0].Whole)
		assert.True(t, tasks[0].Open)
		assert.Equal(t, utils.UnknownLength, tasks[0].Length())
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Plan(12345, 1000), Plan(12345, 1000))
	})
}

func TestPlanCoversEveryByteOnce(t *testing.T) {
	for _, total := range []int64{1, 2, 99, 100, 101, 1000, 4096, 1<<20 + 7} {
		for _, chunkSize := range []int64{1, 3, 100, 1024, 1 << 20} {
			tasks := Plan(total, chunkSize)
			expectedCount := (total + chunkSize - 1) / chunkSize
			require.Len(t, tasks, int(expectedCount), "total=%d chunk=%d", total, chunkSize)

			var next int64
			for i, task := range tasks {
				assert.Equal(t, i, task.Index)
				assert.Equal(t, next, task.Start, "total=%d chunk=%d index=%d", total, chunkSize, i)
				assert.LessOrEqual(t, task.Length(), chunkSize)
				assert.Positive(t, task.Length())
				if i < len(tasks)-1 {
					assert.Equal(t, chunkSize, task.Length())
				}
				next = task.End + 1
			}
			assert.Equal(t, total, next)
		}
	}
}

func TestPlanWhole(t *testing.T) {
	tasks := PlanWhole(500)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Whole)
	assert.False(t, tasks[0].Open)
	assert.EqualValues(t, 500, tasks[0].Length())

	tasks = PlanWhole(0)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Empty())
}
