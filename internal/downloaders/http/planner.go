package pdlhttp

import "github.com/Spalmalo/parallel-download/internal/utils"

// Plan splits [0, total) into consecutive chunkSize ranges, the last one
// holding the remainder. A zero total yields one empty task and an unknown
// total yields one task spanning the whole stream.
func Plan(total, chunkSize int64) []utils.ChunkTask {
	if total < 0 {
		return PlanWhole(utils.UnknownLength)
	}
	if total == 0 {
		return []utils.ChunkTask{{Index: 0, Start: 0, End: -1}}
	}
	if chunkSize <= 0 || chunkSize >= total {
		return []utils.ChunkTask{{Index: 0, Start: 0, End: total - 1}}
	}
	count := (total + chunkSize - 1) / chunkSize
	tasks := make([]utils.ChunkTask, 0, count)
	for start := int64(0); start < total; start += chunkSize {
		end := min(start+chunkSize, total) - 1
		tasks = append(tasks, utils.ChunkTask{
			Index: len(tasks),
			Start: start,
			End:   end,
		})
	}
	return tasks
}

// PlanWhole is the single-stream plan used when the server ignores ranges.
func PlanWhole(total int64) []utils.ChunkTask {
	if total < 0 {
		return []utils.ChunkTask{{Index: 0, Start: 0, Whole: true, Open: true}}
	}
	return []utils.ChunkTask{{Index: 0, Start: 0, End: total - 1, Whole: true}}
}
