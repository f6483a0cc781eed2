package models

import "time"

// Task event actions.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// TaskEvent is the message payload for Kafka, published after a persisted mutation.
type TaskEvent struct {
	Action     string    `json:"action"`
	TaskID     string    `json:"task_id"`
	Owner      string    `json:"owner"`
	Task       *Task     `json:"task,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TaskStats summarizes one owner's tasks.
type TaskStats struct {
	Total      int              `json:"total"`
	Completed  int              `json:"completed"`
	Pending    int              `json:"pending"`
	ByCategory map[Category]int `json:"byCategory"`
	ByPriority map[Priority]int `json:"byPriority"`
}

// ComputeStats counts tasks by completion, category and priority. Every enum
// value is present in the maps, even with a zero count.
func ComputeStats(tasks []Task) TaskStats {
	s := TaskStats{
		ByCategory: map[Category]int{CategoryWork: 0, CategoryPersonal: 0, CategoryShopping: 0},
		ByPriority: map[Priority]int{PriorityLow: 0, PriorityMedium: 0, PriorityHigh: 0},
	}
	for i := range tasks {
		s.Total++
		if tasks[i].Completed {
			s.Completed++
		}
		s.ByCategory[tasks[i].Category]++
		s.ByPriority[tasks[i].Priority]++
	}
	s.Pending = s.Total - s.Completed
	return s
}
