package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNewTaskDefaults(t *testing.T) {
	task, err := NewTask("Write report", "", "", "u1", t0)
	require.NoError(t, err)

	assert.Equal(t, "Write report", task.Name)
	assert.False(t, task.Completed)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, CategoryWork, task.Category)
	assert.Equal(t, "u1", task.Owner)
	assert.Equal(t, t0, task.CreatedAt)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
	assert.True(t, task.ID.IsZero())
}

func TestNewTaskTrimsName(t *testing.T) {
	first, err := NewTask("  Buy milk  ", "low", "shopping", "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", first.Name)

	second, err := NewTask(first.Name, "low", "shopping", "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, first.Name, second.Name)
}

func TestNewTaskRejects(t *testing.T) {
	tests := []struct {
		name     string
		taskName string
		priority string
		category string
		owner    string
		want     error
	}{
		{"empty name", "", "", "", "u1", ErrNameRequired},
		{"blank name", " \t\n ", "", "", "u1", ErrNameRequired},
		{"unknown priority", "x", "urgent", "", "u1", ErrInvalidPriority},
		{"unknown category", "x", "", "errands", "u1", ErrInvalidCategory},
		{"missing owner", "x", "", "", "", ErrOwnerRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTask(tt.taskName, tt.priority, tt.category, tt.owner, t0)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestParseEnumsAreCaseInsensitive(t *testing.T) {
	p, err := ParsePriority(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	c, err := ParseCategory("Personal")
	require.NoError(t, err)
	assert.Equal(t, CategoryPersonal, c)
}

func TestPatchNormalize(t *testing.T) {
	var p TaskPatch
	assert.ErrorIs(t, p.Normalize(), ErrEmptyPatch)

	blank := "   "
	p = TaskPatch{Name: &blank}
	assert.ErrorIs(t, p.Normalize(), ErrNameRequired)

	padded := "  Renamed "
	p = TaskPatch{Name: &padded}
	require.NoError(t, p.Normalize())
	assert.Equal(t, "Renamed", *p.Name)
}

func TestPatchApplyAdvancesUpdatedAt(t *testing.T) {
	task, err := NewTask("Toggle me", "", "", "u1", t0)
	require.NoError(t, err)
	done, undone := true, false

	TaskPatch{Completed: &done}.Apply(task, t0)
	first := task.UpdatedAt
	assert.True(t, task.Completed)
	assert.True(t, first.After(t0))

	TaskPatch{Completed: &undone}.Apply(task, t0)
	assert.False(t, task.Completed)
	assert.True(t, task.UpdatedAt.After(first))
	assert.Equal(t, t0, task.CreatedAt)
}

func TestNextUpdatedAt(t *testing.T) {
	later := t0.Add(time.Second)
	assert.Equal(t, later, NextUpdatedAt(t0, later))
	assert.Equal(t, t0.Add(time.Millisecond), NextUpdatedAt(t0, t0))
	assert.Equal(t, t0.Add(time.Millisecond), NextUpdatedAt(t0, t0.Add(-time.Hour)))
}

func TestFilterMatches(t *testing.T) {
	done := true
	task := &Task{Name: "Buy Milk", Priority: PriorityLow, Category: CategoryShopping, Completed: true}

	assert.True(t, TaskFilter{}.Matches(task))
	assert.True(t, TaskFilter{Category: CategoryShopping, Completed: &done, Query: "milk"}.Matches(task))
	assert.False(t, TaskFilter{Priority: PriorityHigh}.Matches(task))
	assert.False(t, TaskFilter{Query: "bread"}.Matches(task))
}

func TestSortNewestFirstBreaksTiesByID(t *testing.T) {
	older := Task{ID: primitive.NewObjectIDFromTimestamp(t0), CreatedAt: t0}
	lowID := Task{ID: primitive.NewObjectIDFromTimestamp(t0), CreatedAt: t0.Add(time.Minute)}
	highID := Task{ID: primitive.NewObjectIDFromTimestamp(t0.Add(time.Hour)), CreatedAt: t0.Add(time.Minute)}

	tasks := []Task{older, lowID, highID}
	SortNewestFirst(tasks)

	assert.Equal(t, []primitive.ObjectID{highID.ID, lowID.ID, older.ID},
		[]primitive.ObjectID{tasks[0].ID, tasks[1].ID, tasks[2].ID})
}

func TestFilterPage(t *testing.T) {
	tasks := make([]Task, 5)
	assert.Len(t, TaskFilter{}.Page(tasks), 5)
	assert.Len(t, TaskFilter{Limit: 2}.Page(tasks), 2)
	assert.Len(t, TaskFilter{Offset: 4, Limit: 2}.Page(tasks), 1)
	assert.Empty(t, TaskFilter{Offset: 9}.Page(tasks))
}

func TestComputeStats(t *testing.T) {
	s := ComputeStats([]Task{
		{Priority: PriorityHigh, Category: CategoryWork, Completed: true},
		{Priority: PriorityMedium, Category: CategoryWork},
		{Priority: PriorityMedium, Category: CategoryShopping},
	})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 2, s.ByCategory[CategoryWork])
	assert.Equal(t, 0, s.ByCategory[CategoryPersonal])
	assert.Equal(t, 2, s.ByPriority[PriorityMedium])
}

func TestTaskJSONShape(t *testing.T) {
	task, err := NewTask("Write report", "", "", "u1", t0)
	require.NoError(t, err)
	task.ID = primitive.NewObjectID()

	b, err := json.Marshal(task)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, task.ID.Hex(), m["id"])
	assert.Equal(t, "medium", m["priority"])
	assert.Equal(t, "work", m["category"])
	assert.NotContains(t, m, "mock")
}
