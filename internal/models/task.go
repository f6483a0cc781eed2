package models

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Category of a task.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryShopping Category = "shopping"
)

var (
	ErrNameRequired    = errors.New("task name is required")
	ErrInvalidPriority = errors.New("priority must be one of: low, medium, high")
	ErrInvalidCategory = errors.New("category must be one of: work, personal, shopping")
	ErrOwnerRequired   = errors.New("task owner is required")
	ErrEmptyPatch      = errors.New("nothing to update: provide completed and/or name")
)

// IsValidationError reports whether err was caused by client input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrOwnerRequired) ||
		errors.Is(err, ErrEmptyPatch)
}

// Task is a single to-do item owned by one user.
type Task struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name" validate:"required"`
	Completed bool               `bson:"completed" json:"completed"`
	Priority  Priority           `bson:"priority" json:"priority" validate:"oneof=low medium high"`
	Category  Category           `bson:"category" json:"category" validate:"oneof=work personal shopping"`
	Owner     string             `bson:"owner" json:"owner" validate:"required"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`

	// Mock marks tasks served from the process-local fallback store.
	Mock bool `bson:"-" json:"mock,omitempty"`
}

var validate = validator.New()

// Validate checks the fields every stored task must satisfy.
func (t *Task) Validate() error {
	err := validate.Struct(t)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	switch verrs[0].Field() {
	case "Name":
		return ErrNameRequired
	case "Priority":
		return ErrInvalidPriority
	case "Category":
		return ErrInvalidCategory
	case "Owner":
		return ErrOwnerRequired
	}
	return fmt.Errorf("invalid task: %w", err)
}

// ParsePriority normalizes raw input; empty input yields the default.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", ErrInvalidPriority
}

// ParseCategory normalizes raw input; empty input yields the default.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CategoryWork, nil
	case CategoryWork, CategoryPersonal, CategoryShopping:
		return c, nil
	}
	return "", ErrInvalidCategory
}

// NewTask builds a pending task with trimmed name and defaulted enums.
// ID is left zero; the store assigns it.
func NewTask(name, priority, category, owner string, now time.Time) (*Task, error) {
	p, err := ParsePriority(priority)
	if err != nil {
		return nil, err
	}
	c, err := ParseCategory(category)
	if err != nil {
		return nil, err
	}
	now = now.UTC().Truncate(time.Millisecond)
	t := &Task{
		Name:      strings.TrimSpace(name),
		Priority:  p,
		Category:  c,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Completed *bool
	Name      *string
}

// Normalize trims the name and rejects empty patches and blank names.
func (p *TaskPatch) Normalize() error {
	if p.Completed == nil && p.Name == nil {
		return ErrEmptyPatch
	}
	if p.Name != nil {
		n := strings.TrimSpace(*p.Name)
		if n == "" {
			return ErrNameRequired
		}
		p.Name = &n
	}
	return nil
}

// Apply mutates t and bumps UpdatedAt so it strictly advances.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	t.UpdatedAt = NextUpdatedAt(t.UpdatedAt, now)
}

// NextUpdatedAt returns now at millisecond precision, or prev+1ms when now
// would not move the timestamp forward.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// TaskFilter narrows an owner's task list. Zero values match everything.
type TaskFilter struct {
	Category  Category
	Priority  Priority
	Completed *bool
	Query     string
	Limit     int
	Offset    int
}

// Matches reports whether t passes the filter predicates (paging excluded).
func (f TaskFilter) Matches(t *Task) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

// Key is a stable representation used for cache keys.
func (f TaskFilter) Key() string {
	completed := "any"
	if f.Completed != nil {
		completed = fmt.Sprint(*f.Completed)
	}
	return fmt.Sprintf("c=%s|p=%s|done=%s|q=%s|l=%d|o=%d",
		f.Category, f.Priority, completed, strings.ToLower(f.Query), f.Limit, f.Offset)
}

// SortNewestFirst orders by CreatedAt descending, ties broken by ID descending.
func SortNewestFirst(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return bytes.Compare(tasks[i].ID[:], tasks[j].ID[:]) > 0
	})
}

// Page applies offset and limit to an already ordered slice.
func (f TaskFilter) Page(tasks []Task) []Task {
	if f.Offset > 0 {
		if f.Offset >= len(tasks) {
			return []Task{}
		}
		tasks = tasks[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(tasks) {
		tasks = tasks[:f.Limit]
	}
	return tasks
}
