package workflow

import (
	"context"
	"errors"
	"fmt"
)

// TaskFunc is the body of a task.
type TaskFunc func(ctx context.Context) error

// Task is one unit of work in a DAG.
type Task struct {
	ID       string
	Upstream []string
	Run      TaskFunc

	// Description is shown by `dag` listings.
	Description string
}

// DAG is a named set of tasks and their dependencies.
type DAG struct {
	ID string

	tasks map[string]*Task
	order []string
	graph *Graph
}

// NewDAG creates an empty DAG.
func NewDAG(id string) *DAG {
	return &DAG{
		ID:    id,
		tasks: make(map[string]*Task),
		graph: NewGraph(),
	}
}

// AddTask registers a task. Upstream tasks may be added later; edges are
// resolved by Validate.
func (d *DAG) AddTask(t Task) error {
	if t.ID == "" {
		return errors.New("task ID is required")
	}
	if t.Run == nil {
		return fmt.Errorf("task %q has no Run func", t.ID)
	}
	if _, exists := d.tasks[t.ID]; exists {
		return fmt.Errorf("task %q already exists", t.ID)
	}

	task := t
	task.Upstream = append([]string(nil), t.Upstream...)
	d.tasks[t.ID] = &task
	d.order = append(d.order, t.ID)
	d.graph.AddNode(t.ID)
	return nil
}

// Validate resolves upstream references and rejects cycles.
func (d *DAG) Validate() error {
	for _, id := range d.order {
		for _, up := range d.tasks[id].Upstream {
			if _, ok := d.tasks[up]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", id, up)
			}
			if err := d.graph.AddEdge(up, id); err != nil {
				return fmt.Errorf("task %q: %w", id, err)
			}
		}
	}
	if hasCycle, path := d.graph.HasCycle(); hasCycle {
		return fmt.Errorf("dag %s: cycle detected: %v", d.ID, path)
	}
	return nil
}

// Task returns a task by ID.
func (d *DAG) Task(id string) (*Task, bool) {
	t, ok := d.tasks[id]
	return t, ok
}

// Tasks returns all tasks in the order they were added.
func (d *DAG) Tasks() []*Task {
	tasks := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		tasks = append(tasks, d.tasks[id])
	}
	return tasks
}

// Graph exposes the dependency graph. Edges are present only after Validate.
func (d *DAG) Graph() *Graph {
	return d.graph
}

// Levels validates the DAG and returns its execution levels.
func (d *DAG) Levels() ([][]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d.graph.Levels()
}
