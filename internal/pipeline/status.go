package pipeline

import (
	"context"
	"os"
	"reflect"
	"strings"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/store"
)

// TargetStatus describes what the store knows about one target.
type TargetStatus struct {
	Name          string `json:"name"`
	Output        string `json:"output"`
	Built         bool   `json:"built"`
	Changed       bool   `json:"changed"`
	Observability string `json:"observability"`
	Deferred      bool   `json:"deferred"`
	OutputExists  bool   `json:"output_exists"`
}

// Status summarizes the store of a project.
type Status struct {
	Tasks       int            `json:"tasks"`
	SourceFiles int            `json:"source_files"`
	Deferred    int            `json:"deferred"`
	Targets     []TargetStatus `json:"targets"`

	// Removed lists stored targets that are no longer configured.
	Removed []string `json:"removed,omitempty"`
}

// Status reads the state of every configured target from s. Changed is set
// when the stored input differs from the configured target, so the next
// build executes it.
func (p *Pipeline) Status(s store.Store) Status {
	tx := s.ReadTxn()
	defer tx.Close()

	st := Status{
		Tasks:       tx.NumTasks(),
		SourceFiles: tx.NumSourceFiles(),
		Deferred:    len(tx.DeferredTasks()),
	}
	for _, t := range p.cfg.Targets {
		key := p.concat.Task(t).Key()
		ts := TargetStatus{Name: t.Name, Output: t.Output, Observability: ir.Unobserved.String()}
		if data, ok := tx.Data(key); ok {
			ts.Built = true
			ts.Changed = !reflect.DeepEqual(data.Input, t)
			ts.Observability = data.Observability.String()
			ts.Deferred = tx.IsDeferred(key)
		}
		if _, err := os.Stat(p.cfg.Abs(t.Output)); err == nil {
			ts.OutputExists = true
		}
		st.Targets = append(st.Targets, ts)
	}
	for _, key := range tx.Tasks() {
		if key.DefID != ConcatDefID {
			continue
		}
		if _, ok := p.cfg.Target(key.ID); !ok {
			st.Removed = append(st.Removed, key.ID)
		}
	}
	return st
}

// Collect deletes unobserved tasks from s. With deleteOutputs, the files
// those tasks wrote are removed too, as long as they lie inside the project
// root.
func (p *Pipeline) Collect(ctx context.Context, s *engine.Session, deleteOutputs bool) ([]ir.TaskKey, error) {
	var shouldDeleteProvided func(ir.TaskKey, resource.Resource) bool
	if deleteOutputs {
		root := p.cfg.Root + string(os.PathSeparator)
		shouldDeleteProvided = func(_ ir.TaskKey, res resource.Resource) bool {
			return strings.HasPrefix(res.Key().ID, root)
		}
	}
	return s.DeleteUnobservedTasks(ctx, nil, shouldDeleteProvided)
}
