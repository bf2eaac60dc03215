package harness

// StepResult is what one step did.
type StepResult struct {
	// Step is the 1-based index of the step.
	Step   int    `json:"step"`
	Action string `json:"action"`

	// Executed lists the executed tasks in execution start order, as
	// "key (reason)".
	Executed []string `json:"executed,omitempty"`

	// Deferred lists the tasks the step deferred.
	Deferred []string `json:"deferred,omitempty"`

	// Deleted lists the tasks a gc step deleted.
	Deleted []string `json:"deleted,omitempty"`

	// Error is the error the step returned, with the project root
	// replaced by ".".
	Error string `json:"error,omitempty"`

	keys []string
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Files holds the final content of every project file outside the
	// store directory, by project-relative path.
	Files map[string]string `json:"files,omitempty"`

	// Observability holds the final state of every stored task.
	Observability map[string]string `json:"observability,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:          true,
		Files:         make(map[string]string),
		Observability: make(map[string]string),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Executed returns the executed task keys of every step, in order.
func (r *Result) Executed() []string {
	var keys []string
	for _, s := range r.Steps {
		keys = append(keys, s.keys...)
	}
	return keys
}
