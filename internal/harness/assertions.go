package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails. It carries the
// executed tasks of the whole run to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Executed []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nExecuted:\n")
	for i, key := range e.Executed {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, key)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against a finished run and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertExecutedCount:
		return assertExecutedCount(result, a)
	case AssertExecutedOrder:
		return assertExecutedOrder(result, a)
	case AssertNeverExecuted:
		return assertNeverExecuted(result, a)
	case AssertFileContent:
		return assertFileContent(result, a)
	case AssertFileAbsent:
		return assertFileAbsent(result, a)
	case AssertObservability:
		return assertObservability(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertExecutedCount checks that the task executed exactly Count times
// over all steps.
func assertExecutedCount(result *Result, a Assertion) error {
	executed := result.Executed()
	count := 0
	for _, key := range executed {
		if key == a.Task {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertExecutedCount,
			Expected: fmt.Sprintf("%s executed %d times", a.Task, a.Count),
			Actual:   fmt.Sprintf("executed %d times", count),
			Executed: executed,
		}
	}
	return nil
}

// assertExecutedOrder checks that the first executions of Tasks happen in
// the given order. Other executions may come in between.
func assertExecutedOrder(result *Result, a Assertion) error {
	executed := result.Executed()
	positions := make([]int, len(a.Tasks))
	for i, task := range a.Tasks {
		positions[i] = slices.Index(executed, task)
		if positions[i] < 0 {
			return &AssertionError{
				Type:     AssertExecutedOrder,
				Expected: fmt.Sprintf("all tasks executed: %v", a.Tasks),
				Actual:   fmt.Sprintf("%s never executed", task),
				Executed: executed,
			}
		}
	}
	for i := 1; i < len(a.Tasks); i++ {
		if positions[i-1] >= positions[i] {
			return &AssertionError{
				Type:     AssertExecutedOrder,
				Expected: fmt.Sprintf("tasks executed in order: %v", a.Tasks),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					a.Tasks[i-1], positions[i-1]+1, a.Tasks[i], positions[i]+1),
				Executed: executed,
			}
		}
	}
	return nil
}

func assertNeverExecuted(result *Result, a Assertion) error {
	executed := result.Executed()
	if i := slices.Index(executed, a.Task); i >= 0 {
		return &AssertionError{
			Type:     AssertNeverExecuted,
			Expected: fmt.Sprintf("%s never executed", a.Task),
			Actual:   fmt.Sprintf("executed at pos %d", i+1),
			Executed: executed,
		}
	}
	return nil
}

func assertFileContent(result *Result, a Assertion) error {
	content, ok := result.Files[a.Path]
	switch {
	case !ok:
		return &AssertionError{
			Type:     AssertFileContent,
			Expected: fmt.Sprintf("%s contains %q", a.Path, a.Content),
			Actual:   "file does not exist",
			Executed: result.Executed(),
		}
	case content != a.Content:
		return &AssertionError{
			Type:     AssertFileContent,
			Expected: fmt.Sprintf("%s contains %q", a.Path, a.Content),
			Actual:   fmt.Sprintf("contains %q", content),
			Executed: result.Executed(),
		}
	}
	return nil
}

func assertFileAbsent(result *Result, a Assertion) error {
	if _, ok := result.Files[a.Path]; ok {
		return &AssertionError{
			Type:     AssertFileAbsent,
			Expected: fmt.Sprintf("%s does not exist", a.Path),
			Actual:   "file exists",
			Executed: result.Executed(),
		}
	}
	return nil
}

// assertObservability checks the final state of a task. A task the store
// does not know counts as unobserved.
func assertObservability(result *Result, a Assertion) error {
	state, ok := result.Observability[a.Task]
	if !ok {
		state = "unobserved"
	}
	if state != a.State {
		return &AssertionError{
			Type:     AssertObservability,
			Expected: fmt.Sprintf("%s is %s", a.Task, a.State),
			Actual:   state,
			Executed: result.Executed(),
		}
	}
	return nil
}
