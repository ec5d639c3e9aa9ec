// Package hitl collects operator verdicts at workflow checkpoints.
package hitl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Decision is an operator verdict on a paused workflow.
type Decision int

const (
	// Approve lets the workflow continue with the proposed output.
	Approve Decision = iota
	// Reject sends the workflow back for another attempt.
	Reject
	// Abort terminates the workflow.
	Abort
)

// String returns the lowercase name of the decision.
func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Approver obtains a verdict for content awaiting review.
type Approver interface {
	// Review presents the content and returns the operator's decision.
	// For Reject, the returned string may carry a hint to feed back
	// into the next attempt.
	Review(content string) (Decision, string, error)
}

// Console reads verdicts from an interactive terminal. "y" approves,
// "q" aborts, anything else rejects and is passed along as the hint.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsole creates a console approver over the given streams.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Review implements Approver.
func (c *Console) Review(content string) (Decision, string, error) {
	fmt.Fprintln(c.out, content)
	fmt.Fprint(c.out, "approve? [y = yes, q = quit, anything else = feedback] ")

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return Abort, "", fmt.Errorf("read verdict: %w", err)
	}
	line = strings.TrimSpace(line)

	switch strings.ToLower(line) {
	case "y", "yes":
		return Approve, "", nil
	case "q", "quit":
		return Abort, "", nil
	default:
		return Reject, line, nil
	}
}
