// Package notify renders terminal notifications for task outcomes. It is a
// push-only sink: it subscribes to completion and failure events and prints,
// nothing ever queries it.
package notify

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/planion/planion/internal/bus"
	"github.com/planion/planion/pkg/models"
)

// Notifier prints one line per task outcome.
type Notifier struct {
	out io.Writer
}

// New creates a Notifier writing to stdout.
func New() *Notifier {
	return &Notifier{out: os.Stdout}
}

// NewWithWriter creates a Notifier writing to the given writer (for tests).
func NewWithWriter(w io.Writer) *Notifier {
	return &Notifier{out: w}
}

// Attach subscribes the notifier to the bus.
func (n *Notifier) Attach(b *bus.Bus) {
	b.Subscribe(models.EventTaskCompleted, n.onCompleted)
	b.Subscribe(models.EventTaskFailed, n.onFailed)
	b.Subscribe(models.EventTaskStatusChanged, n.onStatusChanged)
}

func (n *Notifier) onCompleted(ev models.Event) {
	if ev.Task == nil {
		return
	}
	fmt.Fprintf(n.out, "%s %s (%s)\n",
		color.GreenString("✓ done"), ev.Task.Title, shortID(ev.TaskID))
}

func (n *Notifier) onFailed(ev models.Event) {
	if ev.Task == nil {
		return
	}
	reason := ev.Task.ContextString(models.ContextKeyStatusReason)
	if reason == "" {
		reason = "no reason recorded"
	}
	fmt.Fprintf(n.out, "%s %s (%s): %s\n",
		color.RedString("✗ failed"), ev.Task.Title, shortID(ev.TaskID), reason)
}

// onStatusChanged surfaces the states that need a human: approval gates and
// blockers. Routine transitions stay quiet.
func (n *Notifier) onStatusChanged(ev models.Event) {
	if ev.Task == nil {
		return
	}
	switch ev.NewStatus {
	case models.TaskStatusWaitingApproval:
		fmt.Fprintf(n.out, "%s %s (%s) awaits approval\n",
			color.YellowString("? approval"), ev.Task.Title, shortID(ev.TaskID))
	case models.TaskStatusBlocked:
		fmt.Fprintf(n.out, "%s %s (%s): %s\n",
			color.YellowString("! blocked"), ev.Task.Title, shortID(ev.TaskID),
			ev.Task.ContextString(models.ContextKeyBlocker))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
