package rack

import (
	"fmt"
	"sync"

	"patchcore"
)

type (
	// Diagnostics is the advisory observer the query path reports misses to.
	// Implementations must never block and never alter control flow; the
	// reports are purely informational.
	Diagnostics interface {
		Report(key DiagKey, message string)
	}

	// DiagKey identifies one distinct failure condition. Reporters
	// deduplicate on it.
	DiagKey struct {
		Param string
		ID    patchcore.LogicalID
	}

	// NopDiagnostics discards all reports.
	NopDiagnostics struct{}

	// DedupReporter forwards each distinct failure key at most once to the
	// control context, as an Alert over the broker. It is injected into the
	// queries explicitly; there is no process-wide reporter.
	DedupReporter struct {
		mu     sync.Mutex
		seen   map[DiagKey]struct{}
		broker *Broker
	}
)

func (NopDiagnostics) Report(DiagKey, string) {}

func NewDedupReporter(broker *Broker) *DedupReporter {
	return &DedupReporter{seen: make(map[DiagKey]struct{}), broker: broker}
}

// Report forwards the message for key unless the key has been reported
// before. Sending is non-blocking; if the control context is not draining
// alerts, the report is dropped rather than stalling the caller.
func (d *DedupReporter) Report(key DiagKey, message string) {
	d.mu.Lock()
	_, dup := d.seen[key]
	if !dup {
		d.seen[key] = struct{}{}
	}
	d.mu.Unlock()
	if dup {
		return
	}
	TrySend(d.broker.ToControl, MsgToControl{Data: Alert{
		Name:     fmt.Sprintf("Query:%s:%d", key.Param, key.ID),
		Priority: Info,
		Message:  message,
	}})
}

// Reset forgets all previously seen keys, so each condition may be reported
// once more. Call after graph edits that might have fixed the cause.
func (d *DedupReporter) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.seen)
}

// Alert is an advisory message for the control context or a frontend.
type Alert struct {
	Name     string // alerts with the same name replace each other
	Priority AlertPriority
	Message  string
}

type AlertPriority int

const (
	None AlertPriority = iota
	Info
	Warning
	Error
)
