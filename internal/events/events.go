// Package events provides an event system for worker pool and server
// notifications.
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker thread enters its loop
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerStopped is emitted when a worker observes the closed queue and exits
	EventWorkerStopped EventType = "worker_stopped"
	// EventWorkerRestarted is emitted when a worker's loop is replaced after a job
	// ended its goroutine
	EventWorkerRestarted EventType = "worker_restarted"
	// EventJobPanicked is emitted when a worker recovers a panicking job
	EventJobPanicked EventType = "job_panicked"
	// EventPoolShutdown is emitted once every worker has been joined
	EventPoolShutdown EventType = "pool_shutdown"
	// EventConnAccepted is emitted when the accept loop hands a connection to the pool
	EventConnAccepted EventType = "conn_accepted"
	// EventFaultInjected is emitted when the fault injector alters a job
	EventFaultInjected EventType = "fault_injected"
)

// FaultKind represents the kind of injected fault
type FaultKind string

const (
	FaultPanic FaultKind = "panic"
	FaultDelay FaultKind = "delay"
)

// Event represents a pool or server event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	PoolSize      int       `json:"pool_size,omitempty"`
	ConnID        string    `json:"conn_id,omitempty"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	Fault         FaultKind `json:"fault,omitempty"`
	DelayDuration string    `json:"delay_duration,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// WorkerSource returns the event source name for worker id
func WorkerSource(id int) string {
	return fmt.Sprintf("worker-%d", id)
}

// NewWorkerStartedEvent creates a worker started event
func NewWorkerStartedEvent(workerID int) Event {
	return Event{
		Type:      EventWorkerStarted,
		Timestamp: time.Now(),
		Source:    WorkerSource(workerID),
	}
}

// NewWorkerStoppedEvent creates a worker stopped event
func NewWorkerStoppedEvent(workerID int) Event {
	return Event{
		Type:      EventWorkerStopped,
		Timestamp: time.Now(),
		Source:    WorkerSource(workerID),
	}
}

// NewWorkerRestartedEvent creates a worker restarted event
func NewWorkerRestartedEvent(workerID int) Event {
	return Event{
		Type:      EventWorkerRestarted,
		Timestamp: time.Now(),
		Source:    WorkerSource(workerID),
	}
}

// NewJobPanickedEvent creates a job panicked event
func NewJobPanickedEvent(workerID int, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventJobPanicked,
		Timestamp: time.Now(),
		Source:    WorkerSource(workerID),
		Data: EventData{
			Error: errMsg,
		},
	}
}

// NewPoolShutdownEvent creates a pool shutdown event
func NewPoolShutdownEvent(poolSize int) Event {
	return Event{
		Type:      EventPoolShutdown,
		Timestamp: time.Now(),
		Source:    "pool",
		Data: EventData{
			PoolSize: poolSize,
		},
	}
}

// NewConnAcceptedEvent creates a connection accepted event
func NewConnAcceptedEvent(connID, remoteAddr string) Event {
	return Event{
		Type:      EventConnAccepted,
		Timestamp: time.Now(),
		Source:    "server",
		Data: EventData{
			ConnID:     connID,
			RemoteAddr: remoteAddr,
		},
	}
}

// NewFaultInjectedEvent creates a fault injected event
func NewFaultInjectedEvent(kind FaultKind, delay time.Duration) Event {
	data := EventData{Fault: kind}
	if kind == FaultDelay {
		data.DelayDuration = delay.String()
	}
	return Event{
		Type:      EventFaultInjected,
		Timestamp: time.Now(),
		Source:    "faults",
		Data:      data,
	}
}
