// Package types provides common type definitions for the invoice sync system.
package types

import (
	"fmt"
	"strings"
)

// Direction represents whether an invoice was received or issued by the company
type Direction string

const (
	// DirectionPurchase represents invoices received from suppliers
	DirectionPurchase Direction = "purchase"
	// DirectionSales represents invoices issued to customers
	DirectionSales Direction = "sales"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionPurchase || d == DirectionSales
}

// ParseDirection parses a direction name, case-insensitively
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// JobStatus represents the status of a sync job
type JobStatus string

const (
	// JobStatusPending represents a job created but not yet ticked
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning represents a job whose current month is being processed
	JobStatusRunning JobStatus = "running"
	// JobStatusPartial represents a job waiting to retry its current month
	JobStatusPartial JobStatus = "partial"
	// JobStatusCompleted represents a job that processed every month
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed represents a job stopped by an error or by cancellation
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether no further ticks may change the job
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// NonTerminalJobStatuses lists the statuses that block a new job for the same key
func NonTerminalJobStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning, JobStatusPartial}
}

// RemoteStatus mirrors the invoice status reported by the e-invoice platform
type RemoteStatus string

const (
	RemoteStatusNew       RemoteStatus = "new"
	RemoteStatusSeen      RemoteStatus = "seen"
	RemoteStatusApproved  RemoteStatus = "approved"
	RemoteStatusRejected  RemoteStatus = "rejected"
	RemoteStatusSent      RemoteStatus = "sent"
	RemoteStatusDelivered RemoteStatus = "delivered"
	RemoteStatusCancelled RemoteStatus = "cancelled"
	RemoteStatusStorno    RemoteStatus = "storno"
)

var remoteStatuses = map[RemoteStatus]struct{}{
	RemoteStatusNew: {}, RemoteStatusSeen: {}, RemoteStatusApproved: {}, RemoteStatusRejected: {},
	RemoteStatusSent: {}, RemoteStatusDelivered: {}, RemoteStatusCancelled: {}, RemoteStatusStorno: {},
}

// Valid reports whether s is a status the platform is known to emit
func (s RemoteStatus) Valid() bool {
	_, ok := remoteStatuses[s]
	return ok
}

// IsCancelled reports whether the document was withdrawn on the platform
func (s RemoteStatus) IsCancelled() bool {
	return s == RemoteStatusCancelled || s == RemoteStatusStorno
}

// RequiresStorno reports whether cancelling a sales document in this state needs a
// storno (reversal) instead of a plain cancel: the buyer has already received it.
func (s RemoteStatus) RequiresStorno() bool {
	switch s {
	case RemoteStatusSent, RemoteStatusDelivered, RemoteStatusSeen, RemoteStatusApproved:
		return true
	}
	return false
}

// ParseRemoteStatus parses a platform status name
func ParseRemoteStatus(s string) (RemoteStatus, error) {
	rs := RemoteStatus(strings.ToLower(strings.TrimSpace(s)))
	if !rs.Valid() {
		return "", fmt.Errorf("unknown remote status %q", s)
	}
	return rs, nil
}

// DefaultRemoteStatus is the status assumed for documents that do not carry one
func DefaultRemoteStatus(d Direction) RemoteStatus {
	if d == DirectionSales {
		return RemoteStatusSent
	}
	return RemoteStatusNew
}

// LocalStatus is the decision this system has taken about an invoice.
// It only moves forward; see CanTransitionTo.
type LocalStatus string

const (
	LocalStatusPending  LocalStatus = "pending"
	LocalStatusApproved LocalStatus = "approved"
	LocalStatusRejected LocalStatus = "rejected"
	LocalStatusImported LocalStatus = "imported"
)

var localTransitions = map[LocalStatus][]LocalStatus{
	LocalStatusPending:  {LocalStatusApproved, LocalStatusRejected, LocalStatusImported},
	LocalStatusApproved: {LocalStatusImported},
}

// Valid reports whether s is a known local status
func (s LocalStatus) Valid() bool {
	switch s {
	case LocalStatusPending, LocalStatusApproved, LocalStatusRejected, LocalStatusImported:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s LocalStatus) IsTerminal() bool {
	return len(localTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s LocalStatus) CanTransitionTo(next LocalStatus) bool {
	for _, allowed := range localTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo returns next, or an error when the move is not allowed
func (s LocalStatus) TransitionTo(next LocalStatus) (LocalStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("local status cannot move from %s to %s", s, next)
	}
	return next, nil
}

// StatesFrom returns the local statuses from which next is reachable in one step
func StatesFrom(next LocalStatus) []LocalStatus {
	var from []LocalStatus
	for s, targets := range localTransitions {
		for _, t := range targets {
			if t == next {
				from = append(from, s)
			}
		}
	}
	return from
}

// StateAction is a state change requested on the platform
type StateAction string

const (
	ActionApprove StateAction = "approve"
	ActionReject  StateAction = "reject"
	ActionCancel  StateAction = "cancel"
	ActionStorno  StateAction = "storno"
)

// InvoiceSource records how an invoice entered the store
type InvoiceSource string

const (
	SourceFetch InvoiceSource = "fetch"
	SourceFile  InvoiceSource = "file"
	SourcePush  InvoiceSource = "push"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
