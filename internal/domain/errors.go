package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError collects per-field input problems.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add keeps the first message recorded for a field.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// BrokerError is an upstream failure. It is never retried by the gateway.
type BrokerError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *BrokerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("broker %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("broker %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// NotFoundError reports an unknown order, position or asset.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// InvalidStateError rejects an operation the order's state does not allow.
type InvalidStateError struct {
	OrderID int64
	Status  OrderStatus
	Reason  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %d in status %q: %s", e.OrderID, e.Status, e.Reason)
}

// ConsistencyError marks a broker-accepted order that could not be written to
// the ledger. Nothing fixes it automatically; it needs manual reconciliation.
type ConsistencyError struct {
	ClientOrderID string
	ExternalID    string
	Symbol        string
	Err           error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("broker accepted order %s (client id %s, %s) but ledger write failed: %v",
		e.ExternalID, e.ClientOrderID, e.Symbol, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsBrokerStatus reports whether err is a broker error with the given HTTP status.
func IsBrokerStatus(err error, status int) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.StatusCode == status
}
