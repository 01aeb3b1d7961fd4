package models

import (
	"fmt"
)

// FetchError reports an upstream market-data failure. It aborts the current
// cycle only.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DispatchError reports a failed notification for one alert.
type DispatchError struct {
	Contract ContractOutcome
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Contract, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// StateStoreError reports a persistence failure. Unless the store can fall
// back to memory, it is fatal to the scheduler.
type StateStoreError struct {
	Op  string
	Err error
}

func (e *StateStoreError) Error() string {
	return fmt.Sprintf("state store %s: %v", e.Op, e.Err)
}

func (e *StateStoreError) Unwrap() error { return e.Err }
