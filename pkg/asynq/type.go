package asynq

import (
	"encoding/json"
	"time"

	"boostplane/pkg/taskname"

	"github.com/hibiken/asynq"
)

// SweepPayload is the body of both periodic sweep tasks. EnqueuedAt lets the
// worker report how long the task sat in the queue.
type SweepPayload struct {
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewBoostExpiryTask builds the expiry-run task.
func NewBoostExpiryTask(enqueuedAt time.Time) (*asynq.Task, error) {
	return newSweepTask(taskname.BoostExpiryRun, enqueuedAt)
}

// NewTournamentEndTask builds the tournament-end task.
func NewTournamentEndTask(enqueuedAt time.Time) (*asynq.Task, error) {
	return newSweepTask(taskname.BoostTournamentEnd, enqueuedAt)
}

func newSweepTask(name string, enqueuedAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(SweepPayload{EnqueuedAt: enqueuedAt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, payload), nil
}

// ParseSweepPayload reads the payload back on the worker side. Tasks without
// a payload yield the zero value.
func ParseSweepPayload(raw []byte) (SweepPayload, error) {
	var p SweepPayload
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}
