package model

import (
	"time"

	"github.com/google/uuid"
)

// Advice is a structured advisory snapshot for one run. It is keyed
// one-to-one with the run and overwritten on each regeneration; a read
// returns exactly the last written snapshot.
type Advice struct {
	RunID        uuid.UUID `json:"run_id"`
	Summary      string    `json:"summary"`
	Risks        []string  `json:"risks"`
	CounterCases []string  `json:"counter_cases"`
	Confidence   float64   `json:"confidence"`
	GeneratedAt  time.Time `json:"ts"`
}
