package models

import (
	"encoding/json"
	"sort"
)

// IDSet is a set of scenario ids, serialized as a sorted JSON array
type IDSet map[int]struct{}

// NewIDSet builds a set from ids
func NewIDSet(ids ...int) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set
func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id
func (s IDSet) Add(id int) {
	s[id] = struct{}{}
}

// Sorted returns the ids in ascending order
func (s IDSet) Sorted() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clone returns an independent copy
func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// Checkpoint represents the saved state of a generation run
type Checkpoint struct {
	NextScenarioID  int     `json:"next_scenario_id"`
	EmittedIDs      IDSet   `json:"emitted_ids"`
	CostAccumulator float64 `json:"cost_accumulator"`

	// Mode is the backend that emitted the scenarios; a run in the other mode
	// cannot resume this checkpoint
	Mode string `json:"mode,omitempty"`

	// Responses maps a batch response key to the number of its candidate pairs
	// already handled. A key is present once the response has been charged.
	Responses map[string]int `json:"responses,omitempty"`

	// Bookkeeping
	SessionID   string `json:"session_id,omitempty"`
	Task        string `json:"task,omitempty"`
	ConfigHash  string `json:"config_hash,omitempty"`
	TotalTokens int    `json:"total_tokens,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	Rejected    int    `json:"rejected,omitempty"`
}
