package steward

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	maxRecords    = 10
	promptRecords = 5 // how many recent records to include in the prompt
)

// CycleRecord captures what happened in a single steward cycle.
type CycleRecord struct {
	Tick        uint64  `json:"tick"`
	Action      string  `json:"action"`
	CrisisLevel string  `json:"crisis_level"`
	SuccessRate float64 `json:"success_rate"`
	LowStock    int     `json:"low_stock"`
	Closed      int     `json:"closed_routes"`
	Target      string  `json:"target,omitempty"`
	Rationale   string  `json:"rationale,omitempty"`
}

// CycleMemory manages a ring of recent steward cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`

	path string
}

// LoadMemory reads the memory file from disk. Returns empty memory if not
// found; an empty path keeps memory in process only.
func LoadMemory(path string) *CycleMemory {
	if path == "" {
		return &CycleMemory{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &CycleMemory{path: path}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("steward memory corrupted, starting fresh", "error", err)
		return &CycleMemory{path: path}
	}
	mem.path = path
	return &mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal steward memory: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write steward memory: %w", err)
	}
	return nil
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// FormatForPrompt summarizes the last few cycles for the prompt.
func (m *CycleMemory) FormatForPrompt() string {
	if len(m.Records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Recent Steward Cycles\n")

	start := max(0, len(m.Records)-promptRecords)
	for _, r := range m.Records[start:] {
		fmt.Fprintf(&b, "- Tick %d: action=%s, crisis=%s, success=%.2f, low_stock=%d, closed=%d",
			r.Tick, r.Action, r.CrisisLevel, r.SuccessRate, r.LowStock, r.Closed)
		if r.Target != "" {
			fmt.Fprintf(&b, ", target=%s", r.Target)
		}
		b.WriteString("\n")
	}
	return b.String()
}
