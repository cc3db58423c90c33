package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is the number of identical calls before triggering.
const DoomLoopThreshold = 3

const doomLoopHistory = 10

// DoomLoopDetector tracks repeated tool calls to detect a model stuck in a
// loop.
type DoomLoopDetector struct {
	mu      sync.Mutex
	history []string // last tool call hashes
}

// NewDoomLoopDetector creates a new doom loop detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{}
}

// Check records a call and reports whether it is the DoomLoopThreshold-th
// identical call in a row.
func (d *DoomLoopDetector) Check(toolName string, input any) bool {
	hash := hashCall(toolName, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	loop := len(d.history) >= DoomLoopThreshold-1
	if loop {
		for _, h := range d.history[len(d.history)-(DoomLoopThreshold-1):] {
			if h != hash {
				loop = false
				break
			}
		}
	}

	d.history = append(d.history, hash)
	if len(d.history) > doomLoopHistory {
		d.history = d.history[len(d.history)-doomLoopHistory:]
	}
	return loop
}

// Clear drops the call history.
func (d *DoomLoopDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

func hashCall(toolName string, input any) string {
	data, _ := json.Marshal(map[string]any{
		"tool":  toolName,
		"input": input,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
