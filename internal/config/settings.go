package config

import (
	"time"

	"github.com/pi-agent/pi/pkg/types"
)

// Compaction defaults.
const (
	DefaultReserveTokens    int64 = 16384
	DefaultKeepRecentTokens int64 = 20000
)

// Retry defaults.
const (
	DefaultMaxRetries  = 3
	DefaultBaseDelayMs = 2000
)

// Queue modes for steering and follow-up delivery.
const (
	QueueOneAtATime = "one-at-a-time"
	QueueAll        = "all"
)

// Compaction holds resolved compaction settings.
type Compaction struct {
	Enabled          bool  `json:"enabled"`
	ReserveTokens    int64 `json:"reserveTokens"`
	KeepRecentTokens int64 `json:"keepRecentTokens"`
}

// Retry holds resolved retry settings.
type Retry struct {
	Enabled    bool
	MaxRetries int
	BaseDelay  time.Duration
}

// ResolveCompaction applies defaults to the compaction section.
func ResolveCompaction(s *types.Settings) Compaction {
	c := Compaction{
		Enabled:          true,
		ReserveTokens:    DefaultReserveTokens,
		KeepRecentTokens: DefaultKeepRecentTokens,
	}
	if s == nil || s.Compaction == nil {
		return c
	}
	if s.Compaction.Enabled != nil {
		c.Enabled = *s.Compaction.Enabled
	}
	if s.Compaction.ReserveTokens > 0 {
		c.ReserveTokens = s.Compaction.ReserveTokens
	}
	if s.Compaction.KeepRecentTokens > 0 {
		c.KeepRecentTokens = s.Compaction.KeepRecentTokens
	}
	return c
}

// ResolveRetry applies defaults to the retry section.
func ResolveRetry(s *types.Settings) Retry {
	r := Retry{
		Enabled:    true,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelayMs * time.Millisecond,
	}
	if s == nil || s.Retry == nil {
		return r
	}
	if s.Retry.Enabled != nil {
		r.Enabled = *s.Retry.Enabled
	}
	if s.Retry.MaxRetries > 0 {
		r.MaxRetries = s.Retry.MaxRetries
	}
	if s.Retry.BaseDelayMs > 0 {
		r.BaseDelay = time.Duration(s.Retry.BaseDelayMs) * time.Millisecond
	}
	return r
}

// QueueMode normalizes a steering or follow-up mode string.
func QueueMode(mode string) string {
	if mode == QueueAll {
		return QueueAll
	}
	return QueueOneAtATime
}

// ToolEnabled reports whether a tool is enabled. Tools are enabled unless disabled explicitly.
func ToolEnabled(s *types.Settings, name string) bool {
	if s == nil || s.Tools == nil {
		return true
	}
	enabled, ok := s.Tools[name]
	return !ok || enabled
}
