package processing

import (
	"sync"
	"time"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
)

// Channel directions
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// ChannelInfo holds traffic counters for one message tag
type ChannelInfo struct {
	Tag           string `json:"tag"`
	Name          string `json:"name"`
	Direction     string `json:"direction"`
	Count         int64  `json:"count"`
	Failures      int64  `json:"failures"`
	LastTimestamp uint64 `json:"last_timestamp"`
	LastSeen      int64  `json:"last_seen_ns"`
}

// ChannelRegistry tracks what the simulator sends and receives, keyed by
// wire tag
type ChannelRegistry struct {
	logger   customlog.Logger
	channels map[string]*ChannelInfo
	mu       sync.RWMutex
}

// NewChannelRegistry creates an empty registry
func NewChannelRegistry(logger customlog.Logger) *ChannelRegistry {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &ChannelRegistry{
		logger:   logger,
		channels: make(map[string]*ChannelInfo),
	}
}

// Register adds or renames a channel. Existing counters are kept.
func (r *ChannelRegistry) Register(tag byte, name, direction string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(tag)
	info, exists := r.channels[key]
	if !exists {
		info = &ChannelInfo{Tag: key}
		r.channels[key] = info
	}
	info.Name = name
	info.Direction = direction
	r.logger.Debugf("Registered %s channel %q (%s)", direction, key, name)
}

func (r *ChannelRegistry) get(tag byte) *ChannelInfo {
	key := string(tag)
	info, exists := r.channels[key]
	if !exists {
		info = &ChannelInfo{Tag: key, Name: key}
		r.channels[key] = info
	}
	return info
}

// Record counts one message carrying timestamp
func (r *ChannelRegistry) Record(tag byte, timestamp uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := r.get(tag)
	info.Count++
	info.LastTimestamp = timestamp
	info.LastSeen = time.Now().UnixNano()
}

// RecordFailure counts a failed send or a dropped message
func (r *ChannelRegistry) RecordFailure(tag byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.get(tag).Failures++
}

// GetChannelInfo returns a copy of one channel's counters
func (r *ChannelRegistry) GetChannelInfo(tag byte) (ChannelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.channels[string(tag)]
	if !exists {
		return ChannelInfo{}, false
	}
	return *info, true
}

// GetChannelStats returns a copy of every channel keyed by tag
func (r *ChannelRegistry) GetChannelStats() map[string]ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]ChannelInfo, len(r.channels))
	for tag, info := range r.channels {
		stats[tag] = *info
	}
	return stats
}
