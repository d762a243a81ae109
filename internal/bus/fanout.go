// Package bus fans signal events out to the optional sinks.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"tickpulse/internal/model"
)

// FanOut broadcasts events from a single input channel to N named output
// channels. If an output channel is full, the event is dropped for that
// subscriber so a slow sink never blocks ingestion.
type FanOut struct {
	mu      sync.RWMutex
	outputs []output
	bufSize int

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(subscriber string)
}

type output struct {
	name string
	ch   chan model.SignalEvent
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel for the named subscriber.
// Must be called before Run.
func (f *FanOut) Subscribe(name string) <-chan model.SignalEvent {
	ch := make(chan model.SignalEvent, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, output{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Len returns the number of subscribers.
func (f *FanOut) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.outputs)
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan model.SignalEvent) {
	defer func() {
		f.mu.RLock()
		for _, o := range f.outputs {
			close(o.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, o := range f.outputs {
				select {
				case o.ch <- ev:
				default:
					if f.OnDrop != nil {
						f.OnDrop(o.name)
					} else {
						slog.Warn("bus: subscriber full, dropping signal",
							slog.String("subscriber", o.name),
							slog.String("symbol", ev.Symbol),
						)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Name: o.name, Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
