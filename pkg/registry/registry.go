// Package registry tracks which LTC2990 channels are currently meaningful
// and fans visibility changes out to the outputs that expose them.
package registry

import (
	"errors"
	"sync"

	"github.com/ericogr/ltc2990-to-mqtt/pkg/ltc2990"
)

// Listener is notified with the full visible set on every change.
type Listener interface {
	RefreshChannels(ltc2990.ChannelSet) error
}

// Registry implements ltc2990.Registry.
type Registry struct {
	// notify serializes listener callbacks so they see sets in order; mu
	// only guards the fields and is never held across a callback.
	notify sync.Mutex

	mu        sync.Mutex
	visible   ltc2990.ChannelSet
	published bool
	listeners []Listener
}

func New() *Registry { return &Registry{} }

// Subscribe adds l and, if a set was already published, replays it to l.
func (r *Registry) Subscribe(l Listener) error {
	r.notify.Lock()
	defer r.notify.Unlock()

	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	visible, published := r.visible, r.published
	r.mu.Unlock()

	if !published {
		return nil
	}
	return l.RefreshChannels(visible)
}

// Refresh records set as visible and notifies every listener, returning
// their joined errors.
func (r *Registry) Refresh(set ltc2990.ChannelSet) error {
	r.notify.Lock()
	defer r.notify.Unlock()

	r.mu.Lock()
	r.visible = set
	r.published = true
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.RefreshChannels(set); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Visible() ltc2990.ChannelSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

// Channels returns the visible channels in publication order.
func (r *Registry) Channels() []ltc2990.Channel { return r.Visible().Channels() }
