package renderer

import (
	"github.com/pkg/errors"
)

// EventKind tells what happened to the window.
type EventKind int

const (
	// EventQuit asks the loop to stop after the frames in flight finished.
	EventQuit EventKind = iota + 1

	// EventResize reports a new framebuffer size in pixels.
	EventResize
)

// Event is one window notification.
type Event struct {
	Kind          EventKind
	Width, Height int
}

// EventSource delivers window events. PollEvents returns immediately while
// WaitEvents blocks until at least one event arrived.
type EventSource interface {
	PollEvents() []Event
	WaitEvents() []Event
}

// Run draws frames until a quit event arrives. While the window has no area
// it blocks on events instead of spinning. On quit it waits for the device
// to finish every frame in flight before returning; call Shutdown after it.
func (d *Driver) Run(events EventSource) error {
	for {
		var batch []Event
		if d.Presentable() {
			batch = events.PollEvents()
		} else {
			batch = events.WaitEvents()
		}

		for _, ev := range batch {
			switch ev.Kind {
			case EventQuit:
				if err := d.ctx.WaitIdle(); err != nil {
					return errors.Wrap(err, "waiting for device idle")
				}
				return nil
			case EventResize:
				d.Resize(ev.Width, ev.Height)
			}
		}

		if err := d.DrawFrame(); err != nil {
			return errors.Wrap(err, "drawFrame")
		}
	}
}
