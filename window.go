package main

import (
	"vulkan-blit/renderer"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
)

// window is a glfw window without a client API. It collects its callbacks
// into renderer events.
type window struct {
	*glfw.Window

	pending []renderer.Event
}

var _ renderer.EventSource = (*window)(nil)

func newWindow(width, height int) (*window, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "glfw.Init")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	// Shown once the first frame can be drawn.
	glfw.WindowHint(glfw.Visible, glfw.False)

	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "creating window")
	}

	w := &window{Window: win}
	win.SetFramebufferSizeCallback(w.frameBufferResizeCallback)
	return w, nil
}

func (w *window) frameBufferResizeCallback(
	_ *glfw.Window,
	width int,
	height int,
) {
	w.pending = append(w.pending, renderer.Event{
		Kind:   renderer.EventResize,
		Width:  width,
		Height: height,
	})
}

func (w *window) PollEvents() []renderer.Event {
	glfw.PollEvents()
	return w.drain()
}

func (w *window) WaitEvents() []renderer.Event {
	glfw.WaitEvents()
	return w.drain()
}

func (w *window) drain() []renderer.Event {
	if w.ShouldClose() {
		w.pending = append(w.pending, renderer.Event{Kind: renderer.EventQuit})
	}

	events := w.pending
	w.pending = nil
	return events
}

func (w *window) destroy() {
	w.Destroy()
	glfw.Terminate()
}
