// Package frames owns the ring of per-frame command buffers and the
// synchronization objects paired with them.
package frames

import (
	"vulkan-blit/dispatch"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// InFlight is the number of frames the CPU may record ahead of the GPU.
const InFlight = 2

// Slot is everything one frame in flight needs. A slot is reused only after
// its InFlight fence was observed signaled.
type Slot struct {
	CommandBuffer vk.CommandBuffer

	// ImageAvailable is signaled by the presentation engine when the acquired
	// image may be written.
	ImageAvailable vk.Semaphore

	// RenderFinished is signaled by the queue when the frame's commands are
	// done and the image may be presented.
	RenderFinished vk.Semaphore

	// InFlight is signaled when the slot's last submission completed. It is
	// created signaled so the first wait on every slot returns immediately.
	InFlight vk.Fence
}

// Pool is a fixed ring of slots allocated from one command pool.
type Pool struct {
	table   dispatch.Table
	device  vk.Device
	command vk.CommandPool
	slots   []Slot
}

// NewPool creates count slots. Their command buffers come from a pool on the
// queue family family which allows resetting buffers one by one.
func NewPool(t dispatch.Table, device vk.Device, family uint32, count int) (*Pool, error) {
	if count < 1 {
		return nil, errors.Errorf("invalid frame count %d", count)
	}

	p := &Pool{
		table:   t,
		device:  device,
		command: vk.CommandPool(vk.NullHandle),
		slots:   make([]Slot, count),
	}

	poolInfo := vk.CommandPoolCreateInfo{
		SType: vk.StructureTypeCommandPoolCreateInfo,
		Flags: vk.CommandPoolCreateFlags(
			vk.CommandPoolCreateResetCommandBufferBit,
		),
		QueueFamilyIndex: family,
	}

	command, err := t.CreateCommandPool(device, &poolInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create command pool")
	}
	p.command = command

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        command,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}

	buffers, err := t.AllocateCommandBuffers(device, &allocInfo)
	if err != nil {
		p.Destroy()
		return nil, errors.Wrap(err, "failed to allocate command buffers")
	}

	for i := range p.slots {
		slot := &p.slots[i]
		slot.CommandBuffer = buffers[i]

		if slot.ImageAvailable, err = t.CreateSemaphore(device); err != nil {
			p.Destroy()
			return nil, errors.Wrapf(err, "failed to create imageAvailable semaphore %d", i)
		}
		if slot.RenderFinished, err = t.CreateSemaphore(device); err != nil {
			p.Destroy()
			return nil, errors.Wrapf(err, "failed to create renderFinished semaphore %d", i)
		}
		if slot.InFlight, err = t.CreateFence(device, true); err != nil {
			p.Destroy()
			return nil, errors.Wrapf(err, "failed to create inFlight fence %d", i)
		}
	}

	return p, nil
}

// Len is the number of slots.
func (p *Pool) Len() int {
	return len(p.slots)
}

// Slot returns slot i.
func (p *Pool) Slot(i int) *Slot {
	return &p.slots[i]
}

// Destroy releases every slot and the command pool. The device must be idle.
func (p *Pool) Destroy() {
	for i := range p.slots {
		slot := &p.slots[i]
		if slot.ImageAvailable != vk.Semaphore(vk.NullHandle) {
			p.table.DestroySemaphore(p.device, slot.ImageAvailable)
		}
		if slot.RenderFinished != vk.Semaphore(vk.NullHandle) {
			p.table.DestroySemaphore(p.device, slot.RenderFinished)
		}
		if slot.InFlight != vk.NullFence {
			p.table.DestroyFence(p.device, slot.InFlight)
		}
		*slot = Slot{}
	}

	// Destroying the pool frees its command buffers.
	if p.command != vk.CommandPool(vk.NullHandle) {
		p.table.DestroyCommandPool(p.device, p.command)
		p.command = vk.CommandPool(vk.NullHandle)
	}
}
