// Package renderer drives the per-frame loop: wait for a frame slot, acquire a
// swapchain image, record a clear or a blit into it, submit and present.
package renderer

import (
	"log"
	"math"
	"time"

	"vulkan-blit/barrier"
	"vulkan-blit/device"
	"vulkan-blit/dispatch"
	"vulkan-blit/frames"
	"vulkan-blit/swapchain"
	"vulkan-blit/texture"

	"github.com/loov/hrtime"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"
)

// ErrFenceTimeout is returned by DrawFrame when a frame slot did not become
// free within Options.FenceTimeout.
var ErrFenceTimeout = errors.New("timed out waiting for frame slot")

// Options configures a Driver.
type Options struct {
	// FenceTimeout bounds the wait for a frame slot, in nanoseconds. Zero
	// waits forever.
	FenceTimeout uint64

	// Clock phases the clear color animation. Defaults to hrtime.Now.
	Clock func() time.Duration

	Logger *log.Logger
	Debug  bool
}

// Stats counts what the driver did so far.
type Stats struct {
	Frames   int
	Skipped  int
	Rebuilds int
}

// Driver owns the frame loop. It is not safe for concurrent use; every method
// must be called from the thread which polls window events.
type Driver struct {
	ctx   *device.Context
	table dispatch.Table
	chain *swapchain.Manager
	pool  *frames.Pool
	tex   *texture.Texture

	opts  Options
	start time.Duration

	// frame selects the slot of the next frame. It is unrelated to the
	// index of the acquired swapchain image.
	frame int

	width, height int
	rebuild       bool

	stats  Stats
	closed bool
}

// New returns a driver drawing into chain with the slots of pool. With a nil
// tex every frame clears the image to ClearColor, otherwise tex is blitted
// over the whole image. The driver builds the swapchain on the first frame
// after Resize.
func New(
	ctx *device.Context,
	chain *swapchain.Manager,
	pool *frames.Pool,
	tex *texture.Texture,
	opts Options,
) *Driver {
	if opts.FenceTimeout == 0 {
		opts.FenceTimeout = math.MaxUint64
	}
	if opts.Clock == nil {
		opts.Clock = hrtime.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Driver{
		ctx:   ctx,
		table: ctx.Table,
		chain: chain,
		pool:  pool,
		tex:   tex,
		opts:  opts,
		start: opts.Clock(),
	}
}

// ClearColor is the color of the frame elapsed after start.
func ClearColor(elapsed time.Duration) linmath.Vec4 {
	t := elapsed.Seconds()
	return linmath.Vec4{float32(math.Sin(t*5.0)*0.5 + 0.5), 0, 0, 1}
}

// Resize records the new framebuffer size. The swapchain is rebuilt once
// before the next frame however many times Resize is called.
func (d *Driver) Resize(width, height int) {
	d.width, d.height = width, height
	d.rebuild = true
}

// Presentable reports whether DrawFrame can draw. It is false while the
// window has no area and no resize is pending.
func (d *Driver) Presentable() bool {
	return d.chain.Valid() || d.rebuild
}

// Stats returns the frame counters.
func (d *Driver) Stats() Stats {
	return d.stats
}

// DrawFrame renders and presents one frame. A stale swapchain is rebuilt and
// the frame retried or skipped; any other failure is returned.
func (d *Driver) DrawFrame() error {
	if d.rebuild {
		if err := d.recreateSwapChain(); err != nil {
			return err
		}
	}
	if !d.chain.Valid() {
		d.stats.Skipped++
		return nil
	}

	slot := d.pool.Slot(d.frame)
	fences := []vk.Fence{slot.InFlight}

	switch res := d.table.WaitForFences(d.ctx.Device, fences, d.opts.FenceTimeout); res {
	case vk.Success:
	case vk.Timeout:
		return errors.Wrapf(ErrFenceTimeout, "frame slot %d", d.frame)
	default:
		return dispatch.Check(res, "vkWaitForFences")
	}

	imageIndex, res := d.acquire(slot)
	if res == vk.ErrorOutOfDate {
		if err := d.recreateSwapChain(); err != nil {
			return err
		}
		if !d.chain.Valid() {
			d.stats.Skipped++
			return nil
		}
		imageIndex, res = d.acquire(slot)
	}

	switch res {
	case vk.Success:
	case vk.Suboptimal:
		// The image is usable and its semaphore will be signaled.
		d.rebuild = true
	case vk.ErrorOutOfDate:
		d.rebuild = true
		d.stats.Skipped++
		return nil
	default:
		return errors.Wrap(dispatch.Check(res, "vkAcquireNextImageKHR"), "failed to acquire swap chain image")
	}

	// Only reset the fence once work that signals it is certain to be
	// submitted.
	if err := d.table.ResetFences(d.ctx.Device, fences); err != nil {
		return errors.Wrap(err, "resetting frame fence")
	}

	if err := d.recordCommandBuffer(slot.CommandBuffer, imageIndex); err != nil {
		return errors.Wrap(err, "recording command buffer")
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{slot.ImageAvailable},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.CommandBuffer},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{slot.RenderFinished},
	}

	err := d.table.QueueSubmit(d.ctx.GraphicsQueue, []vk.SubmitInfo{submitInfo}, slot.InFlight)
	if err != nil {
		return errors.Wrap(err, "failed to submit draw command buffer")
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{slot.RenderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{d.chain.Handle()},
		PImageIndices:      []uint32{imageIndex},
	}

	res = d.table.QueuePresent(d.ctx.PresentQueue, &presentInfo)
	d.chain.MarkPresented(imageIndex)
	switch {
	case res == vk.Success:
	case dispatch.IsStale(res):
		d.rebuild = true
	default:
		return errors.Wrap(dispatch.Check(res, "vkQueuePresentKHR"), "failed to present swap chain image")
	}

	d.frame = (d.frame + 1) % d.pool.Len()
	d.stats.Frames++

	return nil
}

func (d *Driver) acquire(slot *frames.Slot) (uint32, vk.Result) {
	return d.table.AcquireNextImage(
		d.ctx.Device,
		d.chain.Handle(),
		math.MaxUint64,
		slot.ImageAvailable,
	)
}

func (d *Driver) recreateSwapChain() error {
	d.rebuild = false

	err := d.chain.Rebuild(d.width, d.height)
	if errors.Is(err, swapchain.ErrZeroExtent) {
		if d.opts.Debug {
			d.opts.Logger.Printf("window has no area, pausing frames")
		}
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "recreateSwapChain")
	}

	d.stats.Rebuilds++
	return nil
}

func (d *Driver) recordCommandBuffer(cmd vk.CommandBuffer, imageIndex uint32) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := d.table.BeginCommandBuffer(cmd, &beginInfo); err != nil {
		return errors.Wrap(err, "failed to begin recording command buffer")
	}

	image := d.chain.Images()[imageIndex]
	prior := barrier.Acquired(d.chain.PriorLayout(imageIndex))
	barrier.Transition(d.table, cmd, image, prior, barrier.TransferDst)

	if d.tex != nil {
		d.blit(cmd, image)
	} else {
		color := ClearColor(d.opts.Clock() - d.start)
		d.table.CmdClearColorImage(
			cmd,
			image,
			vk.ImageLayoutTransferDstOptimal,
			[4]float32(color),
			barrier.ColorRange,
		)
	}

	barrier.Transition(d.table, cmd, image, barrier.TransferDst, barrier.Present)

	if err := d.table.EndCommandBuffer(cmd); err != nil {
		return errors.Wrap(err, "failed to record command buffer")
	}

	return nil
}

// blit scales the whole texture onto the whole image.
func (d *Driver) blit(cmd vk.CommandBuffer, image vk.Image) {
	extent := d.chain.Extent()
	region := vk.ImageBlit{
		SrcSubresource: barrier.ColorLayers,
		SrcOffsets:     [2]vk.Offset3D{{X: 0, Y: 0, Z: 0}, d.tex.Extent()},
		DstSubresource: barrier.ColorLayers,
		DstOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(extent.Width), Y: int32(extent.Height), Z: 1},
		},
	}

	d.table.CmdBlitImage(
		cmd,
		d.tex.Image,
		vk.ImageLayoutTransferSrcOptimal,
		image,
		vk.ImageLayoutTransferDstOptimal,
		[]vk.ImageBlit{region},
		vk.FilterLinear,
	)
}

// Shutdown waits for every frame in flight and destroys the texture, the
// frame slots and the swapchain, in that order. The device and the surface
// stay alive.
func (d *Driver) Shutdown() error {
	if d.closed {
		return nil
	}
	d.closed = true

	err := d.ctx.WaitIdle()
	if err != nil {
		// Destroying objects the GPU may still use is undefined.
		return errors.Wrap(err, "waiting for device idle before shutdown")
	}

	if d.tex != nil {
		d.tex.Destroy()
	}
	d.pool.Destroy()
	d.chain.Destroy()

	if d.opts.Debug {
		d.opts.Logger.Printf(
			"drew %d frames, skipped %d, rebuilt the swapchain %d times",
			d.stats.Frames, d.stats.Skipped, d.stats.Rebuilds,
		)
	}

	return nil
}
