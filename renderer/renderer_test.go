package renderer_test

import (
	"image"
	"io"
	"log"
	"math"
	"strings"
	"testing"
	"time"
	"unsafe"

	"vulkan-blit/device"
	"vulkan-blit/dispatch/vktest"
	"vulkan-blit/frames"
	"vulkan-blit/memory"
	"vulkan-blit/renderer"
	"vulkan-blit/swapchain"
	"vulkan-blit/texture"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

var quiet = log.New(io.Discard, "", 0)

type clock struct {
	now time.Duration
}

func (c *clock) Now() time.Duration {
	return c.now
}

type fixture struct {
	gpu    *vktest.Device
	ctx    *device.Context
	chain  *swapchain.Manager
	pool   *frames.Pool
	alloc  *memory.Allocator
	tex    *texture.Texture
	clock  *clock
	driver *renderer.Driver
}

type option func(*vktest.Device, *renderer.Options)

func newFixture(t *testing.T, withTexture bool, options ...option) *fixture {
	t.Helper()

	gpu := vktest.New()
	opts := renderer.Options{Logger: quiet}
	for _, o := range options {
		o(gpu, &opts)
	}

	instance, err := device.NewInstance(gpu, device.InstanceOptions{})
	require.NoError(t, err)
	surface := gpu.Surface()
	ctx, err := device.New(gpu, instance, surface, device.Options{Logger: quiet})
	require.NoError(t, err)

	pool, err := frames.NewPool(gpu, ctx.Device, ctx.Families.Graphics.Get(), frames.InFlight)
	require.NoError(t, err)

	f := &fixture{
		gpu:   gpu,
		ctx:   ctx,
		chain: swapchain.NewManager(ctx, surface, swapchain.Options{Logger: quiet}),
		pool:  pool,
		alloc: memory.New(gpu, ctx.PhysicalDevice, ctx.Device),
		clock: &clock{},
	}

	if withTexture {
		img := image.NewRGBA(image.Rect(0, 0, 3, 2))
		f.tex, err = texture.Upload(ctx, f.alloc, pool.Slot(0), img)
		require.NoError(t, err)
	}

	opts.Clock = f.clock.Now
	f.driver = renderer.New(ctx, f.chain, pool, f.tex, opts)
	f.driver.Resize(800, 600)
	gpu.Reset()
	return f
}

func (f *fixture) draw(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.driver.DrawFrame(), "frame %d", i)
	}
}

func (f *fixture) name(h unsafe.Pointer) string {
	return f.gpu.Name(h)
}

// assertFenceDiscipline checks in the call log that no slot's command buffer
// is recorded between the submission signaling the slot's fence and a wait
// on that fence.
func (f *fixture) assertFenceDiscipline(t *testing.T) {
	t.Helper()

	fenceOf := map[string]string{}
	for i := 0; i < f.pool.Len(); i++ {
		slot := f.pool.Slot(i)
		fenceOf[f.name(unsafe.Pointer(slot.CommandBuffer))] = f.name(unsafe.Pointer(slot.InFlight))
	}

	waited := map[string]bool{}
	for _, call := range f.gpu.Calls {
		fields := strings.Fields(call)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "WaitForFences":
			waited[fields[1]] = true
		case "QueueSubmit":
			waited[fields[1]] = false
		case "BeginCommandBuffer":
			fence := fenceOf[fields[1]]
			assert.True(t, waited[fence], "%s recorded before %s was waited on", fields[1], fence)
		}
	}
}

func TestFenceDiscipline(t *testing.T) {
	f := newFixture(t, false)

	f.draw(t, 25)

	require.Len(t, f.gpu.Submissions, 25)
	for i, submission := range f.gpu.Submissions {
		slot := f.pool.Slot(i % frames.InFlight)
		assert.Same(t, slot.InFlight, submission.Fence, "frame %d", i)
		require.Len(t, submission.CommandBuffers, 1)
		assert.Same(t, slot.CommandBuffer, submission.CommandBuffers[0])
		require.Len(t, submission.Wait, 1)
		assert.Same(t, slot.ImageAvailable, submission.Wait[0])
		assert.Equal(t, []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}, submission.WaitStages)
		require.Len(t, submission.Signal, 1)
		assert.Same(t, slot.RenderFinished, submission.Signal[0])
	}

	// Each wait precedes the reset of the same fence.
	for i := 0; i < frames.InFlight; i++ {
		fence := f.name(unsafe.Pointer(f.pool.Slot(i).InFlight))
		wait := f.gpu.CallIndex("WaitForFences "+fence, 0)
		reset := f.gpu.CallIndex("ResetFences "+fence, 0)
		assert.Less(t, wait, reset)
	}

	f.assertFenceDiscipline(t)
	assert.Equal(t, renderer.Stats{Frames: 25, Rebuilds: 1}, f.driver.Stats())
	f.gpu.AssertClean(t)
}

func TestImageIndexIndependentOfSlot(t *testing.T) {
	f := newFixture(t, false)

	f.draw(t, 6)

	images := f.chain.Images()
	require.Len(t, images, 3)
	require.Len(t, f.gpu.Acquires, 6)
	require.Len(t, f.gpu.Presents, 6)
	require.Len(t, f.gpu.Barriers, 12)

	indices := []uint32{}
	for i, acquire := range f.gpu.Acquires {
		slot := f.pool.Slot(i % frames.InFlight)
		assert.Same(t, slot.ImageAvailable, acquire.Semaphore)

		index := acquire.Index
		indices = append(indices, index)
		assert.Equal(t, index, f.gpu.Presents[i].Index, "frame %d presents what it acquired", i)
		require.Len(t, f.gpu.Presents[i].Wait, 1)
		assert.Same(t, slot.RenderFinished, f.gpu.Presents[i].Wait[0])
		assert.Same(t, images[index], f.gpu.Clears[i].Image)
		assert.Same(t, slot.CommandBuffer, f.gpu.Clears[i].CommandBuffer)

		first, last := f.gpu.Barriers[2*i], f.gpu.Barriers[2*i+1]
		assert.Same(t, images[index], first.Image)
		assert.Same(t, images[index], last.Image)
		assert.Equal(t, vk.ImageLayoutTransferDstOptimal, first.NewLayout)
		assert.Equal(t, vk.ImageLayoutPresentSrc, last.NewLayout)
		if i < len(images) {
			assert.Equal(t, vk.ImageLayoutUndefined, first.OldLayout, "frame %d: first use", i)
		} else {
			assert.Equal(t, vk.ImageLayoutPresentSrc, first.OldLayout, "frame %d: presented before", i)
		}
	}

	// Three images cycle through two slots.
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2}, indices)
	f.gpu.AssertClean(t)
}

func TestSteadyClear(t *testing.T) {
	f := newFixture(t, false)

	for _, elapsed := range []time.Duration{0, 300 * time.Millisecond, 2 * time.Second, 7*time.Second + 123*time.Millisecond} {
		f.clock.now = elapsed
		f.draw(t, 1)

		color := f.gpu.Clears[len(f.gpu.Clears)-1].Color
		want := math.Sin(elapsed.Seconds()*5.0)*0.5 + 0.5
		assert.InDelta(t, want, color[0], 1e-6, "red at %s", elapsed)
		assert.Zero(t, color[1])
		assert.Zero(t, color[2])
		assert.Equal(t, float32(1), color[3])
	}
	assert.Empty(t, f.gpu.Blits)
	f.gpu.AssertClean(t)
}

func TestClearColor(t *testing.T) {
	tests := []struct {
		seconds float64
		red     float64
	}{
		{seconds: 0, red: 0.5},
		{seconds: math.Pi / 10, red: 1},
		{seconds: 3 * math.Pi / 10, red: 0},
	}

	for _, tc := range tests {
		elapsed := time.Duration(tc.seconds * float64(time.Second))
		color := renderer.ClearColor(elapsed)
		assert.InDelta(t, tc.red, color[0], 1e-6, "%s", elapsed)
		assert.Equal(t, float32(1), color[3])
	}
}

func TestOutOfDateAcquireRebuildsAndRetries(t *testing.T) {
	f := newFixture(t, false)
	f.draw(t, 3)
	first := f.chain.Handle()

	f.gpu.AcquireResults = []vk.Result{vk.ErrorOutOfDate}
	f.draw(t, 1)

	require.Len(t, f.gpu.Swapchains, 2)
	assert.Same(t, first, f.gpu.Swapchains[1].OldSwapchain)
	require.Len(t, f.gpu.Acquires, 5)
	assert.Same(t, f.chain.Handle(), f.gpu.Acquires[4].Swapchain, "retry acquires from the new swapchain")
	assert.Len(t, f.gpu.Presents, 4)
	assert.Equal(t, renderer.Stats{Frames: 4, Rebuilds: 2}, f.driver.Stats())

	f.draw(t, 4)
	f.assertFenceDiscipline(t)
	f.gpu.AssertClean(t)
}

func TestOutOfDateTwiceSkipsFrame(t *testing.T) {
	f := newFixture(t, false)
	f.draw(t, 1)

	slot := f.pool.Slot(1)
	f.gpu.AcquireResults = []vk.Result{vk.ErrorOutOfDate, vk.ErrorOutOfDate}
	f.draw(t, 1)

	assert.True(t, f.gpu.FenceSignaled(slot.InFlight), "fence not reset for a skipped frame")
	assert.Equal(t, 1, f.driver.Stats().Skipped)
	assert.Len(t, f.gpu.Presents, 1)

	// The skipped frame leaves a rebuild pending and the same slot is used.
	f.draw(t, 3)
	assert.Len(t, f.gpu.Swapchains, 3)
	assert.Same(t, slot.InFlight, f.gpu.Submissions[1].Fence)
	f.assertFenceDiscipline(t)
	f.gpu.AssertClean(t)
}

func TestSuboptimalSchedulesRebuild(t *testing.T) {
	for _, tc := range []struct {
		name    string
		acquire []vk.Result
		present []vk.Result
	}{
		{name: "acquire suboptimal", acquire: []vk.Result{vk.Suboptimal}},
		{name: "present suboptimal", present: []vk.Result{vk.Suboptimal}},
		{name: "present out of date", present: []vk.Result{vk.ErrorOutOfDate}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.draw(t, 1)

			f.gpu.AcquireResults = tc.acquire
			f.gpu.PresentResults = tc.present
			f.draw(t, 1)
			assert.Len(t, f.gpu.Presents, 2, "the frame is still presented")
			assert.Len(t, f.gpu.Swapchains, 1, "no rebuild within the frame")

			f.draw(t, 1)
			assert.Len(t, f.gpu.Swapchains, 2, "rebuilt before the next frame")
			assert.Len(t, f.gpu.Presents, 3)
			f.gpu.AssertClean(t)
		})
	}
}

func TestPresentFailureIsFatal(t *testing.T) {
	f := newFixture(t, false)
	f.gpu.PresentResults = []vk.Result{vk.ErrorDeviceLost}

	err := f.driver.DrawFrame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vkQueuePresentKHR")
}

func TestAcquireFailureIsFatal(t *testing.T) {
	f := newFixture(t, false)
	f.gpu.AcquireResults = []vk.Result{vk.ErrorSurfaceLost}

	err := f.driver.DrawFrame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vkAcquireNextImageKHR")
	assert.Empty(t, f.gpu.Submissions)
}

func TestSubmitFailureIsFatal(t *testing.T) {
	f := newFixture(t, false)
	f.gpu.Fail["QueueSubmit"] = vk.ErrorDeviceLost

	err := f.driver.DrawFrame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vkQueueSubmit")
	assert.Empty(t, f.gpu.Presents)
}

func TestResizeIsCoalesced(t *testing.T) {
	f := newFixture(t, false)
	f.draw(t, 2)

	for i := 0; i < 50; i++ {
		w, h := 200+i*10, 100+i*5
		f.gpu.Resize(uint32(w), uint32(h))
		f.driver.Resize(w, h)
	}
	f.draw(t, 1)

	require.Len(t, f.gpu.Swapchains, 2, "one rebuild for the whole storm")
	assert.Equal(t, vk.Extent2D{Width: 690, Height: 345}, f.chain.Extent())
	f.gpu.AssertClean(t)
}

func TestRebuildsBetweenFrames(t *testing.T) {
	for _, n := range []int{0, 1, 3, 10} {
		f := newFixture(t, false)
		f.draw(t, 2)

		for i := 0; i < n; i++ {
			require.NoError(t, f.chain.Rebuild(800, 600))
		}
		f.draw(t, 3)

		assert.Equal(t, 5, f.driver.Stats().Frames, "after %d rebuilds", n)
		f.assertFenceDiscipline(t)
		f.gpu.AssertClean(t)
	}
}

func TestMinimizedWindowSkipsFrames(t *testing.T) {
	f := newFixture(t, false)
	f.draw(t, 2)

	f.gpu.Resize(0, 0)
	f.driver.Resize(0, 0)
	f.draw(t, 3)

	assert.False(t, f.driver.Presentable())
	assert.Equal(t, 3, f.driver.Stats().Skipped)
	assert.Len(t, f.gpu.Swapchains, 1, "no swapchain with zero area")

	f.gpu.Resize(640, 480)
	f.driver.Resize(640, 480)
	assert.True(t, f.driver.Presentable())
	f.draw(t, 2)

	assert.Equal(t, vk.Extent2D{Width: 640, Height: 480}, f.chain.Extent())
	assert.Equal(t, 4, f.driver.Stats().Frames)
	f.gpu.AssertClean(t)
}

func TestBlitCoversWholeImage(t *testing.T) {
	f := newFixture(t, true)

	f.draw(t, 1)

	require.Len(t, f.gpu.Blits, 1)
	blit := f.gpu.Blits[0]
	assert.Same(t, f.tex.Image, blit.Src)
	assert.Same(t, f.chain.Images()[f.gpu.Acquires[0].Index], blit.Dst)
	assert.Equal(t, vk.ImageLayoutTransferSrcOptimal, blit.SrcLayout)
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, blit.DstLayout)
	assert.Equal(t, vk.FilterLinear, blit.Filter)
	require.Len(t, blit.Regions, 1)
	assert.Equal(t, [2]vk.Offset3D{{}, {X: 3, Y: 2, Z: 1}}, blit.Regions[0].SrcOffsets)
	assert.Equal(t, [2]vk.Offset3D{{}, {X: 800, Y: 600, Z: 1}}, blit.Regions[0].DstOffsets)
	assert.Empty(t, f.gpu.Clears, "blit replaces the clear")

	f.gpu.Resize(1024, 768)
	f.driver.Resize(1024, 768)
	f.draw(t, 1)
	assert.Equal(t, [2]vk.Offset3D{{}, {X: 1024, Y: 768, Z: 1}}, f.gpu.Blits[1].Regions[0].DstOffsets)
	f.gpu.AssertClean(t)
}

func TestFenceTimeout(t *testing.T) {
	f := newFixture(t, false, func(_ *vktest.Device, opts *renderer.Options) {
		opts.FenceTimeout = uint64(time.Millisecond)
	})

	f.gpu.Stall = true
	f.draw(t, 2)

	err := f.driver.DrawFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, renderer.ErrFenceTimeout))
	assert.Len(t, f.gpu.Submissions, 2)

	f.gpu.Stall = false
	require.NoError(t, f.driver.Shutdown())
	f.gpu.AssertClean(t)
}

func TestShutdownWaitsForFramesInFlight(t *testing.T) {
	f := newFixture(t, true)
	f.draw(t, 5)
	require.NotZero(t, f.gpu.Pending())

	require.NoError(t, f.driver.Shutdown())
	require.NoError(t, f.driver.Shutdown())

	idle := f.gpu.CallIndex("DeviceWaitIdle", 0)
	firstDestroy := f.gpu.CallIndex("Destroy", 0)
	require.NotEqual(t, -1, idle)
	assert.Less(t, idle, firstDestroy, "device idled before teardown")
	assert.Less(t, f.gpu.CallIndex("DestroyImage", 0), f.gpu.CallIndex("DestroyCommandPool", 0))
	assert.Less(t, f.gpu.CallIndex("DestroyCommandPool", 0), f.gpu.CallIndex("DestroySwapchain", 0))
	assert.Zero(t, f.gpu.Pending())

	assert.NoError(t, f.alloc.Close())
	f.ctx.Destroy()
	assert.Equal(t, []string{"instance#1", "surface#1"}, f.gpu.LiveObjects())
	f.gpu.AssertClean(t)
}

// script is an EventSource replaying batches of events.
type script struct {
	gpu     *vktest.Device
	batches [][]renderer.Event
	polls   int
	waits   int
}

func (s *script) next() []renderer.Event {
	if len(s.batches) == 0 {
		return []renderer.Event{{Kind: renderer.EventQuit}}
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	for _, ev := range batch {
		if ev.Kind == renderer.EventResize {
			s.gpu.Resize(uint32(ev.Width), uint32(ev.Height))
		}
	}
	return batch
}

func (s *script) PollEvents() []renderer.Event {
	s.polls++
	return s.next()
}

func (s *script) WaitEvents() []renderer.Event {
	s.waits++
	return s.next()
}

func TestRunUntilQuit(t *testing.T) {
	f := newFixture(t, false)
	f.draw(t, 1)

	events := &script{
		gpu: f.gpu,
		batches: [][]renderer.Event{
			nil,
			{{Kind: renderer.EventResize, Width: 640, Height: 480}},
			nil,
			{{Kind: renderer.EventQuit}, {Kind: renderer.EventResize, Width: 1, Height: 1}},
		},
	}

	idles := f.gpu.WaitIdles
	require.NoError(t, f.driver.Run(events))

	assert.Equal(t, 4, events.polls)
	assert.Zero(t, events.waits)
	assert.Equal(t, 4, f.driver.Stats().Frames)
	assert.Equal(t, vk.Extent2D{Width: 640, Height: 480}, f.chain.Extent())
	assert.Zero(t, f.gpu.Pending(), "quit idles the device")
	assert.Equal(t, idles+2, f.gpu.WaitIdles, "one rebuild and the quit")

	require.NoError(t, f.driver.Shutdown())
	f.gpu.AssertClean(t)
}

func TestRunWaitsWhileMinimized(t *testing.T) {
	f := newFixture(t, false)

	events := &script{
		gpu: f.gpu,
		batches: [][]renderer.Event{
			nil,
			{{Kind: renderer.EventResize, Width: 0, Height: 0}},
			{{Kind: renderer.EventResize, Width: 320, Height: 240}},
			nil,
		},
	}

	require.NoError(t, f.driver.Run(events))

	// The minimized frame is skipped and the loop then blocks once.
	assert.Equal(t, 1, events.waits)
	assert.Equal(t, 1, f.driver.Stats().Skipped)
	assert.Equal(t, 3, f.driver.Stats().Frames)
	assert.Equal(t, vk.Extent2D{Width: 320, Height: 240}, f.chain.Extent())

	require.NoError(t, f.driver.Shutdown())
	f.gpu.AssertClean(t)
}
