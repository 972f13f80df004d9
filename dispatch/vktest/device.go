// Package vktest provides an in-memory dispatch.Table for tests.
//
// Device simulates one GPU with a single in-order queue. Submitted work stays
// pending until a fence it signals is waited on or the device is idled, so a
// test can observe exactly what the CPU does while frames are in flight.
// Misuse that is undefined behaviour on a real driver is recorded in
// Violations instead of crashing.
package vktest

import (
	"fmt"
	"sort"
	"strings"
	"unsafe"

	"vulkan-blit/dispatch"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

// SwapchainExtension is the device extension name reported by DefaultAdapter.
const SwapchainExtension = "VK_KHR_swapchain"

// Adapter describes one physical device reported by the fake.
type Adapter struct {
	Name       string
	Extensions []string
	Families   []vk.QueueFamilyProperties

	// Present lists the queue families able to present to a surface. Nil
	// means every family can.
	Present []uint32
}

// DefaultAdapter has one queue family doing graphics, transfer and present.
func DefaultAdapter() Adapter {
	return Adapter{
		Name:       "vktest GPU",
		Extensions: []string{SwapchainExtension},
		Families: []vk.QueueFamilyProperties{{
			QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueTransferBit),
			QueueCount: 1,
		}},
	}
}

// Submission is one recorded vkQueueSubmit batch entry.
type Submission struct {
	Queue          vk.Queue
	CommandBuffers []vk.CommandBuffer
	Wait           []vk.Semaphore
	WaitStages     []vk.PipelineStageFlags
	Signal         []vk.Semaphore
	Fence          vk.Fence
}

// Acquire is one recorded vkAcquireNextImageKHR call.
type Acquire struct {
	Swapchain vk.Swapchain
	Semaphore vk.Semaphore
	Index     uint32
	Result    vk.Result
}

// Present is one recorded vkQueuePresentKHR call.
type Present struct {
	Queue     vk.Queue
	Swapchain vk.Swapchain
	Index     uint32
	Wait      []vk.Semaphore
	Result    vk.Result
}

// Barrier is one image barrier recorded into a command buffer.
type Barrier struct {
	CommandBuffer vk.CommandBuffer
	SrcStage      vk.PipelineStageFlags
	DstStage      vk.PipelineStageFlags
	vk.ImageMemoryBarrier
}

// Clear is one recorded vkCmdClearColorImage.
type Clear struct {
	CommandBuffer vk.CommandBuffer
	Image         vk.Image
	Layout        vk.ImageLayout
	Color         [4]float32
	Range         vk.ImageSubresourceRange
}

// Blit is one recorded vkCmdBlitImage.
type Blit struct {
	CommandBuffer vk.CommandBuffer
	Src           vk.Image
	SrcLayout     vk.ImageLayout
	Dst           vk.Image
	DstLayout     vk.ImageLayout
	Regions       []vk.ImageBlit
	Filter        vk.Filter
}

// Copy is one recorded vkCmdCopyBufferToImage.
type Copy struct {
	CommandBuffer vk.CommandBuffer
	Buffer        vk.Buffer
	Image         vk.Image
	Layout        vk.ImageLayout
	Regions       []vk.BufferImageCopy
}

// DeviceRequest is what a vkCreateDevice call asked for.
type DeviceRequest struct {
	Physical   vk.PhysicalDevice
	Families   []uint32
	Extensions []string
	Layers     []string
}

// Device is a fake GPU. Configure the exported fields before handing it to
// the code under test and inspect the records afterwards.
type Device struct {
	Adapters     []Adapter
	Layers       []string
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode

	// AcquireResults and PresentResults are consumed one per call. Once
	// empty the calls succeed.
	AcquireResults []vk.Result
	PresentResults []vk.Result

	// Fail makes the named Table method fail once with the given result.
	Fail map[string]vk.Result

	// Stall keeps submitted work on the queue: fence waits time out.
	Stall bool

	Calls       []string
	Violations  []string
	Submissions []Submission
	Acquires    []Acquire
	Presents    []Present
	Barriers    []Barrier
	Clears      []Clear
	Blits       []Blit
	Copies      []Copy
	Swapchains  []vk.SwapchainCreateInfo
	Devices     []DeviceRequest

	InstanceExtensions []string
	EnabledLayers      []string
	WaitIdles          int

	objects map[unsafe.Pointer]*object
	minted  uintptr
	counts  map[string]int
	queues  map[[2]uint32]vk.Queue
	adapter map[int]vk.PhysicalDevice
	pending []*work
}

var _ dispatch.Table = (*Device)(nil)

type cmdState int

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

type object struct {
	kind      string
	name      string
	destroyed bool
	parent    unsafe.Pointer

	// fences and semaphores
	signaled bool

	// command buffers and pools
	state      cmdState
	resettable bool

	// swapchains
	retired  bool
	images   []vk.Image
	acquired map[uint32]bool
	next     uint32
	extent   vk.Extent2D

	// memory, buffers and images
	data     []byte
	size     vk.DeviceSize
	typeBits uint32
	memType  uint32
	memory   unsafe.Pointer

	adapter int
}

type work struct {
	cmds  []vk.CommandBuffer
	fence vk.Fence
}

// New returns a fake with one default adapter, an 800x600 surface allowing
// 2 or more images, the preferred sRGB format and FIFO + MAILBOX.
func New() *Device {
	return &Device{
		Adapters: []Adapter{DefaultAdapter()},
		Layers:   []string{"VK_LAYER_KHRONOS_validation"},
		Capabilities: vk.SurfaceCapabilities{
			MinImageCount:           2,
			MaxImageCount:           0,
			CurrentExtent:           vk.Extent2D{Width: 800, Height: 600},
			MinImageExtent:          vk.Extent2D{Width: 1, Height: 1},
			MaxImageExtent:          vk.Extent2D{Width: 4096, Height: 4096},
			MaxImageArrayLayers:     1,
			SupportedTransforms:     vk.SurfaceTransformFlags(vk.SurfaceTransformIdentityBit),
			CurrentTransform:        vk.SurfaceTransformIdentityBit,
			SupportedCompositeAlpha: vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit),
			SupportedUsageFlags: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) |
				vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		},
		Formats: []vk.SurfaceFormat{{
			Format:     vk.FormatB8g8r8a8Srgb,
			ColorSpace: vk.ColorSpaceSrgbNonlinear,
		}},
		PresentModes: []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox},
		Fail:         make(map[string]vk.Result),
	}
}

// Surface mints a surface handle, standing in for the windowing library.
func (d *Device) Surface() vk.Surface {
	h, _ := d.mint("surface")
	return vk.Surface(h)
}

// Resize changes the extent the surface reports as current.
func (d *Device) Resize(width, height uint32) {
	d.Capabilities.CurrentExtent = vk.Extent2D{Width: width, Height: height}
}

// Violation records misuse. Exported so helpers built on the fake can add
// their own checks.
func (d *Device) Violation(format string, args ...any) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

// AssertClean fails t when any violation was recorded.
func (d *Device) AssertClean(t assert.TestingT) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	return assert.Empty(t, d.Violations, "Vulkan usage violations")
}

// Name returns the debug name of a handle, e.g. "fence#2".
func (d *Device) Name(h unsafe.Pointer) string {
	if obj, ok := d.objects[h]; ok {
		return obj.name
	}
	if h == nil {
		return "null"
	}
	return fmt.Sprintf("unknown(%p)", h)
}

// Live counts objects of the given kind that were created and not destroyed.
func (d *Device) Live(kind string) int {
	n := 0
	for _, obj := range d.objects {
		if obj.kind == kind && !obj.destroyed {
			n++
		}
	}
	return n
}

// LiveObjects lists every destroyable object still alive.
func (d *Device) LiveObjects() []string {
	var names []string
	for _, obj := range d.objects {
		if obj.destroyed || !destroyable(obj.kind) {
			continue
		}
		names = append(names, obj.name)
	}
	sort.Strings(names)
	return names
}

// Pending is the number of submissions the simulated GPU has not finished.
func (d *Device) Pending() int {
	return len(d.pending)
}

// FenceSignaled reports the state of fence.
func (d *Device) FenceSignaled(fence vk.Fence) bool {
	obj, ok := d.objects[unsafe.Pointer(fence)]
	return ok && obj.signaled
}

// Memory returns the bytes backing the host visible memory bound to buffer.
// It stays readable after the buffer and its memory were freed.
func (d *Device) Memory(buffer vk.Buffer) []byte {
	obj, ok := d.objects[unsafe.Pointer(buffer)]
	if !ok {
		return nil
	}
	mem, ok := d.objects[obj.memory]
	if !ok {
		return nil
	}
	return mem.data
}

// CallIndex returns the position of the first call starting with prefix at
// or after from, or -1.
func (d *Device) CallIndex(prefix string, from int) int {
	for i := from; i < len(d.Calls); i++ {
		if strings.HasPrefix(d.Calls[i], prefix) {
			return i
		}
	}
	return -1
}

// CountCalls counts the calls starting with prefix.
func (d *Device) CountCalls(prefix string) int {
	n := 0
	for _, call := range d.Calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

// Reset forgets the recorded calls and structured records but keeps every
// object and the simulated queue.
func (d *Device) Reset() {
	d.Calls = nil
	d.Submissions = nil
	d.Acquires = nil
	d.Presents = nil
	d.Barriers = nil
	d.Clears = nil
	d.Blits = nil
	d.Copies = nil
	d.Swapchains = nil
}

func destroyable(kind string) bool {
	switch kind {
	case "physical", "queue", "swapchain-image":
		return false
	}
	return true
}

// Handles are fake addresses below any Go heap arena. vulkan-go handle types
// are pointers to incomplete C structs and must never point into Go memory.
// Compare them with assert.Same, deep equality ignores the address.
const (
	handleBase   uintptr = 0x100000
	handleStride uintptr = 0x10
)

func (d *Device) mint(kind string) (unsafe.Pointer, *object) {
	if d.objects == nil {
		d.objects = make(map[unsafe.Pointer]*object)
		d.counts = make(map[string]int)
	}
	d.counts[kind]++
	d.minted++
	h := unsafe.Pointer(handleBase + d.minted*handleStride)
	obj := &object{
		kind: kind,
		name: fmt.Sprintf("%s#%d", kind, d.counts[kind]),
	}
	d.objects[h] = obj
	return h, obj
}

func (d *Device) call(op string, handles ...unsafe.Pointer) {
	var b strings.Builder
	b.WriteString(op)
	for _, h := range handles {
		b.WriteByte(' ')
		b.WriteString(d.Name(h))
	}
	d.Calls = append(d.Calls, b.String())
}

// lookup returns the live object behind h, recording a violation when h is
// unknown, destroyed or of another kind.
func (d *Device) lookup(op, kind string, h unsafe.Pointer) *object {
	obj, ok := d.objects[h]
	switch {
	case !ok:
		d.Violation("%s: unknown %s handle %p", op, kind, h)
		return nil
	case obj.kind != kind:
		d.Violation("%s: %s is not a %s", op, obj.name, kind)
		return nil
	case obj.destroyed:
		d.Violation("%s: %s used after destroy", op, obj.name)
		return nil
	}
	return obj
}

func (d *Device) failure(op string) error {
	res, ok := d.Fail[op]
	if !ok {
		return nil
	}
	delete(d.Fail, op)
	return dispatch.Check(res, "vk"+op)
}

func (d *Device) destroy(op, kind string, h unsafe.Pointer) *object {
	d.call(op, h)
	if h == nil {
		return nil
	}
	obj := d.lookup(op, kind, h)
	if obj == nil {
		return nil
	}
	if len(d.pending) > 0 {
		d.Violation("%s: %s destroyed while %d submission(s) are pending", op, obj.name, len(d.pending))
	}
	obj.destroyed = true
	return obj
}

// complete retires pending work up to and including index i.
func (d *Device) complete(i int) {
	for _, w := range d.pending[:i+1] {
		for _, cmd := range w.cmds {
			if obj, ok := d.objects[unsafe.Pointer(cmd)]; ok && obj.state == cmdPending {
				obj.state = cmdExecutable
			}
		}
		if w.fence != vk.NullFence {
			if obj, ok := d.objects[unsafe.Pointer(w.fence)]; ok {
				obj.signaled = true
			}
		}
	}
	d.pending = d.pending[i+1:]
}

func (d *Device) pendingFence(fence vk.Fence) int {
	for i, w := range d.pending {
		if w.fence == fence {
			return i
		}
	}
	return -1
}

func (d *Device) memoryProperties() vk.PhysicalDeviceMemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 2
	props.MemoryTypes[0] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		HeapIndex:     0,
	}
	props.MemoryTypes[1] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) |
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit),
		HeapIndex: 1,
	}
	props.MemoryHeapCount = 2
	props.MemoryHeaps[0] = vk.MemoryHeap{
		Size:  1 << 30,
		Flags: vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit),
	}
	props.MemoryHeaps[1] = vk.MemoryHeap{Size: 1 << 30}
	return props
}
