// Package memory hands out device memory for buffers and images.
//
// Every resource gets its own dedicated vkDeviceMemory. The program creates a
// handful of resources at start up so there is no sub-allocation.
package memory

import (
	"unsafe"

	"vulkan-blit/dispatch"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Usage tells the allocator where a resource is going to be accessed from.
type Usage int

const (
	// GPUOnly memory is device local and cannot be mapped.
	GPUOnly Usage = iota

	// CPUOnly memory is host visible and coherent. It is meant for staging
	// data the CPU writes once and the GPU reads.
	CPUOnly
)

func (u Usage) String() string {
	switch u {
	case GPUOnly:
		return "gpu-only"
	case CPUOnly:
		return "cpu-only"
	}
	return "unknown"
}

func (u Usage) flags() vk.MemoryPropertyFlags {
	if u == CPUOnly {
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) |
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	}
	return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
}

// ErrNoMemoryType is returned when no memory type satisfies both the resource
// and the requested Usage.
var ErrNoMemoryType = errors.New("failed to find suitable memory type")

// ErrNotMappable is returned by Map for GPUOnly allocations.
var ErrNotMappable = errors.New("allocation is not host visible")

// Allocation is the device memory behind one buffer or image.
type Allocation struct {
	memory vk.DeviceMemory
	size   vk.DeviceSize
	usage  Usage
	mapped bool
}

// Size is the number of bytes allocated.
func (a *Allocation) Size() vk.DeviceSize {
	return a.size
}

// Usage is the hint the allocation was made with.
func (a *Allocation) Usage() Usage {
	return a.usage
}

// Allocator creates buffers and images bound to freshly allocated memory. It
// must use the same dispatch.Table as the device it was created for.
type Allocator struct {
	table      dispatch.Table
	device     vk.Device
	properties vk.PhysicalDeviceMemoryProperties
	live       int
}

// New reads the memory properties of physical once and returns an allocator
// for device.
func New(t dispatch.Table, physical vk.PhysicalDevice, device vk.Device) *Allocator {
	return &Allocator{
		table:      t,
		device:     device,
		properties: t.MemoryProperties(physical),
	}
}

// Live is the number of allocations not yet released.
func (a *Allocator) Live() int {
	return a.live
}

// CreateBuffer creates a buffer and binds it to new memory.
func (a *Allocator) CreateBuffer(
	info *vk.BufferCreateInfo,
	usage Usage,
) (vk.Buffer, *Allocation, error) {
	buffer, err := a.table.CreateBuffer(a.device, info)
	if err != nil {
		return vk.NullBuffer, nil, errors.Wrap(err, "failed to create buffer")
	}

	requirements := a.table.BufferMemoryRequirements(a.device, buffer)
	alloc, err := a.allocate(requirements, usage)
	if err != nil {
		a.table.DestroyBuffer(a.device, buffer)
		return vk.NullBuffer, nil, errors.Wrap(err, "buffer memory")
	}

	if err := a.table.BindBufferMemory(a.device, buffer, alloc.memory); err != nil {
		a.table.DestroyBuffer(a.device, buffer)
		a.free(alloc)
		return vk.NullBuffer, nil, errors.Wrap(err, "failed to bind buffer memory")
	}

	return buffer, alloc, nil
}

// DestroyBuffer destroys buffer and frees its memory.
func (a *Allocator) DestroyBuffer(buffer vk.Buffer, alloc *Allocation) {
	if buffer != vk.NullBuffer {
		a.table.DestroyBuffer(a.device, buffer)
	}
	a.free(alloc)
}

// CreateImage creates an image and binds it to new memory.
func (a *Allocator) CreateImage(
	info *vk.ImageCreateInfo,
	usage Usage,
) (vk.Image, *Allocation, error) {
	image, err := a.table.CreateImage(a.device, info)
	if err != nil {
		return vk.NullImage, nil, errors.Wrap(err, "failed to create an image")
	}

	requirements := a.table.ImageMemoryRequirements(a.device, image)
	alloc, err := a.allocate(requirements, usage)
	if err != nil {
		a.table.DestroyImage(a.device, image)
		return vk.NullImage, nil, errors.Wrap(err, "image memory")
	}

	if err := a.table.BindImageMemory(a.device, image, alloc.memory); err != nil {
		a.table.DestroyImage(a.device, image)
		a.free(alloc)
		return vk.NullImage, nil, errors.Wrap(err, "failed to bind image memory")
	}

	return image, alloc, nil
}

// DestroyImage destroys image and frees its memory.
func (a *Allocator) DestroyImage(image vk.Image, alloc *Allocation) {
	if image != vk.NullImage {
		a.table.DestroyImage(a.device, image)
	}
	a.free(alloc)
}

// Map returns the memory of a CPUOnly allocation as a byte slice. The slice
// is valid until Unmap.
func (a *Allocator) Map(alloc *Allocation) ([]byte, error) {
	if alloc.usage != CPUOnly {
		return nil, ErrNotMappable
	}
	if alloc.mapped {
		return nil, errors.New("allocation is already mapped")
	}

	data, err := a.table.MapMemory(a.device, alloc.memory, alloc.size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to map memory")
	}
	alloc.mapped = true
	return unsafe.Slice((*byte)(data), int(alloc.size)), nil
}

// Unmap releases the mapping created by Map.
func (a *Allocator) Unmap(alloc *Allocation) {
	if !alloc.mapped {
		return
	}
	a.table.UnmapMemory(a.device, alloc.memory)
	alloc.mapped = false
}

// Close reports allocations which were never released.
func (a *Allocator) Close() error {
	if a.live != 0 {
		return errors.Errorf("%d allocations still alive", a.live)
	}
	return nil
}

func (a *Allocator) allocate(requirements vk.MemoryRequirements, usage Usage) (*Allocation, error) {
	memTypeIndex, err := a.findMemoryType(requirements.MemoryTypeBits, usage.flags())
	if err != nil {
		return nil, errors.Wrap(err, usage.String())
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memTypeIndex,
	}

	memory, err := a.table.AllocateMemory(a.device, &allocInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate memory")
	}

	a.live++
	return &Allocation{
		memory: memory,
		size:   requirements.Size,
		usage:  usage,
	}, nil
}

func (a *Allocator) free(alloc *Allocation) {
	if alloc == nil || alloc.memory == vk.NullDeviceMemory {
		return
	}
	a.Unmap(alloc)
	a.table.FreeMemory(a.device, alloc.memory)
	alloc.memory = vk.NullDeviceMemory
	a.live--
}

func (a *Allocator) findMemoryType(
	typeFilter uint32,
	properties vk.MemoryPropertyFlags,
) (uint32, error) {
	for i := uint32(0); i < a.properties.MemoryTypeCount; i++ {
		memType := a.properties.MemoryTypes[i]

		if typeFilter&(1<<i) == 0 {
			continue
		}

		if memType.PropertyFlags&properties != properties {
			continue
		}

		return i, nil
	}

	return 0, ErrNoMemoryType
}
