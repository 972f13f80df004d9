// Package dispatch holds the table of Vulkan entry points used by the rest of
// the program.
//
// Nothing outside this package calls into the Vulkan bindings directly. A
// single Table is resolved once at start up and handed to every subsystem, so
// the device, the memory allocator and the frame loop always go through the
// same set of loaded function pointers.
package dispatch

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Table is the set of Vulkan operations the program needs.
//
// WaitForFences, AcquireNextImage and QueuePresent return the raw vk.Result
// because their non-success codes (timeout, out of date, suboptimal) are part
// of normal control flow. Everything else reports failures as errors.
type Table interface {
	CreateInstance(info *vk.InstanceCreateInfo) (vk.Instance, error)
	DestroyInstance(instance vk.Instance)
	InstanceLayers() ([]string, error)
	DestroySurface(instance vk.Instance, surface vk.Surface)

	EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error)
	PhysicalDeviceName(physical vk.PhysicalDevice) string
	DeviceExtensions(physical vk.PhysicalDevice) ([]string, error)
	QueueFamilyProperties(physical vk.PhysicalDevice) []vk.QueueFamilyProperties
	SurfaceSupport(physical vk.PhysicalDevice, family uint32, surface vk.Surface) (bool, error)
	SurfaceCapabilities(physical vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, error)
	SurfaceFormats(physical vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error)
	SurfacePresentModes(physical vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, error)
	MemoryProperties(physical vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties
	CreateDevice(physical vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, error)

	DestroyDevice(device vk.Device)
	DeviceWaitIdle(device vk.Device) error
	GetDeviceQueue(device vk.Device, family, index uint32) vk.Queue
	QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error
	QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result

	CreateCommandPool(device vk.Device, info *vk.CommandPoolCreateInfo) (vk.CommandPool, error)
	DestroyCommandPool(device vk.Device, pool vk.CommandPool)
	AllocateCommandBuffers(device vk.Device, info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, error)
	ResetCommandBuffer(cmd vk.CommandBuffer) error
	BeginCommandBuffer(cmd vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error
	EndCommandBuffer(cmd vk.CommandBuffer) error

	CreateSemaphore(device vk.Device) (vk.Semaphore, error)
	DestroySemaphore(device vk.Device, semaphore vk.Semaphore)
	CreateFence(device vk.Device, signaled bool) (vk.Fence, error)
	DestroyFence(device vk.Device, fence vk.Fence)
	WaitForFences(device vk.Device, fences []vk.Fence, timeout uint64) vk.Result
	ResetFences(device vk.Device, fences []vk.Fence) error

	CreateSwapchain(device vk.Device, info *vk.SwapchainCreateInfo) (vk.Swapchain, error)
	DestroySwapchain(device vk.Device, swapchain vk.Swapchain)
	GetSwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error)
	AcquireNextImage(device vk.Device, swapchain vk.Swapchain, timeout uint64, signal vk.Semaphore) (uint32, vk.Result)

	CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error)
	DestroyBuffer(device vk.Device, buffer vk.Buffer)
	BufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements
	CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error)
	DestroyImage(device vk.Device, image vk.Image)
	ImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements
	AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error)
	FreeMemory(device vk.Device, memory vk.DeviceMemory)
	BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory) error
	BindImageMemory(device vk.Device, image vk.Image, memory vk.DeviceMemory) error
	MapMemory(device vk.Device, memory vk.DeviceMemory, size vk.DeviceSize) (unsafe.Pointer, error)
	UnmapMemory(device vk.Device, memory vk.DeviceMemory)

	CmdPipelineBarrier(cmd vk.CommandBuffer, src, dst vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier)
	CmdClearColorImage(cmd vk.CommandBuffer, image vk.Image, layout vk.ImageLayout, color [4]float32, subresource vk.ImageSubresourceRange)
	CmdBlitImage(cmd vk.CommandBuffer, src vk.Image, srcLayout vk.ImageLayout, dst vk.Image, dstLayout vk.ImageLayout, regions []vk.ImageBlit, filter vk.Filter)
	CmdCopyBufferToImage(cmd vk.CommandBuffer, buffer vk.Buffer, image vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy)
}
