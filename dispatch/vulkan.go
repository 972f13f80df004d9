package dispatch

import (
	"unsafe"

	"vulkan-blit/unsafer"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Vulkan is the Table backed by the vulkan-go bindings. Its entry points are
// resolved at run time through the loader given to Load.
type Vulkan struct{}

var _ Table = (*Vulkan)(nil)

// Load resolves the global Vulkan entry points through getInstanceProcAddr,
// usually the pointer returned by the windowing library. Instance level
// entry points are resolved again by CreateInstance.
func Load(getInstanceProcAddr unsafe.Pointer) (*Vulkan, error) {
	if getInstanceProcAddr == nil {
		return nil, errors.New("no vkGetInstanceProcAddr available")
	}
	vk.SetGetInstanceProcAddr(getInstanceProcAddr)

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to init Vulkan Go")
	}
	return &Vulkan{}, nil
}

func (v *Vulkan) CreateInstance(info *vk.InstanceCreateInfo) (vk.Instance, error) {
	var instance vk.Instance
	if err := Check(vk.CreateInstance(info, nil, &instance), "vkCreateInstance"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.Wrap(err, "resolving instance functions")
	}
	return instance, nil
}

func (v *Vulkan) DestroyInstance(instance vk.Instance) {
	vk.DestroyInstance(instance, nil)
}

func (v *Vulkan) InstanceLayers() ([]string, error) {
	var count uint32
	res := vk.EnumerateInstanceLayerProperties(&count, nil)
	if err := Check(res, "vkEnumerateInstanceLayerProperties"); err != nil {
		return nil, err
	}

	layers := make([]vk.LayerProperties, count)
	res = vk.EnumerateInstanceLayerProperties(&count, layers)
	if err := Check(res, "vkEnumerateInstanceLayerProperties"); err != nil {
		return nil, err
	}

	names := make([]string, 0, count)
	for _, layer := range layers[:count] {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, nil
}

func (v *Vulkan) DestroySurface(instance vk.Instance, surface vk.Surface) {
	vk.DestroySurface(instance, surface, nil)
}

func (v *Vulkan) EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var count uint32
	res := vk.EnumeratePhysicalDevices(instance, &count, nil)
	if err := Check(res, "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	devices := make([]vk.PhysicalDevice, count)
	res = vk.EnumeratePhysicalDevices(instance, &count, devices)
	if err := Check(res, "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	return devices[:count], nil
}

func (v *Vulkan) PhysicalDeviceName(physical vk.PhysicalDevice) string {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(physical, &properties)
	properties.Deref()
	return vk.ToString(properties.DeviceName[:])
}

func (v *Vulkan) DeviceExtensions(physical vk.PhysicalDevice) ([]string, error) {
	var count uint32
	res := vk.EnumerateDeviceExtensionProperties(physical, "", &count, nil)
	if err := Check(res, "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}

	available := make([]vk.ExtensionProperties, count)
	res = vk.EnumerateDeviceExtensionProperties(physical, "", &count, available)
	if err := Check(res, "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}

	names := make([]string, 0, count)
	for _, extension := range available[:count] {
		extension.Deref()
		names = append(names, vk.ToString(extension.ExtensionName[:]))
	}
	return names, nil
}

func (v *Vulkan) QueueFamilyProperties(physical vk.PhysicalDevice) []vk.QueueFamilyProperties {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, nil)

	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, families)
	for i := range families {
		families[i].Deref()
	}
	return families[:count]
}

func (v *Vulkan) SurfaceSupport(
	physical vk.PhysicalDevice,
	family uint32,
	surface vk.Surface,
) (bool, error) {
	var supported vk.Bool32
	res := vk.GetPhysicalDeviceSurfaceSupport(physical, family, surface, &supported)
	if err := Check(res, "vkGetPhysicalDeviceSurfaceSupportKHR"); err != nil {
		return false, err
	}
	return supported.B(), nil
}

func (v *Vulkan) SurfaceCapabilities(
	physical vk.PhysicalDevice,
	surface vk.Surface,
) (vk.SurfaceCapabilities, error) {
	var capabilities vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(physical, surface, &capabilities)
	if err := Check(res, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return capabilities, err
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()
	return capabilities, nil
}

func (v *Vulkan) SurfaceFormats(
	physical vk.PhysicalDevice,
	surface vk.Surface,
) ([]vk.SurfaceFormat, error) {
	var count uint32
	res := vk.GetPhysicalDeviceSurfaceFormats(physical, surface, &count, nil)
	if err := Check(res, "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	formats := make([]vk.SurfaceFormat, count)
	res = vk.GetPhysicalDeviceSurfaceFormats(physical, surface, &count, formats)
	if err := Check(res, "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return nil, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	return formats[:count], nil
}

func (v *Vulkan) SurfacePresentModes(
	physical vk.PhysicalDevice,
	surface vk.Surface,
) ([]vk.PresentMode, error) {
	var count uint32
	res := vk.GetPhysicalDeviceSurfacePresentModes(physical, surface, &count, nil)
	if err := Check(res, "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	modes := make([]vk.PresentMode, count)
	res = vk.GetPhysicalDeviceSurfacePresentModes(physical, surface, &count, modes)
	if err := Check(res, "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return nil, err
	}
	return modes[:count], nil
}

func (v *Vulkan) MemoryProperties(physical vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties {
	var properties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physical, &properties)
	properties.Deref()

	for i := uint32(0); i < properties.MemoryTypeCount; i++ {
		properties.MemoryTypes[i].Deref()
	}
	for i := uint32(0); i < properties.MemoryHeapCount; i++ {
		properties.MemoryHeaps[i].Deref()
	}
	return properties
}

func (v *Vulkan) CreateDevice(
	physical vk.PhysicalDevice,
	info *vk.DeviceCreateInfo,
) (vk.Device, error) {
	var device vk.Device
	if err := Check(vk.CreateDevice(physical, info, nil, &device), "vkCreateDevice"); err != nil {
		return nil, err
	}
	return device, nil
}

func (v *Vulkan) DestroyDevice(device vk.Device) {
	vk.DestroyDevice(device, nil)
}

func (v *Vulkan) DeviceWaitIdle(device vk.Device) error {
	return Check(vk.DeviceWaitIdle(device), "vkDeviceWaitIdle")
}

func (v *Vulkan) GetDeviceQueue(device vk.Device, family, index uint32) vk.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(device, family, index, &queue)
	return queue
}

func (v *Vulkan) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	res := vk.QueueSubmit(queue, uint32(len(submits)), submits, fence)
	return Check(res, "vkQueueSubmit")
}

func (v *Vulkan) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	return vk.QueuePresent(queue, info)
}

func (v *Vulkan) CreateCommandPool(
	device vk.Device,
	info *vk.CommandPoolCreateInfo,
) (vk.CommandPool, error) {
	var pool vk.CommandPool
	res := vk.CreateCommandPool(device, info, nil, &pool)
	if err := Check(res, "vkCreateCommandPool"); err != nil {
		return vk.CommandPool(vk.NullHandle), err
	}
	return pool, nil
}

func (v *Vulkan) DestroyCommandPool(device vk.Device, pool vk.CommandPool) {
	vk.DestroyCommandPool(device, pool, nil)
}

func (v *Vulkan) AllocateCommandBuffers(
	device vk.Device,
	info *vk.CommandBufferAllocateInfo,
) ([]vk.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	res := vk.AllocateCommandBuffers(device, info, buffers)
	if err := Check(res, "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	return buffers, nil
}

func (v *Vulkan) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	return Check(vk.ResetCommandBuffer(cmd, 0), "vkResetCommandBuffer")
}

func (v *Vulkan) BeginCommandBuffer(cmd vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	return Check(vk.BeginCommandBuffer(cmd, info), "vkBeginCommandBuffer")
}

func (v *Vulkan) EndCommandBuffer(cmd vk.CommandBuffer) error {
	return Check(vk.EndCommandBuffer(cmd), "vkEndCommandBuffer")
}

func (v *Vulkan) CreateSemaphore(device vk.Device) (vk.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var semaphore vk.Semaphore
	res := vk.CreateSemaphore(device, &info, nil, &semaphore)
	if err := Check(res, "vkCreateSemaphore"); err != nil {
		return vk.Semaphore(vk.NullHandle), err
	}
	return semaphore, nil
}

func (v *Vulkan) DestroySemaphore(device vk.Device, semaphore vk.Semaphore) {
	vk.DestroySemaphore(device, semaphore, nil)
}

func (v *Vulkan) CreateFence(device vk.Device, signaled bool) (vk.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if err := Check(vk.CreateFence(device, &info, nil, &fence), "vkCreateFence"); err != nil {
		return vk.NullFence, err
	}
	return fence, nil
}

func (v *Vulkan) DestroyFence(device vk.Device, fence vk.Fence) {
	vk.DestroyFence(device, fence, nil)
}

func (v *Vulkan) WaitForFences(device vk.Device, fences []vk.Fence, timeout uint64) vk.Result {
	return vk.WaitForFences(device, uint32(len(fences)), fences, vk.True, timeout)
}

func (v *Vulkan) ResetFences(device vk.Device, fences []vk.Fence) error {
	return Check(vk.ResetFences(device, uint32(len(fences)), fences), "vkResetFences")
}

func (v *Vulkan) CreateSwapchain(
	device vk.Device,
	info *vk.SwapchainCreateInfo,
) (vk.Swapchain, error) {
	var swapchain vk.Swapchain
	res := vk.CreateSwapchain(device, info, nil, &swapchain)
	if err := Check(res, "vkCreateSwapchainKHR"); err != nil {
		return vk.NullSwapchain, err
	}
	return swapchain, nil
}

func (v *Vulkan) DestroySwapchain(device vk.Device, swapchain vk.Swapchain) {
	vk.DestroySwapchain(device, swapchain, nil)
}

func (v *Vulkan) GetSwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error) {
	var count uint32
	res := vk.GetSwapchainImages(device, swapchain, &count, nil)
	if err := Check(res, "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}

	images := make([]vk.Image, count)
	res = vk.GetSwapchainImages(device, swapchain, &count, images)
	if err := Check(res, "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	return images[:count], nil
}

func (v *Vulkan) AcquireNextImage(
	device vk.Device,
	swapchain vk.Swapchain,
	timeout uint64,
	signal vk.Semaphore,
) (uint32, vk.Result) {
	var index uint32
	res := vk.AcquireNextImage(
		device,
		swapchain,
		timeout,
		signal,
		vk.Fence(vk.NullHandle),
		&index,
	)
	return index, res
}

func (v *Vulkan) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error) {
	var buffer vk.Buffer
	if err := Check(vk.CreateBuffer(device, info, nil, &buffer), "vkCreateBuffer"); err != nil {
		return vk.NullBuffer, err
	}
	return buffer, nil
}

func (v *Vulkan) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	vk.DestroyBuffer(device, buffer, nil)
}

func (v *Vulkan) BufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &requirements)
	requirements.Deref()
	return requirements
}

func (v *Vulkan) CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error) {
	var image vk.Image
	if err := Check(vk.CreateImage(device, info, nil, &image), "vkCreateImage"); err != nil {
		return vk.NullImage, err
	}
	return image, nil
}

func (v *Vulkan) DestroyImage(device vk.Device, image vk.Image) {
	vk.DestroyImage(device, image, nil)
}

func (v *Vulkan) ImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image, &requirements)
	requirements.Deref()
	return requirements
}

func (v *Vulkan) AllocateMemory(
	device vk.Device,
	info *vk.MemoryAllocateInfo,
) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	res := vk.AllocateMemory(device, info, nil, &memory)
	if err := Check(res, "vkAllocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}

func (v *Vulkan) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.FreeMemory(device, memory, nil)
}

func (v *Vulkan) BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory) error {
	return Check(vk.BindBufferMemory(device, buffer, memory, 0), "vkBindBufferMemory")
}

func (v *Vulkan) BindImageMemory(device vk.Device, image vk.Image, memory vk.DeviceMemory) error {
	return Check(vk.BindImageMemory(device, image, memory, 0), "vkBindImageMemory")
}

func (v *Vulkan) MapMemory(
	device vk.Device,
	memory vk.DeviceMemory,
	size vk.DeviceSize,
) (unsafe.Pointer, error) {
	var data unsafe.Pointer
	if err := Check(vk.MapMemory(device, memory, 0, size, 0, &data), "vkMapMemory"); err != nil {
		return nil, err
	}
	return data, nil
}

func (v *Vulkan) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.UnmapMemory(device, memory)
}

func (v *Vulkan) CmdPipelineBarrier(
	cmd vk.CommandBuffer,
	src vk.PipelineStageFlags,
	dst vk.PipelineStageFlags,
	barriers []vk.ImageMemoryBarrier,
) {
	vk.CmdPipelineBarrier(
		cmd,
		src, dst,
		0,
		0, nil,
		0, nil,
		uint32(len(barriers)), barriers,
	)
}

func (v *Vulkan) CmdClearColorImage(
	cmd vk.CommandBuffer,
	image vk.Image,
	layout vk.ImageLayout,
	color [4]float32,
	subresource vk.ImageSubresourceRange,
) {
	var clearColor vk.ClearColorValue
	unsafer.BytesTo(&clearColor, unsafer.SliceToBytes(color[:]))

	vk.CmdClearColorImage(
		cmd,
		image,
		layout,
		&clearColor,
		1,
		[]vk.ImageSubresourceRange{subresource},
	)
}

func (v *Vulkan) CmdBlitImage(
	cmd vk.CommandBuffer,
	src vk.Image,
	srcLayout vk.ImageLayout,
	dst vk.Image,
	dstLayout vk.ImageLayout,
	regions []vk.ImageBlit,
	filter vk.Filter,
) {
	vk.CmdBlitImage(cmd, src, srcLayout, dst, dstLayout, uint32(len(regions)), regions, filter)
}

func (v *Vulkan) CmdCopyBufferToImage(
	cmd vk.CommandBuffer,
	buffer vk.Buffer,
	image vk.Image,
	layout vk.ImageLayout,
	regions []vk.BufferImageCopy,
) {
	vk.CmdCopyBufferToImage(cmd, buffer, image, layout, uint32(len(regions)), regions)
}
