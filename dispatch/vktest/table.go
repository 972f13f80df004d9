package vktest

import (
	"slices"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

const (
	deviceLocalType = 0
	hostVisibleType = 1
)

func (d *Device) CreateInstance(info *vk.InstanceCreateInfo) (vk.Instance, error) {
	d.call("CreateInstance")
	if err := d.failure("CreateInstance"); err != nil {
		return nil, err
	}
	d.InstanceExtensions = slices.Clone(info.PpEnabledExtensionNames)
	d.EnabledLayers = slices.Clone(info.PpEnabledLayerNames)

	h, _ := d.mint("instance")
	return vk.Instance(h), nil
}

func (d *Device) DestroyInstance(instance vk.Instance) {
	if d.destroy("DestroyInstance", "instance", unsafe.Pointer(instance)) == nil {
		return
	}
	for _, obj := range d.objects {
		if !obj.destroyed && (obj.kind == "device" || obj.kind == "surface") {
			d.Violation("DestroyInstance: %s is still alive", obj.name)
		}
	}
}

func (d *Device) InstanceLayers() ([]string, error) {
	d.call("InstanceLayers")
	if err := d.failure("InstanceLayers"); err != nil {
		return nil, err
	}
	return slices.Clone(d.Layers), nil
}

func (d *Device) DestroySurface(instance vk.Instance, surface vk.Surface) {
	d.lookup("DestroySurface", "instance", unsafe.Pointer(instance))
	if d.destroy("DestroySurface", "surface", unsafe.Pointer(surface)) == nil {
		return
	}
	for _, obj := range d.objects {
		if !obj.destroyed && obj.kind == "swapchain" {
			d.Violation("DestroySurface: %s is still alive", obj.name)
		}
	}
}

func (d *Device) EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	d.call("EnumeratePhysicalDevices", unsafe.Pointer(instance))
	if err := d.failure("EnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	d.lookup("EnumeratePhysicalDevices", "instance", unsafe.Pointer(instance))

	if d.adapter == nil {
		d.adapter = make(map[int]vk.PhysicalDevice)
	}
	devices := make([]vk.PhysicalDevice, 0, len(d.Adapters))
	for i := range d.Adapters {
		physical, ok := d.adapter[i]
		if !ok {
			h, obj := d.mint("physical")
			obj.adapter = i
			physical = vk.PhysicalDevice(h)
			d.adapter[i] = physical
		}
		devices = append(devices, physical)
	}
	return devices, nil
}

func (d *Device) adapterOf(op string, physical vk.PhysicalDevice) *Adapter {
	obj := d.lookup(op, "physical", unsafe.Pointer(physical))
	if obj == nil {
		return &Adapter{}
	}
	return &d.Adapters[obj.adapter]
}

func (d *Device) PhysicalDeviceName(physical vk.PhysicalDevice) string {
	return d.adapterOf("PhysicalDeviceName", physical).Name
}

func (d *Device) DeviceExtensions(physical vk.PhysicalDevice) ([]string, error) {
	if err := d.failure("DeviceExtensions"); err != nil {
		return nil, err
	}
	return slices.Clone(d.adapterOf("DeviceExtensions", physical).Extensions), nil
}

func (d *Device) QueueFamilyProperties(physical vk.PhysicalDevice) []vk.QueueFamilyProperties {
	return slices.Clone(d.adapterOf("QueueFamilyProperties", physical).Families)
}

func (d *Device) SurfaceSupport(
	physical vk.PhysicalDevice,
	family uint32,
	surface vk.Surface,
) (bool, error) {
	if err := d.failure("SurfaceSupport"); err != nil {
		return false, err
	}
	d.lookup("SurfaceSupport", "surface", unsafe.Pointer(surface))

	adapter := d.adapterOf("SurfaceSupport", physical)
	if int(family) >= len(adapter.Families) {
		d.Violation("SurfaceSupport: family %d out of range", family)
		return false, nil
	}
	if adapter.Present == nil {
		return true, nil
	}
	return slices.Contains(adapter.Present, family), nil
}

func (d *Device) SurfaceCapabilities(
	physical vk.PhysicalDevice,
	surface vk.Surface,
) (vk.SurfaceCapabilities, error) {
	d.call("SurfaceCapabilities", unsafe.Pointer(surface))
	if err := d.failure("SurfaceCapabilities"); err != nil {
		return vk.SurfaceCapabilities{}, err
	}
	d.lookup("SurfaceCapabilities", "physical", unsafe.Pointer(physical))
	d.lookup("SurfaceCapabilities", "surface", unsafe.Pointer(surface))
	return d.Capabilities, nil
}

func (d *Device) SurfaceFormats(
	physical vk.PhysicalDevice,
	surface vk.Surface,
) ([]vk.SurfaceFormat, error) {
	if err := d.failure("SurfaceFormats"); err != nil {
		return nil, err
	}
	d.lookup("SurfaceFormats", "surface", unsafe.Pointer(surface))
	return slices.Clone(d.Formats), nil
}

func (d *Device) SurfacePresentModes(
	physical vk.PhysicalDevice,
	surface vk.Surface,
) ([]vk.PresentMode, error) {
	if err := d.failure("SurfacePresentModes"); err != nil {
		return nil, err
	}
	d.lookup("SurfacePresentModes", "surface", unsafe.Pointer(surface))
	return slices.Clone(d.PresentModes), nil
}

func (d *Device) MemoryProperties(physical vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties {
	d.lookup("MemoryProperties", "physical", unsafe.Pointer(physical))
	return d.memoryProperties()
}

func (d *Device) CreateDevice(
	physical vk.PhysicalDevice,
	info *vk.DeviceCreateInfo,
) (vk.Device, error) {
	d.call("CreateDevice", unsafe.Pointer(physical))
	if err := d.failure("CreateDevice"); err != nil {
		return nil, err
	}
	adapter := d.adapterOf("CreateDevice", physical)

	request := DeviceRequest{
		Physical:   physical,
		Extensions: slices.Clone(info.PpEnabledExtensionNames),
		Layers:     slices.Clone(info.PpEnabledLayerNames),
	}
	for _, queue := range info.PQueueCreateInfos {
		if int(queue.QueueFamilyIndex) >= len(adapter.Families) {
			d.Violation("CreateDevice: queue family %d out of range", queue.QueueFamilyIndex)
		}
		if slices.Contains(request.Families, queue.QueueFamilyIndex) {
			d.Violation("CreateDevice: queue family %d requested twice", queue.QueueFamilyIndex)
		}
		request.Families = append(request.Families, queue.QueueFamilyIndex)
	}
	for _, name := range request.Extensions {
		if !slices.Contains(adapter.Extensions, trimNull(name)) {
			d.Violation("CreateDevice: extension %q not supported", name)
		}
	}
	d.Devices = append(d.Devices, request)

	h, obj := d.mint("device")
	obj.parent = unsafe.Pointer(physical)
	return vk.Device(h), nil
}

func (d *Device) DestroyDevice(device vk.Device) {
	if d.destroy("DestroyDevice", "device", unsafe.Pointer(device)) == nil {
		return
	}
	for _, name := range d.LiveObjects() {
		obj := d.byName(name)
		switch obj.kind {
		case "instance", "surface", "device":
			continue
		}
		d.Violation("DestroyDevice: %s leaked", name)
	}
}

func (d *Device) byName(name string) *object {
	for _, obj := range d.objects {
		if obj.name == name {
			return obj
		}
	}
	return nil
}

func (d *Device) DeviceWaitIdle(device vk.Device) error {
	d.call("DeviceWaitIdle")
	if err := d.failure("DeviceWaitIdle"); err != nil {
		return err
	}
	d.lookup("DeviceWaitIdle", "device", unsafe.Pointer(device))
	d.WaitIdles++
	if len(d.pending) > 0 {
		d.complete(len(d.pending) - 1)
	}
	return nil
}

func (d *Device) GetDeviceQueue(device vk.Device, family, index uint32) vk.Queue {
	d.lookup("GetDeviceQueue", "device", unsafe.Pointer(device))
	if d.queues == nil {
		d.queues = make(map[[2]uint32]vk.Queue)
	}
	key := [2]uint32{family, index}
	if queue, ok := d.queues[key]; ok {
		return queue
	}
	h, _ := d.mint("queue")
	d.queues[key] = vk.Queue(h)
	return vk.Queue(h)
}

func (d *Device) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	d.call("QueueSubmit", unsafe.Pointer(fence))
	if err := d.failure("QueueSubmit"); err != nil {
		return err
	}
	d.lookup("QueueSubmit", "queue", unsafe.Pointer(queue))

	w := &work{fence: fence}
	for _, submit := range submits {
		record := Submission{
			Queue:          queue,
			CommandBuffers: slices.Clone(submit.PCommandBuffers),
			Wait:           slices.Clone(submit.PWaitSemaphores),
			WaitStages:     slices.Clone(submit.PWaitDstStageMask),
			Signal:         slices.Clone(submit.PSignalSemaphores),
			Fence:          fence,
		}
		d.Submissions = append(d.Submissions, record)

		if len(record.Wait) != len(record.WaitStages) {
			d.Violation("QueueSubmit: %d wait semaphores with %d stage masks",
				len(record.Wait), len(record.WaitStages))
		}
		for _, sem := range record.Wait {
			obj := d.lookup("QueueSubmit", "semaphore", unsafe.Pointer(sem))
			if obj == nil {
				continue
			}
			if !obj.signaled {
				d.Violation("QueueSubmit: waits on %s which nothing signals", obj.name)
			}
			obj.signaled = false
		}
		for _, cmd := range record.CommandBuffers {
			obj := d.lookup("QueueSubmit", "command-buffer", unsafe.Pointer(cmd))
			if obj == nil {
				continue
			}
			switch obj.state {
			case cmdPending:
				d.Violation("QueueSubmit: %s is already in flight", obj.name)
			case cmdInitial, cmdRecording:
				d.Violation("QueueSubmit: %s is not executable", obj.name)
			}
			obj.state = cmdPending
			w.cmds = append(w.cmds, cmd)
		}
		for _, sem := range record.Signal {
			obj := d.lookup("QueueSubmit", "semaphore", unsafe.Pointer(sem))
			if obj == nil {
				continue
			}
			if obj.signaled {
				d.Violation("QueueSubmit: %s signaled twice", obj.name)
			}
			obj.signaled = true
		}
	}

	if fence != vk.NullFence {
		if obj := d.lookup("QueueSubmit", "fence", unsafe.Pointer(fence)); obj != nil {
			if obj.signaled {
				d.Violation("QueueSubmit: %s is already signaled", obj.name)
			}
			if d.pendingFence(fence) >= 0 {
				d.Violation("QueueSubmit: %s is already in flight", obj.name)
			}
		}
	}
	d.pending = append(d.pending, w)
	return nil
}

func (d *Device) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	d.call("QueuePresent")
	d.lookup("QueuePresent", "queue", unsafe.Pointer(queue))

	res := vk.Success
	if len(d.PresentResults) > 0 {
		res = d.PresentResults[0]
		d.PresentResults = d.PresentResults[1:]
	}

	for _, sem := range info.PWaitSemaphores {
		obj := d.lookup("QueuePresent", "semaphore", unsafe.Pointer(sem))
		if obj == nil {
			continue
		}
		if !obj.signaled {
			d.Violation("QueuePresent: waits on %s which nothing signals", obj.name)
		}
		obj.signaled = false
	}

	for i, swapchain := range info.PSwapchains {
		index := info.PImageIndices[i]
		d.Presents = append(d.Presents, Present{
			Queue:     queue,
			Swapchain: swapchain,
			Index:     index,
			Wait:      slices.Clone(info.PWaitSemaphores),
			Result:    res,
		})

		obj := d.lookup("QueuePresent", "swapchain", unsafe.Pointer(swapchain))
		if obj == nil {
			continue
		}
		if !obj.acquired[index] {
			d.Violation("QueuePresent: image %d of %s was not acquired", index, obj.name)
		}
		delete(obj.acquired, index)
	}
	return res
}

func (d *Device) CreateCommandPool(
	device vk.Device,
	info *vk.CommandPoolCreateInfo,
) (vk.CommandPool, error) {
	d.call("CreateCommandPool")
	if err := d.failure("CreateCommandPool"); err != nil {
		return vk.CommandPool(vk.NullHandle), err
	}
	d.lookup("CreateCommandPool", "device", unsafe.Pointer(device))

	h, obj := d.mint("command-pool")
	flag := vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
	obj.resettable = info.Flags&flag != 0
	return vk.CommandPool(h), nil
}

func (d *Device) DestroyCommandPool(device vk.Device, pool vk.CommandPool) {
	if d.destroy("DestroyCommandPool", "command-pool", unsafe.Pointer(pool)) == nil {
		return
	}
	for _, obj := range d.objects {
		if obj.kind == "command-buffer" && obj.parent == unsafe.Pointer(pool) {
			obj.destroyed = true
		}
	}
}

func (d *Device) AllocateCommandBuffers(
	device vk.Device,
	info *vk.CommandBufferAllocateInfo,
) ([]vk.CommandBuffer, error) {
	d.call("AllocateCommandBuffers", unsafe.Pointer(info.CommandPool))
	if err := d.failure("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	d.lookup("AllocateCommandBuffers", "command-pool", unsafe.Pointer(info.CommandPool))

	buffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	for i := range buffers {
		h, obj := d.mint("command-buffer")
		obj.parent = unsafe.Pointer(info.CommandPool)
		buffers[i] = vk.CommandBuffer(h)
	}
	return buffers, nil
}

func (d *Device) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	d.call("ResetCommandBuffer", unsafe.Pointer(cmd))
	obj := d.lookup("ResetCommandBuffer", "command-buffer", unsafe.Pointer(cmd))
	if obj == nil {
		return nil
	}
	if obj.state == cmdPending {
		d.Violation("ResetCommandBuffer: %s reset while in flight", obj.name)
	}
	if pool, ok := d.objects[obj.parent]; ok && !pool.resettable {
		d.Violation("ResetCommandBuffer: pool of %s does not allow individual reset", obj.name)
	}
	obj.state = cmdInitial
	return nil
}

func (d *Device) BeginCommandBuffer(cmd vk.CommandBuffer, info *vk.CommandBufferBeginInfo) error {
	d.call("BeginCommandBuffer", unsafe.Pointer(cmd))
	if err := d.failure("BeginCommandBuffer"); err != nil {
		return err
	}
	obj := d.lookup("BeginCommandBuffer", "command-buffer", unsafe.Pointer(cmd))
	if obj == nil {
		return nil
	}
	switch obj.state {
	case cmdPending:
		d.Violation("BeginCommandBuffer: %s re-recorded while in flight", obj.name)
	case cmdRecording:
		d.Violation("BeginCommandBuffer: %s is already recording", obj.name)
	}
	obj.state = cmdRecording
	return nil
}

func (d *Device) EndCommandBuffer(cmd vk.CommandBuffer) error {
	d.call("EndCommandBuffer", unsafe.Pointer(cmd))
	if err := d.failure("EndCommandBuffer"); err != nil {
		return err
	}
	obj := d.lookup("EndCommandBuffer", "command-buffer", unsafe.Pointer(cmd))
	if obj == nil {
		return nil
	}
	if obj.state != cmdRecording {
		d.Violation("EndCommandBuffer: %s is not recording", obj.name)
	}
	obj.state = cmdExecutable
	return nil
}

func (d *Device) CreateSemaphore(device vk.Device) (vk.Semaphore, error) {
	d.call("CreateSemaphore")
	if err := d.failure("CreateSemaphore"); err != nil {
		return vk.Semaphore(vk.NullHandle), err
	}
	d.lookup("CreateSemaphore", "device", unsafe.Pointer(device))
	h, _ := d.mint("semaphore")
	return vk.Semaphore(h), nil
}

func (d *Device) DestroySemaphore(device vk.Device, semaphore vk.Semaphore) {
	d.destroy("DestroySemaphore", "semaphore", unsafe.Pointer(semaphore))
}

func (d *Device) CreateFence(device vk.Device, signaled bool) (vk.Fence, error) {
	d.call("CreateFence")
	if err := d.failure("CreateFence"); err != nil {
		return vk.NullFence, err
	}
	d.lookup("CreateFence", "device", unsafe.Pointer(device))
	h, obj := d.mint("fence")
	obj.signaled = signaled
	return vk.Fence(h), nil
}

func (d *Device) DestroyFence(device vk.Device, fence vk.Fence) {
	d.destroy("DestroyFence", "fence", unsafe.Pointer(fence))
}

func (d *Device) WaitForFences(device vk.Device, fences []vk.Fence, timeout uint64) vk.Result {
	for _, fence := range fences {
		d.call("WaitForFences", unsafe.Pointer(fence))
		obj := d.lookup("WaitForFences", "fence", unsafe.Pointer(fence))
		if obj == nil || obj.signaled {
			continue
		}
		i := d.pendingFence(fence)
		if i < 0 {
			d.Violation("WaitForFences: %s is unsignaled and nothing will signal it", obj.name)
			return vk.Timeout
		}
		if d.Stall {
			return vk.Timeout
		}
		d.complete(i)
	}
	return vk.Success
}

func (d *Device) ResetFences(device vk.Device, fences []vk.Fence) error {
	for _, fence := range fences {
		d.call("ResetFences", unsafe.Pointer(fence))
	}
	if err := d.failure("ResetFences"); err != nil {
		return err
	}
	for _, fence := range fences {
		obj := d.lookup("ResetFences", "fence", unsafe.Pointer(fence))
		if obj == nil {
			continue
		}
		if d.pendingFence(fence) >= 0 {
			d.Violation("ResetFences: %s reset while in flight", obj.name)
		}
		obj.signaled = false
	}
	return nil
}

func (d *Device) CreateSwapchain(
	device vk.Device,
	info *vk.SwapchainCreateInfo,
) (vk.Swapchain, error) {
	d.call("CreateSwapchain", unsafe.Pointer(info.OldSwapchain))
	d.lookup("CreateSwapchain", "device", unsafe.Pointer(device))

	// The old swapchain is retired even when creation fails.
	old := unsafe.Pointer(info.OldSwapchain)
	if old != nil {
		if obj := d.lookup("CreateSwapchain", "swapchain", old); obj != nil {
			if obj.retired {
				d.Violation("CreateSwapchain: %s was already retired", obj.name)
			}
			obj.retired = true
		}
	}
	if err := d.failure("CreateSwapchain"); err != nil {
		return vk.NullSwapchain, err
	}
	d.lookup("CreateSwapchain", "surface", unsafe.Pointer(info.Surface))

	record := *info
	record.PQueueFamilyIndices = slices.Clone(info.PQueueFamilyIndices)
	d.Swapchains = append(d.Swapchains, record)

	caps := d.Capabilities
	extent := info.ImageExtent
	if extent.Width == 0 || extent.Height == 0 {
		d.Violation("CreateSwapchain: zero extent %dx%d", extent.Width, extent.Height)
	}
	if extent.Width < caps.MinImageExtent.Width || extent.Width > caps.MaxImageExtent.Width ||
		extent.Height < caps.MinImageExtent.Height || extent.Height > caps.MaxImageExtent.Height {
		d.Violation("CreateSwapchain: extent %dx%d outside surface limits", extent.Width, extent.Height)
	}
	if info.MinImageCount < caps.MinImageCount ||
		(caps.MaxImageCount > 0 && info.MinImageCount > caps.MaxImageCount) {
		d.Violation("CreateSwapchain: image count %d outside surface limits", info.MinImageCount)
	}
	if !slices.Contains(d.PresentModes, info.PresentMode) {
		d.Violation("CreateSwapchain: present mode %d not supported", info.PresentMode)
	}

	for h, obj := range d.objects {
		if obj.kind == "swapchain" && !obj.destroyed && !obj.retired && h != old {
			d.Violation("CreateSwapchain: surface still owned by %s", obj.name)
		}
	}

	h, obj := d.mint("swapchain")
	obj.extent = extent
	obj.acquired = make(map[uint32]bool)
	for i := uint32(0); i < info.MinImageCount; i++ {
		img, imgObj := d.mint("swapchain-image")
		imgObj.parent = h
		obj.images = append(obj.images, vk.Image(img))
	}
	return vk.Swapchain(h), nil
}

func (d *Device) DestroySwapchain(device vk.Device, swapchain vk.Swapchain) {
	obj := d.destroy("DestroySwapchain", "swapchain", unsafe.Pointer(swapchain))
	if obj == nil {
		return
	}
	for _, img := range obj.images {
		d.objects[unsafe.Pointer(img)].destroyed = true
	}
}

func (d *Device) GetSwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error) {
	d.call("GetSwapchainImages", unsafe.Pointer(swapchain))
	if err := d.failure("GetSwapchainImages"); err != nil {
		return nil, err
	}
	obj := d.lookup("GetSwapchainImages", "swapchain", unsafe.Pointer(swapchain))
	if obj == nil {
		return nil, nil
	}
	return slices.Clone(obj.images), nil
}

func (d *Device) AcquireNextImage(
	device vk.Device,
	swapchain vk.Swapchain,
	timeout uint64,
	signal vk.Semaphore,
) (uint32, vk.Result) {
	d.call("AcquireNextImage", unsafe.Pointer(swapchain), unsafe.Pointer(signal))

	res := vk.Success
	if len(d.AcquireResults) > 0 {
		res = d.AcquireResults[0]
		d.AcquireResults = d.AcquireResults[1:]
	}

	obj := d.lookup("AcquireNextImage", "swapchain", unsafe.Pointer(swapchain))
	if obj == nil {
		return 0, vk.ErrorOutOfDate
	}
	if obj.retired {
		d.Violation("AcquireNextImage: %s is retired", obj.name)
	}
	if res != vk.Success && res != vk.Suboptimal {
		d.Acquires = append(d.Acquires, Acquire{
			Swapchain: swapchain,
			Semaphore: signal,
			Result:    res,
		})
		return 0, res
	}

	n := uint32(len(obj.images))
	index := n
	for i := uint32(0); i < n; i++ {
		candidate := (obj.next + i) % n
		if !obj.acquired[candidate] {
			index = candidate
			break
		}
	}
	if index == n {
		d.Violation("AcquireNextImage: every image of %s is already acquired", obj.name)
		return 0, vk.Timeout
	}

	if sem := d.lookup("AcquireNextImage", "semaphore", unsafe.Pointer(signal)); sem != nil {
		if sem.signaled {
			d.Violation("AcquireNextImage: %s signaled twice", sem.name)
		}
		sem.signaled = true
	}
	obj.acquired[index] = true
	obj.next = (index + 1) % n

	d.Acquires = append(d.Acquires, Acquire{
		Swapchain: swapchain,
		Semaphore: signal,
		Index:     index,
		Result:    res,
	})
	return index, res
}

func (d *Device) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error) {
	d.call("CreateBuffer")
	if err := d.failure("CreateBuffer"); err != nil {
		return vk.NullBuffer, err
	}
	d.lookup("CreateBuffer", "device", unsafe.Pointer(device))
	h, obj := d.mint("buffer")
	obj.size = info.Size
	obj.typeBits = 1<<deviceLocalType | 1<<hostVisibleType
	return vk.Buffer(h), nil
}

func (d *Device) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	d.destroy("DestroyBuffer", "buffer", unsafe.Pointer(buffer))
}

func (d *Device) BufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	obj := d.lookup("BufferMemoryRequirements", "buffer", unsafe.Pointer(buffer))
	if obj == nil {
		return vk.MemoryRequirements{}
	}
	return vk.MemoryRequirements{
		Size:           obj.size,
		Alignment:      16,
		MemoryTypeBits: obj.typeBits,
	}
}

func (d *Device) CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error) {
	d.call("CreateImage")
	if err := d.failure("CreateImage"); err != nil {
		return vk.NullImage, err
	}
	d.lookup("CreateImage", "device", unsafe.Pointer(device))
	h, obj := d.mint("image")
	obj.size = vk.DeviceSize(info.Extent.Width) * vk.DeviceSize(info.Extent.Height) * 4
	obj.typeBits = 1 << deviceLocalType
	return vk.Image(h), nil
}

func (d *Device) DestroyImage(device vk.Device, image vk.Image) {
	d.destroy("DestroyImage", "image", unsafe.Pointer(image))
}

func (d *Device) ImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements {
	obj := d.lookup("ImageMemoryRequirements", "image", unsafe.Pointer(image))
	if obj == nil {
		return vk.MemoryRequirements{}
	}
	return vk.MemoryRequirements{
		Size:           obj.size,
		Alignment:      256,
		MemoryTypeBits: obj.typeBits,
	}
}

func (d *Device) AllocateMemory(
	device vk.Device,
	info *vk.MemoryAllocateInfo,
) (vk.DeviceMemory, error) {
	d.call("AllocateMemory")
	if err := d.failure("AllocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	d.lookup("AllocateMemory", "device", unsafe.Pointer(device))
	if info.MemoryTypeIndex > hostVisibleType {
		d.Violation("AllocateMemory: memory type %d does not exist", info.MemoryTypeIndex)
	}

	h, obj := d.mint("memory")
	obj.size = info.AllocationSize
	obj.memType = info.MemoryTypeIndex
	if info.MemoryTypeIndex == hostVisibleType {
		obj.data = make([]byte, info.AllocationSize)
	}
	return vk.DeviceMemory(h), nil
}

func (d *Device) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	d.destroy("FreeMemory", "memory", unsafe.Pointer(memory))
}

func (d *Device) bind(op, kind string, h unsafe.Pointer, memory vk.DeviceMemory) {
	obj := d.lookup(op, kind, h)
	mem := d.lookup(op, "memory", unsafe.Pointer(memory))
	if obj == nil || mem == nil {
		return
	}
	if obj.memory != nil {
		d.Violation("%s: %s is already bound", op, obj.name)
	}
	if obj.typeBits&(1<<mem.memType) == 0 {
		d.Violation("%s: memory type %d not allowed for %s", op, mem.memType, obj.name)
	}
	if mem.size < obj.size {
		d.Violation("%s: %s needs %d bytes, %s has %d", op, obj.name, obj.size, mem.name, mem.size)
	}
	obj.memory = unsafe.Pointer(memory)
}

func (d *Device) BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory) error {
	d.call("BindBufferMemory", unsafe.Pointer(buffer), unsafe.Pointer(memory))
	if err := d.failure("BindBufferMemory"); err != nil {
		return err
	}
	d.bind("BindBufferMemory", "buffer", unsafe.Pointer(buffer), memory)
	return nil
}

func (d *Device) BindImageMemory(device vk.Device, image vk.Image, memory vk.DeviceMemory) error {
	d.call("BindImageMemory", unsafe.Pointer(image), unsafe.Pointer(memory))
	if err := d.failure("BindImageMemory"); err != nil {
		return err
	}
	d.bind("BindImageMemory", "image", unsafe.Pointer(image), memory)
	return nil
}

func (d *Device) MapMemory(
	device vk.Device,
	memory vk.DeviceMemory,
	size vk.DeviceSize,
) (unsafe.Pointer, error) {
	d.call("MapMemory", unsafe.Pointer(memory))
	if err := d.failure("MapMemory"); err != nil {
		return nil, err
	}
	obj := d.lookup("MapMemory", "memory", unsafe.Pointer(memory))
	if obj == nil {
		return nil, nil
	}
	if obj.data == nil {
		d.Violation("MapMemory: %s is not host visible", obj.name)
		return nil, nil
	}
	if size > obj.size {
		d.Violation("MapMemory: %d bytes requested from %s of %d", size, obj.name, obj.size)
	}
	return unsafe.Pointer(&obj.data[0]), nil
}

func (d *Device) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {
	d.call("UnmapMemory", unsafe.Pointer(memory))
	d.lookup("UnmapMemory", "memory", unsafe.Pointer(memory))
}

func (d *Device) recording(op string, cmd vk.CommandBuffer) {
	obj := d.lookup(op, "command-buffer", unsafe.Pointer(cmd))
	if obj != nil && obj.state != cmdRecording {
		d.Violation("%s: %s is not recording", op, obj.name)
	}
}

// image checks an image handle that may belong to a swapchain.
func (d *Device) image(op string, image vk.Image) {
	obj, ok := d.objects[unsafe.Pointer(image)]
	if !ok {
		d.Violation("%s: unknown image handle %p", op, unsafe.Pointer(image))
		return
	}
	if obj.kind != "image" && obj.kind != "swapchain-image" {
		d.Violation("%s: %s is not an image", op, obj.name)
		return
	}
	if obj.destroyed {
		d.Violation("%s: %s used after destroy", op, obj.name)
	}
}

func (d *Device) CmdPipelineBarrier(
	cmd vk.CommandBuffer,
	src vk.PipelineStageFlags,
	dst vk.PipelineStageFlags,
	barriers []vk.ImageMemoryBarrier,
) {
	d.call("CmdPipelineBarrier", unsafe.Pointer(cmd))
	d.recording("CmdPipelineBarrier", cmd)
	for _, barrier := range barriers {
		d.image("CmdPipelineBarrier", barrier.Image)
		d.Barriers = append(d.Barriers, Barrier{
			CommandBuffer:      cmd,
			SrcStage:           src,
			DstStage:           dst,
			ImageMemoryBarrier: barrier,
		})
	}
}

func (d *Device) CmdClearColorImage(
	cmd vk.CommandBuffer,
	image vk.Image,
	layout vk.ImageLayout,
	color [4]float32,
	subresource vk.ImageSubresourceRange,
) {
	d.call("CmdClearColorImage", unsafe.Pointer(cmd), unsafe.Pointer(image))
	d.recording("CmdClearColorImage", cmd)
	d.image("CmdClearColorImage", image)
	if layout != vk.ImageLayoutTransferDstOptimal && layout != vk.ImageLayoutGeneral {
		d.Violation("CmdClearColorImage: layout %d cannot be cleared", layout)
	}
	d.Clears = append(d.Clears, Clear{
		CommandBuffer: cmd,
		Image:         image,
		Layout:        layout,
		Color:         color,
		Range:         subresource,
	})
}

func (d *Device) CmdBlitImage(
	cmd vk.CommandBuffer,
	src vk.Image,
	srcLayout vk.ImageLayout,
	dst vk.Image,
	dstLayout vk.ImageLayout,
	regions []vk.ImageBlit,
	filter vk.Filter,
) {
	d.call("CmdBlitImage", unsafe.Pointer(cmd), unsafe.Pointer(src), unsafe.Pointer(dst))
	d.recording("CmdBlitImage", cmd)
	d.image("CmdBlitImage", src)
	d.image("CmdBlitImage", dst)
	if srcLayout != vk.ImageLayoutTransferSrcOptimal {
		d.Violation("CmdBlitImage: source layout %d", srcLayout)
	}
	if dstLayout != vk.ImageLayoutTransferDstOptimal {
		d.Violation("CmdBlitImage: destination layout %d", dstLayout)
	}
	d.Blits = append(d.Blits, Blit{
		CommandBuffer: cmd,
		Src:           src,
		SrcLayout:     srcLayout,
		Dst:           dst,
		DstLayout:     dstLayout,
		Regions:       slices.Clone(regions),
		Filter:        filter,
	})
}

func (d *Device) CmdCopyBufferToImage(
	cmd vk.CommandBuffer,
	buffer vk.Buffer,
	image vk.Image,
	layout vk.ImageLayout,
	regions []vk.BufferImageCopy,
) {
	d.call("CmdCopyBufferToImage", unsafe.Pointer(cmd), unsafe.Pointer(buffer), unsafe.Pointer(image))
	d.recording("CmdCopyBufferToImage", cmd)
	d.lookup("CmdCopyBufferToImage", "buffer", unsafe.Pointer(buffer))
	d.image("CmdCopyBufferToImage", image)
	if layout != vk.ImageLayoutTransferDstOptimal {
		d.Violation("CmdCopyBufferToImage: destination layout %d", layout)
	}
	d.Copies = append(d.Copies, Copy{
		CommandBuffer: cmd,
		Buffer:        buffer,
		Image:         image,
		Layout:        layout,
		Regions:       slices.Clone(regions),
	})
}

func trimNull(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
