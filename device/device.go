// Package device creates the Vulkan instance and the logical device the
// program draws with.
package device

import (
	"log"
	"slices"
	"strings"

	"vulkan-blit/dispatch"
	"vulkan-blit/queues"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ErrNoAdapter is returned when no physical device can draw to the surface.
var ErrNoAdapter = errors.New("failed to find a suitable GPU")

// Options configures New.
type Options struct {
	// Extensions are enabled in addition to the swapchain extension.
	Extensions []string

	// Layers are enabled on the device for older loaders which still honour
	// device layers.
	Layers []string

	Logger *log.Logger
}

// Context is the logical device together with the adapter and queues it was
// created from. It does not change after New returns.
type Context struct {
	Table dispatch.Table

	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device
	Families       queues.FamilyIndices

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	// Name is the adapter name reported by the driver.
	Name string
}

// New picks the first adapter able to draw and present to surface and creates
// a logical device with one queue per distinct queue family.
func New(
	t dispatch.Table,
	instance vk.Instance,
	surface vk.Surface,
	opts Options,
) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	extensions := append([]string{vk.KhrSwapchainExtensionName}, opts.Extensions...)

	adapters, err := t.EnumeratePhysicalDevices(instance)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate the physical devices")
	}
	if len(adapters) == 0 {
		return nil, errors.Wrap(ErrNoAdapter, "no GPUs with Vulkan support")
	}

	var (
		physical vk.PhysicalDevice
		indices  queues.FamilyIndices
		found    bool
	)
	for _, adapter := range adapters {
		indices = queues.Find(t, adapter, surface, logger)
		if !indices.IsComplete() {
			continue
		}
		if !supportsExtensions(t, logger, adapter, extensions) {
			continue
		}
		if !canPresent(t, adapter, surface) {
			continue
		}
		physical = adapter
		found = true
		break
	}
	if !found {
		return nil, errors.Wrapf(ErrNoAdapter, "none of %d adapters can present", len(adapters))
	}

	ctx := &Context{
		Table:          t,
		PhysicalDevice: physical,
		Families:       indices,
		Name:           t.PhysicalDeviceName(physical),
	}
	logger.Printf("using adapter %q", ctx.Name)

	queueCreateInfos := []vk.DeviceQueueCreateInfo{}
	for _, familyIndex := range indices.Unique() {
		queueCreateInfos = append(
			queueCreateInfos,
			vk.DeviceQueueCreateInfo{
				SType:            vk.StructureTypeDeviceQueueCreateInfo,
				QueueFamilyIndex: familyIndex,
				QueueCount:       1,
				PQueuePriorities: []float32{1.0},
			},
		)
	}

	extensions = cStrings(extensions)
	createInfo := vk.DeviceCreateInfo{
		SType: vk.StructureTypeDeviceCreateInfo,

		PQueueCreateInfos:    queueCreateInfos,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),

		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	if len(opts.Layers) > 0 {
		layers := cStrings(opts.Layers)
		createInfo.PpEnabledLayerNames = layers
		createInfo.EnabledLayerCount = uint32(len(layers))
	}

	ctx.Device, err = t.CreateDevice(physical, &createInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logical device")
	}

	ctx.GraphicsQueue = t.GetDeviceQueue(ctx.Device, indices.Graphics.Get(), 0)
	ctx.PresentQueue = t.GetDeviceQueue(ctx.Device, indices.Present.Get(), 0)

	return ctx, nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (c *Context) WaitIdle() error {
	return c.Table.DeviceWaitIdle(c.Device)
}

// Destroy destroys the logical device. Everything created from it must have
// been destroyed already.
func (c *Context) Destroy() {
	if c.Device == vk.Device(vk.NullHandle) {
		return
	}
	c.Table.DestroyDevice(c.Device)
	c.Device = vk.Device(vk.NullHandle)
}

func supportsExtensions(
	t dispatch.Table,
	logger *log.Logger,
	physical vk.PhysicalDevice,
	required []string,
) bool {
	available, err := t.DeviceExtensions(physical)
	if err != nil {
		logger.Printf("WARNING: getting device extension properties: %s", err)
		return false
	}

	for _, name := range required {
		if !slices.Contains(available, strings.TrimRight(name, "\x00")) {
			return false
		}
	}
	return true
}

func canPresent(t dispatch.Table, physical vk.PhysicalDevice, surface vk.Surface) bool {
	formats, err := t.SurfaceFormats(physical, surface)
	if err != nil || len(formats) == 0 {
		return false
	}

	modes, err := t.SurfacePresentModes(physical, surface)
	return err == nil && len(modes) > 0
}
