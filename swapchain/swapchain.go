// Package swapchain keeps the chain of presentable images in step with the
// window surface.
package swapchain

import (
	"cmp"
	"log"
	"math"

	"vulkan-blit/device"
	"vulkan-blit/dispatch"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ErrZeroExtent is returned by Rebuild while the surface has no area, for
// example when the window is minimized. The manager stays invalid until a
// rebuild with a non-zero size succeeds.
var ErrZeroExtent = errors.New("surface has zero area")

// PreferredFormat is used whenever the surface offers it.
var PreferredFormat = vk.SurfaceFormat{
	Format:     vk.FormatB8g8r8a8Srgb,
	ColorSpace: vk.ColorSpaceSrgbNonlinear,
}

// requiredUsage lets the frame loop clear and blit straight into swapchain
// images.
const requiredUsage = vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) |
	vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)

// Options configures a Manager.
type Options struct {
	// Format is the surface format to look for. The zero value means
	// PreferredFormat.
	Format vk.SurfaceFormat

	// PresentMode is used when supported, FIFO otherwise. The zero value
	// (IMMEDIATE) is replaced with MAILBOX.
	PresentMode vk.PresentMode

	Logger *log.Logger
	Debug  bool
}

// Manager owns the swapchain of one surface. It can be rebuilt any number of
// times; the previous swapchain is handed to the driver as the old one and
// destroyed once its replacement exists.
type Manager struct {
	table   dispatch.Table
	ctx     *device.Context
	surface vk.Surface
	opts    Options

	handle  vk.Swapchain
	retired []vk.Swapchain
	valid   bool

	images    []vk.Image
	presented []bool
	extent    vk.Extent2D
	format    vk.SurfaceFormat
	mode      vk.PresentMode

	rebuilds int
}

// NewManager returns a manager without a swapchain. Call Rebuild before use.
func NewManager(ctx *device.Context, surface vk.Surface, opts Options) *Manager {
	if opts.Format == (vk.SurfaceFormat{}) {
		opts.Format = PreferredFormat
	}
	if opts.PresentMode == vk.PresentModeImmediate {
		opts.PresentMode = vk.PresentModeMailbox
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Manager{
		table:   ctx.Table,
		ctx:     ctx,
		surface: surface,
		opts:    opts,
		handle:  vk.NullSwapchain,
	}
}

// Rebuild waits for the device to go idle and replaces the swapchain with one
// matching the current surface. width and height are the framebuffer size
// in pixels, used only when the surface leaves the extent to the
// application.
func (m *Manager) Rebuild(width, height int) error {
	if err := m.ctx.WaitIdle(); err != nil {
		return errors.Wrap(err, "waiting for device before swapchain rebuild")
	}

	physical := m.ctx.PhysicalDevice
	capabilities, err := m.table.SurfaceCapabilities(physical, m.surface)
	if err != nil {
		return errors.Wrap(err, "failed to query device surface capabilities")
	}
	formats, err := m.table.SurfaceFormats(physical, m.surface)
	if err != nil {
		return errors.Wrap(err, "failed to query surface formats")
	}
	modes, err := m.table.SurfacePresentModes(physical, m.surface)
	if err != nil {
		return errors.Wrap(err, "failed to query surface present modes")
	}
	if len(formats) == 0 {
		return errors.New("surface reports no formats")
	}
	if capabilities.SupportedUsageFlags&requiredUsage != requiredUsage {
		return errors.New("surface images cannot be transfer destinations")
	}

	extent := chooseExtent(capabilities, width, height)
	if extent.Width == 0 || extent.Height == 0 {
		m.valid = false
		return ErrZeroExtent
	}

	surfaceFormat := chooseSurfaceFormat(formats, m.opts.Format)
	presentMode := choosePresentMode(modes, m.opts.PresentMode)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 &&
		imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          m.surface,
		MinImageCount:    imageCount,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageFormat:      surfaceFormat.Format,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       requiredUsage,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     m.handle,
	}

	families := m.ctx.Families
	if !families.Shared() {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			families.Graphics.Get(),
			families.Present.Get(),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	// Whatever happens below, the old handle is retired now.
	if m.handle != vk.NullSwapchain {
		m.retired = append(m.retired, m.handle)
		m.handle = vk.NullSwapchain
	}
	m.valid = false

	swapchain, err := m.table.CreateSwapchain(m.ctx.Device, &createInfo)
	if err != nil {
		return errors.Wrap(err, "failed to create swap chain")
	}
	m.handle = swapchain
	m.destroyRetired()

	images, err := m.table.GetSwapchainImages(m.ctx.Device, swapchain)
	if err != nil {
		return errors.Wrap(err, "failed to get swap chain images")
	}

	m.images = images
	m.presented = make([]bool, len(images))
	m.extent = extent
	m.format = surfaceFormat
	m.mode = presentMode
	m.valid = true
	m.rebuilds++

	if m.opts.Debug {
		m.opts.Logger.Printf(
			"swapchain #%d: %dx%d, %d images, present mode %d",
			m.rebuilds, extent.Width, extent.Height, len(images), presentMode,
		)
	}

	return nil
}

// Valid reports whether the last Rebuild produced a usable swapchain.
func (m *Manager) Valid() bool {
	return m.valid
}

// Handle is the current swapchain.
func (m *Manager) Handle() vk.Swapchain {
	return m.handle
}

// Images are the presentable images of the current swapchain.
func (m *Manager) Images() []vk.Image {
	return m.images
}

// Extent is the size of the swapchain images.
func (m *Manager) Extent() vk.Extent2D {
	return m.extent
}

// Format is the surface format of the swapchain images.
func (m *Manager) Format() vk.SurfaceFormat {
	return m.format
}

// PresentMode is the mode the swapchain was created with.
func (m *Manager) PresentMode() vk.PresentMode {
	return m.mode
}

// Rebuilds counts the successful rebuilds.
func (m *Manager) Rebuilds() int {
	return m.rebuilds
}

// PriorLayout is the layout image i is in when acquired: undefined until it
// was presented once from the current swapchain, present source afterwards.
func (m *Manager) PriorLayout(i uint32) vk.ImageLayout {
	if m.presented[i] {
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// MarkPresented records that image i was handed to the presentation engine.
func (m *Manager) MarkPresented(i uint32) {
	m.presented[i] = true
}

// Destroy destroys the swapchain. The device must be idle.
func (m *Manager) Destroy() {
	m.destroyRetired()
	if m.handle != vk.NullSwapchain {
		m.table.DestroySwapchain(m.ctx.Device, m.handle)
		m.handle = vk.NullSwapchain
	}
	m.images = nil
	m.presented = nil
	m.valid = false
}

func (m *Manager) destroyRetired() {
	for _, old := range m.retired {
		m.table.DestroySwapchain(m.ctx.Device, old)
	}
	m.retired = nil
}

func chooseSurfaceFormat(
	availableFormats []vk.SurfaceFormat,
	desired vk.SurfaceFormat,
) vk.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == desired.Format &&
			format.ColorSpace == desired.ColorSpace {
			return format
		}
	}

	return availableFormats[0]
}

// choosePresentMode falls back to FIFO, the only mode every driver supports.
func choosePresentMode(available []vk.PresentMode, desired vk.PresentMode) vk.PresentMode {
	for _, mode := range available {
		if mode == desired {
			return mode
		}
	}

	return vk.PresentModeFifo
}

func chooseExtent(capabilities vk.SurfaceCapabilities, width, height int) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}

	if width <= 0 || height <= 0 {
		return vk.Extent2D{}
	}

	return vk.Extent2D{
		Width: clamp(
			uint32(width),
			capabilities.MinImageExtent.Width,
			capabilities.MaxImageExtent.Width,
		),
		Height: clamp(
			uint32(height),
			capabilities.MinImageExtent.Height,
			capabilities.MaxImageExtent.Height,
		),
	}
}

func clamp[T cmp.Ordered](val, min, max T) T {
	if val < min {
		val = min
	}
	if val > max {
		val = max
	}
	return val
}
