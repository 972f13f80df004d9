package device_test

import (
	"bytes"
	"io"
	"log"
	"testing"

	"vulkan-blit/device"
	"vulkan-blit/dispatch/vktest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

var quiet = log.New(io.Discard, "", 0)

func newInstance(t *testing.T, gpu *vktest.Device) vk.Instance {
	t.Helper()
	instance, err := device.NewInstance(gpu, device.InstanceOptions{AppName: "test"})
	require.NoError(t, err)
	return instance
}

func TestNewInstance(t *testing.T) {
	gpu := vktest.New()

	_, err := device.NewInstance(gpu, device.InstanceOptions{
		AppName:    "Codotaku",
		Extensions: []string{"VK_KHR_surface", "VK_KHR_xcb_surface\x00"},
		Layers:     []string{device.ValidationLayer},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"VK_KHR_surface\x00", "VK_KHR_xcb_surface\x00"}, gpu.InstanceExtensions)
	assert.Equal(t, []string{device.ValidationLayer + "\x00"}, gpu.EnabledLayers)
}

func TestNewInstanceMissingLayer(t *testing.T) {
	gpu := vktest.New()
	gpu.Layers = nil

	_, err := device.NewInstance(gpu, device.InstanceOptions{
		Layers: []string{device.ValidationLayer},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrLayerMissing))
	assert.Zero(t, gpu.CountCalls("CreateInstance"))
}

func TestNewInstanceFailure(t *testing.T) {
	gpu := vktest.New()
	gpu.Fail["CreateInstance"] = vk.ErrorIncompatibleDriver

	_, err := device.NewInstance(gpu, device.InstanceOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vkCreateInstance")
}

func TestNewPicksFirstSuitableAdapter(t *testing.T) {
	gpu := vktest.New()

	noSwapchain := vktest.DefaultAdapter()
	noSwapchain.Name = "headless"
	noSwapchain.Extensions = nil

	first := vktest.DefaultAdapter()
	first.Name = "first"
	second := vktest.DefaultAdapter()
	second.Name = "second"

	gpu.Adapters = []vktest.Adapter{noSwapchain, first, second}

	instance := newInstance(t, gpu)
	surface := gpu.Surface()

	ctx, err := device.New(gpu, instance, surface, device.Options{Logger: quiet})
	require.NoError(t, err)

	physical, err := gpu.EnumeratePhysicalDevices(instance)
	require.NoError(t, err)

	assert.Equal(t, "first", ctx.Name)
	assert.Same(t, physical[1], ctx.PhysicalDevice)
	require.Len(t, gpu.Devices, 1)
	assert.Equal(t, []uint32{0}, gpu.Devices[0].Families)
	assert.Equal(t, []string{"VK_KHR_swapchain\x00"}, gpu.Devices[0].Extensions)
	assert.Same(t, ctx.GraphicsQueue, ctx.PresentQueue)

	ctx.Destroy()
	ctx.Destroy()
	assert.Zero(t, gpu.Live("device"))
	gpu.AssertClean(t)
}

func TestNewSeparateFamilies(t *testing.T) {
	gpu := vktest.New()
	gpu.Adapters[0].Families = []vk.QueueFamilyProperties{
		{QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit), QueueCount: 1},
		{QueueFlags: vk.QueueFlags(vk.QueueTransferBit), QueueCount: 1},
	}
	gpu.Adapters[0].Present = []uint32{1}

	ctx, err := device.New(gpu, newInstance(t, gpu), gpu.Surface(), device.Options{Logger: quiet})
	require.NoError(t, err)

	assert.False(t, ctx.Families.Shared())
	assert.Equal(t, []uint32{0, 1}, gpu.Devices[0].Families)
	assert.NotSame(t, ctx.GraphicsQueue, ctx.PresentQueue)
	gpu.AssertClean(t)
}

func TestNewNoAdapter(t *testing.T) {
	tests := []struct {
		name     string
		adapters func() []vktest.Adapter
	}{
		{
			name:     "none enumerated",
			adapters: func() []vktest.Adapter { return nil },
		},
		{
			name: "no present support",
			adapters: func() []vktest.Adapter {
				adapter := vktest.DefaultAdapter()
				adapter.Present = []uint32{}
				return []vktest.Adapter{adapter}
			},
		},
		{
			name: "no swapchain extension",
			adapters: func() []vktest.Adapter {
				adapter := vktest.DefaultAdapter()
				adapter.Extensions = []string{"VK_KHR_maintenance1"}
				return []vktest.Adapter{adapter}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gpu := vktest.New()
			gpu.Adapters = tc.adapters()

			_, err := device.New(gpu, newInstance(t, gpu), gpu.Surface(), device.Options{Logger: quiet})
			require.Error(t, err)
			assert.True(t, errors.Is(err, device.ErrNoAdapter))
			assert.Empty(t, gpu.Devices)
		})
	}
}

func TestNewExtensionQueryFailureIsLogged(t *testing.T) {
	gpu := vktest.New()
	second := vktest.DefaultAdapter()
	second.Name = "second"
	gpu.Adapters = append(gpu.Adapters, second)
	gpu.Fail["DeviceExtensions"] = vk.ErrorInitializationFailed

	var logged bytes.Buffer
	ctx, err := device.New(gpu, newInstance(t, gpu), gpu.Surface(), device.Options{
		Logger: log.New(&logged, "", 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "second", ctx.Name)
	assert.Contains(t, logged.String(), "getting device extension properties")
	assert.Contains(t, logged.String(), `using adapter "second"`)
}

func TestNewNoSurfaceFormats(t *testing.T) {
	gpu := vktest.New()
	gpu.Formats = nil

	_, err := device.New(gpu, newInstance(t, gpu), gpu.Surface(), device.Options{Logger: quiet})
	assert.True(t, errors.Is(err, device.ErrNoAdapter))
}

func TestNewDeviceLayers(t *testing.T) {
	gpu := vktest.New()

	_, err := device.New(gpu, newInstance(t, gpu), gpu.Surface(), device.Options{
		Layers: []string{device.ValidationLayer},
		Logger: quiet,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{device.ValidationLayer + "\x00"}, gpu.Devices[0].Layers)
}

func TestWaitIdle(t *testing.T) {
	gpu := vktest.New()

	ctx, err := device.New(gpu, newInstance(t, gpu), gpu.Surface(), device.Options{Logger: quiet})
	require.NoError(t, err)

	require.NoError(t, ctx.WaitIdle())
	assert.Equal(t, 1, gpu.WaitIdles)

	gpu.Fail["DeviceWaitIdle"] = vk.ErrorDeviceLost
	assert.Error(t, ctx.WaitIdle())
}
