package frames_test

import (
	"testing"

	"vulkan-blit/dispatch/vktest"
	"vulkan-blit/frames"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func newDevice(t *testing.T) (*vktest.Device, vk.Device) {
	t.Helper()

	gpu := vktest.New()
	instance, err := gpu.CreateInstance(&vk.InstanceCreateInfo{})
	require.NoError(t, err)
	physical, err := gpu.EnumeratePhysicalDevices(instance)
	require.NoError(t, err)
	device, err := gpu.CreateDevice(physical[0], &vk.DeviceCreateInfo{})
	require.NoError(t, err)
	return gpu, device
}

func TestNewPool(t *testing.T) {
	gpu, device := newDevice(t)

	pool, err := frames.NewPool(gpu, device, 0, frames.InFlight)
	require.NoError(t, err)
	require.Equal(t, frames.InFlight, pool.Len())

	assert.Equal(t, 1, gpu.Live("command-pool"))
	assert.Equal(t, 2, gpu.Live("command-buffer"))
	assert.Equal(t, 4, gpu.Live("semaphore"))
	assert.Equal(t, 2, gpu.Live("fence"))

	seen := map[vk.Semaphore]bool{}
	for i := 0; i < pool.Len(); i++ {
		slot := pool.Slot(i)
		assert.True(t, gpu.FenceSignaled(slot.InFlight), "slot %d fence starts signaled", i)
		assert.NotSame(t, slot.ImageAvailable, slot.RenderFinished)
		seen[slot.ImageAvailable] = true
		seen[slot.RenderFinished] = true
	}
	assert.Len(t, seen, 4)
	assert.NotSame(t, pool.Slot(0).CommandBuffer, pool.Slot(1).CommandBuffer)

	pool.Destroy()
	pool.Destroy()
	assert.Zero(t, gpu.Live("command-pool"))
	assert.Zero(t, gpu.Live("command-buffer"))
	assert.Zero(t, gpu.Live("semaphore"))
	assert.Zero(t, gpu.Live("fence"))
	gpu.AssertClean(t)
}

func TestSlotCommandBuffersResetIndividually(t *testing.T) {
	gpu, device := newDevice(t)

	pool, err := frames.NewPool(gpu, device, 0, 2)
	require.NoError(t, err)

	require.NoError(t, gpu.ResetCommandBuffer(pool.Slot(1).CommandBuffer))
	gpu.AssertClean(t)
}

func TestNewPoolPartialFailure(t *testing.T) {
	for _, op := range []string{"AllocateCommandBuffers", "CreateSemaphore", "CreateFence"} {
		t.Run(op, func(t *testing.T) {
			gpu, device := newDevice(t)
			gpu.Fail[op] = vk.ErrorOutOfDeviceMemory

			_, err := frames.NewPool(gpu, device, 0, 2)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "vk"+op)

			assert.Zero(t, gpu.Live("command-pool"))
			assert.Zero(t, gpu.Live("semaphore"))
			assert.Zero(t, gpu.Live("fence"))
			gpu.AssertClean(t)
		})
	}
}

func TestNewPoolInvalidCount(t *testing.T) {
	gpu, device := newDevice(t)

	_, err := frames.NewPool(gpu, device, 0, 0)
	assert.Error(t, err)
	assert.Zero(t, gpu.CountCalls("CreateCommandPool"))
}
