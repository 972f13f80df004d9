package queues_test

import (
	"bytes"
	"io"
	"log"
	"testing"

	"vulkan-blit/dispatch/vktest"
	"vulkan-blit/queues"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

var quiet = log.New(io.Discard, "", 0)

var (
	graphicsFamily = vk.QueueFamilyProperties{
		QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit),
		QueueCount: 1,
	}
	computeFamily = vk.QueueFamilyProperties{
		QueueFlags: vk.QueueFlags(vk.QueueComputeBit),
		QueueCount: 1,
	}
)

func TestFind(t *testing.T) {
	tests := []struct {
		name     string
		families []vk.QueueFamilyProperties
		present  []uint32
		complete bool
		graphics uint32
		display  uint32
	}{
		{
			name:     "single combined family",
			families: []vk.QueueFamilyProperties{graphicsFamily},
			complete: true,
		},
		{
			name:     "combined family preferred over earlier split",
			families: []vk.QueueFamilyProperties{graphicsFamily, computeFamily, graphicsFamily},
			present:  []uint32{1, 2},
			complete: true,
			graphics: 2,
			display:  2,
		},
		{
			name:     "separate families",
			families: []vk.QueueFamilyProperties{graphicsFamily, computeFamily},
			present:  []uint32{1},
			complete: true,
			graphics: 0,
			display:  1,
		},
		{
			name:     "no graphics family",
			families: []vk.QueueFamilyProperties{computeFamily},
		},
		{
			name:     "no present support",
			families: []vk.QueueFamilyProperties{graphicsFamily},
			present:  []uint32{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gpu := vktest.New()
			gpu.Adapters[0].Families = tc.families
			gpu.Adapters[0].Present = tc.present

			instance, err := gpu.CreateInstance(&vk.InstanceCreateInfo{})
			require.NoError(t, err)
			physical, err := gpu.EnumeratePhysicalDevices(instance)
			require.NoError(t, err)

			indices := queues.Find(gpu, physical[0], gpu.Surface(), quiet)
			require.Equal(t, tc.complete, indices.IsComplete())
			if tc.complete {
				assert.Equal(t, tc.graphics, indices.Graphics.Get())
				assert.Equal(t, tc.display, indices.Present.Get())
			}
			gpu.AssertClean(t)
		})
	}
}

func TestFindSurfaceSupportError(t *testing.T) {
	gpu := vktest.New()
	gpu.Adapters[0].Families = []vk.QueueFamilyProperties{graphicsFamily, graphicsFamily}
	gpu.Fail["SurfaceSupport"] = vk.ErrorSurfaceLost

	instance, err := gpu.CreateInstance(&vk.InstanceCreateInfo{})
	require.NoError(t, err)
	physical, err := gpu.EnumeratePhysicalDevices(instance)
	require.NoError(t, err)

	var logged bytes.Buffer
	indices := queues.Find(gpu, physical[0], gpu.Surface(), log.New(&logged, "", 0))
	require.True(t, indices.IsComplete())
	assert.Equal(t, uint32(1), indices.Graphics.Get())
	assert.Equal(t, uint32(1), indices.Present.Get())
	assert.Contains(t, logged.String(), "error querying surface support for queue family 0")
}

func TestUnique(t *testing.T) {
	var indices queues.FamilyIndices
	assert.Empty(t, indices.Unique())

	indices.Graphics.Set(0)
	indices.Present.Set(0)
	assert.True(t, indices.Shared())
	assert.Equal(t, []uint32{0}, indices.Unique())

	indices.Present.Set(3)
	assert.False(t, indices.Shared())
	assert.Equal(t, []uint32{0, 3}, indices.Unique())
}
