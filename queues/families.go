package queues

import (
	"log"

	"vulkan-blit/dispatch"
	"vulkan-blit/optional"

	vk "github.com/vulkan-go/vulkan"
)

// FamilyIndices holds the indexes of the Vulkan queue families the program
// submits and presents on.
type FamilyIndices struct {

	// Graphics is the index of the queue family command buffers are submitted
	// to. It supports graphics and therefore transfer operations.
	Graphics optional.Optional[uint32]

	// Present is the index of the queue family used for presenting to the drawing
	// surface.
	Present optional.Optional[uint32]
}

// IsComplete returns true if all families have been set.
func (f *FamilyIndices) IsComplete() bool {
	return f.Graphics.HasValue() && f.Present.HasValue()
}

// Shared reports whether graphics and present are the same family.
func (f *FamilyIndices) Shared() bool {
	return f.IsComplete() && f.Graphics.Get() == f.Present.Get()
}

// Unique returns the distinct family indexes, graphics first.
func (f *FamilyIndices) Unique() []uint32 {
	var unique []uint32
	if f.Graphics.HasValue() {
		unique = append(unique, f.Graphics.Get())
	}
	if f.Present.HasValue() && !f.Shared() {
		unique = append(unique, f.Present.Get())
	}
	return unique
}

// Find looks for queue families on physical able to draw and present to
// surface. A family doing both is preferred. Without one the first graphics
// family and the first presenting family are returned. Failed surface
// support queries are logged to logger, or the standard logger when nil.
func Find(
	t dispatch.Table,
	physical vk.PhysicalDevice,
	surface vk.Surface,
	logger *log.Logger,
) FamilyIndices {
	if logger == nil {
		logger = log.Default()
	}
	indices := FamilyIndices{}

	for i, family := range t.QueueFamilyProperties(physical) {
		index := uint32(i)
		graphics := family.QueueCount > 0 &&
			family.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0

		hasPresent, err := t.SurfaceSupport(physical, index, surface)
		if err != nil {
			logger.Printf("error querying surface support for queue family %d: %s", i, err)
			hasPresent = false
		}

		if graphics && hasPresent {
			indices.Graphics.Set(index)
			indices.Present.Set(index)
			return indices
		}

		if graphics && !indices.Graphics.HasValue() {
			indices.Graphics.Set(index)
		}
		if hasPresent && !indices.Present.HasValue() {
			indices.Present.Set(index)
		}
	}

	return indices
}
