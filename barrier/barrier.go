// Package barrier records image layout transitions.
//
// A transition is described by the State an image leaves and the State it
// enters. Each State carries its own stage and access masks, so the source
// half of a barrier always matches the work that last touched the image and
// the destination half matches the work that comes next.
package barrier

import (
	"vulkan-blit/dispatch"

	vk "github.com/vulkan-go/vulkan"
)

// State is an image layout together with the pipeline stage and memory
// access that use the image in that layout.
type State struct {
	Layout vk.ImageLayout
	Stage  vk.PipelineStageFlags
	Access vk.AccessFlags
}

var (
	// Undefined discards the previous contents of an image.
	Undefined = State{
		Layout: vk.ImageLayoutUndefined,
		Stage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
	}

	// TransferDst is the state for clears, blits and copies into an image.
	TransferDst = State{
		Layout: vk.ImageLayoutTransferDstOptimal,
		Stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		Access: vk.AccessFlags(vk.AccessTransferWriteBit),
	}

	// TransferSrc is the state for images blitted or copied from.
	TransferSrc = State{
		Layout: vk.ImageLayoutTransferSrcOptimal,
		Stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		Access: vk.AccessFlags(vk.AccessTransferReadBit),
	}

	// Present hands an image to the presentation engine. Presentation is
	// ordered by a semaphore so no access mask is needed.
	Present = State{
		Layout: vk.ImageLayoutPresentSrc,
		Stage:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
	}
)

// Acquired is the state of a swapchain image right after acquisition, given
// the layout it was left in. The stage is the one the image-available
// semaphore is waited on, so the transition runs after the wait.
func Acquired(layout vk.ImageLayout) State {
	return State{
		Layout: layout,
		Stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	}
}

// ColorRange covers the single mip level and layer of a color image.
var ColorRange = vk.ImageSubresourceRange{
	AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
	BaseMipLevel:   0,
	LevelCount:     1,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

// ColorLayers is ColorRange for copy and blit regions.
var ColorLayers = vk.ImageSubresourceLayers{
	AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
	MipLevel:       0,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

// Image builds the barrier moving image from one state to another.
func Image(image vk.Image, from, to State) vk.ImageMemoryBarrier {
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       from.Access,
		DstAccessMask:       to.Access,
		OldLayout:           from.Layout,
		NewLayout:           to.Layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    ColorRange,
	}
}

// Transition records the barrier moving image from one state to another into
// cmd.
func Transition(t dispatch.Table, cmd vk.CommandBuffer, image vk.Image, from, to State) {
	t.CmdPipelineBarrier(cmd, from.Stage, to.Stage, []vk.ImageMemoryBarrier{
		Image(image, from, to),
	})
}
