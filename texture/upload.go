package texture

import (
	"image"
	"math"

	"vulkan-blit/barrier"
	"vulkan-blit/device"
	"vulkan-blit/frames"
	"vulkan-blit/memory"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Format is the format of uploaded textures. Decoded pixels are stored in
// this channel order, four bytes each.
const Format = vk.FormatR8g8b8a8Srgb

// Texture is a device local image in the transfer source layout, ready to be
// blitted from.
type Texture struct {
	Image      vk.Image
	Allocation *memory.Allocation
	Width      uint32
	Height     uint32

	alloc *memory.Allocator
}

// Extent is the size of the texture as a blit offset.
func (t *Texture) Extent() vk.Offset3D {
	return vk.Offset3D{X: int32(t.Width), Y: int32(t.Height), Z: 1}
}

// Destroy releases the image and its memory. The device must not use the
// texture any more.
func (t *Texture) Destroy() {
	if t.Image == vk.NullImage {
		return
	}
	t.alloc.DestroyImage(t.Image, t.Allocation)
	t.Image = vk.NullImage
	t.Allocation = nil
}

// Upload copies img into a new device local image through a host visible
// staging buffer. It records into slot's command buffer, submits on the
// graphics queue and blocks until the copy finished, so the slot is free
// again when Upload returns.
func Upload(
	ctx *device.Context,
	alloc *memory.Allocator,
	slot *frames.Slot,
	img *image.RGBA,
) (*Texture, error) {
	b := img.Bounds()
	texWidth := uint32(b.Dx())
	texHeight := uint32(b.Dy())
	if texWidth == 0 || texHeight == 0 {
		return nil, errors.Errorf("texture has no pixels: %v", b)
	}

	rowSize := int(texWidth) * 4
	imgSize := vk.DeviceSize(rowSize) * vk.DeviceSize(texHeight)

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        imgSize,
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}
	stagingBuffer, staging, err := alloc.CreateBuffer(&bufferInfo, memory.CPUOnly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create texture staging buffer")
	}
	defer alloc.DestroyBuffer(stagingBuffer, staging)

	data, err := alloc.Map(staging)
	if err != nil {
		return nil, errors.Wrap(err, "mapping staging buffer")
	}
	for y := 0; y < int(texHeight); y++ {
		row := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(data[y*rowSize:(y+1)*rowSize], img.Pix[row:row+rowSize])
	}
	alloc.Unmap(staging)

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  texWidth,
			Height: texHeight,
			Depth:  1,
		},
		MipLevels:   1,
		ArrayLayers: 1,
		Format:      Format,
		Tiling:      vk.ImageTilingOptimal,
		Usage: vk.ImageUsageFlags(vk.ImageUsageTransferDstBit) |
			vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	textureImage, textureAlloc, err := alloc.CreateImage(&imageInfo, memory.GPUOnly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Vulkan image")
	}

	tex := &Texture{
		Image:      textureImage,
		Allocation: textureAlloc,
		Width:      texWidth,
		Height:     texHeight,
		alloc:      alloc,
	}

	if err := submitCopy(ctx, slot, stagingBuffer, tex); err != nil {
		tex.Destroy()
		return nil, err
	}

	return tex, nil
}

func submitCopy(
	ctx *device.Context,
	slot *frames.Slot,
	buffer vk.Buffer,
	tex *Texture,
) error {
	t := ctx.Table
	cmd := slot.CommandBuffer
	fences := []vk.Fence{slot.InFlight}

	// The slot may still be finishing earlier work.
	if res := t.WaitForFences(ctx.Device, fences, math.MaxUint64); res != vk.Success {
		return errors.Errorf("waiting for frame slot: %s", vk.Error(res))
	}
	if err := t.ResetFences(ctx.Device, fences); err != nil {
		return errors.Wrap(err, "resetting frame slot fence")
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := t.BeginCommandBuffer(cmd, &beginInfo); err != nil {
		return errors.Wrap(err, "failed to begin recording command buffer")
	}

	barrier.Transition(t, cmd, tex.Image, barrier.Undefined, barrier.TransferDst)

	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource:  barrier.ColorLayers,
		ImageOffset:       vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{
			Width:  tex.Width,
			Height: tex.Height,
			Depth:  1,
		},
	}
	t.CmdCopyBufferToImage(
		cmd,
		buffer,
		tex.Image,
		vk.ImageLayoutTransferDstOptimal,
		[]vk.BufferImageCopy{region},
	)

	barrier.Transition(t, cmd, tex.Image, barrier.TransferDst, barrier.TransferSrc)

	if err := t.EndCommandBuffer(cmd); err != nil {
		return errors.Wrap(err, "failed end command buffer")
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if err := t.QueueSubmit(ctx.GraphicsQueue, []vk.SubmitInfo{submitInfo}, slot.InFlight); err != nil {
		return errors.Wrap(err, "failed to submit to graphics queue")
	}

	if res := t.WaitForFences(ctx.Device, fences, math.MaxUint64); res != vk.Success {
		return errors.Errorf("waiting for texture upload: %s", vk.Error(res))
	}

	if err := t.ResetCommandBuffer(cmd); err != nil {
		return errors.Wrap(err, "resetting command buffer after upload")
	}

	return nil
}
