package device

import (
	"slices"
	"strings"

	"vulkan-blit/dispatch"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ValidationLayer is the layer enabled by the -debug flag.
const ValidationLayer = "VK_LAYER_KHRONOS_validation"

// ErrLayerMissing is returned when a requested instance layer is not installed.
var ErrLayerMissing = errors.New("validation layers requested but not available")

// InstanceOptions configures NewInstance.
type InstanceOptions struct {
	AppName string

	// Extensions are the instance extensions to enable, usually the ones the
	// windowing library needs for surfaces.
	Extensions []string

	// Layers are checked against the installed layers before use.
	Layers []string
}

// NewInstance creates a Vulkan 1.0 instance.
func NewInstance(t dispatch.Table, opts InstanceOptions) (vk.Instance, error) {
	if len(opts.Layers) > 0 {
		available, err := t.InstanceLayers()
		if err != nil {
			return nil, errors.Wrap(err, "listing instance layers")
		}
		for _, layer := range opts.Layers {
			if !slices.Contains(available, strings.TrimRight(layer, "\x00")) {
				return nil, errors.Wrap(ErrLayerMissing, layer)
			}
		}
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   cString(opts.AppName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "No Engine\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion10,
	}

	extensions := cStrings(opts.Extensions)
	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	if len(opts.Layers) > 0 {
		layers := cStrings(opts.Layers)
		createInfo.EnabledLayerCount = uint32(len(layers))
		createInfo.PpEnabledLayerNames = layers
	}

	instance, err := t.CreateInstance(&createInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Vulkan instance")
	}
	return instance, nil
}

// cString terminates s with a NUL byte as the bindings expect.
func cString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func cStrings(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, cString(name))
	}
	return out
}
