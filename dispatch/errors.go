package dispatch

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Check converts a Vulkan result into an error carrying the name of the
// failed operation. It returns nil for vk.Success.
func Check(res vk.Result, op string) error {
	if res == vk.Success {
		return nil
	}
	return errors.Wrap(ResultError(res), op)
}

// ResultError returns the binding's error for res. Results the binding does
// not map to an error still produce one which includes the numeric code.
func ResultError(res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	if err := vk.Error(res); err != nil {
		return errors.WithStack(err)
	}
	return errors.Errorf("vulkan result %d", res)
}

// IsStale reports whether res says the swapchain no longer matches the
// surface and has to be rebuilt.
func IsStale(res vk.Result) bool {
	return res == vk.ErrorOutOfDate || res == vk.Suboptimal
}
