package main

import (
	"image"
	"log"
	"os"
	"path/filepath"

	"vulkan-blit/device"
	"vulkan-blit/dispatch"
	"vulkan-blit/frames"
	"vulkan-blit/memory"
	"vulkan-blit/renderer"
	"vulkan-blit/swapchain"
	"vulkan-blit/texture"
	"vulkan-blit/textures"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// App opens a window and either clears it to a pulsing color or blits a
// texture onto it every frame.
type App struct {
	width  int
	height int

	debug       bool
	noTexture   bool
	texturePath string

	window *window
	table  dispatch.Table

	instance vk.Instance
	surface  vk.Surface
	ctx      *device.Context
	alloc    *memory.Allocator
	pool     *frames.Pool
	chain    *swapchain.Manager
	tex      *texture.Texture
	driver   *renderer.Driver
}

// Run runs the program until the window is closed.
func (a *App) Run() error {
	w, err := newWindow(a.width, a.height)
	if err != nil {
		return errors.Wrap(err, "initWindow")
	}
	a.window = w
	defer a.window.destroy()

	defer a.cleanVulkan()
	if err := a.initVulkan(); err != nil {
		return errors.Wrap(err, "initVulkan")
	}

	if err := a.mainLoop(); err != nil {
		return errors.Wrap(err, "mainLoop")
	}

	return nil
}

func (a *App) initVulkan() error {
	table, err := dispatch.Load(glfw.GetVulkanGetInstanceProcAddress())
	if err != nil {
		return err
	}
	a.table = table

	var layers []string
	if a.debug {
		layers = []string{device.ValidationLayer}
	}

	a.instance, err = device.NewInstance(table, device.InstanceOptions{
		AppName:    title,
		Extensions: a.window.GetRequiredInstanceExtensions(),
		Layers:     layers,
	})
	if err != nil {
		return errors.Wrap(err, "createInstance")
	}

	if err := a.createSurface(); err != nil {
		return errors.Wrap(err, "createSurface")
	}

	a.ctx, err = device.New(table, a.instance, a.surface, device.Options{
		Layers: layers,
	})
	if err != nil {
		return errors.Wrap(err, "createLogicalDevice")
	}

	a.alloc = memory.New(table, a.ctx.PhysicalDevice, a.ctx.Device)

	a.pool, err = frames.NewPool(
		table,
		a.ctx.Device,
		a.ctx.Families.Graphics.Get(),
		frames.InFlight,
	)
	if err != nil {
		return errors.Wrap(err, "createSyncObjects")
	}

	a.chain = swapchain.NewManager(a.ctx, a.surface, swapchain.Options{
		Debug: a.debug,
	})

	if !a.noTexture {
		if err := a.createTextureImage(); err != nil {
			return errors.Wrap(err, "createTextureImage")
		}
	}

	a.driver = renderer.New(a.ctx, a.chain, a.pool, a.tex, renderer.Options{
		Debug: a.debug,
	})
	a.driver.Resize(a.window.GetFramebufferSize())

	return nil
}

func (a *App) createSurface() error {
	surfacePtr, err := a.window.CreateWindowSurface(a.instance, nil)
	if err != nil {
		return errors.Wrap(err, "cannot create surface within GLFW window")
	}

	a.surface = vk.SurfaceFromPointer(surfacePtr)
	return nil
}

func (a *App) createTextureImage() error {
	var (
		img *image.RGBA
		err error
	)
	if a.texturePath != "" {
		img, err = texture.Load(
			os.DirFS(filepath.Dir(a.texturePath)),
			filepath.Base(a.texturePath),
		)
	} else {
		img, err = texture.Load(textures.FS, textures.Default)
	}
	if err != nil {
		return err
	}

	a.tex, err = texture.Upload(a.ctx, a.alloc, a.pool.Slot(0), img)
	if err != nil {
		return errors.Wrap(err, "uploading texture")
	}

	if a.debug {
		log.Printf("texture uploaded: %dx%d", a.tex.Width, a.tex.Height)
	}
	return nil
}

func (a *App) mainLoop() error {
	a.window.Show()
	return a.driver.Run(a.window)
}

// cleanVulkan destroys everything initVulkan created, in reverse order. It
// copes with an initialization which stopped half way.
func (a *App) cleanVulkan() {
	if a.driver != nil {
		if err := a.driver.Shutdown(); err != nil {
			log.Printf("ERROR: %s", err)
			return
		}
	} else if a.ctx != nil {
		if err := a.ctx.WaitIdle(); err != nil {
			log.Printf("ERROR: %s", err)
			return
		}
		if a.tex != nil {
			a.tex.Destroy()
		}
		if a.pool != nil {
			a.pool.Destroy()
		}
		if a.chain != nil {
			a.chain.Destroy()
		}
	}

	if a.alloc != nil {
		if err := a.alloc.Close(); err != nil {
			log.Printf("WARNING: %s", err)
		}
	}

	if a.ctx != nil {
		a.ctx.Destroy()
	}
	if a.surface != vk.NullSurface {
		a.table.DestroySurface(a.instance, a.surface)
	}
	if a.instance != vk.Instance(vk.NullHandle) {
		a.table.DestroyInstance(a.instance)
	}
}
