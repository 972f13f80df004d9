package main

import (
	"flag"
	"log"
	"os"
	"runtime"

	"github.com/gen2brain/dlgs"
	"github.com/xlab/catcher"
)

func init() {
	// This is needed to arrange that main() runs on main thread.
	// See documentation for functions that are only allowed to be called
	// from the main thread.
	runtime.LockOSThread()

	flag.BoolVar(&args.debug, "debug", false, "Enable Vulkan validation layers and verbose logging")
	flag.BoolVar(&args.noTexture, "no-texture", false, "Clear the window instead of blitting a texture")
	flag.StringVar(&args.texture, "texture", "", "Blit the image at this path instead of the embedded one")
}

var args struct {
	debug     bool
	noTexture bool
	texture   string
}

const (
	title  = "Codotaku"
	width  = 800
	height = 600
)

func main() {
	flag.Parse()

	defer catcher.Catch(
		catcher.RecvLog(true),
		catcher.RecvDie(-1),
	)

	app := &App{
		width:       width,
		height:      height,
		debug:       args.debug,
		noTexture:   args.noTexture,
		texturePath: args.texture,
	}
	if err := app.Run(); err != nil {
		if args.debug {
			log.Printf("ERROR: %+v", err)
		} else {
			log.Printf("ERROR: %s", err)
		}

		if _, dlgErr := dlgs.Error(title, err.Error()); dlgErr != nil {
			log.Printf("WARNING: showing error dialog: %s", dlgErr)
		}
		os.Exit(1)
	}
}
