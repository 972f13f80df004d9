package textures

import "embed"

// FS contains the image blitted onto the window when no other texture is
// given. It makes it possible to generate a binary and just copy it to
// another machine.
//
//go:embed screenshot.png
var FS embed.FS

// Default is the name of the embedded texture.
const Default = "screenshot.png"
