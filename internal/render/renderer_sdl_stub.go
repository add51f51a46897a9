//go:build !sdl

package render

import "errors"

type sdlState struct{}

func (r *Renderer) initSDL() error {
	return errors.New("SDL backend not enabled; rebuild with -tags sdl")
}

func (r *Renderer) presentSDL(View) func(string) error {
	return func(string) error { return ErrRendererQuit }
}

func (r *Renderer) closeSDL() error { return nil }

// SupportsSDL reports whether the SDL meter window was compiled in.
func SupportsSDL() bool { return false }
