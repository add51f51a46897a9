package render

var (
	blocksPalette = []rune(" ▏▎▍▌▋▊▉█")
	shadePalette  = []rune(" ░▒▓█")
	asciiPalette  = []rune(" .:-=#")
)

// Palette returns the glyphs used for a meter cell, from empty to full.
func Palette(name string) []rune {
	switch name {
	case "shade":
		return shadePalette
	case "ascii":
		return asciiPalette
	default:
		return blocksPalette
	}
}

// PaletteNames returns all palette identifiers.
func PaletteNames() []string {
	return []string{"blocks", "shade", "ascii"}
}
