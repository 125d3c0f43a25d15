package wordcloud

import (
	"hash/fnv"
	"image/color"
)

// Palette is the fixed set of word colors.
var Palette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
	{R: 0xe3, G: 0x77, B: 0xc2, A: 0xff},
	{R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff},
	{R: 0xbc, G: 0xbd, B: 0x22, A: 0xff},
	{R: 0x17, G: 0xbe, B: 0xcf, A: 0xff},
}

// Color picks a palette entry from a hash of the word. The same word always
// gets the same color, across clouds and processes.
func Color(word string) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return Palette[h.Sum32()%uint32(len(Palette))]
}
