// Package wordcloud renders weighted keywords as a PNG word cloud plus an
// HTML image map linking each word.
package wordcloud

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"image/color"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// Options configures a Generator. Zero values take the defaults.
type Options struct {
	Width       int
	Height      int
	MinFontSize float64
	MaxFontSize float64
	MaxWords    int
	// LinkPrefix is prepended to the query-escaped word in each map link.
	LinkPrefix string
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 800
	}
	if o.Height <= 0 {
		o.Height = 400
	}
	if o.MinFontSize <= 0 {
		o.MinFontSize = 12
	}
	if o.MaxFontSize <= 0 {
		o.MaxFontSize = 64
	}
	if o.MaxWords <= 0 {
		o.MaxWords = 80
	}
	if o.LinkPrefix == "" {
		o.LinkPrefix = "/api/notebooks?q="
	}
	return o
}

// Region is the bounding box of one placed word, in image pixels.
type Region struct {
	Word           string
	X0, Y0, X1, Y1 int
}

// Cloud is a rendered word cloud.
type Cloud struct {
	PNG     []byte
	Regions []Region
}

// Generator renders word clouds. It is safe for concurrent use.
type Generator struct {
	opts Options
	font *truetype.Font
}

// NewGenerator parses the bundled Go Regular font.
func NewGenerator(opts Options) (*Generator, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return &Generator{opts: opts.withDefaults(), font: f}, nil
}

type rect struct{ x0, y0, x1, y1 float64 }

func (r rect) overlaps(o rect) bool {
	return r.x0 < o.x1 && o.x0 < r.x1 && r.y0 < o.y1 && o.y0 < r.y1
}

// Generate lays out the keywords heaviest first on an Archimedean spiral from
// the center, skipping words that do not fit. It returns ctx.Err() if the
// context ends during layout.
func (g *Generator) Generate(ctx context.Context, keywords []models.Keyword) (*Cloud, error) {
	words := normalize(keywords, g.opts.MaxWords)

	w, h := float64(g.opts.Width), float64(g.opts.Height)
	dc := gg.NewContext(g.opts.Width, g.opts.Height)
	dc.SetColor(color.White)
	dc.Clear()

	cloud := &Cloud{}
	if len(words) > 0 {
		minW, maxW := words[len(words)-1].Weight, words[0].Weight
		faces := make(map[int]font.Face)
		var placed []rect

		for _, kw := range words {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			size := g.fontSize(kw.Weight, minW, maxW)
			face, ok := faces[size]
			if !ok {
				face = truetype.NewFace(g.font, &truetype.Options{
					Size:    float64(size),
					DPI:     72,
					Hinting: font.HintingNone,
				})
				faces[size] = face
			}
			dc.SetFontFace(face)
			tw, th := dc.MeasureString(kw.Term)

			box, ok := spiralPlace(tw, th, w, h, placed)
			if !ok {
				continue
			}
			placed = append(placed, box)

			dc.SetColor(Color(kw.Term))
			dc.DrawStringAnchored(kw.Term, (box.x0+box.x1)/2, (box.y0+box.y1)/2, 0.5, 0.5)
			cloud.Regions = append(cloud.Regions, Region{
				Word: kw.Term,
				X0:   int(math.Floor(box.x0)), Y0: int(math.Floor(box.y0)),
				X1: int(math.Ceil(box.x1)), Y1: int(math.Ceil(box.y1)),
			})
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	cloud.PNG = buf.Bytes()
	return cloud, nil
}

// ImageMap renders the regions as an HTML <map> element named name.
func (g *Generator) ImageMap(name string, regions []Region) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<map name=\"%s\">\n", html.EscapeString(name))
	for _, r := range regions {
		word := html.EscapeString(r.Word)
		fmt.Fprintf(&sb, "<area shape=\"rect\" coords=\"%d,%d,%d,%d\" href=\"%s\" alt=\"%s\" title=\"%s\">\n",
			r.X0, r.Y0, r.X1, r.Y1,
			html.EscapeString(g.opts.LinkPrefix+url.QueryEscape(r.Word)), word, word)
	}
	sb.WriteString("</map>\n")
	return []byte(sb.String())
}

func (g *Generator) fontSize(weight, minW, maxW float64) int {
	t := 1.0
	if maxW > minW {
		t = (weight - minW) / (maxW - minW)
	}
	return int(math.Round(g.opts.MinFontSize + t*(g.opts.MaxFontSize-g.opts.MinFontSize)))
}

// normalize drops blank and non-positive keywords, merges duplicates and
// returns at most limit words, heaviest first with ties broken by term.
func normalize(keywords []models.Keyword, limit int) []models.Keyword {
	merged := make(map[string]float64, len(keywords))
	for _, kw := range keywords {
		term := strings.TrimSpace(kw.Term)
		if term == "" || kw.Weight <= 0 || math.IsNaN(kw.Weight) || math.IsInf(kw.Weight, 0) {
			continue
		}
		merged[term] += kw.Weight
	}

	words := make([]models.Keyword, 0, len(merged))
	for term, weight := range merged {
		words = append(words, models.Keyword{Term: term, Weight: weight})
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].Weight != words[j].Weight {
			return words[i].Weight > words[j].Weight
		}
		return words[i].Term < words[j].Term
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// spiralPlace walks outward from the center until the box fits inside the
// canvas without overlapping an already placed word.
func spiralPlace(tw, th, w, h float64, placed []rect) (rect, bool) {
	const (
		step      = 0.1
		spacing   = 2.0
		maxRadius = 2.0
	)
	if tw > w || th > h {
		return rect{}, false
	}
	cx, cy := w/2, h/2
	limit := math.Hypot(w, h) * maxRadius / 2
	for theta := 0.0; ; theta += step {
		r := spacing * theta
		if r > limit {
			return rect{}, false
		}
		x := cx + r*math.Cos(theta)
		y := cy + r*math.Sin(theta)*h/w
		box := rect{x - tw/2, y - th/2, x + tw/2, y + th/2}
		if box.x0 < 0 || box.y0 < 0 || box.x1 > w || box.y1 > h {
			continue
		}
		free := true
		for _, p := range placed {
			if box.overlaps(p) {
				free = false
				break
			}
		}
		if free {
			return box, true
		}
	}
}
