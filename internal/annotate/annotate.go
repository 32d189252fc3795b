// Package annotate draws labeled bounding boxes for confident detections.
package annotate

import (
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/tendant/simple-hazard-pipeline/internal/detection"
)

// OutlineWidth is the box outline thickness in pixels
const OutlineWidth = 4

var face = basicfont.Face7x13

// ColorFor returns a stable color for a label name. Channels stay in a mid
// range so white label text remains readable.
func ColorFor(name string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(name))
	sum := h.Sum32()
	return color.NRGBA{
		R: 30 + uint8(sum%190),
		G: 30 + uint8((sum>>8)%190),
		B: 30 + uint8((sum>>16)%190),
		A: 255,
	}
}

// Annotate returns a copy of src with a box and name tag drawn for every
// instance whose confidence is strictly above minConfidence, along with the
// number of boxes drawn. src is not modified.
func Annotate(src image.Image, labels *detection.LabelsResponse, minConfidence float64) (*image.NRGBA, int) {
	canvas := imaging.Clone(src)
	if labels == nil {
		return canvas, 0
	}

	bounds := canvas.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	drawn := 0
	for _, label := range labels.Labels {
		c := ColorFor(label.Name)
		for _, inst := range label.Instances {
			if !(inst.Confidence > minConfidence) {
				continue
			}
			bb := inst.BoundingBox
			x1 := bounds.Min.X + int(bb.Left*w)
			y1 := bounds.Min.Y + int(bb.Top*h)
			x2 := bounds.Min.X + int((bb.Left+bb.Width)*w)
			y2 := bounds.Min.Y + int((bb.Top+bb.Height)*h)

			drawOutline(canvas, image.Rect(x1, y1, x2, y2), c)
			drawTag(canvas, label.Name, x1, y1, c)
			drawn++
		}
	}
	return canvas, drawn
}

// drawOutline strokes r inward; the right and bottom edges are inclusive
func drawOutline(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	outer := image.Rect(r.Min.X, r.Min.Y, r.Max.X+1, r.Max.Y+1)
	src := image.NewUniform(c)
	for i := 0; i < OutlineWidth; i++ {
		edge := image.Rect(outer.Min.X+i, outer.Min.Y+i, outer.Max.X-i, outer.Max.Y-i)
		if edge.Empty() {
			break
		}
		fill(dst, image.Rect(edge.Min.X, edge.Min.Y, edge.Max.X, edge.Min.Y+1), src)
		fill(dst, image.Rect(edge.Min.X, edge.Max.Y-1, edge.Max.X, edge.Max.Y), src)
		fill(dst, image.Rect(edge.Min.X, edge.Min.Y, edge.Min.X+1, edge.Max.Y), src)
		fill(dst, image.Rect(edge.Max.X-1, edge.Min.Y, edge.Max.X, edge.Max.Y), src)
	}
}

func fill(dst *image.NRGBA, r image.Rectangle, src image.Image) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
}

// TextSize returns the rendered width and height of s
func TextSize(s string) (int, int) {
	return font.MeasureString(face, s).Ceil(), face.Metrics().Height.Ceil()
}

// TagOrigin returns the top-left corner of the name tag for a box whose top
// left is (x1, y1). The tag sits above the box unless there is no room.
func TagOrigin(x1, y1, textH int) image.Point {
	if y1 <= textH {
		return image.Pt(x1, y1)
	}
	return image.Pt(x1, y1-textH)
}

func drawTag(dst *image.NRGBA, name string, x1, y1 int, c color.NRGBA) {
	textW, textH := TextSize(name)
	origin := TagOrigin(x1, y1, textH)
	bg := image.Rect(origin.X, origin.Y, origin.X+textW, origin.Y+textH)
	fill(dst, bg, image.NewUniform(c))

	m := face.Metrics()
	asc, desc := m.Ascent.Ceil(), m.Descent.Ceil()
	baseline := bg.Min.Y + (bg.Dy()-(asc+desc))/2 + asc

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(bg.Min.X+(bg.Dx()-textW)/2, baseline),
	}
	d.DrawString(name)
}
