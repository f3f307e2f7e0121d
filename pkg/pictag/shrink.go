package pictag

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/rwcarlsen/goexif/exif"
	"k8s.io/klog/v2"
)

// ErrDecode is returned when image bytes cannot be decoded.
var ErrDecode = errors.New("unable to decode image")

// Shrink decodes bs, scales it so that its long edge is at most longEdge and
// re-encodes it as JPEG at the given quality.
func Shrink(bs []byte, longEdge int, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrDecode, img.Bounds())
	}

	// Re-encoding drops EXIF, so bake the orientation into the pixels.
	img = orient(img, orientation(bs))

	x, y := fit(img.Bounds().Dx(), img.Bounds().Dy(), longEdge)
	klog.V(1).Infof("resizing %v to %dx%d at quality %d", img.Bounds(), x, y, quality)
	rimg := transform.Resize(img, x, y, transform.Lanczos)

	f, err := os.CreateTemp("", "pictag-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		klog.Warningf("close %s: %v", tmp, err)
	}
	defer func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			klog.Warningf("remove %s: %v", tmp, err)
		}
	}()

	if err := imgio.Save(tmp, rimg, imgio.JPEGEncoder(quality)); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	out, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return out, nil
}

// fit returns dimensions with the same aspect ratio whose long edge is
// longEdge. Images that already fit are left alone.
func fit(w int, h int, longEdge int) (int, int) {
	long := max(w, h)
	if longEdge <= 0 || long <= longEdge {
		return w, h
	}

	scale := float64(longEdge) / float64(long)
	if w >= h {
		return longEdge, max(1, int(math.Round(float64(h)*scale)))
	}
	return max(1, int(math.Round(float64(w)*scale))), longEdge
}

// orientation returns the EXIF orientation of bs, or 1 if there is none.
func orientation(bs []byte) int {
	x, err := exif.Decode(bytes.NewReader(bs))
	if err != nil {
		klog.V(2).Infof("no exif: %v", err)
		return 1
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}

	o, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return o
}

// orient applies an EXIF orientation so the image is upright.
func orient(img image.Image, o int) image.Image {
	rotate := func(img image.Image, deg float64) image.Image {
		return transform.Rotate(img, deg, &transform.RotationOptions{ResizeBounds: true})
	}

	switch o {
	case 2:
		return transform.FlipH(img)
	case 3:
		return rotate(img, 180)
	case 4:
		return transform.FlipV(img)
	case 5:
		return transform.FlipH(rotate(img, 90))
	case 6:
		return rotate(img, 90)
	case 7:
		return transform.FlipH(rotate(img, 270))
	case 8:
		return rotate(img, 270)
	default:
		return img
	}
}
