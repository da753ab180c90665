package media

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"regexp"
	"strconv"
	"time"

	"github.com/buckket/go-blurhash"
)

// blurhashComponents is the x/y component count passed to blurhash.Encode;
// 4x3 is the library's own recommended default for thumbnail-sized previews.
const (
	blurhashComponentsX = 4
	blurhashComponentsY = 3
)

// result is processImage's output: all fields are nil/empty when data could
// not be decoded as an image, so callers can treat non-image and
// failed-to-decode uploads identically.
type result struct {
	width    *int
	height   *int
	blurhash *string
	stripped []byte
}

// processImage decodes dimensions, computes a blurhash placeholder, and
// optionally re-encodes the image to strip EXIF metadata. It never returns
// an error: undecodable data simply yields a zero-value result, since an
// attachment that isn't a readable image still gets stored as-is.
func (s *Service) processImage(data []byte, mime string) result {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return result{}
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	hash := ComputeBlurhash(img)

	res := result{width: &width, height: &height}
	if hash != "" {
		res.blurhash = &hash
	}
	if s.stripExif {
		res.stripped = stripExifData(img, mime)
	}
	return res
}

// ComputeBlurhash encodes img as a blurhash placeholder string. Deterministic
// for a given image: callers can use it to detect unrelated re-uploads.
func ComputeBlurhash(img image.Image) string {
	hash, err := blurhash.Encode(blurhashComponentsX, blurhashComponentsY, img)
	if err != nil {
		return ""
	}
	return hash
}

// stripExifData re-encodes img, discarding any metadata the original
// encoding carried (EXIF, ICC profiles, etc). JPEG and PNG re-encode in
// their native format; anything else falls back to PNG, which carries no
// EXIF segment to begin with.
func stripExifData(img image.Image, mime string) []byte {
	var buf bytes.Buffer
	switch mime {
	case "image/jpeg", "image/jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil
		}
	case "image/png":
		if err := png.Encode(&buf, img); err != nil {
			return nil
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil
		}
	}
	return buf.Bytes()
}

var datePathPattern = regexp.MustCompile(`^attachments/(\d{4}/\d{2}/\d{2})/`)

// extractDatePath pulls the YYYY/MM/DD segment out of a storage key of the
// form "attachments/YYYY/MM/DD/...". Keys that don't match fall back to
// today's date, so a malformed key still gets a usable thumbnail path.
func extractDatePath(key string) string {
	if m := datePathPattern.FindStringSubmatch(key); m != nil {
		return m[1]
	}
	return time.Now().UTC().Format("2006/01/02")
}

// ThumbnailURL is the storage key a thumbnail of the given size is written
// to, derived from the original's date path so thumbnails age out alongside
// their source.
func ThumbnailURL(id, datePath string, size int) string {
	return "thumbnails/" + datePath + "/" + id + "_" + strconv.Itoa(size) + ".jpg"
}
