package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"gocv.io/x/gocv"

	"foil-inspector/internal/logger"
	"foil-inspector/internal/opencv/bridge"
	"foil-inspector/internal/opencv/memory"
	"foil-inspector/internal/opencv/safe"
	"foil-inspector/internal/raster"
)

type imageLoader struct {
	tracker *memory.Tracker
	logger  logger.Logger
}

func (l *imageLoader) LoadFromPath(path string) (*ImageData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	data, err := l.LoadFromReader(f, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data.Path = path
	return data, nil
}

func (l *imageLoader) LoadFromReader(reader io.Reader, name string) (*ImageData, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return l.LoadFromBytes(raw, name)
}

// LoadFromBytes decodes with the Go codecs first and falls back to OpenCV
// for encodings they do not cover.
func (l *imageLoader) LoadFromBytes(raw []byte, name string) (*ImageData, error) {
	ext := strings.ToLower(filepath.Ext(name))

	var gray *image.Gray
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err == nil {
		gray = bridge.ToGray(img)
	} else {
		l.logger.Debug("ImageLoader", "standard decode failed, trying OpenCV", map[string]interface{}{
			"name":  name,
			"error": err.Error(),
		})
		gray, err = l.decodeWithOpenCV(raw)
		if err != nil {
			return nil, err
		}
		format = ""
	}

	data := &ImageData{
		Image:  gray,
		Name:   strings.TrimSuffix(name, filepath.Ext(name)),
		Width:  gray.Rect.Dx(),
		Height: gray.Rect.Dy(),
		Format: l.determineActualFormat(ext, format),
	}

	l.logger.Info("ImageLoader", "image loaded", map[string]interface{}{
		"name":   data.Name,
		"width":  data.Width,
		"height": data.Height,
		"format": data.Format,
	})

	return data, nil
}

func (l *imageLoader) decodeWithOpenCV(raw []byte) (*image.Gray, error) {
	mat, err := gocv.IMDecode(raw, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image with OpenCV: %w", err)
	}
	decoded, err := safe.Adopt(mat, l.tracker, "decoded_image")
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer decoded.Close()

	return bridge.MatToGray(decoded)
}

// LoadMask reads a mask image; any non-zero pixel is inside the mask.
func (l *imageLoader) LoadMask(path string, width, height int) (*raster.Mask, error) {
	data, err := l.LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	if data.Width != width || data.Height != height {
		return nil, fmt.Errorf("mask %s is %dx%d, image is %dx%d: %w",
			path, data.Width, data.Height, width, height, raster.ErrShapeMismatch)
	}
	return raster.FromGray(data.Image), nil
}

func (l *imageLoader) determineActualFormat(uriExtension, stdLibFormat string) string {
	switch uriExtension {
	case ".tiff", ".tif":
		return "tiff"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".bmp":
		return "bmp"
	default:
		if stdLibFormat != "" {
			return stdLibFormat
		}
		return "unknown"
	}
}
