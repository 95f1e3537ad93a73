package pipeline

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"foil-inspector/internal/logger"
)

type imageSaver struct {
	logger logger.Logger
}

func (s *imageSaver) SaveToWriter(writer io.Writer, img image.Image, format string) error {
	if img == nil {
		return fmt.Errorf("no image data to save")
	}

	saveFormat := strings.ToLower(format)
	var err error
	switch saveFormat {
	case "jpeg", "jpg":
		err = jpeg.Encode(writer, img, &jpeg.Options{Quality: 95})
	case "png", "":
		saveFormat = "png"
		err = png.Encode(writer, img)
	default:
		s.logger.Warning("ImageSaver", "format not supported, using PNG", map[string]interface{}{
			"requested_format": strings.ToUpper(saveFormat),
		})
		saveFormat = "png"
		err = png.Encode(writer, img)
	}

	if err != nil {
		s.logger.Error("ImageSaver", err, map[string]interface{}{
			"format": saveFormat,
		})
		return err
	}
	return nil
}

// SaveToPath writes img, creating parent directories. The format follows
// the file extension.
func (s *imageSaver) SaveToPath(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if err := s.SaveToWriter(f, img, format); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	s.logger.Debug("ImageSaver", "image saved", map[string]interface{}{
		"path": path,
	})
	return nil
}
