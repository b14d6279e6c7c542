package preview

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/preview"
	"github.com/WVU-ASEL/glidar/pkg/raster"
)

// PreviewService keeps the most recent encoded render for the API
type PreviewService struct {
	format preview.Format
	scale  int
	logger customlog.Logger

	mu    sync.RWMutex
	image []byte
	frame uint64
}

// NewPreviewService creates a service encoding in format at an integer scale.
// Format None disables encoding.
func NewPreviewService(format preview.Format, scale int, logger customlog.Logger) *PreviewService {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &PreviewService{format: format, scale: scale, logger: logger}
}

// Enabled reports whether renders are encoded at all
func (s *PreviewService) Enabled() bool {
	return s.format != preview.None && s.format != ""
}

// Format returns the encoding used
func (s *PreviewService) Format() preview.Format {
	return s.format
}

// Update encodes fb as the latest preview and returns the bytes. It must be
// called on the goroutine that owns fb.
func (s *PreviewService) Update(fb *raster.Framebuffer, frame uint64) ([]byte, error) {
	if !s.Enabled() {
		return nil, nil
	}
	data, err := preview.Render(fb, s.format, s.scale)
	if err != nil {
		s.logger.Warnf("Failed to encode preview of frame %d: %v", frame, err)
		return nil, err
	}

	s.mu.Lock()
	s.image = data
	s.frame = frame
	s.mu.Unlock()
	return data, nil
}

// Latest returns the last encoded preview and its frame timestamp
func (s *PreviewService) Latest() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.image, s.frame
}

// PreviewHandler serves the latest preview image
func (s *PreviewService) PreviewHandler(c *fiber.Ctx) error {
	data, frame := s.Latest()
	if len(data) == 0 {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "no preview rendered yet",
		})
	}
	c.Set(fiber.HeaderContentType, s.format.ContentType())
	c.Set("X-Frame-Timestamp", strconv.FormatUint(frame, 10))
	return c.Send(data)
}
