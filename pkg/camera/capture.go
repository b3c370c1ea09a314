package camera

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// Capture reads JPEG frames from a local device through OpenCV.
type Capture struct {
	mu     sync.Mutex
	dev    *gocv.VideoCapture
	img    gocv.Mat
	config Config
	seq    uint64
}

// OpenCapture opens the device named by cfg.Device: an index or a URL.
func OpenCapture(cfg Config) (*Capture, error) {
	dev, err := openDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	c := &Capture{dev: dev, img: gocv.NewMat(), config: cfg}
	c.applyLocked(cfg)
	return c, nil
}

func openDevice(device string) (*gocv.VideoCapture, error) {
	var id interface{} = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}
	dev, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open capture device %q: %w", device, err)
	}
	return dev, nil
}

// Apply changes resolution and rate. Use it as Manager.OnConfigChange.
func (c *Capture) Apply(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(cfg)
	return nil
}

func (c *Capture) applyLocked(cfg Config) {
	c.dev.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	c.dev.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	c.dev.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	c.config = cfg
}

// NextFrame grabs and encodes one frame. Frames are never flipped; Mirror
// only reaches renderers through Mirrored.
func (c *Capture) NextFrame() (pose.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.dev.Read(&c.img); !ok || c.img.Empty() {
		return pose.Frame{}, fmt.Errorf("capture read failed")
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.img,
		[]int{gocv.IMWriteJpegQuality, c.config.Quality})
	if err != nil {
		return pose.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	c.seq++
	return pose.Frame{
		Seq:       c.seq,
		Width:     c.img.Cols(),
		Height:    c.img.Rows(),
		Timestamp: time.Now(),
		JPEG:      data,
	}, nil
}

// Mirrored reports whether frames are flipped.
func (c *Capture) Mirrored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Mirror
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.img.Close()
	return c.dev.Close()
}
