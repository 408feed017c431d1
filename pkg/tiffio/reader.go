package tiffio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"

	"golang.org/x/image/tiff"

	"covcorr/internal/models"
)

// Loader reads TIFF stacks as [time][row][col] arrays of raw intensities.
//
// A Loader must be started before use and stopped once afterwards. Loads
// are serialised, so a single Loader can be shared by concurrent callers.
type Loader struct {
	mu      sync.Mutex
	started bool
	stopped bool
	loaded  int
}

// NewLoader creates a loader in the stopped state
func NewLoader() *Loader {
	return &Loader{}
}

// Start makes the loader available. A loader can only be started once.
func (l *Loader) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return models.Errorf(models.KindResourceLifecycle, "start loader", "already started")
	}
	l.started = true
	return nil
}

// Stop releases the loader. Loads after Stop fail.
func (l *Loader) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || l.stopped {
		return models.Errorf(models.KindResourceLifecycle, "stop loader", "not running")
	}
	l.stopped = true
	return nil
}

// Loaded returns how many stacks have been read so far
func (l *Loader) Loaded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Load reads the stack at path. Intensities are returned as stored,
// without rescaling. The number of frames is taken from the file's ImageJ
// description when present, otherwise from the page count.
func (l *Loader) Load(path string) (models.Stack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || l.stopped {
		return models.Stack{}, models.Errorf(models.KindResourceLifecycle, "load "+path, "loader is not running")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.Stack{}, models.Wrap(models.KindLoad, "load "+path, err)
	}
	stack, err := DecodeStack(data)
	if err != nil {
		return models.Stack{}, models.Wrap(models.KindLoad, "load "+path, err)
	}
	l.loaded++
	return stack, nil
}

// DecodeStack decodes an in-memory TIFF file into a stack
func DecodeStack(data []byte) (models.Stack, error) {
	order, pages, err := parsePages(data)
	if err != nil {
		return models.Stack{}, err
	}

	frames := len(pages)
	if n, ok, err := declaredFrames(pages[0].description); err != nil {
		return models.Stack{}, err
	} else if ok {
		if n > len(pages) {
			return models.Stack{}, fmt.Errorf("metadata declares %d frames but file has %d pages", n, len(pages))
		}
		frames = n
	}

	first := pages[0]
	if frames*first.width*first.height > maxStackSamples {
		return models.Stack{}, fmt.Errorf("%d frames of %dx%d exceed the limit of %d samples",
			frames, first.width, first.height, maxStackSamples)
	}
	stack := models.NewStack(frames, first.height, first.width)
	for t := 0; t < frames; t++ {
		p := pages[t]
		if p.width != first.width || p.height != first.height {
			return models.Stack{}, fmt.Errorf("page %d is %dx%d, expected %dx%d",
				t, p.width, p.height, first.width, first.height)
		}
		dst := stack.Frame(t).Data
		if p.isFloat32() {
			err = decodeFloat32(data, order, p, dst)
		} else {
			err = decodeWithImage(data, p, dst)
		}
		if err != nil {
			return models.Stack{}, fmt.Errorf("page %d: %w", t, err)
		}
	}
	return stack, nil
}

// decodeFloat32 reads an uncompressed single-sample float32 page
func decodeFloat32(data []byte, order binary.ByteOrder, p *page, dst []float64) error {
	if p.compression != compressionNone {
		return fmt.Errorf("compressed float pages are not supported")
	}
	if p.samplesPerPixel != 1 {
		return fmt.Errorf("float pages must have one sample per pixel, got %d", p.samplesPerPixel)
	}
	if len(p.stripOffsets) == 0 || len(p.stripOffsets) != len(p.stripByteCounts) {
		return fmt.Errorf("missing or inconsistent strip tables")
	}

	buf := make([]byte, 0, len(dst)*4)
	for i, off := range p.stripOffsets {
		end := uint64(off) + uint64(p.stripByteCounts[i])
		if end > uint64(len(data)) {
			return fmt.Errorf("strip %d overruns file", i)
		}
		buf = append(buf, data[off:end]...)
	}
	if len(buf) < len(dst)*4 {
		return fmt.Errorf("pixel data truncated: %d bytes for %d pixels", len(buf), len(dst))
	}
	for i := range dst {
		dst[i] = float64(math.Float32frombits(order.Uint32(buf[i*4:])))
	}
	return nil
}

// decodeWithImage hands the page to x/image/tiff by presenting a view of
// the file whose header points at this page's IFD
func decodeWithImage(data []byte, p *page, dst []float64) error {
	img, err := tiff.Decode(newPageReader(data, p.ifdOffset))
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != p.width || b.Dy() != p.height {
		return fmt.Errorf("decoded %dx%d, expected %dx%d", b.Dx(), b.Dy(), p.width, p.height)
	}

	switch m := img.(type) {
	case *image.Gray:
		for y := 0; y < p.height; y++ {
			for x := 0; x < p.width; x++ {
				dst[y*p.width+x] = float64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		for y := 0; y < p.height; y++ {
			for x := 0; x < p.width; x++ {
				dst[y*p.width+x] = float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Paletted:
		// Lookup-table files store intensities as indices
		for y := 0; y < p.height; y++ {
			for x := 0; x < p.width; x++ {
				dst[y*p.width+x] = float64(m.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
			}
		}
	default:
		return fmt.Errorf("unsupported pixel layout %T, expected grey-scale or paletted", img)
	}
	return nil
}

// pageReader serves the file bytes with the first-IFD pointer in the header
// replaced, so a single-image decoder sees the chosen page as the first one
type pageReader struct {
	data   []byte
	header [8]byte
	pos    int64
}

func newPageReader(data []byte, ifdOffset uint32) *pageReader {
	r := &pageReader{data: data}
	copy(r.header[:], data[:8])
	order := binary.ByteOrder(binary.LittleEndian)
	if bytes.Equal(data[:2], []byte("MM")) {
		order = binary.BigEndian
	}
	order.PutUint32(r.header[4:8], ifdOffset)
	return r
}

func (r *pageReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if off < int64(len(r.header)) {
		copy(p, r.header[off:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *pageReader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}
