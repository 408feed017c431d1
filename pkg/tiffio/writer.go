package tiffio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"covcorr/internal/models"
)

// Writer stores maps as uncompressed little-endian float32 TIFF files,
// one page per map. Existing files are overwritten.
type Writer struct{}

// NewWriter creates a TIFF writer
func NewWriter() *Writer {
	return &Writer{}
}

// WriteMap writes a single 2D map
func (w *Writer) WriteMap(path string, m models.Map) error {
	return w.WritePages(path, []models.Map{m})
}

// WriteStack writes every frame of a stack as a page
func (w *Writer) WriteStack(path string, s models.Stack) error {
	pages := make([]models.Map, s.Frames)
	for t := range pages {
		pages[t] = s.Frame(t)
	}
	return w.WritePages(path, pages)
}

// WritePages writes the maps as consecutive pages of one file. All pages
// must share the same extents.
func (w *Writer) WritePages(path string, pages []models.Map) error {
	if len(pages) == 0 {
		return models.Errorf(models.KindIOWrite, "write "+path, "no pages to write")
	}
	for i, p := range pages {
		if p.Rows != pages[0].Rows || p.Cols != pages[0].Cols {
			return models.Errorf(models.KindIOWrite, "write "+path,
				"page %d is %dx%d, expected %dx%d", i, p.Rows, p.Cols, pages[0].Rows, pages[0].Cols)
		}
		if p.Rows <= 0 || p.Cols <= 0 || len(p.Data) != p.Rows*p.Cols {
			return models.Errorf(models.KindIOWrite, "write "+path, "page %d has invalid shape", i)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return models.Wrap(models.KindIOWrite, "write "+path, err)
	}
	bw := bufio.NewWriter(f)
	if err := encodePages(bw, pages); err != nil {
		f.Close()
		return models.Wrap(models.KindIOWrite, "write "+path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return models.Wrap(models.KindIOWrite, "write "+path, err)
	}
	if err := f.Close(); err != nil {
		return models.Wrap(models.KindIOWrite, "write "+path, err)
	}
	return nil
}

// ifdEntry is one 12-byte directory entry with its value inline
type ifdEntry struct {
	tag   uint16
	dt    uint16
	count uint32
	value uint32
}

// encodePages lays the file out as header, then for every page its pixel
// data followed by its IFD. The first IFD is followed by the ImageJ
// description it points to.
func encodePages(w io.Writer, pages []models.Map) error {
	order := binary.LittleEndian
	rows, cols := pages[0].Rows, pages[0].Cols
	dataSize := uint32(rows * cols * 4)

	description := fmt.Sprintf("ImageJ=1.11a\nimages=%d\nframes=%d\n\x00", len(pages), len(pages))
	descLen := uint32(len(description))
	if descLen%2 == 1 {
		description += "\x00"
	}

	const numEntries = 11
	ifdSize := uint32(2 + numEntries*12 + 4)

	// Offsets of every page's data and IFD
	dataOffsets := make([]uint32, len(pages))
	ifdOffsets := make([]uint32, len(pages))
	var descOffset uint32
	pos := uint32(8)
	for i := range pages {
		dataOffsets[i] = pos
		pos += dataSize
		ifdOffsets[i] = pos
		pos += ifdSize
		if i == 0 {
			descOffset = pos
			pos += uint32(len(description))
		}
	}

	header := make([]byte, 8)
	copy(header, "II")
	order.PutUint16(header[2:], 42)
	order.PutUint32(header[4:], ifdOffsets[0])
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for i, p := range pages {
		for _, v := range p.Data {
			order.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}

		next := uint32(0)
		if i+1 < len(pages) {
			next = ifdOffsets[i+1]
		}
		entries := []ifdEntry{
			{tagImageWidth, dtLong, 1, uint32(cols)},
			{tagImageLength, dtLong, 1, uint32(rows)},
			{tagBitsPerSample, dtShort, 1, 32},
			{tagCompression, dtShort, 1, compressionNone},
			{tagPhotometric, dtShort, 1, photometricBlack0},
			// every page points at the one description stored after IFD 0
			{tagImageDescription, dtASCII, descLen, descOffset},
			{tagStripOffsets, dtLong, 1, dataOffsets[i]},
			{tagSamplesPerPixel, dtShort, 1, 1},
			{tagRowsPerStrip, dtLong, 1, uint32(rows)},
			{tagStripByteCounts, dtLong, 1, dataSize},
			{tagSampleFormat, dtShort, 1, sampleFormatFloat},
		}
		if err := writeIFD(w, order, entries, next); err != nil {
			return err
		}
		if i == 0 {
			if _, err := io.WriteString(w, description); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeIFD(w io.Writer, order binary.ByteOrder, entries []ifdEntry, next uint32) error {
	buf := make([]byte, 2+len(entries)*12+4)
	order.PutUint16(buf[0:], uint16(len(entries)))
	for i, e := range entries {
		b := buf[2+i*12:]
		order.PutUint16(b[0:], e.tag)
		order.PutUint16(b[2:], e.dt)
		order.PutUint32(b[4:], e.count)
		// SHORT values sit in the first two bytes of the value field
		if e.dt == dtShort {
			order.PutUint16(b[8:], uint16(e.value))
		} else {
			order.PutUint32(b[8:], e.value)
		}
	}
	order.PutUint32(buf[2+len(entries)*12:], next)
	_, err := w.Write(buf)
	return err
}
