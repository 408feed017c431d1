// Package tiffio reads multi-page TIFF stacks and writes float32 TIFF maps.
//
// Reading supports every grey-scale layout golang.org/x/image/tiff decodes
// (8 and 16 bit, uncompressed, LZW, Deflate, PackBits) plus uncompressed
// 32-bit IEEE float pages, which that package does not handle. Paletted
// pages are read as their raw colour indices; colour pages are rejected.
// Pages beyond the first are reached by walking the IFD chain.
package tiffio

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// TIFF tags used by the reader and writer
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagSampleFormat     = 339
)

// TIFF field types
const (
	dtByte  = 1
	dtASCII = 2
	dtShort = 3
	dtLong  = 4
)

const (
	compressionNone   = 1
	photometricBlack0 = 1
	sampleFormatUint  = 1
	sampleFormatFloat = 3
)

// maxPages bounds the IFD walk so a corrupt chain cannot loop forever
const maxPages = 1 << 20

// Limits on what a header may claim. Pages are checked against them, and
// against the pixel bytes the file actually holds, before any pixel buffer
// is allocated.
const (
	maxDimension    = 1 << 16
	maxPagePixels   = 1 << 28
	maxStackSamples = 1 << 28

	// maxExpansion bounds the ratio of decoded to stored bytes for
	// compressed strips. A 12-bit LZW code expands to at most 4096 bytes.
	maxExpansion = 4096
)

// page describes one image file directory
type page struct {
	ifdOffset       uint32
	width, height   int
	bitsPerSample   int
	samplesPerPixel int
	sampleFormat    int
	compression     int
	stripOffsets    []uint32
	stripByteCounts []uint32
	description     string
}

func (p *page) isFloat32() bool {
	return p.sampleFormat == sampleFormatFloat && p.bitsPerSample == 32
}

// parseHeader validates the 8-byte TIFF header and returns the byte order
// and the offset of the first IFD
func parseHeader(data []byte) (binary.ByteOrder, uint32, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("file too short for a TIFF header")
	}
	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("not a TIFF file")
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, 0, fmt.Errorf("unsupported TIFF version %d", order.Uint16(data[2:4]))
	}
	return order, order.Uint32(data[4:8]), nil
}

// parsePages walks the IFD chain starting at the header's first offset
func parsePages(data []byte) (binary.ByteOrder, []*page, error) {
	order, offset, err := parseHeader(data)
	if err != nil {
		return nil, nil, err
	}

	var pages []*page
	seen := make(map[uint32]bool)
	for offset != 0 {
		if seen[offset] {
			return nil, nil, fmt.Errorf("IFD chain loops at offset %d", offset)
		}
		if len(pages) >= maxPages {
			return nil, nil, fmt.Errorf("more than %d pages", maxPages)
		}
		seen[offset] = true

		p, next, err := parseIFD(data, order, offset)
		if err != nil {
			return nil, nil, fmt.Errorf("page %d: %w", len(pages), err)
		}
		pages = append(pages, p)
		offset = next
	}
	if len(pages) == 0 {
		return nil, nil, fmt.Errorf("no image directories")
	}
	return order, pages, nil
}

// parseIFD decodes the directory at offset and returns the offset of the
// next one
func parseIFD(data []byte, order binary.ByteOrder, offset uint32) (*page, uint32, error) {
	if uint64(offset)+2 > uint64(len(data)) {
		return nil, 0, fmt.Errorf("IFD offset %d beyond end of file", offset)
	}
	count := int(order.Uint16(data[offset:]))
	end := uint64(offset) + 2 + uint64(count)*12 + 4
	if end > uint64(len(data)) {
		return nil, 0, fmt.Errorf("IFD at %d truncated", offset)
	}

	p := &page{
		ifdOffset:       offset,
		bitsPerSample:   1,
		samplesPerPixel: 1,
		sampleFormat:    sampleFormatUint,
		compression:     compressionNone,
	}
	for i := 0; i < count; i++ {
		entry := data[int(offset)+2+i*12 : int(offset)+2+(i+1)*12]
		tag := order.Uint16(entry[0:2])
		switch tag {
		case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression,
			tagSamplesPerPixel, tagSampleFormat, tagStripOffsets, tagStripByteCounts:
			vals, err := readUints(data, order, entry)
			if err != nil {
				return nil, 0, fmt.Errorf("tag %d: %w", tag, err)
			}
			if len(vals) == 0 {
				return nil, 0, fmt.Errorf("tag %d has no values", tag)
			}
			switch tag {
			case tagImageWidth:
				p.width = int(vals[0])
			case tagImageLength:
				p.height = int(vals[0])
			case tagBitsPerSample:
				p.bitsPerSample = int(vals[0])
			case tagCompression:
				p.compression = int(vals[0])
			case tagSamplesPerPixel:
				p.samplesPerPixel = int(vals[0])
			case tagSampleFormat:
				p.sampleFormat = int(vals[0])
			case tagStripOffsets:
				p.stripOffsets = vals
			case tagStripByteCounts:
				p.stripByteCounts = vals
			}
		case tagImageDescription:
			raw, err := fieldBytes(data, order, entry)
			if err != nil {
				return nil, 0, fmt.Errorf("tag %d: %w", tag, err)
			}
			p.description = strings.TrimRight(string(raw), "\x00")
		}
	}
	if err := p.validate(len(data)); err != nil {
		return nil, 0, err
	}
	next := order.Uint32(data[end-4 : end])
	return p, next, nil
}

// validate rejects headers whose dimensions or sample layout are out of
// range, or that claim more pixels than the strips in the file can hold
func (p *page) validate(fileSize int) error {
	if p.width <= 0 || p.height <= 0 || p.width > maxDimension || p.height > maxDimension {
		return fmt.Errorf("invalid dimensions %dx%d", p.width, p.height)
	}
	if pixels := p.width * p.height; pixels > maxPagePixels {
		return fmt.Errorf("page of %dx%d pixels exceeds the limit of %d", p.width, p.height, maxPagePixels)
	}
	if p.bitsPerSample <= 0 || p.bitsPerSample > 64 || p.samplesPerPixel <= 0 || p.samplesPerPixel > 16 {
		return fmt.Errorf("invalid sample layout: %d bits, %d samples per pixel", p.bitsPerSample, p.samplesPerPixel)
	}
	if len(p.stripOffsets) == 0 || len(p.stripOffsets) != len(p.stripByteCounts) {
		return fmt.Errorf("missing or inconsistent strip tables")
	}

	var stored uint64
	for i, off := range p.stripOffsets {
		n := uint64(p.stripByteCounts[i])
		if uint64(off)+n > uint64(fileSize) {
			return fmt.Errorf("strip %d overruns file", i)
		}
		stored += n
	}
	rowBytes := (uint64(p.width)*uint64(p.bitsPerSample)*uint64(p.samplesPerPixel) + 7) / 8
	need := rowBytes * uint64(p.height)
	if p.compression != compressionNone {
		need = (need + maxExpansion - 1) / maxExpansion
	}
	if stored < need {
		return fmt.Errorf("%dx%d page needs %d bytes of pixel data, file holds %d",
			p.width, p.height, need, stored)
	}
	return nil
}

func typeSize(dt uint16) int {
	switch dt {
	case dtByte, dtASCII:
		return 1
	case dtShort:
		return 2
	case dtLong:
		return 4
	default:
		return 0
	}
}

// fieldBytes returns the raw value bytes of an IFD entry, following the
// offset when the value does not fit inline
func fieldBytes(data []byte, order binary.ByteOrder, entry []byte) ([]byte, error) {
	dt := order.Uint16(entry[2:4])
	size := typeSize(dt)
	if size == 0 {
		return nil, fmt.Errorf("unsupported field type %d", dt)
	}
	n := uint64(order.Uint32(entry[4:8])) * uint64(size)
	if n <= 4 {
		return entry[8 : 8+n], nil
	}
	off := uint64(order.Uint32(entry[8:12]))
	if off+n > uint64(len(data)) {
		return nil, fmt.Errorf("value at %d overruns file", off)
	}
	return data[off : off+n], nil
}

// readUints decodes a BYTE, SHORT or LONG entry
func readUints(data []byte, order binary.ByteOrder, entry []byte) ([]uint32, error) {
	raw, err := fieldBytes(data, order, entry)
	if err != nil {
		return nil, err
	}
	dt := order.Uint16(entry[2:4])
	size := typeSize(dt)
	vals := make([]uint32, len(raw)/size)
	for i := range vals {
		switch dt {
		case dtByte:
			vals[i] = uint32(raw[i])
		case dtShort:
			vals[i] = uint32(order.Uint16(raw[i*2:]))
		case dtLong:
			vals[i] = order.Uint32(raw[i*4:])
		default:
			return nil, fmt.Errorf("field type %d is not numeric", dt)
		}
	}
	return vals, nil
}

// declaredFrames reads the time-axis length from an ImageJ-style
// description ("frames=N", falling back to "images=N"). ok is false when
// the description declares neither.
func declaredFrames(description string) (n int, ok bool, err error) {
	var frames, images string
	for _, line := range strings.Split(description, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "frames":
			frames = value
		case "images":
			images = value
		}
	}
	value := frames
	if value == "" {
		value = images
	}
	if value == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, false, fmt.Errorf("invalid frame count %q in description", value)
	}
	return n, true, nil
}
