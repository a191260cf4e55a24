package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// header is the parsed TIFF file header.
type header struct {
	order     binary.ByteOrder
	bigTIFF   bool
	ifdOffset uint64
}

// tagValue holds a decoded tag in the widest representation of its kind.
type tagValue struct {
	typ    fieldType
	ints   []uint64
	floats []float64
	ascii  string
}

// tags is the first image file directory.
type tags map[Tag]tagValue

func (t tags) uint(tag Tag) (uint64, bool) {
	v, ok := t[tag]
	if !ok || len(v.ints) == 0 {
		return 0, false
	}
	return v.ints[0], true
}

func (t tags) uintOr(tag Tag, def uint64) uint64 {
	if v, ok := t.uint(tag); ok {
		return v
	}
	return def
}

func (t tags) uints(tag Tag) ([]uint64, bool) {
	v, ok := t[tag]
	if !ok || len(v.ints) == 0 {
		return nil, false
	}
	return v.ints, true
}

func (t tags) floats(tag Tag) ([]float64, bool) {
	v, ok := t[tag]
	if !ok || len(v.floats) == 0 {
		return nil, false
	}
	return v.floats, true
}

func (t tags) ascii(tag Tag) (string, bool) {
	v, ok := t[tag]
	if !ok || v.typ != typeASCII {
		return "", false
	}
	return v.ascii, true
}

func readHeader(r io.ReaderAt) (header, error) {
	var h header
	buf := make([]byte, 16)
	n, err := r.ReadAt(buf, 0)
	if n < 8 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return h, fmt.Errorf("reading header: %w", err)
	}

	switch binary.BigEndian.Uint16(buf[0:2]) {
	case littleEndianMagic:
		h.order = binary.LittleEndian
	case bigEndianMagic:
		h.order = binary.BigEndian
	default:
		return h, errors.New("invalid byte order mark")
	}

	switch id := h.order.Uint16(buf[2:4]); id {
	case tiffIdentifier:
		h.ifdOffset = uint64(h.order.Uint32(buf[4:8]))
	case bigTIFFIdentifier:
		if n < 16 {
			return h, fmt.Errorf("reading BigTIFF header: %w", io.ErrUnexpectedEOF)
		}
		if h.order.Uint16(buf[4:6]) != bigTIFFOffsetBytes {
			return h, errors.New("invalid BigTIFF offset size")
		}
		h.bigTIFF = true
		h.ifdOffset = h.order.Uint64(buf[8:16])
	default:
		return h, fmt.Errorf("invalid tiff identifier %d", id)
	}

	if h.ifdOffset == 0 {
		return h, errors.New("file contains no image directory")
	}
	return h, nil
}

// readTags parses the first IFD. Later IFDs hold overviews or masks and are
// ignored.
func readTags(r io.ReaderAt) (tags, header, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, h, err
	}

	countLen, entryLen, inline := 2, 12, uint64(4)
	if h.bigTIFF {
		countLen, entryLen, inline = 8, 20, 8
	}

	countBuf := make([]byte, countLen)
	if _, err := r.ReadAt(countBuf, int64(h.ifdOffset)); err != nil {
		return nil, h, fmt.Errorf("reading directory size: %w", err)
	}
	var numEntries uint64
	if h.bigTIFF {
		numEntries = h.order.Uint64(countBuf)
	} else {
		numEntries = uint64(h.order.Uint16(countBuf))
	}
	if numEntries == 0 || numEntries > maxIFDEntries {
		return nil, h, fmt.Errorf("implausible directory size %d", numEntries)
	}

	block := make([]byte, int(numEntries)*entryLen)
	if _, err := r.ReadAt(block, int64(h.ifdOffset)+int64(countLen)); err != nil {
		return nil, h, fmt.Errorf("reading directory: %w", err)
	}

	out := make(tags, numEntries)
	for i := 0; i < int(numEntries); i++ {
		entry := block[i*entryLen : (i+1)*entryLen]
		tag := Tag(h.order.Uint16(entry[0:2]))
		typ := fieldType(h.order.Uint16(entry[2:4]))
		if typ.size() == 0 {
			continue
		}

		var count uint64
		var valueField []byte
		if h.bigTIFF {
			count = h.order.Uint64(entry[4:12])
			valueField = entry[12:20]
		} else {
			count = uint64(h.order.Uint32(entry[4:8]))
			valueField = entry[8:12]
		}

		total := typ.size() * count
		if total > math.MaxInt32 {
			return nil, h, fmt.Errorf("%s: value too large", tag)
		}
		var raw []byte
		if total <= inline {
			raw = valueField[:total]
		} else {
			var offset uint64
			if h.bigTIFF {
				offset = h.order.Uint64(valueField)
			} else {
				offset = uint64(h.order.Uint32(valueField))
			}
			raw = make([]byte, total)
			if _, err := r.ReadAt(raw, int64(offset)); err != nil {
				return nil, h, fmt.Errorf("reading %s: %w", tag, err)
			}
		}

		out[tag] = decodeValue(typ, count, raw, h.order)
	}
	return out, h, nil
}

func decodeValue(typ fieldType, count uint64, raw []byte, order binary.ByteOrder) tagValue {
	v := tagValue{typ: typ}
	size := typ.size()
	switch typ {
	case typeASCII:
		v.ascii = string(bytes.TrimRight(raw, "\x00"))
	case typeByte, typeUndefined:
		for _, b := range raw {
			v.ints = append(v.ints, uint64(b))
		}
	case typeSByte:
		for _, b := range raw {
			v.ints = append(v.ints, uint64(int64(int8(b))))
		}
	case typeShort, typeSShort:
		for i := uint64(0); i < count; i++ {
			v.ints = append(v.ints, uint64(order.Uint16(raw[i*size:])))
		}
	case typeLong, typeSLong:
		for i := uint64(0); i < count; i++ {
			v.ints = append(v.ints, uint64(order.Uint32(raw[i*size:])))
		}
	case typeLong8, typeSLong8, typeIFD8:
		for i := uint64(0); i < count; i++ {
			v.ints = append(v.ints, order.Uint64(raw[i*size:]))
		}
	case typeFloat:
		for i := uint64(0); i < count; i++ {
			v.floats = append(v.floats, float64(math.Float32frombits(order.Uint32(raw[i*size:]))))
		}
	case typeDouble:
		for i := uint64(0); i < count; i++ {
			v.floats = append(v.floats, math.Float64frombits(order.Uint64(raw[i*size:])))
		}
	case typeRational:
		for i := uint64(0); i < count; i++ {
			num, den := order.Uint32(raw[i*size:]), order.Uint32(raw[i*size+4:])
			if den != 0 {
				v.floats = append(v.floats, float64(num)/float64(den))
			}
		}
	case typeSRational:
		for i := uint64(0); i < count; i++ {
			num, den := int32(order.Uint32(raw[i*size:])), int32(order.Uint32(raw[i*size+4:]))
			if den != 0 {
				v.floats = append(v.floats, float64(num)/float64(den))
			}
		}
	}
	return v
}
