package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"
)

// layout describes how samples are stored.
type layout struct {
	order           binary.ByteOrder
	compression     uint64
	predictor       uint64
	sampleFormat    uint64
	bitsPerSample   uint64
	samplesPerPixel int
	planar          uint64
}

func (l layout) bytesPerSample() int {
	return int(l.bitsPerSample / 8)
}

// validate rejects layouts the decoder cannot handle.
func (l layout) validate() error {
	switch l.compression {
	case compressionNone, compressionLZW, compressionAdobeDeflate, compressionDeflate, compressionPackBits:
	default:
		return fmt.Errorf("compression %d not supported", l.compression)
	}
	switch l.predictor {
	case predictorNone, predictorHorizontal, predictorFloatingPoint:
	default:
		return fmt.Errorf("predictor %d not supported", l.predictor)
	}

	switch l.sampleFormat {
	case sampleFormatUint, sampleFormatInt:
		switch l.bitsPerSample {
		case 8, 16, 32, 64:
		default:
			return fmt.Errorf("%d-bit integer samples not supported", l.bitsPerSample)
		}
	case sampleFormatFloat:
		if l.bitsPerSample != 32 && l.bitsPerSample != 64 {
			return fmt.Errorf("%d-bit float samples not supported", l.bitsPerSample)
		}
	default:
		return fmt.Errorf("sample format %d not supported", l.sampleFormat)
	}

	if l.samplesPerPixel < 1 {
		return fmt.Errorf("samples per pixel %d", l.samplesPerPixel)
	}
	if l.planar != planarChunky && l.planar != planarSeparate {
		return fmt.Errorf("planar configuration %d not supported", l.planar)
	}
	return nil
}

// decompress inflates one stored block.
func decompress(compression uint64, raw []byte) ([]byte, error) {
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionAdobeDeflate, compressionDeflate:
		z, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("creating zlib reader: %w", err)
		}
		defer z.Close()
		return io.ReadAll(z)
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close()
		out, err := io.ReadAll(lr)
		// Encoders commonly omit the final EOI code
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return out, nil
	case compressionPackBits:
		return unpackBits(raw)
	}
	return nil, fmt.Errorf("compression %d not supported", compression)
}

func unpackBits(raw []byte) ([]byte, error) {
	out := make([]byte, 0, len(raw)*2)
	for i := 0; i < len(raw); {
		n := int(int8(raw[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(raw) {
				return nil, io.ErrUnexpectedEOF
			}
			out = append(out, raw[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(raw) {
				return nil, io.ErrUnexpectedEOF
			}
			for j := 0; j < 1-n; j++ {
				out = append(out, raw[i])
			}
			i++
		}
	}
	return out, nil
}

// undoPredictor reverses the predictor in place. rowSamples is the number
// of samples in one row of the block, stride the samples per pixel. It
// returns the byte order of the result, which is big endian after the
// floating point predictor.
func undoPredictor(l layout, data []byte, rowSamples, stride int) (binary.ByteOrder, error) {
	bps := l.bytesPerSample()
	rowBytes := rowSamples * bps
	if rowBytes == 0 || len(data)%rowBytes != 0 {
		return nil, fmt.Errorf("block of %d bytes is not a whole number of %d-byte rows", len(data), rowBytes)
	}

	switch l.predictor {
	case predictorNone:
		return l.order, nil
	case predictorHorizontal:
		for row := 0; row < len(data); row += rowBytes {
			undoHorizontal(l.order, data[row:row+rowBytes], bps, stride)
		}
		return l.order, nil
	case predictorFloatingPoint:
		tmp := make([]byte, rowBytes)
		for row := 0; row < len(data); row += rowBytes {
			buf := data[row : row+rowBytes]
			for i := stride; i < len(buf); i++ {
				buf[i] += buf[i-stride]
			}
			copy(tmp, buf)
			for s := 0; s < rowSamples; s++ {
				for b := 0; b < bps; b++ {
					buf[s*bps+b] = tmp[b*rowSamples+s]
				}
			}
		}
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("predictor %d not supported", l.predictor)
}

func undoHorizontal(order binary.ByteOrder, row []byte, bps, stride int) {
	n := len(row) / bps
	switch bps {
	case 1:
		for i := stride; i < n; i++ {
			row[i] += row[i-stride]
		}
	case 2:
		for i := stride; i < n; i++ {
			order.PutUint16(row[i*2:], order.Uint16(row[i*2:])+order.Uint16(row[(i-stride)*2:]))
		}
	case 4:
		for i := stride; i < n; i++ {
			order.PutUint32(row[i*4:], order.Uint32(row[i*4:])+order.Uint32(row[(i-stride)*4:]))
		}
	case 8:
		for i := stride; i < n; i++ {
			order.PutUint64(row[i*8:], order.Uint64(row[i*8:])+order.Uint64(row[(i-stride)*8:]))
		}
	}
}

// sampleAt converts the i-th sample of data to float64.
func sampleAt(l layout, order binary.ByteOrder, data []byte, i int) float64 {
	switch l.bitsPerSample {
	case 8:
		if l.sampleFormat == sampleFormatInt {
			return float64(int8(data[i]))
		}
		return float64(data[i])
	case 16:
		v := order.Uint16(data[i*2:])
		if l.sampleFormat == sampleFormatInt {
			return float64(int16(v))
		}
		return float64(v)
	case 32:
		v := order.Uint32(data[i*4:])
		switch l.sampleFormat {
		case sampleFormatFloat:
			return float64(math.Float32frombits(v))
		case sampleFormatInt:
			return float64(int32(v))
		}
		return float64(v)
	case 64:
		v := order.Uint64(data[i*8:])
		switch l.sampleFormat {
		case sampleFormatFloat:
			return math.Float64frombits(v)
		case sampleFormatInt:
			return float64(int64(v))
		}
		return float64(v)
	}
	return math.NaN()
}
