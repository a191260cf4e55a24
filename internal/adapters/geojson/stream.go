package geojson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jobrunner/geosplit/internal/domain"
)

// stream is a json.Decoder positioned inside the features array.
type stream struct {
	file *os.File
	dec  *json.Decoder
	crs  json.RawMessage
}

func openStream(path string) (*stream, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("opening %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	s := &stream{file: f, dec: json.NewDecoder(bufio.NewReaderSize(f, 64*1024))}
	if err := s.seekFeatures(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return s, nil
}

// seekFeatures walks top-level members until the features array opens.
func (s *stream) seekFeatures() error {
	if err := s.expect(json.Delim('{')); err != nil {
		return err
	}
	for s.dec.More() {
		key, err := s.key()
		if err != nil {
			return err
		}
		switch key {
		case "features":
			return s.expect(json.Delim('['))
		case "crs":
			if err := s.dec.Decode(&s.crs); err != nil {
				return err
			}
		default:
			var skip json.RawMessage
			if err := s.dec.Decode(&skip); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("no features array: %w", domain.ErrUnsupportedFormat)
}

// element returns the next array element, io.EOF at the closing bracket.
func (s *stream) element() (json.RawMessage, error) {
	if !s.dec.More() {
		return nil, io.EOF
	}
	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *stream) skip() error {
	_, err := s.element()
	return err
}

// finish consumes the rest of the document, picking up a trailing crs.
func (s *stream) finish() error {
	if err := s.expect(json.Delim(']')); err != nil {
		return err
	}
	for s.dec.More() {
		key, err := s.key()
		if err != nil {
			return err
		}
		var value json.RawMessage
		if err := s.dec.Decode(&value); err != nil {
			return err
		}
		if key == "crs" {
			s.crs = value
		}
	}
	return s.expect(json.Delim('}'))
}

func (s *stream) key() (string, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("unexpected token %v: %w", tok, domain.ErrInvalidInput)
	}
	return key, nil
}

func (s *stream) expect(want json.Delim) error {
	tok, err := s.dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %v, got %v: %w", want, tok, domain.ErrInvalidInput)
	}
	return nil
}

// Close releases the file.
func (s *stream) Close() error {
	return s.file.Close()
}
