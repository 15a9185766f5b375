// Package replay reads the finite audio file sent to the peer in buffered
// mode. Raw slin files are sent as-is; WAV files have their RIFF header
// stripped and must already match the session's audio format.
package replay

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/LingByte/LingMediaBridge/pkg/errors"
	"github.com/youpy/go-wav"
)

// Format is the PCM layout of a replay file. Zero fields are not checked.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Source is a bridge.ChunkSource over a file
type Source struct {
	path   string
	file   *os.File
	r      io.Reader
	Format Format
	WAV    bool
}

// Open prepares path for chunked reads. A missing file yields a NOT_FOUND
// AppError; a WAV whose format differs from want yields INVALID_INPUT.
func Open(path string, want Format) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewAppError(apperrors.ErrCodeNotFound, "replay file not found").
				WithDetails("path", path).WithCause(err)
		}
		return nil, apperrors.WrapError(apperrors.ErrCodeInternal, err)
	}

	s := &Source{path: path, file: f, r: f, Format: want}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if err := s.openWAV(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Source) openWAV(want Format) error {
	w := wav.NewReader(s.file)
	format, err := w.Format()
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "unreadable wav header").
			WithDetails("path", s.path).WithCause(err)
	}
	got := Format{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
	}
	if format.AudioFormat != wav.AudioFormatPCM || !got.matches(want) {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "wav format does not match session audio").
			WithDetails("path", s.path).
			WithDetails("file", got).
			WithDetails("want", want)
	}
	s.r = w
	s.Format = got
	s.WAV = true
	return nil
}

func (f Format) matches(want Format) bool {
	return (want.SampleRate == 0 || want.SampleRate == f.SampleRate) &&
		(want.Channels == 0 || want.Channels == f.Channels) &&
		(want.BitsPerSample == 0 || want.BitsPerSample == f.BitsPerSample)
}

// Read returns the next chunk of at most chunkSize bytes. The last chunk may
// be short; an empty chunk means the file is exhausted.
func (s *Source) Read(chunkSize int) ([]byte, error) {
	buf := make([]byte, chunkSize)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		return nil, nil
	default:
		return nil, err
	}
}

func (s *Source) Path() string {
	return s.path
}

func (s *Source) Close() error {
	return s.file.Close()
}
