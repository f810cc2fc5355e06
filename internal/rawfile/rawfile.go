// Package rawfile reads and writes the flat raw-frame file produced by the
// convert pass: a headerless sequence of fixed-size packed 1bpp records with
// no delimiter or checksum. Frame size is derived from the configured panel
// geometry, which makes every record position computable and lets the
// playback loop skip frames with direct positional reads.
package rawfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/adzialocha/it8951-video/internal/frame"
)

// ErrCorruptFile is returned when a raw file's size is not a whole multiple
// of the expected frame size, or a read names a frame beyond the end.
var ErrCorruptFile = errors.New("rawfile: corrupt raw frame file")

// Writer appends packed frames to a raw file. Records are written straight
// through (no buffering across frames), so an aborted conversion leaves the
// file truncated at a record boundary rather than mid-frame.
type Writer struct {
	f         *os.File
	frameSize int
	count     int
}

// Create truncates/creates the raw file at path for the given frame size.
func Create(path string, frameSize int) (*Writer, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("rawfile: invalid frame size %d", frameSize)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rawfile: create %s: %w", path, err)
	}
	return &Writer{f: f, frameSize: frameSize}, nil
}

// Append writes one packed frame as the next record.
func (w *Writer) Append(p frame.Packed) error {
	if len(p) != w.frameSize {
		return fmt.Errorf("rawfile: frame is %d bytes, record size is %d", len(p), w.frameSize)
	}
	if _, err := w.f.Write(p); err != nil {
		return fmt.Errorf("rawfile: append frame %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Count is the number of frames appended so far.
func (w *Writer) Count() int {
	return w.count
}

func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Reader provides random access to the frames of a raw file.
type Reader struct {
	f         *os.File
	frameSize int
	count     int
}

// Open validates that the file size is a whole multiple of frameSize and
// returns a positional reader.
func Open(path string, frameSize int) (*Reader, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("rawfile: invalid frame size %d", frameSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rawfile: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("rawfile: stat %s: %w", path, err)
	}
	if info.Size()%int64(frameSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, not a multiple of frame size %d",
			ErrCorruptFile, path, info.Size(), frameSize)
	}
	return &Reader{
		f:         f,
		frameSize: frameSize,
		count:     int(info.Size() / int64(frameSize)),
	}, nil
}

// Count is the number of frames in the file.
func (r *Reader) Count() int {
	return r.count
}

// FrameSize is the record size in bytes.
func (r *Reader) FrameSize() int {
	return r.frameSize
}

// ReadAt reads the frame at the given index into a fresh buffer. Indices at
// or beyond Count fail; a short or partial record is never returned.
func (r *Reader) ReadAt(index int) (frame.Packed, error) {
	if index < 0 || index >= r.count {
		return nil, fmt.Errorf("%w: frame index %d out of range [0, %d)",
			ErrCorruptFile, index, r.count)
	}
	buf := make(frame.Packed, r.frameSize)
	if _, err := r.f.ReadAt(buf, int64(index)*int64(r.frameSize)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short read at frame %d", ErrCorruptFile, index)
		}
		return nil, fmt.Errorf("rawfile: read frame %d: %w", index, err)
	}
	return buf, nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}
