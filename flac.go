// Package flac provides access to FLAC (Free Lossless Audio Codec) streams. [1]
//
// The basic structure of a FLAC bitstream is:
//   - The four byte string signature "fLaC".
//   - The StreamInfo metadata block.
//   - Zero or more other metadata blocks.
//   - One or more audio frames.
//
// [1]: https://www.xiph.org/flac/format.html
package flac

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"hash"
	"io"
	"os"

	"github.com/aoide-audio/flac/frame"
	"github.com/aoide-audio/flac/meta"
	"github.com/pkg/errors"
)

// flacSignature marks the beginning of a FLAC stream.
var flacSignature = []byte("fLaC")

// Errors returned by the stream decoder.
var (
	// ErrNotFlac reports that the stream does not start with the "fLaC"
	// signature.
	ErrNotFlac = errors.New("flac: missing fLaC signature")
	// ErrMD5Mismatch reports that the MD5 checksum of the decoded audio does
	// not match the signature recorded in the StreamInfo metadata block; only
	// returned when MD5 verification is enabled.
	ErrMD5Mismatch = errors.New("flac: MD5 checksum mismatch")
)

// A Stream decodes a FLAC bitstream. It gives access to the stream metadata
// and, frame by frame, to the decoded audio samples.
type Stream struct {
	// The StreamInfo metadata block describes the basic properties of the
	// FLAC audio stream.
	Info *meta.StreamInfo
	// The VorbisComment metadata block of the stream; nil if absent.
	Comment *meta.VorbisComment
	// All metadata blocks of the stream, in order of appearance.
	Blocks []*meta.Block
	// Interleaved audio samples of the most recently decoded frame.
	buf []int64
	// Running counters of decoded inter-channel samples and frames.
	nsamples, nframes uint64
	// Running MD5 hash of the decoded audio; nil unless MD5 verification is
	// enabled.
	md5sum hash.Hash
	// Decoding options.
	normalize, verifyMD5, verifyCRC, lenient bool
	// Underlying buffered reader.
	r *bufio.Reader
	// Closer of the underlying file; nil unless the stream was opened with
	// Open.
	c io.Closer
}

// An Option configures the decoding of a FLAC stream.
type Option func(*Stream)

// Stream decoding options.
var (
	// Normalize32 left-justifies every decoded sample in a 32-bit field, so
	// that the audio occupies the high bits regardless of its original
	// bits-per-sample.
	Normalize32 Option = func(stream *Stream) { stream.normalize = true }
	// VerifyMD5 hashes the decoded audio and compares it against the MD5
	// signature of the StreamInfo metadata block when the end of the stream
	// is reached.
	VerifyMD5 Option = func(stream *Stream) { stream.verifyMD5 = true }
	// VerifyCRC verifies the CRC-8 header checksum and CRC-16 frame checksum
	// of every audio frame.
	VerifyCRC Option = func(stream *Stream) { stream.verifyCRC = true }
	// Lenient downgrades non-fatal bitstream oddities to logged warnings
	// where decoding can continue.
	Lenient Option = func(stream *Stream) { stream.lenient = true }
)

// New creates a new Stream for decoding the audio samples of r. It reads and
// parses the FLAC signature and all metadata blocks up to the first audio
// frame. Call Stream.ParseNext to decode one audio frame at a time.
func New(r io.Reader, opts ...Option) (stream *Stream, err error) {
	stream = &Stream{r: bufio.NewReader(r)}
	for _, opt := range opts {
		opt(stream)
	}

	// Verify the "fLaC" signature (size: 4 bytes).
	var sig [4]byte
	if _, err := io.ReadFull(stream.r, sig[:]); err != nil {
		return nil, unexpected(err)
	}
	if !bytes.Equal(sig[:], flacSignature) {
		return nil, errors.Wrapf(ErrNotFlac, "flac.New: invalid signature; expected %q, got %q", flacSignature, sig[:])
	}

	// Parse the chain of metadata blocks; StreamInfo and VorbisComment bodies
	// are decoded, all other block types are skipped.
	isFirst := true
	for {
		block, err := meta.Parse(stream.r)
		if err != nil {
			return nil, err
		}
		if isFirst {
			if block.Type != meta.TypeStreamInfo {
				return nil, errors.Wrapf(meta.ErrMalformed, "flac.New: first metadata block type is %v; expected stream info", block.Type)
			}
			isFirst = false
		}
		switch body := block.Body.(type) {
		case *meta.StreamInfo:
			stream.Info = body
		case *meta.VorbisComment:
			stream.Comment = body
		}
		stream.Blocks = append(stream.Blocks, block)
		if block.IsLast {
			break
		}
	}

	if stream.verifyMD5 {
		stream.md5sum = md5.New()
	}
	return stream, nil
}

// Open creates a new Stream for decoding the audio samples of path. It reads
// and parses the FLAC signature and all metadata blocks up to the first audio
// frame.
//
// Callers should close the stream when done reading from it.
func Open(path string, opts ...Option) (stream *Stream, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stream, err = New(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	stream.c = f
	return stream, nil
}

// Close closes the underlying file of the stream, if the stream was created
// with Open.
func (stream *Stream) Close() error {
	if stream.c != nil {
		return stream.c.Close()
	}
	return nil
}

// ParseNext reads and decodes the next audio frame, including its samples.
// The decoded frame is returned, and the interleaved output buffer of the
// stream is filled with its samples. ParseNext returns io.EOF at a clean
// frame boundary with no further bytes in the stream.
//
// A failed ParseNext leaves the stream unusable for further decoding; the
// error is not recoverable by calling ParseNext again.
func (stream *Stream) ParseNext() (f *frame.Frame, err error) {
	// End of stream query; a clean EOF at a frame boundary ends decoding.
	if _, err := stream.r.Peek(1); err != nil {
		if err == io.EOF {
			if err := stream.verifyMD5Sum(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return nil, err
	}

	var opts []frame.Option
	if stream.verifyCRC {
		opts = append(opts, frame.VerifyCRC)
	}
	if stream.lenient {
		opts = append(opts, frame.Lenient)
	}
	if f, err = frame.New(stream.r, opts...); err != nil {
		return nil, err
	}

	// Fill in frame header values deferred to the stream info.
	if f.SampleRate == 0 {
		f.SampleRate = stream.Info.SampleRate
	}
	if f.BitsPerSample == 0 {
		f.BitsPerSample = stream.Info.BitsPerSample
	}
	if err := f.Parse(); err != nil {
		return nil, err
	}

	stream.nframes++
	stream.nsamples += uint64(f.BlockSize)
	if stream.md5sum != nil {
		f.Hash(stream.md5sum)
	}
	stream.interleave(f)
	return f, nil
}

// interleave fills the output buffer of the stream with the subframe samples
// of f in interleaved order, optionally left-justified in a 32-bit field.
func (stream *Stream) interleave(f *frame.Frame) {
	n := len(f.Subframes) * int(f.BlockSize)
	if cap(stream.buf) < n {
		stream.buf = make([]int64, n)
	}
	stream.buf = stream.buf[:n]
	var shift uint
	if stream.normalize {
		shift = uint(32 - f.BitsPerSample)
	}
	i := 0
	for j := 0; j < int(f.BlockSize); j++ {
		for _, subframe := range f.Subframes {
			stream.buf[i] = subframe.Samples[j] << shift
			i++
		}
	}
}

// verifyMD5Sum compares the running MD5 hash of the decoded audio against the
// signature of the StreamInfo metadata block. An all-zero signature means the
// encoder left the audio unhashed, in which case there is nothing to verify.
func (stream *Stream) verifyMD5Sum() error {
	if stream.md5sum == nil || stream.Info.MD5sum == [16]byte{} {
		return nil
	}
	got := stream.md5sum.Sum(nil)
	if !bytes.Equal(got, stream.Info.MD5sum[:]) {
		return errors.Wrapf(ErrMD5Mismatch, "flac.Stream.ParseNext: decoded audio MD5 mismatch; expected %032x, got %032x", stream.Info.MD5sum, got)
	}
	return nil
}

// Buffer returns the interleaved audio samples of the most recently decoded
// frame; its length is the channel count times the block size of that frame.
// The buffer is owned by the stream and overwritten by the next call to
// ParseNext.
func (stream *Stream) Buffer() []int64 {
	return stream.buf
}

// NumFrames returns the number of audio frames decoded so far.
func (stream *Stream) NumFrames() uint64 {
	return stream.nframes
}

// NumSamples returns the number of inter-channel samples decoded so far.
func (stream *Stream) NumSamples() uint64 {
	return stream.nsamples
}

// unexpected returns io.ErrUnexpectedEOF if err is io.EOF, and returns err
// otherwise.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
