package meta

import (
	"io"

	"github.com/aoide-audio/flac/internal/bits"
	"github.com/pkg/errors"
)

// StreamInfo contains the basic properties of the FLAC audio stream, such as
// its sample rate and channel count. It is the only mandatory metadata block
// and must be present as the first metadata block of a FLAC stream.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_streaminfo
type StreamInfo struct {
	// Minimum and maximum block size (in samples) used in the stream.
	BlockSizeMin, BlockSizeMax uint16
	// Minimum and maximum frame size (in bytes) used in the stream; a 0 value
	// implies unknown.
	FrameSizeMin, FrameSizeMax uint32
	// Sample rate in Hz.
	SampleRate uint32
	// Number of channels; between 1 and 8.
	NChannels uint8
	// Sample size in bits-per-sample; between 4 and 32.
	BitsPerSample uint8
	// Total number of inter-channel samples in the stream; a 0 value implies
	// unknown.
	NSamples uint64
	// MD5 checksum of the unencoded audio data.
	MD5sum [16]byte
}

// parseStreamInfo reads and parses the body of a StreamInfo metadata block.
//
// StreamInfo format (pseudo code):
//
//	type METADATA_BLOCK_STREAMINFO struct {
//	   block_size_min  uint16
//	   block_size_max  uint16
//	   frame_size_min  uint24
//	   frame_size_max  uint24
//	   sample_rate     uint20
//	   nchannels       uint3 // (number of channels)-1
//	   bits_per_sample uint5 // (bits-per-sample)-1
//	   nsamples        uint36
//	   md5sum          [16]byte
//	}
func (block *Block) parseStreamInfo() error {
	if block.Length != 34 {
		return errors.Wrapf(ErrMalformed, "meta.Block.parseStreamInfo: unexpected body length %d; expected 34", block.Length)
	}

	si := new(StreamInfo)
	br := bits.NewReader(block.lr)

	// 16 bits: BlockSizeMin.
	x, err := br.Read(16)
	if err != nil {
		return unexpected(err)
	}
	si.BlockSizeMin = uint16(x)

	// 16 bits: BlockSizeMax.
	if x, err = br.Read(16); err != nil {
		return unexpected(err)
	}
	si.BlockSizeMax = uint16(x)
	if si.BlockSizeMin > si.BlockSizeMax {
		return errors.Wrapf(ErrMalformed, "meta.Block.parseStreamInfo: min block size (%d) exceeds max block size (%d)", si.BlockSizeMin, si.BlockSizeMax)
	}

	// 24 bits: FrameSizeMin.
	if x, err = br.Read(24); err != nil {
		return unexpected(err)
	}
	si.FrameSizeMin = uint32(x)

	// 24 bits: FrameSizeMax.
	if x, err = br.Read(24); err != nil {
		return unexpected(err)
	}
	si.FrameSizeMax = uint32(x)

	// 20 bits: SampleRate.
	if x, err = br.Read(20); err != nil {
		return unexpected(err)
	}
	if x == 0 {
		return errors.Wrap(ErrMalformed, "meta.Block.parseStreamInfo: invalid sample rate 0")
	}
	si.SampleRate = uint32(x)

	// 3 bits: NChannels; stored as (number of channels)-1.
	if x, err = br.Read(3); err != nil {
		return unexpected(err)
	}
	si.NChannels = uint8(x) + 1

	// 5 bits: BitsPerSample; stored as (bits-per-sample)-1.
	if x, err = br.Read(5); err != nil {
		return unexpected(err)
	}
	si.BitsPerSample = uint8(x) + 1

	// 36 bits: NSamples.
	if x, err = br.Read(36); err != nil {
		return unexpected(err)
	}
	si.NSamples = x

	// 16 bytes: MD5sum.
	if _, err = io.ReadFull(block.lr, si.MD5sum[:]); err != nil {
		return unexpected(err)
	}

	block.Body = si
	return nil
}
