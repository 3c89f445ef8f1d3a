// Package frame implements access to FLAC audio frames.
//
// A FLAC stream stores audio in blocks, each block holding a short run of
// uncoded samples from every channel. Blocks are encoded into frames, with
// one subframe per channel. Stereo frames may store the two channels
// decorrelated, keeping one channel (or the channel average) and the
// difference between the channels:
//
//	mid = (left + right)/2 // average of the channels
//	side = left - right    // difference between the channels
//
// ref: https://www.xiph.org/flac/format.html#frame
package frame

import (
	"hash"
	"io"

	"github.com/aoide-audio/flac/internal/bits"
	"github.com/mewkiz/pkg/hashutil"
	"github.com/mewkiz/pkg/hashutil/crc16"
	"github.com/mewkiz/pkg/hashutil/crc8"
	"github.com/pkg/errors"
)

// Errors returned while parsing frames.
var (
	// ErrInvalidBitstream reports a reserved or inconsistent bit pattern in
	// the frame; e.g. a sync code mismatch, a non-zero reserved bit, or a
	// reserved subframe type.
	ErrInvalidBitstream = errors.New("frame: invalid bitstream")
	// ErrCRCMismatch reports a CRC-8 or CRC-16 checksum mismatch; only
	// returned when checksum verification is enabled.
	ErrCRCMismatch = errors.New("frame: checksum mismatch")
)

// Channel assignments. The following abbreviations are used:
//
//	C:   center (directly in front)
//	R:   right (standard stereo)
//	Sr:  side right (directly to the right)
//	Rs:  right surround (back right)
//	Cs:  center surround (rear center)
//	Ls:  left surround (back left)
//	Sl:  side left (directly to the left)
//	L:   left (standard stereo)
//	Lfe: low-frequency effect (placed according to room acoustics)
//
// The first 6 channel constants follow the SMPTE/ITU-R channel order:
//
//	L R C Lfe Ls Rs
const (
	ChannelsMono           Channels = iota // 1 channel: mono.
	ChannelsLR                             // 2 channels: left, right.
	ChannelsLRC                            // 3 channels: left, right, center.
	ChannelsLRLsRs                         // 4 channels: left, right, left surround, right surround.
	ChannelsLRCLsRs                        // 5 channels: left, right, center, left surround, right surround.
	ChannelsLRCLfeLsRs                     // 6 channels: left, right, center, LFE, left surround, right surround.
	ChannelsLRCLfeCsSlSr                   // 7 channels: left, right, center, LFE, center surround, side left, side right.
	ChannelsLRCLfeLsRsSlSr                 // 8 channels: left, right, center, LFE, left surround, right surround, side left, side right.
	ChannelsLeftSide                       // 2 channels: left, side; using inter-channel decorrelation.
	ChannelsSideRight                      // 2 channels: side, right; using inter-channel decorrelation.
	ChannelsMidSide                        // 2 channels: mid, side; using inter-channel decorrelation.
)

// Channels specifies the number of channels (subframes) that exist in a
// frame, their order and possible inter-channel decorrelation.
type Channels uint8

// nChannels specifies the number of channels used by each channel assignment.
var nChannels = [...]int{
	ChannelsMono:           1,
	ChannelsLR:             2,
	ChannelsLRC:            3,
	ChannelsLRLsRs:         4,
	ChannelsLRCLsRs:        5,
	ChannelsLRCLfeLsRs:     6,
	ChannelsLRCLfeCsSlSr:   7,
	ChannelsLRCLfeLsRsSlSr: 8,
	ChannelsLeftSide:       2,
	ChannelsSideRight:      2,
	ChannelsMidSide:        2,
}

// Count returns the number of channels (subframes) used by the provided
// channel assignment.
func (channels Channels) Count() int {
	return nChannels[channels]
}

// A Header contains the basic properties of an audio frame, such as its
// sample rate and channel count. To facilitate random access decoding each
// frame header starts with a sync-code. This allows the decoder to
// synchronize and locate the start of a frame header.
//
// ref: https://www.xiph.org/flac/format.html#frame_header
type Header struct {
	// Specifies if the block size is fixed or variable.
	HasFixedBlockSize bool
	// Block size in inter-channel samples, i.e. the number of audio samples
	// in each subframe.
	BlockSize uint16
	// Sample rate in Hz; a 0 value implies unknown, get sample rate from
	// StreamInfo.
	SampleRate uint32
	// Specifies the number of channels (subframes) that exist in the frame,
	// their order and possible inter-channel decorrelation.
	Channels Channels
	// Sample size in bits-per-sample; a 0 value implies unknown, get sample
	// size from StreamInfo.
	BitsPerSample uint8
	// Specifies the frame number if the block size is fixed, and the first
	// sample number in the frame otherwise. When using fixed block size, the
	// first sample number in the frame can be derived by multiplying the
	// frame number with the block size (in samples).
	Num uint64
	// CRC-8 checksum of the frame header, as stored in the stream.
	CRC8 uint8
	// CRC-16 checksum of the entire frame, as stored in the stream.
	CRC16 uint16
}

// A Frame contains the header and subframes of an audio frame. It holds the
// encoded samples from a block (a part) of the audio stream. Each subframe
// holds the samples from one of its channels.
type Frame struct {
	// Audio frame header.
	Header
	// One subframe per channel, containing decoded audio samples.
	Subframes []*Subframe
	// Verify the CRC-8 and CRC-16 checksums.
	verify bool
	// Downgrade non-fatal bitstream oddities to logged warnings.
	lenient bool
	// CRC-8 running hash of the frame header bytes.
	crc8 hashutil.Hash8
	// CRC-16 running hash of the frame bytes.
	crc16 hashutil.Hash16
	// A bit reader, wrapping read operations to r through the CRC hashes.
	br *bits.Reader
	// Underlying io.Reader.
	r io.Reader
}

// An Option configures the parsing of an audio frame.
type Option func(*Frame)

// Frame parsing options.
var (
	// VerifyCRC enables verification of the CRC-8 header checksum and the
	// CRC-16 frame checksum.
	VerifyCRC Option = func(frame *Frame) { frame.verify = true }
	// Lenient downgrades non-fatal bitstream oddities, such as non-canonical
	// frame number encodings, to logged warnings.
	Lenient Option = func(frame *Frame) { frame.lenient = true }
)

// New reads and parses the header of an audio frame from r. Call Frame.Parse
// to decode the audio samples of its subframes.
//
// The returned frame leaves SampleRate and BitsPerSample at 0 when the header
// defers to the StreamInfo metadata block; assign the stream values before
// calling Frame.Parse.
func New(r io.Reader, opts ...Option) (frame *Frame, err error) {
	frame = &Frame{r: r}
	for _, opt := range opts {
		opt(frame)
	}
	// Every frame byte flows through both CRC hashes; a stream whose checksum
	// bytes are included hashes to zero.
	frame.crc8 = crc8.NewATM()
	frame.crc16 = crc16.NewIBM()
	hr := io.TeeReader(io.TeeReader(r, frame.crc16), frame.crc8)
	frame.br = bits.NewReader(hr)
	if err := frame.parseHeader(); err != nil {
		return nil, err
	}
	return frame, nil
}

// Parse reads and decodes the audio samples of each subframe, reverses any
// inter-channel decorrelation, and reads the CRC-16 frame footer. After Parse
// returns, the underlying reader is positioned at the byte boundary directly
// after the frame.
func (frame *Frame) Parse() error {
	if frame.BitsPerSample == 0 {
		return errors.Wrap(ErrInvalidBitstream, "frame.Frame.Parse: bits-per-sample deferred to stream info but not assigned")
	}
	frame.Subframes = make([]*Subframe, 0, frame.Channels.Count())
	for ch := 0; ch < frame.Channels.Count(); ch++ {
		bps := uint(frame.BitsPerSample)
		// A subframe holding the difference between two channels needs one
		// extra bit per sample.
		switch frame.Channels {
		case ChannelsLeftSide, ChannelsMidSide:
			if ch == 1 {
				bps++
			}
		case ChannelsSideRight:
			if ch == 0 {
				bps++
			}
		}
		subframe, err := frame.parseSubframe(bps)
		if err != nil {
			return err
		}
		frame.Subframes = append(frame.Subframes, subframe)
	}
	frame.decorrelate()

	// Discard any zero-padding below the next byte boundary and read the
	// CRC-16 frame footer.
	frame.br.AlignToByte()
	x, err := frame.br.Read(16)
	if err != nil {
		return unexpected(err)
	}
	frame.CRC16 = uint16(x)
	if frame.verify && frame.crc16.Sum16() != 0 {
		return errors.Wrap(ErrCRCMismatch, "frame.Frame.Parse: CRC-16 frame checksum mismatch")
	}
	return nil
}

// decorrelate reverses the inter-channel decorrelation of the frame's channel
// assignment, rewriting the subframe samples to left and right channels.
//
// ref: https://www.xiph.org/flac/format.html#interchannel
func (frame *Frame) decorrelate() {
	switch frame.Channels {
	case ChannelsLeftSide:
		// channel 0 is the left channel, channel 1 the side channel;
		// right = left - side.
		left := frame.Subframes[0].Samples
		side := frame.Subframes[1].Samples
		for i := range side {
			side[i] = left[i] - side[i]
		}
	case ChannelsSideRight:
		// channel 0 is the side channel, channel 1 the right channel;
		// left = side + right.
		side := frame.Subframes[0].Samples
		right := frame.Subframes[1].Samples
		for i := range side {
			side[i] += right[i]
		}
	case ChannelsMidSide:
		// channel 0 is the mid channel, channel 1 the side channel. The low
		// bit of side carries the parity lost when averaging the channels:
		//    mid' = mid<<1 | side&1
		//    left = (mid' + side)/2
		//    right = (mid' - side)/2
		mid := frame.Subframes[0].Samples
		side := frame.Subframes[1].Samples
		for i := range mid {
			m := mid[i]<<1 | side[i]&1
			mid[i] = (m + side[i]) >> 1
			side[i] = (m - side[i]) >> 1
		}
	}
}

// Hash adds the decoded audio samples of the frame to a running hash. Samples
// are hashed in the layout used when computing the MD5 signature stored in
// the StreamInfo metadata block: interleaved across channels, little-endian,
// using the least number of bytes covering the bits-per-sample.
func (frame *Frame) Hash(h hash.Hash) {
	nbytes := (int(frame.BitsPerSample) + 7) / 8
	var buf [8]byte
	for i := 0; i < int(frame.BlockSize); i++ {
		for _, subframe := range frame.Subframes {
			x := subframe.Samples[i]
			for j := 0; j < nbytes; j++ {
				buf[j] = byte(x)
				x >>= 8
			}
			h.Write(buf[:nbytes])
		}
	}
}

// unexpected returns io.ErrUnexpectedEOF if err is io.EOF, and returns err
// otherwise.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
