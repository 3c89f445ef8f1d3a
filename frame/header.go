package frame

import (
	"log"

	"github.com/aoide-audio/flac/internal/utf8"
	"github.com/pkg/errors"
)

// Sync code of frame headers. Bit representation: 11111111111110.
const syncCode = 0x3FFE

// sampleRates maps from the sample rate codes 0001 through 1011 to sample
// rate in Hz.
var sampleRates = [...]uint32{
	1:  88200,
	2:  176400,
	3:  192000,
	4:  8000,
	5:  16000,
	6:  22050,
	7:  24000,
	8:  32000,
	9:  44100,
	10: 48000,
	11: 96000,
}

// parseHeader reads and parses the header of an audio frame.
//
// Frame header format (pseudo code):
//
//	type FRAME_HEADER struct {
//	   sync_code        uint14 // 11111111111110
//	   _                uint1  // reserved, must be 0
//	   blocking_strategy uint1 // 0: fixed block size, 1: variable block size
//	   block_size_spec  uint4
//	   sample_rate_spec uint4
//	   channels_spec    uint4
//	   sample_size_spec uint3
//	   _                uint1  // reserved, must be 0
//	   // "UTF-8" coded frame number (fixed block size) or sample number
//	   // (variable block size).
//	   num              uint36
//	   // 0-16 bits: block size tail, if block_size_spec is 0110 or 0111.
//	   // 0-16 bits: sample rate tail, if sample_rate_spec is 11xx.
//	   crc8             uint8
//	}
//
// ref: https://www.xiph.org/flac/format.html#frame_header
func (frame *Frame) parseHeader() error {
	br := frame.br

	// 14 bits: sync code.
	x, err := br.Read(14)
	if err != nil {
		return unexpected(err)
	}
	if x != syncCode {
		return errors.Wrapf(ErrInvalidBitstream, "frame.Frame.parseHeader: invalid sync code; expected 0x%04X, got 0x%04X", syncCode, x)
	}

	// 1 bit: reserved.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	if x != 0 {
		return errors.Wrap(ErrInvalidBitstream, "frame.Frame.parseHeader: non-zero reserved bit after sync code")
	}

	// 1 bit: blocking strategy.
	//    0: fixed block size; Num counts frames.
	//    1: variable block size; Num counts samples.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	frame.HasFixedBlockSize = x == 0

	// 4 bits: block size spec; decoded below, after the coded number.
	blockSizeSpec, err := br.Read(4)
	if err != nil {
		return unexpected(err)
	}

	// 4 bits: sample rate spec; decoded below, after the coded number.
	sampleRateSpec, err := br.Read(4)
	if err != nil {
		return unexpected(err)
	}

	// 4 bits: channel assignment.
	//    0000-0111: (number of independent channels)-1
	//    1000: left/side stereo:  left, side (difference)
	//    1001: side/right stereo: side (difference), right
	//    1010: mid/side stereo:   mid (average), side (difference)
	//    1011-1111: reserved
	if x, err = br.Read(4); err != nil {
		return unexpected(err)
	}
	if x > uint64(ChannelsMidSide) {
		return errors.Wrapf(ErrInvalidBitstream, "frame.Frame.parseHeader: reserved channel assignment bit pattern (%04b)", x)
	}
	frame.Channels = Channels(x)

	// 3 bits: sample size.
	//    000: get from StreamInfo metadata block.
	//    001: 8 bits-per-sample.
	//    010: 12 bits-per-sample.
	//    011: reserved.
	//    100: 16 bits-per-sample.
	//    101: 20 bits-per-sample.
	//    110: 24 bits-per-sample.
	//    111: 32 bits-per-sample.
	if x, err = br.Read(3); err != nil {
		return unexpected(err)
	}
	switch x {
	case 0:
		frame.BitsPerSample = 0
	case 1:
		frame.BitsPerSample = 8
	case 2:
		frame.BitsPerSample = 12
	case 3:
		return errors.Wrapf(ErrInvalidBitstream, "frame.Frame.parseHeader: reserved sample size bit pattern (%03b)", x)
	case 4:
		frame.BitsPerSample = 16
	case 5:
		frame.BitsPerSample = 20
	case 6:
		frame.BitsPerSample = 24
	case 7:
		frame.BitsPerSample = 32
	}

	// 1 bit: reserved.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	if x != 0 {
		return errors.Wrap(ErrInvalidBitstream, "frame.Frame.parseHeader: non-zero reserved bit before coded number")
	}

	// 1-7 bytes: "UTF-8" coded frame number or sample number. The header is
	// byte aligned at this point.
	num, err := utf8.Decode(br)
	if err != nil {
		switch errors.Cause(err) {
		case utf8.ErrNonCanonical:
			if !frame.lenient {
				return errors.Wrapf(ErrInvalidBitstream, "frame.Frame.parseHeader: %v", err)
			}
			log.Printf("frame.Frame.parseHeader: ignoring non-canonical coded number: %v", err)
		case utf8.ErrMalformed:
			return errors.Wrapf(ErrInvalidBitstream, "frame.Frame.parseHeader: %v", err)
		default:
			return unexpected(err)
		}
	}
	frame.Num = num

	// Block size.
	//    0000: reserved.
	//    0001: 192 samples.
	//    0010-0101: 576 * 2^(spec-2) samples.
	//    0110: get 8 bit (block size)-1 from the end of the header.
	//    0111: get 16 bit (block size)-1 from the end of the header.
	//    1000-1111: 256 * 2^(spec-8) samples.
	switch {
	case blockSizeSpec == 0:
		return errors.Wrap(ErrInvalidBitstream, "frame.Frame.parseHeader: reserved block size bit pattern (0000)")
	case blockSizeSpec == 1:
		frame.BlockSize = 192
	case blockSizeSpec <= 5:
		frame.BlockSize = uint16(576 << (blockSizeSpec - 2))
	case blockSizeSpec == 6:
		if x, err = br.Read(8); err != nil {
			return unexpected(err)
		}
		frame.BlockSize = uint16(x) + 1
	case blockSizeSpec == 7:
		if x, err = br.Read(16); err != nil {
			return unexpected(err)
		}
		frame.BlockSize = uint16(x) + 1
	default:
		frame.BlockSize = uint16(256 << (blockSizeSpec - 8))
	}

	// Sample rate.
	//    0000: get from StreamInfo metadata block.
	//    0001-1011: fixed sample rate table.
	//    1100: get 8 bit sample rate (in kHz) from the end of the header.
	//    1101: get 16 bit sample rate (in Hz) from the end of the header.
	//    1110: get 16 bit sample rate (in daHz) from the end of the header.
	//    1111: reserved, to prevent sync-fooling strings of 1s.
	switch {
	case sampleRateSpec == 0:
		frame.SampleRate = 0
	case sampleRateSpec <= 11:
		frame.SampleRate = sampleRates[sampleRateSpec]
	case sampleRateSpec == 12:
		if x, err = br.Read(8); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(x) * 1000
	case sampleRateSpec == 13:
		if x, err = br.Read(16); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(x)
	case sampleRateSpec == 14:
		if x, err = br.Read(16); err != nil {
			return unexpected(err)
		}
		frame.SampleRate = uint32(x) * 10
	default:
		return errors.Wrap(ErrInvalidBitstream, "frame.Frame.parseHeader: invalid sample rate bit pattern (1111)")
	}

	// 8 bits: CRC-8 of the frame header.
	if x, err = br.Read(8); err != nil {
		return unexpected(err)
	}
	frame.CRC8 = uint8(x)
	if frame.verify && frame.crc8.Sum8() != 0 {
		return errors.Wrap(ErrCRCMismatch, "frame.Frame.parseHeader: CRC-8 header checksum mismatch")
	}

	return nil
}
