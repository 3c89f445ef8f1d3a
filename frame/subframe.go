package frame

import (
	"github.com/aoide-audio/flac/internal/bits"
	"github.com/pkg/errors"
)

// Prediction methods.
const (
	// PredConstant specifies that the subframe contains a constant sound. The
	// audio samples are encoded using run-length encoding; a single unencoded
	// audio sample is stored and replicated BlockSize times.
	PredConstant Pred = iota
	// PredVerbatim specifies that the subframe contains unencoded audio
	// samples. Random sound is often stored verbatim, since no prediction
	// method can compress it sufficiently.
	PredVerbatim
	// PredFixed specifies that the subframe contains linear prediction coded
	// audio samples. The coefficients of the prediction polynomial are
	// selected from a fixed set, representing 0th through 4th-order
	// polynomials. The prediction order and the same number of unencoded
	// warm-up samples are stored in the subframe, followed by encoded
	// residuals (prediction errors).
	PredFixed
	// PredLPC specifies that the subframe contains linear prediction coded
	// audio samples. The quantized coefficients of the prediction polynomial
	// are stored in the subframe and can represent 1st through 32nd-order
	// polynomials, followed by encoded residuals (prediction errors).
	PredLPC
)

// Pred specifies the prediction method used to encode the audio samples of a
// subframe.
type Pred uint8

// ResidualCodingMethod specifies a residual coding method.
type ResidualCodingMethod uint8

// Residual coding methods.
const (
	// Rice coding with a 4-bit Rice parameter.
	ResidualRice ResidualCodingMethod = 0
	// Rice coding with a 5-bit Rice parameter.
	ResidualRice2 ResidualCodingMethod = 1
)

// fixedCoeffs maps from prediction order to the coefficients used by fixed
// linear prediction.
var fixedCoeffs = [...][]int64{
	0: {},
	1: {1},
	2: {2, -1},
	3: {3, -3, 1},
	4: {4, -6, 4, -1},
}

// A RicePartition is a partition containing a subset of the residuals of a
// subframe.
type RicePartition struct {
	// Rice parameter.
	Param uint
	// Residual sample size in bits-per-sample used by escaped partitions.
	EscapedBitsPerSample uint
}

// A RiceSubframe holds the Rice partitions of a subframe, as used by both
// residual coding methods.
type RiceSubframe struct {
	// Partition order; the residuals are split into 2^PartOrder partitions.
	PartOrder int
	// Rice partitions.
	Partitions []RicePartition
}

// A SubHeader specifies the prediction method and order of a subframe.
type SubHeader struct {
	// Specifies the prediction method used to encode the audio samples of the
	// subframe.
	Pred Pred
	// Prediction order used by fixed and LPC decoding.
	Order int
	// Wasted bits-per-sample.
	Wasted uint
	// Residual coding method used by fixed and LPC decoding.
	ResidualCodingMethod ResidualCodingMethod
	// Coefficient precision in bits, used by LPC decoding.
	CoeffPrec uint
	// Predictor coefficient shift in bits, used by LPC decoding.
	CoeffShift int32
	// Quantized predictor coefficients, used by LPC decoding.
	Coeffs []int64
	// Rice partitions of the subframe residuals; nil for constant and
	// verbatim subframes.
	RiceSubframe *RiceSubframe
}

// A Subframe contains the decoded audio samples from one channel of an audio
// block (a part of the audio stream).
type Subframe struct {
	// Subframe header.
	SubHeader
	// Decoded audio samples. While decoding fixed and LPC subframes, Samples
	// temporarily holds residuals, which predict rewrites into audio samples.
	Samples []int64
	// Number of audio samples in the subframe.
	NSamples int
}

// parseSubframe reads and decodes one subframe, holding the samples of a
// single channel with an effective sample size of bps bits.
func (frame *Frame) parseSubframe(bps uint) (subframe *Subframe, err error) {
	subframe = &Subframe{NSamples: int(frame.BlockSize)}
	if err = subframe.parseHeader(frame.br); err != nil {
		return nil, err
	}
	if subframe.Wasted >= bps {
		return nil, errors.Wrapf(ErrInvalidBitstream, "frame.Frame.parseSubframe: %d wasted bits-per-sample exceeds sample size %d", subframe.Wasted, bps)
	}
	bps -= subframe.Wasted

	switch subframe.Pred {
	case PredConstant:
		err = subframe.decodeConstant(frame.br, bps)
	case PredVerbatim:
		err = subframe.decodeVerbatim(frame.br, bps)
	case PredFixed:
		err = subframe.decodeFixed(frame.br, bps)
	case PredLPC:
		err = subframe.decodeLPC(frame.br, bps)
	}
	if err != nil {
		return nil, err
	}

	// Left shift the reconstructed samples back over the wasted bits.
	if subframe.Wasted > 0 {
		for i := range subframe.Samples {
			subframe.Samples[i] <<= subframe.Wasted
		}
	}
	return subframe, nil
}

// parseHeader reads and parses the header of a subframe.
func (subframe *Subframe) parseHeader(br *bits.Reader) error {
	// 1 bit: zero-padding.
	x, err := br.Read(1)
	if err != nil {
		return unexpected(err)
	}
	if x != 0 {
		return errors.Wrap(ErrInvalidBitstream, "frame.Subframe.parseHeader: non-zero padding bit")
	}

	// 6 bits: subframe type.
	//    000000: constant prediction method.
	//    000001: verbatim prediction method.
	//    00001x: reserved.
	//    0001xx: reserved.
	//    001xxx: fixed prediction method if xxx <= 4, reserved otherwise;
	//            xxx=order.
	//    01xxxx: reserved.
	//    1xxxxx: LPC prediction method; xxxxx=order-1.
	if x, err = br.Read(6); err != nil {
		return unexpected(err)
	}
	switch {
	case x == 0:
		subframe.Pred = PredConstant
	case x == 1:
		subframe.Pred = PredVerbatim
	case x < 8:
		return errors.Wrapf(ErrInvalidBitstream, "frame.Subframe.parseHeader: reserved subframe type bit pattern (%06b)", x)
	case x < 16:
		order := int(x & 0x07)
		if order > 4 {
			return errors.Wrapf(ErrInvalidBitstream, "frame.Subframe.parseHeader: reserved subframe type bit pattern (%06b)", x)
		}
		subframe.Pred = PredFixed
		subframe.Order = order
	case x < 32:
		return errors.Wrapf(ErrInvalidBitstream, "frame.Subframe.parseHeader: reserved subframe type bit pattern (%06b)", x)
	default:
		subframe.Pred = PredLPC
		subframe.Order = int(x&0x1F) + 1
	}

	// 1 bit: wasted bits-per-sample flag.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	if x != 0 {
		// k wasted bits-per-sample in the source subblock; k-1 follows, unary
		// coded. E.g. k=3 => 001 follows, k=7 => 0000001 follows.
		if x, err = br.ReadUnary(); err != nil {
			return unexpected(err)
		}
		subframe.Wasted = uint(x) + 1
	}

	return nil
}

// decodeConstant reads a single unencoded audio sample, which every sample of
// the subframe repeats. The constant encoding can be thought of as run-length
// encoding.
func (subframe *Subframe) decodeConstant(br *bits.Reader, bps uint) error {
	// (bits-per-sample) bits: the constant value of every sample.
	sample, err := br.ReadSigned(bps)
	if err != nil {
		return unexpected(err)
	}
	for i := 0; i < subframe.NSamples; i++ {
		subframe.Samples = append(subframe.Samples, sample)
	}
	return nil
}

// decodeVerbatim reads the unencoded audio samples of the subframe.
func (subframe *Subframe) decodeVerbatim(br *bits.Reader, bps uint) error {
	for i := 0; i < subframe.NSamples; i++ {
		// (bits-per-sample) bits: unencoded audio sample.
		sample, err := br.ReadSigned(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples = append(subframe.Samples, sample)
	}
	return nil
}

// decodeFixed decodes the audio samples of a fixed linear prediction coded
// subframe: the warm-up samples, the residuals, and the prediction pass using
// the fixed coefficient set of the prediction order.
func (subframe *Subframe) decodeFixed(br *bits.Reader, bps uint) error {
	// (order) warm-up samples of (bits-per-sample) bits each.
	for i := 0; i < subframe.Order; i++ {
		sample, err := br.ReadSigned(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples = append(subframe.Samples, sample)
	}

	if err := subframe.decodeResiduals(br); err != nil {
		return err
	}

	subframe.predict(fixedCoeffs[subframe.Order], 0)
	return nil
}

// decodeLPC decodes the audio samples of a linear prediction coded subframe:
// the warm-up samples, the quantized coefficients, the residuals, and the
// prediction pass.
func (subframe *Subframe) decodeLPC(br *bits.Reader, bps uint) error {
	// (order) warm-up samples of (bits-per-sample) bits each.
	for i := 0; i < subframe.Order; i++ {
		sample, err := br.ReadSigned(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples = append(subframe.Samples, sample)
	}

	// 4 bits: (coefficient precision)-1; 1111 is reserved.
	x, err := br.Read(4)
	if err != nil {
		return unexpected(err)
	}
	if x == 0xF {
		return errors.Wrap(ErrInvalidBitstream, "frame.Subframe.decodeLPC: reserved coefficient precision bit pattern (1111)")
	}
	subframe.CoeffPrec = uint(x) + 1

	// 5 bits: quantized coefficient shift, in bits.
	shift, err := br.ReadSigned(5)
	if err != nil {
		return unexpected(err)
	}
	if shift < 0 {
		return errors.Wrapf(ErrInvalidBitstream, "frame.Subframe.decodeLPC: negative coefficient shift (%d)", shift)
	}
	subframe.CoeffShift = int32(shift)

	// (order) coefficients of (coefficient precision) bits each.
	subframe.Coeffs = make([]int64, subframe.Order)
	for i := range subframe.Coeffs {
		coeff, err := br.ReadSigned(subframe.CoeffPrec)
		if err != nil {
			return unexpected(err)
		}
		subframe.Coeffs[i] = coeff
	}

	if err := subframe.decodeResiduals(br); err != nil {
		return err
	}

	subframe.predict(subframe.Coeffs, uint(subframe.CoeffShift))
	return nil
}

// decodeResiduals decodes the encoded residuals (prediction errors) of the
// subframe.
func (subframe *Subframe) decodeResiduals(br *bits.Reader) error {
	// 2 bits: residual coding method.
	x, err := br.Read(2)
	if err != nil {
		return unexpected(err)
	}
	// The 4-bit and 5-bit Rice coding methods only differ in the size of
	// their Rice parameters.
	switch x {
	case 0:
		subframe.ResidualCodingMethod = ResidualRice
		return subframe.decodeRicePart(br, 4)
	case 1:
		subframe.ResidualCodingMethod = ResidualRice2
		return subframe.decodeRicePart(br, 5)
	}
	return errors.Wrapf(ErrInvalidBitstream, "frame.Subframe.decodeResiduals: reserved residual coding method bit pattern (%02b)", x)
}

// decodeRicePart decodes the Rice partitions of encoded residuals from the
// subframe, using a Rice parameter of the specified size in bits.
func (subframe *Subframe) decodeRicePart(br *bits.Reader, paramSize uint) error {
	// 4 bits: partition order.
	x, err := br.Read(4)
	if err != nil {
		return unexpected(err)
	}
	partOrder := int(x)
	riceSubframe := &RiceSubframe{
		PartOrder: partOrder,
	}
	subframe.RiceSubframe = riceSubframe

	// Parse Rice partitions; in total 2^partOrder partitions.
	nparts := 1 << partOrder
	if subframe.NSamples%nparts != 0 {
		return errors.Wrapf(ErrInvalidBitstream, "frame.Subframe.decodeRicePart: block size (%d) not evenly divisible into %d partitions", subframe.NSamples, nparts)
	}
	if nparts == 1 && subframe.Order > subframe.NSamples || nparts > 1 && subframe.Order > subframe.NSamples/nparts {
		return errors.Wrapf(ErrInvalidBitstream, "frame.Subframe.decodeRicePart: prediction order (%d) exceeds first partition", subframe.Order)
	}
	partitions := make([]RicePartition, nparts)
	riceSubframe.Partitions = partitions
	for i := 0; i < nparts; i++ {
		partition := &partitions[i]
		// (4 or 5) bits: Rice parameter.
		x, err := br.Read(paramSize)
		if err != nil {
			return unexpected(err)
		}
		param := uint(x)
		partition.Param = param

		// Determine the number of residuals in the partition. The first
		// partition leaves out the slots occupied by the warm-up samples.
		nsamples := subframe.NSamples / nparts
		if i == 0 {
			nsamples -= subframe.Order
		}

		// An all-ones Rice parameter (1111 or 11111) is an escape code; the
		// partition residuals are stored unencoded using n bits per sample,
		// where n follows as a 5-bit number.
		if param == 1<<paramSize-1 {
			x, err := br.Read(5)
			if err != nil {
				return unexpected(err)
			}
			n := uint(x)
			partition.EscapedBitsPerSample = n
			for j := 0; j < nsamples; j++ {
				// Escaped residuals are stored in signed two's complement;
				// a width of 0 bits means every residual of the partition
				// is 0.
				residual, err := br.ReadSigned(n)
				if err != nil {
					return unexpected(err)
				}
				subframe.Samples = append(subframe.Samples, residual)
			}
			continue
		}

		// Decode the Rice encoded residuals of the partition.
		for j := 0; j < nsamples; j++ {
			residual, err := subframe.decodeRiceResidual(br, param)
			if err != nil {
				return err
			}
			subframe.Samples = append(subframe.Samples, residual)
		}
	}

	return nil
}

// decodeRiceResidual decodes and returns a Rice encoded residual (prediction
// error) with the Rice parameter k.
func (subframe *Subframe) decodeRiceResidual(br *bits.Reader, k uint) (int64, error) {
	// Unary encoded quotient.
	high, err := br.ReadUnary()
	if err != nil {
		return 0, unexpected(err)
	}

	// k bits: the remainder.
	low, err := br.Read(k)
	if err != nil {
		return 0, unexpected(err)
	}
	folded := uint32(high<<k | low)

	// ZigZag decode.
	residual := bits.DecodeZigZag(folded)
	return int64(residual), nil
}

// predict runs the linear predictor with the given coefficients and shift
// over the warm-up samples and residuals held by Samples, rewriting each
// residual into an audio sample. Sums are accumulated in 64-bit arithmetic.
func (subframe *Subframe) predict(coeffs []int64, shift uint) {
	for i := subframe.Order; i < len(subframe.Samples); i++ {
		var sum int64
		for j, c := range coeffs {
			sum += c * subframe.Samples[i-1-j]
		}
		subframe.Samples[i] += sum >> shift
	}
}
