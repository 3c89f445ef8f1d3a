package frame_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/aoide-audio/flac/frame"
	"github.com/icza/bitio"
	"github.com/mewkiz/pkg/hashutil/crc16"
	"github.com/mewkiz/pkg/hashutil/crc8"
	"github.com/pkg/errors"
)

// A bitstream assembles test fixtures bit by bit.
type bitstream struct {
	buf *bytes.Buffer
	bw  *bitio.Writer
}

func newBitstream() *bitstream {
	buf := new(bytes.Buffer)
	return &bitstream{buf: buf, bw: bitio.NewWriter(buf)}
}

// bits appends the n low bits of x, most significant bit first.
func (b *bitstream) bits(t *testing.T, x uint64, n byte) {
	t.Helper()
	if err := b.bw.WriteBits(x, n); err != nil {
		t.Fatalf("error writing %d bits: %v", n, err)
	}
}

// signed appends the n-bit two's complement representation of x.
func (b *bitstream) signed(t *testing.T, x int64, n byte) {
	t.Helper()
	b.bits(t, uint64(x)&(1<<n-1), n)
}

// bytes zero-pads to the next byte boundary and returns the assembled bytes.
func (b *bitstream) bytes(t *testing.T) []byte {
	t.Helper()
	if _, err := b.bw.Align(); err != nil {
		t.Fatalf("error aligning bit writer: %v", err)
	}
	return b.buf.Bytes()
}

// headerSpec describes a frame header fixture.
type headerSpec struct {
	variable       bool
	blockSizeSpec  uint64
	blockSizeTail  []byte // raw bytes of the (block size)-1 tail, if any
	sampleRateSpec uint64
	channels       uint64
	sampleSizeSpec uint64
	num            []byte // "UTF-8" coded frame/sample number
}

// writeHeader appends a frame header, including its CRC-8, to b.
func writeHeader(t *testing.T, b *bitstream, h headerSpec) {
	t.Helper()
	hb := newBitstream()
	hb.bits(t, 0x3FFE, 14) // sync code
	hb.bits(t, 0, 1)       // reserved
	if h.variable {
		hb.bits(t, 1, 1)
	} else {
		hb.bits(t, 0, 1)
	}
	hb.bits(t, h.blockSizeSpec, 4)
	hb.bits(t, h.sampleRateSpec, 4)
	hb.bits(t, h.channels, 4)
	hb.bits(t, h.sampleSizeSpec, 3)
	hb.bits(t, 0, 1) // reserved
	for _, c := range h.num {
		hb.bits(t, uint64(c), 8)
	}
	for _, c := range h.blockSizeTail {
		hb.bits(t, uint64(c), 8)
	}
	data := hb.bytes(t)
	data = append(data, crc8.ChecksumATM(data))
	for _, c := range data {
		b.bits(t, uint64(c), 8)
	}
}

// finish zero-pads the assembled frame to a byte boundary, appends its CRC-16
// footer, and returns the frame bytes.
func finish(t *testing.T, b *bitstream) []byte {
	t.Helper()
	data := b.bytes(t)
	h := crc16.NewIBM()
	h.Write(data)
	sum := h.Sum16()
	return append(data, byte(sum>>8), byte(sum))
}

// parseFrame decodes a single frame from data.
func parseFrame(t *testing.T, data []byte, opts ...frame.Option) *frame.Frame {
	t.Helper()
	f, err := frame.New(bytes.NewReader(data), opts...)
	if err != nil {
		t.Fatalf("error parsing frame header: %v", err)
	}
	if err := f.Parse(); err != nil {
		t.Fatalf("error parsing frame: %v", err)
	}
	return f
}

// TestConstantSubframe decodes a single-frame mono stream holding one
// constant subframe; every sample carries the same value.
func TestConstantSubframe(t *testing.T) {
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x1, // 192 samples
		sampleRateSpec: 0x9, // 44100 Hz
		channels:       0x0, // mono
		sampleSizeSpec: 0x4, // 16 bits-per-sample
		num:            []byte{0x00},
	})
	b.bits(t, 0, 1)        // subframe padding
	b.bits(t, 0x00, 6)     // constant
	b.bits(t, 0, 1)        // no wasted bits
	b.signed(t, 0x1234, 16)

	f := parseFrame(t, finish(t, b))
	if f.BlockSize != 192 {
		t.Fatalf("block size mismatch; expected 192, got %d", f.BlockSize)
	}
	if f.SampleRate != 44100 {
		t.Errorf("sample rate mismatch; expected 44100, got %d", f.SampleRate)
	}
	if len(f.Subframes) != 1 {
		t.Fatalf("subframe count mismatch; expected 1, got %d", len(f.Subframes))
	}
	sub := f.Subframes[0]
	if sub.Pred != frame.PredConstant {
		t.Errorf("prediction method mismatch; expected constant, got %v", sub.Pred)
	}
	if len(sub.Samples) != 192 {
		t.Fatalf("sample count mismatch; expected 192, got %d", len(sub.Samples))
	}
	for i, sample := range sub.Samples {
		if sample != 0x1234 {
			t.Fatalf("sample %d mismatch; expected %d, got %d", i, 0x1234, sample)
		}
	}
}

// TestVerbatimSubframes decodes two independent verbatim subframes.
func TestVerbatimSubframes(t *testing.T) {
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x6, // 8 bit (block size)-1 tail
		blockSizeTail:  []byte{4 - 1},
		sampleRateSpec: 0x9, // 44100 Hz
		channels:       0x1, // left, right
		sampleSizeSpec: 0x1, // 8 bits-per-sample
		num:            []byte{0x00},
	})
	for _, samples := range [][]int64{{1, -1, 2, -2}, {3, -3, 4, -4}} {
		b.bits(t, 0, 1)    // subframe padding
		b.bits(t, 0x01, 6) // verbatim
		b.bits(t, 0, 1)    // no wasted bits
		for _, sample := range samples {
			b.signed(t, sample, 8)
		}
	}

	f := parseFrame(t, finish(t, b))
	want := [][]int64{{1, -1, 2, -2}, {3, -3, 4, -4}}
	for ch, sub := range f.Subframes {
		if sub.Pred != frame.PredVerbatim {
			t.Errorf("channel %d: prediction method mismatch; expected verbatim, got %v", ch, sub.Pred)
		}
		for i, sample := range sub.Samples {
			if sample != want[ch][i] {
				t.Errorf("channel %d: sample %d mismatch; expected %d, got %d", ch, i, want[ch][i], sample)
			}
		}
	}
}

// TestFixedSubframe decodes a second-order fixed prediction subframe with
// all-zero residuals; the warm-up samples are extrapolated linearly.
func TestFixedSubframe(t *testing.T) {
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x6,
		blockSizeTail:  []byte{6 - 1},
		sampleRateSpec: 0x9,
		channels:       0x0,
		sampleSizeSpec: 0x1, // 8 bits-per-sample
		num:            []byte{0x00},
	})
	b.bits(t, 0, 1)         // subframe padding
	b.bits(t, 0x08|2, 6)    // fixed, order 2
	b.bits(t, 0, 1)         // no wasted bits
	b.signed(t, 10, 8)      // warm-up
	b.signed(t, 20, 8)      // warm-up
	b.bits(t, 0, 2)         // residual coding method: rice1
	b.bits(t, 0, 4)         // partition order 0
	b.bits(t, 0, 4)         // rice parameter 0
	for i := 0; i < 4; i++ {
		b.bits(t, 1, 1) // residual 0: unary quotient 0, no remainder
	}

	f := parseFrame(t, finish(t, b))
	sub := f.Subframes[0]
	if sub.Order != 2 {
		t.Fatalf("prediction order mismatch; expected 2, got %d", sub.Order)
	}
	want := []int64{10, 20, 30, 40, 50, 60}
	for i, sample := range sub.Samples {
		if sample != want[i] {
			t.Errorf("sample %d mismatch; expected %d, got %d", i, want[i], sample)
		}
	}
	// The warm-up samples surface unchanged.
	if sub.Samples[0] != 10 || sub.Samples[1] != 20 {
		t.Errorf("warm-up samples modified; got %v", sub.Samples[:2])
	}
}

// TestEscapedRicePartition decodes a partition stored with the escape code:
// unencoded residuals of an explicit width.
func TestEscapedRicePartition(t *testing.T) {
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x6,
		blockSizeTail:  []byte{8 - 1},
		sampleRateSpec: 0x9,
		channels:       0x0,
		sampleSizeSpec: 0x1,
		num:            []byte{0x00},
	})
	b.bits(t, 0, 1)      // subframe padding
	b.bits(t, 0x08, 6)   // fixed, order 0
	b.bits(t, 0, 1)      // no wasted bits
	b.bits(t, 0, 2)      // residual coding method: rice1
	b.bits(t, 0, 4)      // partition order 0
	b.bits(t, 0xF, 4)    // escape code
	b.bits(t, 4, 5)      // 4 bits-per-residual
	want := []int64{0, 1, -1, 7, -8, 0, 0, 0}
	for _, residual := range want {
		b.signed(t, residual, 4)
	}

	f := parseFrame(t, finish(t, b))
	sub := f.Subframes[0]
	if sub.RiceSubframe == nil || len(sub.RiceSubframe.Partitions) != 1 {
		t.Fatalf("expected a single rice partition, got %v", sub.RiceSubframe)
	}
	if got := sub.RiceSubframe.Partitions[0].EscapedBitsPerSample; got != 4 {
		t.Errorf("escaped bits-per-sample mismatch; expected 4, got %d", got)
	}
	for i, sample := range sub.Samples {
		if sample != want[i] {
			t.Errorf("sample %d mismatch; expected %d, got %d", i, want[i], sample)
		}
	}
}

// TestMidSideDecorrelation decodes a mid/side stereo frame and verifies the
// parity-exact reconstruction of the left and right channels.
func TestMidSideDecorrelation(t *testing.T) {
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x6,
		blockSizeTail:  []byte{2 - 1},
		sampleRateSpec: 0x9,
		channels:       0xA, // mid, side
		sampleSizeSpec: 0x1, // 8 bits-per-sample
		num:            []byte{0x00},
	})
	// mid channel: 8 bits-per-sample.
	b.bits(t, 0, 1)
	b.bits(t, 0x01, 6)
	b.bits(t, 0, 1)
	b.signed(t, 4, 8)
	b.signed(t, 4, 8)
	// side channel: one extra bit per sample.
	b.bits(t, 0, 1)
	b.bits(t, 0x01, 6)
	b.bits(t, 0, 1)
	b.signed(t, 2, 9)
	b.signed(t, 1, 9)

	f := parseFrame(t, finish(t, b))
	left, right := f.Subframes[0].Samples, f.Subframes[1].Samples
	wantLeft, wantRight := []int64{5, 5}, []int64{3, 4}
	for i := range wantLeft {
		if left[i] != wantLeft[i] {
			t.Errorf("left sample %d mismatch; expected %d, got %d", i, wantLeft[i], left[i])
		}
		if right[i] != wantRight[i] {
			t.Errorf("right sample %d mismatch; expected %d, got %d", i, wantRight[i], right[i])
		}
	}
}

// TestSideChannelReconstruction verifies the left/side and side/right channel
// assignments against an exact left/right pair.
func TestSideChannelReconstruction(t *testing.T) {
	wantLeft, wantRight := []int64{100, -50}, []int64{75, -80}

	// left/side: channel 0 holds left, channel 1 holds left-right.
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x6,
		blockSizeTail:  []byte{2 - 1},
		sampleRateSpec: 0x9,
		channels:       0x8, // left, side
		sampleSizeSpec: 0x1,
		num:            []byte{0x00},
	})
	b.bits(t, 0, 1)
	b.bits(t, 0x01, 6)
	b.bits(t, 0, 1)
	for i := range wantLeft {
		b.signed(t, wantLeft[i], 8)
	}
	b.bits(t, 0, 1)
	b.bits(t, 0x01, 6)
	b.bits(t, 0, 1)
	for i := range wantLeft {
		b.signed(t, wantLeft[i]-wantRight[i], 9)
	}
	f := parseFrame(t, finish(t, b))
	for i := range wantLeft {
		if got := f.Subframes[0].Samples[i]; got != wantLeft[i] {
			t.Errorf("left/side: left sample %d mismatch; expected %d, got %d", i, wantLeft[i], got)
		}
		if got := f.Subframes[1].Samples[i]; got != wantRight[i] {
			t.Errorf("left/side: right sample %d mismatch; expected %d, got %d", i, wantRight[i], got)
		}
	}

	// side/right: channel 0 holds left-right, channel 1 holds right.
	b = newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x6,
		blockSizeTail:  []byte{2 - 1},
		sampleRateSpec: 0x9,
		channels:       0x9, // side, right
		sampleSizeSpec: 0x1,
		num:            []byte{0x00},
	})
	b.bits(t, 0, 1)
	b.bits(t, 0x01, 6)
	b.bits(t, 0, 1)
	for i := range wantLeft {
		b.signed(t, wantLeft[i]-wantRight[i], 9)
	}
	b.bits(t, 0, 1)
	b.bits(t, 0x01, 6)
	b.bits(t, 0, 1)
	for i := range wantLeft {
		b.signed(t, wantRight[i], 8)
	}
	f = parseFrame(t, finish(t, b))
	for i := range wantLeft {
		if got := f.Subframes[0].Samples[i]; got != wantLeft[i] {
			t.Errorf("side/right: left sample %d mismatch; expected %d, got %d", i, wantLeft[i], got)
		}
		if got := f.Subframes[1].Samples[i]; got != wantRight[i] {
			t.Errorf("side/right: right sample %d mismatch; expected %d, got %d", i, wantRight[i], got)
		}
	}
}

// TestFrameAlignment verifies that a decoded frame consumes the stream up to
// a byte boundary, leaving the reader positioned at the next frame.
func TestFrameAlignment(t *testing.T) {
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		blockSizeSpec:  0x1,
		sampleRateSpec: 0x9,
		channels:       0x0,
		sampleSizeSpec: 0x4,
		num:            []byte{0x00},
	})
	b.bits(t, 0, 1)
	b.bits(t, 0x00, 6)
	b.bits(t, 0, 1)
	b.signed(t, -1, 16)

	data := finish(t, b)
	data = append(data, 0xA5)
	r := bytes.NewReader(data)
	f, err := frame.New(r)
	if err != nil {
		t.Fatalf("error parsing frame header: %v", err)
	}
	if err := f.Parse(); err != nil {
		t.Fatalf("error parsing frame: %v", err)
	}
	var next [1]byte
	if _, err := io.ReadFull(r, next[:]); err != nil {
		t.Fatalf("error reading byte after frame: %v", err)
	}
	if next[0] != 0xA5 {
		t.Errorf("reader position mismatch after frame; expected 0xA5, got 0x%02X", next[0])
	}
}

// TestVerifyCRC decodes a frame with checksum verification enabled, then
// corrupts the stored CRC-8 and expects a checksum mismatch.
func TestVerifyCRC(t *testing.T) {
	build := func(t *testing.T) []byte {
		b := newBitstream()
		writeHeader(t, b, headerSpec{
			blockSizeSpec:  0x1,
			sampleRateSpec: 0x9,
			channels:       0x0,
			sampleSizeSpec: 0x4,
			num:            []byte{0x00},
		})
		b.bits(t, 0, 1)
		b.bits(t, 0x00, 6)
		b.bits(t, 0, 1)
		b.signed(t, 0x1234, 16)
		return finish(t, b)
	}

	// Valid checksums.
	parseFrame(t, build(t), frame.VerifyCRC)

	// Corrupted CRC-8; byte 4 of the header holds the coded number, byte 5
	// the CRC-8.
	data := build(t)
	data[5] ^= 0xFF
	_, err := frame.New(bytes.NewReader(data), frame.VerifyCRC)
	if errors.Cause(err) != frame.ErrCRCMismatch {
		t.Errorf("expected ErrCRCMismatch for corrupted CRC-8, got %v", err)
	}

	// Corrupted sample data; caught by the CRC-16 footer.
	data = build(t)
	data[len(data)-3] ^= 0x01
	f, err := frame.New(bytes.NewReader(data), frame.VerifyCRC)
	if err != nil {
		t.Fatalf("error parsing frame header: %v", err)
	}
	if err := f.Parse(); errors.Cause(err) != frame.ErrCRCMismatch {
		t.Errorf("expected ErrCRCMismatch for corrupted frame data, got %v", err)
	}
}

// TestVariableBlockSizeNum decodes a variable block size frame whose sample
// number uses a multi-byte coded representation.
func TestVariableBlockSizeNum(t *testing.T) {
	b := newBitstream()
	writeHeader(t, b, headerSpec{
		variable:       true,
		blockSizeSpec:  0x1, // 192 samples
		sampleRateSpec: 0x9,
		channels:       0x0,
		sampleSizeSpec: 0x4,
		num:            []byte{0xC3, 0x80}, // sample number 192
	})
	b.bits(t, 0, 1)
	b.bits(t, 0x00, 6)
	b.bits(t, 0, 1)
	b.signed(t, 0, 16)

	f := parseFrame(t, finish(t, b))
	if f.HasFixedBlockSize {
		t.Errorf("blocking strategy mismatch; expected variable block size")
	}
	if f.Num != 192 {
		t.Errorf("sample number mismatch; expected 192, got %d", f.Num)
	}
}

// TestSyncCodeMismatch rejects a frame whose header does not start with the
// sync code.
func TestSyncCodeMismatch(t *testing.T) {
	_, err := frame.New(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00}))
	if errors.Cause(err) != frame.ErrInvalidBitstream {
		t.Errorf("expected ErrInvalidBitstream, got %v", err)
	}
}
