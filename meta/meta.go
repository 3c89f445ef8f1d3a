// Package meta contains functions for parsing FLAC metadata.
package meta

import (
	"io"

	"github.com/aoide-audio/flac/internal/bits"
	"github.com/pkg/errors"
)

// Errors returned while parsing metadata blocks.
var (
	// ErrMalformed reports a metadata block which violates the format; e.g. a
	// StreamInfo body of the wrong length.
	ErrMalformed = errors.New("meta: malformed metadata block")
	// ErrInvalidType reports the invalid metadata block type 127, which is
	// forbidden to avoid confusion with a frame sync code.
	ErrInvalidType = errors.New("meta: invalid metadata block type")
)

// Type is used to identify the metadata block type.
type Type uint8

// Metadata block types.
const (
	TypeStreamInfo    Type = 0
	TypePadding       Type = 1
	TypeApplication   Type = 2
	TypeSeekTable     Type = 3
	TypeVorbisComment Type = 4
	TypeCueSheet      Type = 5
	TypePicture       Type = 6
)

// typeName is a map from Type to name.
var typeName = map[Type]string{
	TypeStreamInfo:    "stream info",
	TypePadding:       "padding",
	TypeApplication:   "application",
	TypeSeekTable:     "seek table",
	TypeVorbisComment: "vorbis comment",
	TypeCueSheet:      "cue sheet",
	TypePicture:       "picture",
}

func (t Type) String() string {
	if name, ok := typeName[t]; ok {
		return name
	}
	return "reserved"
}

// A Header contains type and length information about a metadata block.
type Header struct {
	// IsLast is true if this block is the last metadata block before the
	// audio frames, and false otherwise.
	IsLast bool
	// Block type.
	Type Type
	// Length in bytes of the metadata body.
	Length int64
}

// A Block is a metadata block, consisting of a block header and a block body.
type Block struct {
	// Metadata block header.
	Header
	// Metadata block body: *StreamInfo, *VorbisComment, or nil for block
	// types which are only ever skipped.
	Body interface{}
	// Underlying reader, limited to the block body.
	lr io.Reader
}

// New reads and parses the header of a metadata block from the provided
// io.Reader and returns a handle to the block. Call Block.Parse to parse the
// block body, or Block.Skip to ignore it.
//
// Metadata block header format (pseudo code):
//
//	type METADATA_BLOCK_HEADER struct {
//	   is_last    bool
//	   block_type uint7
//	   length     uint24
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_header
func New(r io.Reader) (block *Block, err error) {
	br := bits.NewReader(r)
	// 1 bit: IsLast.
	x, err := br.Read(1)
	if err != nil {
		return nil, unexpected(err)
	}
	block = new(Block)
	block.IsLast = x != 0

	// 7 bits: Type.
	//    0:     StreamInfo
	//    1:     Padding
	//    2:     Application
	//    3:     SeekTable
	//    4:     VorbisComment
	//    5:     CueSheet
	//    6:     Picture
	//    7-126: reserved
	//    127:   invalid, to avoid confusion with a frame sync code
	if x, err = br.Read(7); err != nil {
		return nil, unexpected(err)
	}
	if x == 127 {
		return nil, errors.Wrap(ErrInvalidType, "meta.New")
	}
	block.Type = Type(x)

	// 24 bits: Length.
	if x, err = br.Read(24); err != nil {
		return nil, unexpected(err)
	}
	block.Length = int64(x)

	block.lr = io.LimitReader(r, block.Length)
	return block, nil
}

// Parse reads and parses the metadata block body. The bodies of StreamInfo
// and VorbisComment blocks are decoded; all other block types, including the
// reserved ones, are skipped.
func Parse(r io.Reader) (block *Block, err error) {
	if block, err = New(r); err != nil {
		return nil, err
	}
	if err = block.Parse(); err != nil {
		return nil, err
	}
	return block, nil
}

// Parse reads and parses the metadata block body.
func (block *Block) Parse() error {
	switch block.Type {
	case TypeStreamInfo:
		return block.parseStreamInfo()
	case TypeVorbisComment:
		return block.parseVorbisComment()
	}
	return block.Skip()
}

// Skip ignores the contents of the metadata block body.
func (block *Block) Skip() error {
	if _, err := io.Copy(io.Discard, block.lr); err != nil {
		return unexpected(err)
	}
	return nil
}

// unexpected returns io.ErrUnexpectedEOF if err is io.EOF, and returns err
// otherwise.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
