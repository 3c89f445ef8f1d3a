package meta

import (
	"encoding/binary"
	"io"
	"strings"
)

// A VorbisComment metadata block is for storing a list of human-readable
// name/value pairs. Values are encoded using UTF-8. It is an implementation
// of the Vorbis comment specification (without the framing bit). This is the
// only officially supported tagging mechanism in FLAC. In some external
// documentation, Vorbis comments are called FLAC tags to lessen confusion.
type VorbisComment struct {
	// Vendor string of the encoder.
	Vendor string
	// Name/value pairs, in stream order.
	Entries []VorbisEntry
}

// A VorbisEntry is a name/value pair.
type VorbisEntry struct {
	Name  string
	Value string
}

// Get returns the value of the named comment entry, matching names case
// insensitively. When the name occurs more than once, the value of the last
// occurrence is returned. The boolean reports whether the name was present.
func (vc *VorbisComment) Get(name string) (string, bool) {
	for i := len(vc.Entries) - 1; i >= 0; i-- {
		if strings.EqualFold(vc.Entries[i].Name, name) {
			return vc.Entries[i].Value, true
		}
	}
	return "", false
}

// parseVorbisComment reads and parses the body of a VorbisComment metadata
// block. Note that unlike the rest of FLAC, the length fields of Vorbis
// comments are little-endian.
//
// Vorbis comment format (pseudo code):
//
//	type METADATA_BLOCK_VORBIS_COMMENT struct {
//	   vendor_length uint32
//	   vendor_string [vendor_length]byte
//	   comment_count uint32
//	   comments      [comment_count]comment
//	}
//
//	type comment struct {
//	   vector_length uint32
//	   // vector_string is a name/value pair. Example: "NAME=value".
//	   vector_string [vector_length]byte
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_vorbis_comment
func (block *Block) parseVorbisComment() error {
	// Vendor length and vendor string.
	var vendorLen uint32
	if err := binary.Read(block.lr, binary.LittleEndian, &vendorLen); err != nil {
		return unexpected(err)
	}
	buf := make([]byte, vendorLen)
	if _, err := io.ReadFull(block.lr, buf); err != nil {
		return unexpected(err)
	}
	vc := new(VorbisComment)
	vc.Vendor = string(buf)

	// Comment count.
	var count uint32
	if err := binary.Read(block.lr, binary.LittleEndian, &count); err != nil {
		return unexpected(err)
	}

	// Comments.
	for i := uint32(0); i < count; i++ {
		// Vector length and vector string.
		var vectorLen uint32
		if err := binary.Read(block.lr, binary.LittleEndian, &vectorLen); err != nil {
			return unexpected(err)
		}
		buf = make([]byte, vectorLen)
		if _, err := io.ReadFull(block.lr, buf); err != nil {
			return unexpected(err)
		}
		vector := string(buf)

		// A comment without a '=' separator carries no name/value pair and is
		// ignored.
		pos := strings.Index(vector, "=")
		if pos == -1 {
			continue
		}
		entry := VorbisEntry{
			Name:  vector[:pos],
			Value: vector[pos+1:],
		}
		vc.Entries = append(vc.Entries, entry)
	}

	block.Body = vc
	return nil
}
