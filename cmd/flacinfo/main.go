// flacinfo lists the stream information and metadata of FLAC files.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/aoide-audio/flac"
)

func main() {
	flag.Parse()
	for _, path := range flag.Args() {
		err := flacinfo(path)
		if err != nil {
			log.Fatal(err)
		}
	}
}

// flacinfo prints the stream information and metadata blocks of the provided
// FLAC file.
func flacinfo(path string) error {
	stream, err := flac.Open(path)
	if err != nil {
		return err
	}
	defer stream.Close()

	info := stream.Info
	fmt.Printf("%s:\n", path)
	fmt.Printf("  block size: %d-%d samples\n", info.BlockSizeMin, info.BlockSizeMax)
	fmt.Printf("  frame size: %d-%d bytes\n", info.FrameSizeMin, info.FrameSizeMax)
	fmt.Printf("  sample rate: %d Hz\n", info.SampleRate)
	fmt.Printf("  channels: %d\n", info.NChannels)
	fmt.Printf("  bits-per-sample: %d\n", info.BitsPerSample)
	fmt.Printf("  total samples: %d\n", info.NSamples)
	fmt.Printf("  MD5 signature: %032x\n", info.MD5sum)

	for i, block := range stream.Blocks {
		fmt.Printf("METADATA block #%d\n", i)
		fmt.Printf("  type: %d (%v)\n", uint8(block.Type), block.Type)
		fmt.Printf("  is last: %v\n", block.IsLast)
		fmt.Printf("  length: %d\n", block.Length)
	}

	if stream.Comment != nil {
		fmt.Printf("VORBIS_COMMENT\n")
		fmt.Printf("  vendor string: %s\n", stream.Comment.Vendor)
		for _, entry := range stream.Comment.Entries {
			fmt.Printf("  %s=%s\n", entry.Name, entry.Value)
		}
	}

	return nil
}
