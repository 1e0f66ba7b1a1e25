//go:build ignore

// Decode-capture walks a raw TCP capture of link traffic and prints
// every frame it finds: header fields, checksum verdict, message kind,
// and the payload as JSON and hex. Useful when a vehicle and shore
// disagree about what went over the wire.
//
// Usage: go run tools/decode-capture.go <capture-file>
//
// The capture file is the raw byte stream of one direction, e.g. from
// tcpdump -w plus a tcp stream extract, or a hexdump -C reversed with
// xxd -r.
package main

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
)

const (
	headerSize   = 8
	checksumSize = 4
)

var kindNames = map[byte]string{
	0x01: "HEARTBEAT",
	0x02: "CONTROL",
	0x03: "HEARTBEAT_REQUEST",
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: decode-capture <capture-file>")
		fmt.Println("Example: decode-capture captures/vehicle-to-shore.bin")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Rovlink Capture Decoder ===\n")
	fmt.Printf("File: %s (%d bytes)\n\n", os.Args[1], len(data))

	offset := 0
	frameNum := 0
	for offset+headerSize <= len(data) {
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		wantSum := data[offset+4 : offset+headerSize]

		end := offset + headerSize + int(length)
		if end > len(data) {
			fmt.Printf("[%06x] truncated frame: header claims %d payload bytes, %d remain\n",
				offset, length, len(data)-offset-headerSize)
			break
		}

		payload := data[offset+headerSize : end]
		sum := md5.Sum(payload)
		frameNum++

		fmt.Printf("========================================\n")
		fmt.Printf("Frame #%d at offset 0x%06x - %d payload bytes\n", frameNum, offset, length)
		fmt.Printf("========================================\n")

		if bytes.Equal(sum[:checksumSize], wantSum) {
			fmt.Println("Checksum: OK")
		} else {
			fmt.Printf("Checksum: MISMATCH (header %x, computed %x)\n",
				wantSum, sum[:checksumSize])
		}

		decodePayload(payload)
		fmt.Println()

		offset = end
	}

	if offset < len(data) {
		fmt.Printf("%d trailing bytes not consumed\n", len(data)-offset)
	}
}

func decodePayload(payload []byte) {
	if len(payload) == 0 {
		fmt.Println("Empty payload")
		return
	}

	kind := payload[0]
	name, known := kindNames[kind]
	if !known {
		name = "UNKNOWN"
	}
	fmt.Printf("Kind: 0x%02x (%s)\n", kind, name)

	body := payload[1:]
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		fmt.Println("Payload JSON:")
		fmt.Println(pretty.String())
	} else {
		fmt.Println("Payload is not valid JSON")
	}

	fmt.Println("Hex Dump (16 bytes/line):")
	hexDump(payload)
}

func hexDump(payload []byte) {
	for i := 0; i < len(payload); i += 16 {
		fmt.Printf("%04x  ", i)

		for j := 0; j < 16; j++ {
			if i+j < len(payload) {
				fmt.Printf("%02x ", payload[i+j])
			} else {
				fmt.Print("   ")
			}
			if j == 7 {
				fmt.Print(" ")
			}
		}

		fmt.Print(" |")
		for j := 0; j < 16 && i+j < len(payload); j++ {
			b := payload[i+j]
			if b >= 32 && b <= 126 {
				fmt.Printf("%c", b)
			} else {
				fmt.Print(".")
			}
		}
		fmt.Println("|")
	}
}
