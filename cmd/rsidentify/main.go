// Command rsidentify decodes a single RAW file and prints its camera
// identification, dimensions, and a pixel checksum to stdout. It exits
// 0 on success and 2 on any decode failure.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	rawspeed "github.com/darktable-org/rawspeed-go"
)

func main() {
	cameras := flag.String("cameras", "", "path to cameras.xml (optional)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-cameras cameras.xml] <rawfile>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *cameras, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: [rawspeed] %v\n", err)
		os.Exit(2)
	}
}

func run(path, camerasPath string, out *os.File) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var db *rawspeed.CameraDatabase
	if camerasPath != "" {
		f, err := os.Open(camerasPath)
		if err != nil {
			return err
		}
		db, err = rawspeed.LoadCameraDatabase(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	img, err := rawspeed.Decode(data, db, nil)
	if err != nil {
		return err
	}

	meta := img.Metadata
	fmt.Fprintf(out, "make: %s\n", meta.Make)
	fmt.Fprintf(out, "model: %s\n", meta.Model)
	fmt.Fprintf(out, "canonical_id: %s\n", meta.CanonicalID)
	dim := img.Dim()
	fmt.Fprintf(out, "dimensions: %dx%d\n", dim.X, dim.Y)
	fmt.Fprintf(out, "iso: %d\n", meta.ISOSpeed)

	var sum uint64
	count := 0
	for y := 0; y < dim.Y; y++ {
		row, err := img.Row(y)
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(row); i += 2 {
			sum += uint64(binary.LittleEndian.Uint16(row[i:]))
			count++
		}
	}
	fmt.Fprintf(out, "pixel sum: %d\n", sum)
	if count > 0 {
		fmt.Fprintf(out, "pixel avg: %.2f\n", float64(sum)/float64(count))
	}

	for _, warn := range img.Errors() {
		fmt.Fprintf(out, "warning: %s\n", warn)
	}
	return nil
}
