// Package pcd reads and writes x/y/z/intensity point clouds in the PCD v0.7
// format, and writes the ground-truth transform saved next to each cloud.
package pcd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Format is the DATA encoding.
type Format string

const (
	ASCII  Format = "ascii"
	Binary Format = "binary"
)

var (
	// ErrHeader is returned for a missing or malformed header line.
	ErrHeader = errors.New("pcd: malformed header")
	// ErrUnsupported is returned for field layouts other than x y z intensity.
	ErrUnsupported = errors.New("pcd: unsupported layout")
)

// ParseFormat accepts "ascii" or "binary".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case ASCII:
		return ASCII, nil
	case Binary, "":
		return Binary, nil
	}
	return "", fmt.Errorf("pcd: unknown data format %q", s)
}

// Cloud is a decoded file. Data holds quadruples in row-major order.
type Cloud struct {
	Width  int
	Height int
	Format Format
	Data   []float32
}

// Points returns the number of quadruples.
func (c *Cloud) Points() int {
	return len(c.Data) / 4
}

// Write emits a header and data. A height of zero or one writes an
// unorganized cloud with WIDTH equal to the point count.
func Write(w io.Writer, data []float32, width, height int, format Format) error {
	points := len(data) / 4
	if height <= 1 {
		width, height = points, 1
	}
	if width*height != points {
		return fmt.Errorf("pcd: %dx%d does not match %d points", width, height, points)
	}

	bw := bufio.NewWriter(w)
	_, err := fmt.Fprintf(bw, "VERSION .7\n"+
		"FIELDS x y z intensity\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F F\n"+
		"COUNT 1 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		width, height, points, format)
	if err != nil {
		return err
	}

	switch format {
	case ASCII:
		for i := 0; i < points; i++ {
			p := data[4*i : 4*i+4]
			if _, err := fmt.Fprintf(bw, "%g %g %g %g\n", p[0], p[1], p[2], p[3]); err != nil {
				return err
			}
		}
	case Binary:
		buf := make([]byte, flatbuffers.SizeFloat32)
		for _, v := range data[:points*4] {
			flatbuffers.WriteFloat32(buf, v)
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("pcd: unknown data format %q", format)
	}
	return bw.Flush()
}

// WriteFile writes basename + ".pcd" and returns the file name.
func WriteFile(basename string, data []float32, width, height int, format Format) (string, error) {
	name := basename + ".pcd"
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	if err := Write(f, data, width, height, format); err != nil {
		f.Close()
		return "", fmt.Errorf("pcd: write %s: %w", name, err)
	}
	return name, f.Close()
}

// Read decodes a cloud written by Write.
func Read(r io.Reader) (*Cloud, error) {
	br := bufio.NewReader(r)
	c := &Cloud{}
	points := -1

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHeader, err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		key, vals := fields[0], fields[1:]

		switch key {
		case "VERSION", "SIZE", "TYPE", "COUNT", "VIEWPOINT":
		case "FIELDS":
			if strings.Join(vals, " ") != "x y z intensity" {
				return nil, fmt.Errorf("%w: fields %v", ErrUnsupported, vals)
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(vals) != 1 {
				return nil, fmt.Errorf("%w: %s", ErrHeader, strings.TrimSpace(line))
			}
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: %s", ErrHeader, strings.TrimSpace(line))
			}
			switch key {
			case "WIDTH":
				c.Width = n
			case "HEIGHT":
				c.Height = n
			default:
				points = n
			}
		case "DATA":
			if len(vals) != 1 {
				return nil, fmt.Errorf("%w: %s", ErrHeader, strings.TrimSpace(line))
			}
			c.Format = Format(vals[0])
			if points < 0 {
				points = c.Width * c.Height
			}
			if err := c.readData(br, points); err != nil {
				return nil, err
			}
			return c, nil
		default:
			return nil, fmt.Errorf("%w: unknown key %q", ErrHeader, key)
		}
	}
}

func (c *Cloud) readData(br *bufio.Reader, points int) error {
	c.Data = make([]float32, 0, points*4)
	switch c.Format {
	case Binary:
		buf := make([]byte, points*4*flatbuffers.SizeFloat32)
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("pcd: binary data: %w", err)
		}
		for i := 0; i < points*4; i++ {
			c.Data = append(c.Data, flatbuffers.GetFloat32(buf[i*flatbuffers.SizeFloat32:]))
		}
	case ASCII:
		for i := 0; i < points; i++ {
			line, err := br.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return fmt.Errorf("pcd: point %d: %w", i, err)
			}
			fields := strings.Fields(line)
			if len(fields) != 4 {
				return fmt.Errorf("pcd: point %d has %d fields", i, len(fields))
			}
			for _, f := range fields {
				v, err := strconv.ParseFloat(f, 32)
				if err != nil {
					return fmt.Errorf("pcd: point %d: %w", i, err)
				}
				c.Data = append(c.Data, float32(v))
			}
		}
	default:
		return fmt.Errorf("%w: data %q", ErrUnsupported, c.Format)
	}
	return nil
}

// ReadFile opens and decodes a cloud.
func ReadFile(name string) (*Cloud, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
