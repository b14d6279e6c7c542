package pcd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/WVU-ASEL/glidar/pkg/wire"
)

// MetadataMode selects how the ground-truth transform is written.
type MetadataMode string

const (
	// MetadataMatrix writes the rigid object-to-sensor matrix.
	MetadataMatrix MetadataMode = "matrix"
	// MetadataComponents writes the object attitude, translation and sensor
	// attitude that produced the frame.
	MetadataComponents MetadataMode = "components"
)

// ParseMetadataMode accepts "matrix" or "components"; empty means matrix.
func ParseMetadataMode(s string) (MetadataMode, error) {
	switch MetadataMode(strings.ToLower(s)) {
	case "", MetadataMatrix:
		return MetadataMatrix, nil
	case MetadataComponents:
		return MetadataComponents, nil
	}
	return "", fmt.Errorf("pcd: unknown metadata mode %q", s)
}

const floatFormat = "%.16e"

// WriteMatrix writes m row-major, one row per line.
func WriteMatrix(w io.Writer, m mgl64.Mat4) error {
	for r := 0; r < 4; r++ {
		row := m.Row(r)
		if _, err := fmt.Fprintf(w, floatFormat+" "+floatFormat+" "+floatFormat+" "+floatFormat+"\n",
			row[0], row[1], row[2], row[3]); err != nil {
			return err
		}
	}
	return nil
}

// ReadMatrix parses the output of WriteMatrix.
func ReadMatrix(r io.Reader) (mgl64.Mat4, error) {
	var m mgl64.Mat4
	vals, err := readFloats(r, 16)
	if err != nil {
		return m, err
	}
	for i, v := range vals {
		m.Set(i/4, i%4, v)
	}
	return m, nil
}

// WriteComponents writes "object w x y z", "translation x y z" and
// "sensor w x y z" lines.
func WriteComponents(w io.Writer, v wire.PoseComponents) error {
	lines := []struct {
		label string
		vals  []float64
	}{
		{"object", v.Object[:]},
		{"translation", v.Translation[:]},
		{"sensor", v.Sensor[:]},
	}
	for _, l := range lines {
		parts := make([]string, len(l.vals))
		for i, f := range l.vals {
			parts[i] = fmt.Sprintf(floatFormat, f)
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", l.label, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return nil
}

// ReadComponents parses the output of WriteComponents.
func ReadComponents(r io.Reader) (wire.PoseComponents, error) {
	var v wire.PoseComponents
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var dst []float64
		switch fields[0] {
		case "object":
			dst = v.Object[:]
		case "translation":
			dst = v.Translation[:]
		case "sensor":
			dst = v.Sensor[:]
		default:
			return v, fmt.Errorf("pcd: unknown transform line %q", fields[0])
		}
		if len(fields)-1 != len(dst) {
			return v, fmt.Errorf("pcd: %s has %d values, want %d", fields[0], len(fields)-1, len(dst))
		}
		for i, f := range fields[1:] {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return v, fmt.Errorf("pcd: %s: %w", fields[0], err)
			}
			dst[i] = x
		}
	}
	return v, sc.Err()
}

// Transform is what a saved frame records as ground truth.
type Transform struct {
	ModelView  mgl64.Mat4
	Components wire.PoseComponents
}

// WriteTransformFile writes basename + ".transform" in the given mode and
// returns the file name.
func WriteTransformFile(basename string, mode MetadataMode, t Transform) (string, error) {
	name := basename + ".transform"
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriter(f)
	if mode == MetadataComponents {
		err = WriteComponents(bw, t.Components)
	} else {
		err = WriteMatrix(bw, t.ModelView)
	}
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		f.Close()
		return "", fmt.Errorf("pcd: write %s: %w", name, err)
	}
	return name, f.Close()
}

func readFloats(r io.Reader, n int) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	out := make([]float64, 0, n)
	for sc.Scan() {
		if len(out) == n {
			return nil, fmt.Errorf("pcd: more than %d values", n)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, fmt.Errorf("pcd: got %d values, want %d", len(out), n)
	}
	return out, nil
}
