// Package capture reads and writes the plain-text capture file:
// a '#' comment header followed by sample_number,time(s),voltage(V) lines.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/itohio/goecg/pkg/sample"
)

// DefaultTitle is the first header line.
const DefaultTitle = "ECG Data Recording"

const (
	formatLine     = "Format: sample_number,time(s),voltage(V)"
	ratePrefix     = "Sample rate: ~"
	rateSuffix     = " Hz"
	durationPrefix = "Target duration: "
	durationSuffix = " seconds"
)

// ErrMalformedLine is returned for data lines that do not hold three numbers.
var ErrMalformedLine = errors.New("malformed capture line")

// Header is the metadata stored in the comment block.
type Header struct {
	Title           string
	SampleRateHz    float64 // Declared, rounded to whole Hz on write
	DurationSeconds float64
}

// HeaderFor describes samples captured over the given target duration.
// The declared rate is measured from the window as (n-1)/elapsed.
func HeaderFor(samples []sample.Sample, title string, durationSeconds float64) Header {
	if title == "" {
		title = DefaultTitle
	}
	h := Header{Title: title, DurationSeconds: durationSeconds}
	if n := len(samples); n > 1 {
		if elapsed := samples[n-1].Timestamp - samples[0].Timestamp; elapsed > 0 {
			h.SampleRateHz = float64(n-1) / elapsed
		}
	}
	return h
}

// Write emits the header and one line per sample, numbered from 0,
// with time and voltage at six decimals.
func Write(w io.Writer, h Header, samples []sample.Sample) error {
	bw := bufio.NewWriter(w)

	title := h.Title
	if title == "" {
		title = DefaultTitle
	}
	fmt.Fprintf(bw, "# %s\n", title)
	fmt.Fprintf(bw, "# %s\n", formatLine)
	fmt.Fprintf(bw, "# %s%.0f%s\n", ratePrefix, h.SampleRateHz, rateSuffix)
	fmt.Fprintf(bw, "# %s%s%s\n", durationPrefix, strconv.FormatFloat(h.DurationSeconds, 'g', -1, 64), durationSuffix)

	line := make([]byte, 0, 64)
	for i, s := range samples {
		line = line[:0]
		line = strconv.AppendInt(line, int64(i), 10)
		line = append(line, ',')
		line = strconv.AppendFloat(line, s.Timestamp, 'f', 6, 64)
		line = append(line, ',')
		line = strconv.AppendFloat(line, s.Voltage, 'f', 6, 64)
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("failed to write sample %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush capture: %w", err)
	}
	return nil
}

// Read parses a capture. Unknown comment lines are ignored, blank lines skipped.
// Sample numbers are checked for syntax only; samples keep file order.
func Read(r io.Reader) (Header, []sample.Sample, error) {
	var (
		h       Header
		samples []sample.Sample
	)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if comment, ok := strings.CutPrefix(line, "#"); ok {
			parseComment(&h, strings.TrimSpace(comment))
			continue
		}

		s, err := parseLine(line)
		if err != nil {
			return h, nil, fmt.Errorf("%w: line %d: %w", ErrMalformedLine, lineNo, err)
		}
		samples = append(samples, s)
	}
	if err := sc.Err(); err != nil {
		return h, nil, fmt.Errorf("failed to read capture: %w", err)
	}

	return h, samples, nil
}

func parseComment(h *Header, c string) {
	switch {
	case c == formatLine:
	case strings.HasPrefix(c, ratePrefix):
		v := strings.TrimSuffix(strings.TrimPrefix(c, ratePrefix), rateSuffix)
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			h.SampleRateHz = f
		}
	case strings.HasPrefix(c, durationPrefix):
		v := strings.TrimSuffix(strings.TrimPrefix(c, durationPrefix), durationSuffix)
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			h.DurationSeconds = f
		}
	case h.Title == "":
		h.Title = c
	}
}

func parseLine(line string) (sample.Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return sample.Sample{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	if _, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64); err != nil {
		return sample.Sample{}, fmt.Errorf("sample number: %w", err)
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("time: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("voltage: %w", err)
	}
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return sample.Sample{}, errors.New("time is not finite")
	}
	return sample.Sample{Timestamp: ts, Voltage: v}, nil
}

// WriteFile writes a capture to path, replacing any existing file.
func WriteFile(path string, h Header, samples []sample.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	if err := Write(f, h, samples); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close capture file: %w", err)
	}
	return nil
}

// ReadFile reads a capture from path.
func ReadFile(path string) (Header, []sample.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()
	return Read(f)
}
