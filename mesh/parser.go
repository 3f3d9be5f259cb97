package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseReportFile reads and parses a scanner report file
func ParseReportFile(path string) ([]*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseReports(f)
}

// ParseReports parses blank-line separated scanner blocks:
//
//	--- scanner 0 ---
//	404,-588,-901
//	528,-643,409
//
// A block without a header line is named after its position in the input.
func ParseReports(r io.Reader) ([]*Scanner, error) {
	var scanners []*Scanner
	var current *Scanner

	flush := func() {
		if current != nil {
			scanners = append(scanners, current)
			current = nil
		}
	}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())

		if line == "" {
			flush()
			continue
		}

		if id, ok := parseHeader(line); ok {
			flush()
			current = &Scanner{ID: id, Beacons: make([]Point3, 0)}
			continue
		}

		p, err := parsePoint(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if current == nil {
			current = &Scanner{ID: strconv.Itoa(len(scanners))}
		}
		current.Beacons = append(current.Beacons, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading reports: %w", err)
	}
	flush()

	return scanners, nil
}

// parseHeader recognizes "--- scanner N ---" and returns N
func parseHeader(line string) (string, bool) {
	if !strings.HasPrefix(line, "---") {
		return "", false
	}
	body := strings.TrimSpace(strings.Trim(line, "-"))
	fields := strings.Fields(body)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "scanner") {
		return "", false
	}
	return fields[1], true
}

// parsePoint parses "x,y,z"
func parsePoint(s string) (Point3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Point3{}, fmt.Errorf("expected x,y,z, got %q", s)
	}
	var v [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Point3{}, fmt.Errorf("parsing coordinate %q: %w", part, err)
		}
		v[i] = n
	}
	return Point3{X: v[0], Y: v[1], Z: v[2]}, nil
}

// FormatReports writes scanners in the block format read by ParseReports
func FormatReports(w io.Writer, scanners []*Scanner) error {
	bw := bufio.NewWriter(w)
	for i, s := range scanners {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(bw, "--- scanner %s ---\n", s.ID); err != nil {
			return err
		}
		for _, p := range s.Beacons {
			if _, err := fmt.Fprintf(bw, "%d,%d,%d\n", p.X, p.Y, p.Z); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
