package mesh

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
)

// reportPayload is the JSON form of a single scanner report
type reportPayload struct {
	ID      string   `json:"id,omitempty"`
	Beacons [][]int `json:"beacons"`
}

// DecodeReport decodes one scanner's report from various formats:
// - JSON object {"beacons": [[x,y,z], ...]}
// - JSON array [[x,y,z], ...]
// - Zlib-compressed JSON of either shape
// - Text block (optional "--- scanner N ---" header, then x,y,z lines)
//
// The id argument names the scanner; a JSON id field does not override it.
func DecodeReport(id string, data []byte) (*Scanner, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	switch {
	case data[0] == '{' || data[0] == '[':
		return decodeJSONReport(id, data)
	case isZlib(data):
		inflated, err := inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("inflating report: %w", err)
		}
		return DecodeReport(id, inflated)
	default:
		scanners, err := ParseReports(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON, zlib, or text report: %w", err)
		}
		if len(scanners) != 1 {
			return nil, fmt.Errorf("expected one scanner block, got %d", len(scanners))
		}
		scanners[0].ID = id
		return scanners[0], nil
	}
}

func decodeJSONReport(id string, data []byte) (*Scanner, error) {
	var triples [][]int
	if data[0] == '[' {
		if err := json.Unmarshal(data, &triples); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	} else {
		var payload reportPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
		triples = payload.Beacons
	}

	s := &Scanner{ID: id, Beacons: make([]Point3, len(triples))}
	for i, t := range triples {
		if len(t) != 3 {
			return nil, fmt.Errorf("parsing JSON: beacon %d has %d coordinates, want 3", i, len(t))
		}
		s.Beacons[i] = Point3{X: t[0], Y: t[1], Z: t[2]}
	}
	return s, nil
}

// EncodeReport returns the JSON object form of a scanner report
func EncodeReport(s *Scanner) ([]byte, error) {
	payload := reportPayload{ID: s.ID, Beacons: make([][]int, len(s.Beacons))}
	for i, p := range s.Beacons {
		payload.Beacons[i] = []int{p.X, p.Y, p.Z}
	}
	return json.Marshal(payload)
}

// isZlib checks the two-byte zlib header: CMF 0x78 (deflate, 32K window) and
// a valid FCHECK. Only 0x78 is accepted, since a bare text report may start
// with a digit that also has CM=8.
func isZlib(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return data[0] == 0x78 && (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
