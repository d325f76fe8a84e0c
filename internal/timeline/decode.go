package timeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ErrUnsupportedFormat is returned for input that is neither a JSON array
// nor a JSON object.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Metadata is the "_metadata" block daytrace writes at the top of parsed files.
type Metadata struct {
	Version        string         `json:"version"`
	ParsedAt       string         `json:"parsedAt"`
	DateRange      MetaDateRange  `json:"dateRange"`
	FilterSettings FilterSettings `json:"filterSettings"`
	Statistics     Stats          `json:"statistics"`
	IsParsed       bool           `json:"isParsed"`
}

// MetaDateRange is the inclusive date range recorded in Metadata.
type MetaDateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FilterSettings records the thresholds a parsed file was produced with.
type FilterSettings struct {
	DistanceThreshold    float64 `json:"distanceThreshold"`
	ProbabilityThreshold float64 `json:"probabilityThreshold"`
	DurationThreshold    float64 `json:"durationThreshold"`
}

// document is every top-level shape we accept, decoded lazily.
type document struct {
	Metadata         *Metadata         `json:"_metadata"`
	TimelineObjects  []json.RawMessage `json:"timelineObjects"`
	Locations        []json.RawMessage `json:"locations"`
	SemanticSegments []json.RawMessage `json:"semanticSegments"`
	RawSignals       []rawSignal       `json:"rawSignals"`
}

type rawSignal struct {
	Position json.RawMessage `json:"position"`
}

// readEntries splits an export into raw entry messages. Decoding of each
// entry is deferred so the date pre-filter can skip most of the work.
func readEntries(r io.Reader) ([]json.RawMessage, *Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, ErrUnsupportedFormat
	}

	switch data[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, nil, fmt.Errorf("failed to parse timeline JSON: %w", err)
		}
		return entries, nil, nil
	case '{':
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("failed to parse timeline JSON: %w", err)
		}
		switch {
		case doc.TimelineObjects != nil:
			return doc.TimelineObjects, doc.Metadata, nil
		case doc.SemanticSegments != nil || doc.RawSignals != nil:
			entries := doc.SemanticSegments
			for _, sig := range doc.RawSignals {
				if len(sig.Position) > 0 {
					entries = append(entries, sig.Position)
				}
			}
			return entries, doc.Metadata, nil
		case doc.Locations != nil:
			return doc.Locations, doc.Metadata, nil
		default:
			// A lone entry
			return []json.RawMessage{json.RawMessage(data)}, nil, nil
		}
	}
	return nil, nil, ErrUnsupportedFormat
}
