package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoResults is returned when the provider payload holds no result set.
var ErrNoResults = errors.New("no annotation results returned")

type node = map[string]any

// Parse normalizes a raw provider response into Annotations. It accepts the
// full AnnotateVideoResponse or a single annotation result object. Missing
// confidences and time offsets default to zero; entries without a
// description or text are dropped.
func Parse(raw []byte) (*Annotations, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrNoResults
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode annotation payload: %w", err)
	}
	top, ok := root.(node)
	if !ok {
		return nil, fmt.Errorf("decode annotation payload: expected object, got %T", root)
	}

	results := top
	if list, present := top["annotationResults"]; present {
		items := asList(list)
		if len(items) == 0 {
			return nil, ErrNoResults
		}
		first, ok := items[0].(node)
		if !ok {
			return nil, ErrNoResults
		}
		results = first
	}
	if e, ok := results["error"].(node); ok {
		if msg := asString(e["message"]); msg != "" {
			return nil, fmt.Errorf("annotation result error: %s", msg)
		}
	}

	out := &Annotations{
		Labels:  []Label{},
		Objects: []Object{},
		Text:    []TextSpan{},
		Shots:   []Segment{},
	}

	for _, item := range asList(results["segmentLabelAnnotations"]) {
		label, ok := item.(node)
		if !ok {
			continue
		}
		desc := asString(child(label, "entity")["description"])
		if desc == "" {
			continue
		}
		segments, conf := parseSegments(label["segments"])
		out.Labels = append(out.Labels, Label{Description: desc, Confidence: conf, Segments: segments})
	}

	for _, item := range asList(results["objectAnnotations"]) {
		obj, ok := item.(node)
		if !ok {
			continue
		}
		desc := asString(child(obj, "entity")["description"])
		if desc == "" {
			continue
		}
		frames := []Frame{}
		for _, f := range asList(obj["frames"]) {
			frame, ok := f.(node)
			if !ok {
				continue
			}
			box := child(frame, "normalizedBoundingBox")
			frames = append(frames, Frame{
				Time: parseTime(frame["timeOffset"]),
				BoundingBox: BoundingBox{
					Left:   asFloat(box["left"]),
					Top:    asFloat(box["top"]),
					Right:  asFloat(box["right"]),
					Bottom: asFloat(box["bottom"]),
				},
			})
		}
		out.Objects = append(out.Objects, Object{
			Description: desc,
			Confidence:  asFloat(obj["confidence"]),
			TrackID:     int64(asFloat(obj["trackId"])),
			Frames:      frames,
		})
	}

	for _, item := range asList(results["textAnnotations"]) {
		text, ok := item.(node)
		if !ok {
			continue
		}
		value := asString(text["text"])
		if value == "" {
			continue
		}
		segments, conf := parseSegments(text["segments"])
		out.Text = append(out.Text, TextSpan{Text: value, Confidence: conf, Segments: segments})
	}

	for _, item := range asList(results["shotAnnotations"]) {
		shot, ok := item.(node)
		if !ok {
			continue
		}
		out.Shots = append(out.Shots, Segment{
			StartTime: parseTime(shot["startTimeOffset"]),
			EndTime:   parseTime(shot["endTimeOffset"]),
		})
	}

	return out, nil
}

// parseSegments reads [{segment:{startTimeOffset,endTimeOffset}, confidence}]
// and returns the segments plus the highest confidence among them.
func parseSegments(v any) ([]Segment, float64) {
	segments := []Segment{}
	best := 0.0
	for _, item := range asList(v) {
		seg, ok := item.(node)
		if !ok {
			continue
		}
		span := child(seg, "segment")
		segments = append(segments, Segment{
			StartTime: parseTime(span["startTimeOffset"]),
			EndTime:   parseTime(span["endTimeOffset"]),
		})
		best = max(best, asFloat(seg["confidence"]))
	}
	return segments, best
}

// parseTime accepts the JSON duration form ("12.5s") and the proto object
// form ({"seconds": "12", "nanos": 500000000}).
func parseTime(v any) float64 {
	switch t := v.(type) {
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "s")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return finite(f)
	case node:
		return asFloat(t["seconds"]) + asFloat(t["nanos"])/1e9
	default:
		return asFloat(v)
	}
}

func child(n node, key string) node {
	if n == nil {
		return nil
	}
	c, _ := n[key].(node)
	return c
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat reads numbers encoded as JSON numbers or as decimal strings, which
// is how int64 proto fields arrive. Anything else is zero.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return finite(f)
	case float64:
		return finite(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return finite(f)
	default:
		return 0
	}
}

// finite maps NaN and the infinities, which ParseFloat accepts, to zero.
func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
