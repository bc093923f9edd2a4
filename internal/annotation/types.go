package annotation

import "time"

// Feature names an analysis the annotation service runs over a video.
type Feature string

const (
	FeatureLabel  Feature = "LABEL_DETECTION"
	FeatureObject Feature = "OBJECT_TRACKING"
	FeatureText   Feature = "TEXT_DETECTION"
	FeatureShot   Feature = "SHOT_CHANGE_DETECTION"
)

// AllFeatures is the feature set the pipeline requests.
var AllFeatures = []Feature{FeatureLabel, FeatureObject, FeatureText, FeatureShot}

// Annotations is the provider-agnostic result stored on the media record.
// Times are seconds from the start of the video.
type Annotations struct {
	Labels           []Label    `json:"labels"`
	Objects          []Object   `json:"objects"`
	Text             []TextSpan `json:"text"`
	Shots            []Segment  `json:"shots"`
	ProcessedAt      time.Time  `json:"processedAt"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`
}

type Segment struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type Label struct {
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	Segments    []Segment `json:"segments"`
}

type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

type Frame struct {
	Time        float64     `json:"time"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

type Object struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	TrackID     int64   `json:"trackId"`
	Frames      []Frame `json:"frames"`
}

type TextSpan struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments"`
}

// LabelDescriptions returns label descriptions in order.
func (a *Annotations) LabelDescriptions() []string {
	out := make([]string, 0, len(a.Labels))
	for _, l := range a.Labels {
		out = append(out, l.Description)
	}
	return out
}

// ObjectDescriptions returns object descriptions in order, duplicates included.
func (a *Annotations) ObjectDescriptions() []string {
	out := make([]string, 0, len(a.Objects))
	for _, o := range a.Objects {
		out = append(out, o.Description)
	}
	return out
}
