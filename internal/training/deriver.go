package training

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/annotation"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/classify"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
)

// MaxObjectLabels caps the distinct object labels kept on an entry.
const MaxObjectLabels = 20

type Deriver struct {
	store      Store
	classifier *classify.Classifier
	sink       Sink
	logg       *logging.Logger
}

// NewDeriver builds a Deriver. sink may be nil.
func NewDeriver(store Store, classifier *classify.Classifier, sink Sink, logg *logging.Logger) *Deriver {
	if classifier == nil {
		classifier = classify.Default()
	}
	if logg == nil {
		logg = logging.Nop()
	}
	return &Deriver{store: store, classifier: classifier, sink: sink, logg: logg}
}

// Build computes the entry for one media item without storing it.
func (d *Deriver) Build(mediaID, videoURL string, a *annotation.Annotations) *Entry {
	labels := lower(a.LabelDescriptions())
	objects := lower(a.ObjectDescriptions())

	combined := make([]string, 0, len(labels)+len(objects))
	combined = append(combined, labels...)
	combined = append(combined, objects...)

	e := &Entry{
		SourceMediaID: mediaID,
		VideoURL:      videoURL,
		ActionTypes:   d.classifier.ActionTypes(labels),
		ObjectLabels:  distinct(objects, MaxObjectLabels),
		TechniqueTags: []string{},
		QualityScore:  classify.QualityScore(a),
	}
	if room, ok := d.classifier.RoomType(combined); ok {
		e.RoomType = &room
	}
	if seconds, ok := classify.EstimateDuration(a); ok {
		rounded := int64(math.Ceil(seconds))
		e.DurationSeconds = &rounded
	}
	return e
}

// Derive builds and upserts the entry for mediaID. Calling it again for the
// same media overwrites the derived fields and keeps the entry's ID. Export
// to the sink is best effort.
func (d *Deriver) Derive(ctx context.Context, mediaID, videoURL string, a *annotation.Annotations) (*Entry, error) {
	if a == nil {
		return nil, fmt.Errorf("derive training entry for %s: nil annotations", mediaID)
	}
	e := d.Build(mediaID, videoURL, a)
	if err := d.store.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("derive training entry for %s: %w", mediaID, err)
	}

	room := "none"
	if e.RoomType != nil {
		room = *e.RoomType
	}
	d.logg.Info(ctx, fmt.Sprintf("training entry stored: room=%s quality=%.2f", room, e.QualityScore))

	if d.sink != nil {
		if err := d.sink.Export(ctx, *e); err != nil {
			d.logg.Warn(ctx, "training entry export failed", err)
		}
	}
	return e, nil
}

func lower(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	return out
}

// distinct keeps first occurrences in order, up to limit values.
func distinct(values []string, limit int) []string {
	seen := make(map[string]struct{}, len(values))
	out := []string{}
	for _, v := range values {
		if len(out) == limit {
			break
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
