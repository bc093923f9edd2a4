// Package classify turns canonical annotations into room and action tags
// plus a richness score. Everything here is pure; the keyword tables are
// plain data handed to the Classifier.
package classify

import (
	"math"
	"strings"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/annotation"
)

// Category is one tag and the keywords that vote for it.
type Category struct {
	Name     string
	Keywords []string
}

// Lexicon is an ordered list of categories. Order decides room-type ties.
type Lexicon []Category

// DefaultRooms is the room lexicon in tie-break order.
func DefaultRooms() Lexicon {
	return Lexicon{
		{Name: "kitchen", Keywords: []string{"kitchen", "stove", "oven", "refrigerator", "sink", "countertop", "dishwasher", "microwave"}},
		{Name: "bathroom", Keywords: []string{"bathroom", "toilet", "bathtub", "shower", "sink", "mirror", "tile"}},
		{Name: "bedroom", Keywords: []string{"bedroom", "bed", "pillow", "mattress", "nightstand", "dresser", "closet"}},
		{Name: "living_room", Keywords: []string{"living room", "sofa", "couch", "television", "tv", "coffee table", "fireplace"}},
		{Name: "dining_room", Keywords: []string{"dining room", "dining table", "chair", "chandelier"}},
		{Name: "garage", Keywords: []string{"garage", "car", "tool", "workbench"}},
		{Name: "outdoor", Keywords: []string{"outdoor", "garden", "patio", "lawn", "pool", "deck"}},
		{Name: "office", Keywords: []string{"office", "desk", "computer", "monitor", "keyboard", "chair"}},
		{Name: "laundry", Keywords: []string{"laundry", "washing machine", "dryer", "iron"}},
	}
}

func DefaultActions() Lexicon {
	return Lexicon{
		{Name: "cleaning", Keywords: []string{"cleaning", "wiping", "scrubbing", "mopping", "sweeping", "vacuuming", "dusting"}},
		{Name: "organizing", Keywords: []string{"organizing", "arranging", "sorting", "folding", "stacking"}},
		{Name: "inspecting", Keywords: []string{"inspecting", "checking", "examining", "looking"}},
		{Name: "sanitizing", Keywords: []string{"sanitizing", "disinfecting", "spraying"}},
	}
}

type Classifier struct {
	Rooms   Lexicon
	Actions Lexicon
}

func New(rooms, actions Lexicon) *Classifier {
	return &Classifier{Rooms: rooms, Actions: actions}
}

// Default returns a classifier over the built-in lexicons.
func Default() *Classifier {
	return New(DefaultRooms(), DefaultActions())
}

// hits counts the keywords that appear as a substring of at least one label.
func hits(keywords []string, labels []string) int {
	n := 0
	for _, kw := range keywords {
		for _, label := range labels {
			if strings.Contains(label, kw) {
				n++
				break
			}
		}
	}
	return n
}

func normalize(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, strings.ToLower(strings.TrimSpace(l)))
	}
	return out
}

// RoomType picks the room with the highest non-zero keyword score. Equal
// scores resolve to the room declared first. ok is false when nothing
// matched.
func (c *Classifier) RoomType(labels []string) (room string, ok bool) {
	labels = normalize(labels)
	best := 0
	for _, cat := range c.Rooms {
		score := hits(cat.Keywords, labels)
		if score > best {
			best = score
			room = cat.Name
		}
	}
	return room, best > 0
}

// ActionTypes returns every action category with at least one keyword hit,
// in lexicon order.
func (c *Classifier) ActionTypes(labels []string) []string {
	labels = normalize(labels)
	actions := []string{}
	for _, cat := range c.Actions {
		if hits(cat.Keywords, labels) > 0 {
			actions = append(actions, cat.Name)
		}
	}
	return actions
}

const (
	labelPoints      = 3
	labelCap         = 30
	confidentPoints  = 2
	confidentCap     = 10
	confidentFloor   = 0.8
	objectPoints     = 3
	objectCap        = 30
	textPoints       = 2
	textCap          = 10
	shotPoints       = 1
	shotCap          = 10
	maxQualityPoints = 100.0
)

// QualityScore rates how rich an annotation set is, in [0, 1].
func QualityScore(a *annotation.Annotations) float64 {
	if a == nil {
		return 0
	}
	confident := 0
	for _, l := range a.Labels {
		if l.Confidence > confidentFloor {
			confident++
		}
	}
	score := min(len(a.Labels)*labelPoints, labelCap) +
		min(confident*confidentPoints, confidentCap) +
		min(len(a.Objects)*objectPoints, objectCap) +
		min(len(a.Text)*textPoints, textCap) +
		min(len(a.Shots)*shotPoints, shotCap)
	return float64(score) / maxQualityPoints
}

// EstimateDuration is the latest end time seen across shots and label
// segments. ok is false when the annotations carry no temporal data.
func EstimateDuration(a *annotation.Annotations) (seconds float64, ok bool) {
	if a == nil {
		return 0, false
	}
	for _, s := range a.Shots {
		seconds = latest(seconds, s.EndTime)
	}
	for _, l := range a.Labels {
		for _, seg := range l.Segments {
			seconds = latest(seconds, seg.EndTime)
		}
	}
	return seconds, seconds > 0
}

func latest(cur, end float64) float64 {
	if math.IsNaN(end) || math.IsInf(end, 0) {
		return cur
	}
	return max(cur, end)
}
