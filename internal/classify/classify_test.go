package classify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/annotation"
)

func TestRoomTypePicksHighestScore(t *testing.T) {
	c := Default()

	room, ok := c.RoomType([]string{"stove", "sink", "bed"})
	assert.True(t, ok)
	assert.Equal(t, "kitchen", room)

	_, ok = c.RoomType(nil)
	assert.False(t, ok)

	_, ok = c.RoomType([]string{"spaceship"})
	assert.False(t, ok)
}

func TestRoomTypeMatchesSubstringsCaseInsensitively(t *testing.T) {
	room, ok := Default().RoomType([]string{"Double Bed", "Pillowcase", "Mirror"})
	assert.True(t, ok)
	assert.Equal(t, "bedroom", room)
}

func TestRoomTypeTieGoesToFirstDeclared(t *testing.T) {
	// "sink" scores one for both kitchen and bathroom.
	room, ok := Default().RoomType([]string{"sink"})
	assert.True(t, ok)
	assert.Equal(t, "kitchen", room)

	reordered := New(Lexicon{DefaultRooms()[1], DefaultRooms()[0]}, nil)
	room, _ = reordered.RoomType([]string{"sink"})
	assert.Equal(t, "bathroom", room)

	// "chair" ties dining_room and office.
	room, _ = Default().RoomType([]string{"chair"})
	assert.Equal(t, "dining_room", room)
}

func TestActionTypesIsMultiLabel(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{"cleaning", "sanitizing"}, c.ActionTypes([]string{"Wiping", "spraying bottle"}))
	assert.Equal(t, []string{}, c.ActionTypes([]string{"kitchen"}))
	assert.Empty(t, c.ActionTypes(nil))
}

func TestQualityScore(t *testing.T) {
	assert.Zero(t, QualityScore(&annotation.Annotations{}))
	assert.Zero(t, QualityScore(nil))

	a := &annotation.Annotations{
		Labels:  []annotation.Label{{Confidence: 0.9}, {Confidence: 0.81}, {Confidence: 0.8}},
		Objects: []annotation.Object{{}, {}},
		Text:    []annotation.TextSpan{{}},
		Shots:   []annotation.Segment{{}, {}, {}},
	}
	// 9 + 4 + 6 + 2 + 3
	assert.InDelta(t, 0.24, QualityScore(a), 1e-9)
}

func TestQualityScoreIsCapped(t *testing.T) {
	a := &annotation.Annotations{
		Labels:  make([]annotation.Label, 50),
		Objects: make([]annotation.Object, 50),
		Text:    make([]annotation.TextSpan, 50),
		Shots:   make([]annotation.Segment, 50),
	}
	for i := range a.Labels {
		a.Labels[i].Confidence = 0.99
	}
	// 30 + 10 + 30 + 10 + 10
	assert.InDelta(t, 0.9, QualityScore(a), 1e-9)

	boundary := &annotation.Annotations{
		Labels:  make([]annotation.Label, 10),
		Objects: make([]annotation.Object, 10),
		Text:    make([]annotation.TextSpan, 5),
		Shots:   make([]annotation.Segment, 10),
	}
	for i := range boundary.Labels[:5] {
		boundary.Labels[i].Confidence = 0.9
	}
	assert.InDelta(t, 0.9, QualityScore(boundary), 1e-9)

	below := &annotation.Annotations{
		Labels:  make([]annotation.Label, 9),
		Objects: make([]annotation.Object, 9),
		Text:    make([]annotation.TextSpan, 4),
		Shots:   make([]annotation.Segment, 9),
	}
	for i := range below.Labels[:4] {
		below.Labels[i].Confidence = 0.9
	}
	// 27 + 8 + 27 + 8 + 9
	assert.InDelta(t, 0.79, QualityScore(below), 1e-9)

	for n := 0; n < 60; n += 7 {
		partial := &annotation.Annotations{Labels: make([]annotation.Label, n), Shots: make([]annotation.Segment, n)}
		score := QualityScore(partial)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestEstimateDuration(t *testing.T) {
	_, ok := EstimateDuration(&annotation.Annotations{})
	assert.False(t, ok)

	a := &annotation.Annotations{
		Shots: []annotation.Segment{{EndTime: 6}, {StartTime: 6, EndTime: 14.2}},
		Labels: []annotation.Label{
			{Segments: []annotation.Segment{{EndTime: 12.5}}},
			{Segments: []annotation.Segment{{EndTime: 15.1}}},
		},
	}
	d, ok := EstimateDuration(a)
	assert.True(t, ok)
	assert.InDelta(t, 15.1, d, 1e-9)
}

func TestEstimateDurationIgnoresNonFiniteTimes(t *testing.T) {
	a := &annotation.Annotations{
		Shots:  []annotation.Segment{{EndTime: math.Inf(1)}, {EndTime: 8}},
		Labels: []annotation.Label{{Segments: []annotation.Segment{{EndTime: math.NaN()}}}},
	}
	d, ok := EstimateDuration(a)
	assert.True(t, ok)
	assert.InDelta(t, 8, d, 1e-9)

	_, ok = EstimateDuration(&annotation.Annotations{Shots: []annotation.Segment{{EndTime: math.Inf(1)}}})
	assert.False(t, ok)
}
