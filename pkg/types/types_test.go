package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxMarshalsAsTuple(t *testing.T) {
	box := Box{Cx: 0.5, Cy: 0.25, W: 0.1, H: 0.2}

	data, err := json.Marshal(box)
	require.NoError(t, err)
	assert.Equal(t, "[0.5,0.25,0.1,0.2]", string(data))

	var back Box
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, box, back)
}

func TestBoxUnmarshalRejectsObjects(t *testing.T) {
	var box Box
	err := json.Unmarshal([]byte(`{"cx":0.5}`), &box)
	assert.Error(t, err)
}

func TestBoxInsideStruct(t *testing.T) {
	type record struct {
		Boxes []Box `json:"boxes"`
	}
	in := record{Boxes: []Box{{Cx: 0.5, Cy: 0.5, W: 1, H: 1}}}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"boxes":[[0.5,0.5,1,1]]}`, string(data))
}

func TestFromCorners(t *testing.T) {
	box := FromCorners(64, 64, 192, 128, 640, 320)

	assert.InDelta(t, 0.2, box.Cx, 1e-9)
	assert.InDelta(t, 0.3, box.Cy, 1e-9)
	assert.InDelta(t, 0.2, box.W, 1e-9)
	assert.InDelta(t, 0.2, box.H, 1e-9)
}

func TestFromCornersFullImage(t *testing.T) {
	box := FromCorners(0, 0, 640, 480, 640, 480)
	assert.Equal(t, Box{Cx: 0.5, Cy: 0.5, W: 1, H: 1}, box)
}

func TestClamp(t *testing.T) {
	box := Box{Cx: -0.1, Cy: 1.5, W: 0.5, H: 2}
	assert.Equal(t, Box{Cx: 0, Cy: 1, W: 0.5, H: 1}, box.Clamp())

	inside := Box{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25}
	assert.Equal(t, inside, inside.Clamp())
}
