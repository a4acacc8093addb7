package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// trackWire is the tracker's JSON shape: {"bbox":[l,t,r,b],"track_id":7,"class_id":0}
type trackWire struct {
	BBox    [4]float64      `json:"bbox"`
	TrackID json.RawMessage `json:"track_id"`
	ClassID int             `json:"class_id"`
}

// MarshalJSON encodes the track in the tracker wire shape.
func (t Track) MarshalJSON() ([]byte, error) {
	id, err := json.Marshal(t.TrackID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(trackWire{
		BBox:    [4]float64{t.BBox.Left, t.BBox.Top, t.BBox.Right, t.BBox.Bottom},
		TrackID: id,
		ClassID: t.ClassID,
	})
}

// UnmarshalJSON accepts numeric or string track ids.
func (t *Track) UnmarshalJSON(data []byte) error {
	var w trackWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	raw := bytes.TrimSpace(w.TrackID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("track_id is required")
	}

	var id string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("invalid track_id: %w", err)
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("invalid track_id: %w", err)
		}
		if i, err := n.Int64(); err == nil {
			id = strconv.FormatInt(i, 10)
		} else {
			id = n.String()
		}
	}

	t.BBox = BBox{Left: w.BBox[0], Top: w.BBox[1], Right: w.BBox[2], Bottom: w.BBox[3]}
	t.TrackID = id
	t.ClassID = w.ClassID
	return nil
}
