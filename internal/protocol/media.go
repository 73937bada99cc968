package protocol

import (
	"encoding/json"
	"fmt"
)

// MediaItem is one named entry of a multi-media result.
type MediaItem struct {
	Name      string
	MediaType string
	Data      []byte
}

// Media is a fully decoded job result: a single binary resource, or a list
// of named items extracted from an archive.
type Media struct {
	Multi     bool
	MediaType string
	Data      []byte
	Items     []MediaItem
}

type mediaItemWire struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// EncodeMulti serializes a multi-media result into a single string, each
// item's bytes in transport-safe form.
func EncodeMulti(items []MediaItem) (string, error) {
	wire := make([]mediaItemWire, 0, len(items))
	for _, it := range items {
		wire = append(wire, mediaItemWire{
			Name:      it.Name,
			MediaType: it.MediaType,
			Data:      Encode(it.Data),
		})
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode multi-media payload: %w", err)
	}
	return string(b), nil
}

// DecodeMulti reverses EncodeMulti.
func DecodeMulti(s string) ([]MediaItem, error) {
	var wire []mediaItemWire
	if err := json.Unmarshal([]byte(s), &wire); err != nil {
		return nil, fmt.Errorf("decode multi-media payload: %w", err)
	}
	items := make([]MediaItem, 0, len(wire))
	for _, w := range wire {
		data, err := Decode(w.Data)
		if err != nil {
			return nil, fmt.Errorf("decode multi-media item %q: %w", w.Name, err)
		}
		items = append(items, MediaItem{Name: w.Name, MediaType: w.MediaType, Data: data})
	}
	return items, nil
}

// DecodeResult turns a reassembled result payload back into consumable
// bytes according to its declared shape.
func DecodeResult(multi bool, mediaType, payload string) (*Media, error) {
	if multi {
		items, err := DecodeMulti(payload)
		if err != nil {
			return nil, err
		}
		return &Media{Multi: true, Items: items}, nil
	}
	data, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	return &Media{MediaType: mediaType, Data: data}, nil
}
