package ingest

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/LJTian/newswire/internal/processor"
)

// ErrBadPayload is returned when a body is neither an item array nor an
// object carrying an "articles" array. Nothing is written in that case.
var ErrBadPayload = errors.New("bad payload")

type envelope struct {
	Articles json.RawMessage `json:"articles"`
}

// DecodeBatch accepts either a bare JSON array of items or {"articles": [...]}.
// An element that does not decode as an item object comes back as a zero
// RawItem so it is counted and skipped like any other incomplete item.
func DecodeBatch(body []byte) ([]processor.RawItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrBadPayload
	}

	var raws []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, ErrBadPayload
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, ErrBadPayload
		}
		arr := bytes.TrimSpace(env.Articles)
		if len(arr) == 0 || arr[0] != '[' {
			return nil, ErrBadPayload
		}
		if err := json.Unmarshal(arr, &raws); err != nil {
			return nil, ErrBadPayload
		}
	default:
		return nil, ErrBadPayload
	}

	items := make([]processor.RawItem, len(raws))
	for i, raw := range raws {
		var it processor.RawItem
		if err := json.Unmarshal(raw, &it); err == nil {
			items[i] = it
		}
	}
	return items, nil
}
