package event

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// NormaliseData converts a payload to its JSON shape (maps, slices, float64, string, bool)
// so every store hands processors the same representation.
func NormaliseData(data interface{}) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var normalised interface{}
	if err := json.Unmarshal(bytes, &normalised); err != nil {
		return nil, errors.WithStack(err)
	}
	return normalised, nil
}

// DecodeData decodes a payload into out, which must be a pointer. Numbers and strings are
// converted leniently, so a payload read back from any store decodes the same way.
func DecodeData(data interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "json",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(decoder.Decode(data))
}

func Marshal(e *Event) ([]byte, error) {
	bytes, err := json.Marshal(e)
	return bytes, errors.WithStack(err)
}

func Unmarshal(bytes []byte) (*Event, error) {
	e := &Event{}
	if err := json.Unmarshal(bytes, e); err != nil {
		return nil, errors.WithStack(err)
	}
	return e, nil
}
