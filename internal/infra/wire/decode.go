package wire

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/spotwatch/internal/domain/fault"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their `field` tag so errors read like the capture layout.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("field"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// Decode projects msg into the struct pointed to by out. Struct fields carry
// the field number in a mapstructure tag, e.g.
//
//	DeviceID string `mapstructure:"2" field:"device_id" validate:"required"`
//
// Fields marked required that are absent or empty produce a single error
// naming every missing field.
func Decode(msg Message, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
		DecodeHook:       reinterpretHook,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := dec.Decode(toStringMap(msg)); err != nil {
		return errors.Mark(errors.Wrap(err, "unexpected message shape"), fault.ErrDecode)
	}

	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Mark(errors.Wrap(err, "failed to validate message"), fault.ErrDecode)
		}
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			missing = append(missing, fe.Field())
		}
		return errors.Mark(errors.Newf("missing field(s): %s", strings.Join(missing, ", ")), fault.ErrDecode)
	}
	return nil
}

// reinterpretHook fixes values the length-delimited heuristic guessed wrong:
// a string where a struct is expected is parsed as a message, a message where
// a string is expected is re-encoded to its original bytes.
func reinterpretHook(from, to reflect.Type, data any) (any, error) {
	switch {
	case from.Kind() == reflect.String && (to.Kind() == reflect.Struct || to == reflect.TypeOf(Message{})):
		nested, err := ParseMessage([]byte(data.(string)))
		if err != nil {
			return data, nil
		}
		if to.Kind() == reflect.Struct {
			return toStringMap(nested), nil
		}
		return nested, nil
	case from.Kind() == reflect.Map && to.Kind() == reflect.String:
		if m, ok := data.(map[string]any); ok {
			return string(Encode(fromStringMap(m))), nil
		}
	case from.Kind() == reflect.Map && to == reflect.TypeOf(Message{}):
		if m, ok := data.(map[string]any); ok {
			return fromStringMap(m), nil
		}
	}
	return data, nil
}

func toStringMap(msg Message) map[string]any {
	out := make(map[string]any, len(msg))
	for tag, v := range msg {
		if nested, ok := v.(Message); ok {
			out[strconv.Itoa(tag)] = toStringMap(nested)
			continue
		}
		out[strconv.Itoa(tag)] = v
	}
	return out
}

func fromStringMap(m map[string]any) Message {
	out := make(Message, len(m))
	for k, v := range m {
		tag, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[tag] = fromStringMap(nested)
			continue
		}
		out[tag] = v
	}
	return out
}
