package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// FieldKind is the input control a form field is rendered with
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextArea FieldKind = "textarea"
	FieldNumber   FieldKind = "number"
	FieldSelect   FieldKind = "select"
	FieldColour   FieldKind = "colour"
	FieldPassword FieldKind = "password"
	FieldFile     FieldKind = "file"
	FieldDraft    FieldKind = "draft"
)

// FormField describes one input of an element form
type FormField struct {
	Name     string      `json:"name"`
	Label    string      `json:"label"`
	Kind     FieldKind   `json:"kind"`
	Required bool        `json:"required,omitempty"`
	Options  []string    `json:"options,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Help     string      `json:"help,omitempty"`
}

// Keys of the fields every element shares
const (
	FieldName     = "name"
	FieldPosX     = "pos_x"
	FieldPosY     = "pos_y"
	FieldSequence = "sequence"
)

// CommonFormFields returns the fields shared by every element type
func CommonFormFields() []FormField {
	return []FormField{
		{Name: FieldName, Label: "Element name", Kind: FieldText, Required: true},
		{Name: FieldPosX, Label: "Position X (mm)", Kind: FieldNumber, Default: 0},
		{Name: FieldPosY, Label: "Position Y (mm)", Kind: FieldNumber, Default: 0},
		{Name: FieldSequence, Label: "Layer", Kind: FieldNumber, Help: "Higher layers are drawn on top"},
	}
}

func textStyleFields() []FormField {
	return []FormField{
		{Name: "font", Label: "Font", Kind: FieldSelect, Options: []string{"helvetica", "times", "courier"}, Default: DefaultTextStyle.Font},
		{Name: "fontsize", Label: "Font size", Kind: FieldNumber, Default: DefaultTextStyle.FontSize},
		{Name: "colour", Label: "Colour", Kind: FieldColour, Default: DefaultTextStyle.Colour},
		{Name: "width", Label: "Width (mm)", Kind: FieldNumber, Default: 0, Help: "0 lets the text run to the page margin"},
		{Name: "align", Label: "Alignment", Kind: FieldSelect, Options: []string{"L", "C", "R"}, Default: DefaultTextStyle.Align},
	}
}

// CommonValues are the shared fields found in a flat form
type CommonValues struct {
	Name     *string
	PosX     *float64
	PosY     *float64
	Sequence *int
}

// SplitCommon separates the shared fields from the variant fields of a form
func SplitCommon(form FormData) (CommonValues, FormData, FieldErrors) {
	var cv CommonValues
	errs := FieldErrors{}
	rest := FormData{}

	for k, v := range form {
		switch k {
		case FieldName:
			s, ok := v.(string)
			if !ok {
				errs[k] = "must be a string"
				continue
			}
			cv.Name = &s
		case FieldPosX, FieldPosY:
			f, ok := floatValue(v)
			if !ok {
				errs[k] = "must be a number"
				continue
			}
			if k == FieldPosX {
				cv.PosX = &f
			} else {
				cv.PosY = &f
			}
		case FieldSequence:
			n, ok := uintValue(v)
			if !ok || n == 0 {
				errs[k] = "must be a positive integer"
				continue
			}
			seq := int(n)
			cv.Sequence = &seq
		default:
			rest[k] = v
		}
	}

	if cv.Name != nil && strings.TrimSpace(*cv.Name) == "" {
		errs[FieldName] = "required"
	}
	if cv.PosX != nil && *cv.PosX < 0 {
		errs[FieldPosX] = "must be at least 0"
	}
	if cv.PosY != nil && *cv.PosY < 0 {
		errs[FieldPosY] = "must be at least 0"
	}
	return cv, rest, errs
}

// DecodeStored reads an element's stored payload
func DecodeStored(data datatypes.JSON) (Payload, error) {
	p := Payload{}
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode element data: %w", err)
	}
	return p, nil
}

// JSON encodes the payload for storage
func (p Payload) JSON() (datatypes.JSON, error) {
	if p == nil {
		p = Payload{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode element data: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// Merge overlays the submitted keys on the stored payload. Keys absent from
// the form keep their stored value.
func Merge(stored Payload, form FormData) Payload {
	merged := make(Payload, len(stored)+len(form))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range form {
		merged[k] = v
	}
	return merged
}

// Has reports whether the key is present and non-empty
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns a string value or ""
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Uint returns an unsigned integer value
func (p Payload) Uint(key string) (uint64, bool) {
	return uintValue(p[key])
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode fills a typed payload struct from the merged payload and validates it
func Decode(data Payload, out interface{}) FieldErrors {
	raw, err := json.Marshal(data)
	if err != nil {
		return FieldErrors{"data": "malformed payload"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return FieldErrors{te.Field: "must be a " + kindName(te.Type)}
		}
		return FieldErrors{"data": "malformed payload"}
	}
	return Check(out)
}

// Check runs struct validation and keys the messages by JSON field name
func Check(v interface{}) FieldErrors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"data": err.Error()}
	}

	errs := FieldErrors{}
	for _, fe := range verrs {
		if _, exists := errs[fe.Field()]; exists {
			continue
		}
		errs[fe.Field()] = message(fe)
	}
	return errs
}

// Encode converts a typed payload struct back into a Payload
func Encode(v interface{}) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode element data: %w", err)
	}
	p := Payload{}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to encode element data: %w", err)
	}
	return p, nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "hexcolor":
		return "must be a hex colour such as #000000"
	default:
		return "invalid value"
	}
}

func kindName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64, reflect.Uint64, reflect.Uint, reflect.Int32, reflect.Uint32:
		return "number"
	case reflect.Bool:
		return "boolean"
	default:
		return t.Kind().String()
	}
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func uintValue(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		return u, err == nil
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(n), 10, 64)
		return u, err == nil
	default:
		return 0, false
	}
}
