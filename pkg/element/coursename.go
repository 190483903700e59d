package element

import "context"

// TypeCourseName prints the course the certificate was issued in
const TypeCourseName = "coursename"

// IssueDataCourseFullName is the snapshot key read by the course name element
const IssueDataCourseFullName = "coursefullname"

const previewCourseName = "Course name"

type courseNameData struct {
	TextStyle
}

type courseNameVariant struct{}

// NewCourseNameVariant returns the course name element
func NewCourseNameVariant() Variant { return courseNameVariant{} }

func (courseNameVariant) Type() string { return TypeCourseName }

func (courseNameVariant) FormFields() []FormField { return textStyleFields() }

func (courseNameVariant) Validate(_ context.Context, _ *ValidateContext, data Payload) FieldErrors {
	var d courseNameData
	return Decode(data, &d)
}

func (courseNameVariant) Save(_ context.Context, _ *SaveContext, data Payload) (Payload, error) {
	var d courseNameData
	if errs := Decode(data, &d); len(errs) > 0 {
		return nil, validationError(errs)
	}
	d.TextStyle = d.TextStyle.withDefaults()
	return Encode(d)
}

func (v courseNameVariant) Render(_ context.Context, s Surface, rc *RenderContext) error {
	text, style, err := v.resolve(rc)
	if err != nil || text == "" {
		return err
	}
	return s.DrawText(rc.Element.PosX, rc.Element.PosY, text, style)
}

func (v courseNameVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	text, style, err := v.resolve(rc)
	if err != nil {
		return "", err
	}
	return styledSpan(TypeCourseName, text, style)
}

func (courseNameVariant) resolve(rc *RenderContext) (string, TextStyle, error) {
	var d courseNameData
	if err := decodeElement(rc, &d); err != nil {
		return "", TextStyle{}, err
	}
	if rc.Preview || rc.Issue == nil {
		return previewCourseName, d.TextStyle.withDefaults(), nil
	}
	name, _ := rc.IssueData()[IssueDataCourseFullName].(string)
	return name, d.TextStyle.withDefaults(), nil
}
