package element

import (
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// SecretInputs are payload keys kept in storage but never sent back to clients
var SecretInputs = []string{InputSignaturePassword}

// Redact returns a copy of el with secret payload keys removed. Payloads that
// do not decode are dropped entirely.
func Redact(el models.Element) models.Element {
	if len(el.Data) == 0 {
		return el
	}
	data, err := DecodeStored(el.Data)
	if err != nil {
		el.Data = nil
		return el
	}

	found := false
	for _, key := range SecretInputs {
		if _, ok := data[key]; ok {
			delete(data, key)
			found = true
		}
	}
	if !found {
		return el
	}

	raw, err := data.JSON()
	if err != nil {
		el.Data = nil
		return el
	}
	el.Data = raw
	return el
}

// RedactTemplate returns a copy of tpl whose page elements went through Redact
func RedactTemplate(tpl *models.Template) *models.Template {
	if tpl == nil {
		return nil
	}
	out := *tpl
	out.Pages = make([]models.Page, len(tpl.Pages))
	for i, page := range tpl.Pages {
		page.Elements = make([]models.Element, len(tpl.Pages[i].Elements))
		for j, el := range tpl.Pages[i].Elements {
			page.Elements[j] = Redact(el)
		}
		out.Pages[i] = page
	}
	if tpl.Pages == nil {
		out.Pages = nil
	}
	return &out
}
