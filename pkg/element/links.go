package element

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yourorg/certificate-service/pkg/db/models"
)

// Links builds the public URLs that appear on certificates and in markup
type Links struct {
	// BaseURL is the API root, e.g. https://certs.example.com/api/v1
	BaseURL string
}

func (l Links) base() string {
	return strings.TrimRight(l.BaseURL, "/")
}

// VerifyURL returns the verification page for a code
func (l Links) VerifyURL(code string) string {
	return l.base() + "/verify?code=" + url.QueryEscape(code)
}

// IssuePDFURL returns the download URL of an issued certificate
func (l Links) IssuePDFURL(code string) string {
	return l.base() + "/issues/" + url.PathEscape(code) + "/pdf"
}

// FileURL returns the URL a stored file is served from
func (l Links) FileURL(ref models.FileRef) string {
	path := ref.FilePath
	if path == "" {
		path = "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	escaped := make([]string, 0, len(segments)+1)
	for _, seg := range segments {
		if seg != "" {
			escaped = append(escaped, url.PathEscape(seg))
		}
	}
	escaped = append(escaped, url.PathEscape(ref.Filename))

	return fmt.Sprintf("%s/files/%d/%s/%d/%s", l.base(), ref.ContextID, url.PathEscape(ref.Area), ref.ItemID, strings.Join(escaped, "/"))
}
