package canvas

import (
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/heartmarshall/autograder/internal/domain"
)

const unknownStudent = "Unknown"

// mapSubmissions converts one page of the submissions API into domain values.
// Canvas ids are usually numbers but some deployments send them as strings;
// both are kept verbatim.
func mapSubmissions(page gjson.Result) []domain.Submission {
	var out []domain.Submission
	page.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}

		sub := domain.Submission{
			ID:          item.Get("id").String(),
			UserID:      item.Get("user_id").String(),
			StudentName: unknownStudent,
		}
		if name := item.Get("user.name"); name.Exists() && name.Type != gjson.Null {
			sub.StudentName = name.String()
		}

		item.Get("attachments").ForEach(func(_, att gjson.Result) bool {
			sub.Attachments = append(sub.Attachments, domain.Attachment{
				URL:      att.Get("url").String(),
				Filename: att.Get("filename").String(),
			})
			return true
		})

		out = append(out, sub)
		return true
	})
	return out
}

var linkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// nextLink returns the rel="next" target of a Link header, or "".
func nextLink(header string) string {
	for _, m := range linkRe.FindAllStringSubmatch(header, -1) {
		if m[2] == "next" {
			return m[1]
		}
	}
	return ""
}
