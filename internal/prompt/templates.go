package prompt

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/storstekarn/VibeCheck/internal/model"
)

// templateDetailMax bounds how much of a defect's details is echoed into a
// template hint.
const templateDetailMax = 140

// pagePath extracts the path of the page a defect was found on, for use in
// template text.
func pagePath(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func clip(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "…"
}

// TemplateHint produces the deterministic fallback remediation hint for a
// defect. Identical (type, title, details, page) input always yields
// identical output.
func TemplateHint(d model.Defect) string {
	page := pagePath(d.Page)

	switch d.Type {
	case model.TypeConsoleError:
		return fmt.Sprintf(
			"A script on %s is logging an error (%s). Open the page in your browser's developer tools, reproduce the error in the console, and fix the script or remove the call that triggers it. If the error comes from a third-party script, update or replace that script.",
			page, clip(d.Details, templateDetailMax))
	case model.TypeNetworkError:
		return fmt.Sprintf(
			"A resource requested by %s is failing (%s). Check that the file exists at the requested URL and that the server responds successfully. Update the reference if the resource moved, or remove it if it is no longer needed.",
			page, clip(d.Details, templateDetailMax))
	case model.TypeBrokenLink:
		return fmt.Sprintf(
			"A link on %s points to a destination that no longer resolves (%s). Update the link to the correct address, or remove it if the destination is gone. If the target moved, add a redirect so existing references keep working.",
			page, clip(d.Details, templateDetailMax))
	case model.TypeBrokenImage:
		return fmt.Sprintf(
			"An image on %s is not rendering (%s). Verify the image file exists at the referenced path and is publicly readable. Re-upload the file or correct the src attribute, and keep a meaningful alt text for when it cannot load.",
			page, clip(d.Details, templateDetailMax))
	case model.TypeAccessibility:
		return fmt.Sprintf(
			"Page %s has an accessibility issue: %s. Review the affected elements and adjust the markup so assistive technology can interpret them, typically by adding labels, roles or sufficient color contrast. Re-run an accessibility check after the change.",
			page, clip(d.Title, templateDetailMax))
	case model.TypeResponsive:
		return fmt.Sprintf(
			"Page %s overflows horizontally on smaller screens (%s). Find the element wider than the viewport (fixed widths, large images and unwrapped tables are common causes) and give it a flexible width or allow it to wrap.",
			page, clip(d.Details, templateDetailMax))
	default:
		return fmt.Sprintf(
			"Page %s has a reported issue: %s. Investigate the details and apply a fix appropriate to your stack.",
			page, clip(d.Title, templateDetailMax))
	}
}
