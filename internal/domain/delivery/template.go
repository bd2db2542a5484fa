package delivery

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var emailTemplate = template.Must(template.New("send-link").Parse(`
<div style="font-family: Arial, sans-serif; padding: 20px; background-color: #09090b; color: #f4f4f5; border: 1px solid #1f2937;">
  <h2 style="color: #6366f1;">Thank you for shopping at Ghostmarket!</h2>
  <p>Your order <strong>#{{.OrderShort}}</strong> is complete.</p>

  <h3 style="color: #e4e4e7;">Your license key</h3>
  <p style="font-weight: bold; color: #4f46e5; background-color: #1f2937; padding: 10px; border-radius: 5px; text-align: center;">{{.LicenseKey}}</p>
  <p style="margin-top: 15px;">Use this key to activate your product.</p>

  <div style="margin-top: 30px; text-align: center;">
    <a href="{{.DownloadLink}}" style="display: inline-block; padding: 12px 25px; background-color: #4f46e5; color: white; text-decoration: none; border-radius: 8px; font-weight: bold; font-size: 16px;">DOWNLOAD NOW</a>
  </div>

  <p style="margin-top: 25px; font-size: 0.85em; color: #9ca3af;">This download link is valid for {{.ValidFor}}. You can request a fresh one from your order history at any time.</p>
</div>
`))

type emailData struct {
	OrderShort   string
	LicenseKey   string
	DownloadLink string
	ValidFor     string
}

func renderEmail(p SendLink, linkTTL time.Duration) (subject, body string, err error) {
	short := p.OrderID
	if len(short) > 8 {
		short = short[:8]
	}

	var buf bytes.Buffer
	err = emailTemplate.Execute(&buf, emailData{
		OrderShort:   short,
		LicenseKey:   p.LicenseKey,
		DownloadLink: p.DownloadLink,
		ValidFor:     humanizeTTL(linkTTL),
	})
	if err != nil {
		return "", "", err
	}
	return "Your Ghostmarket product is ready: " + p.ProductTitle, buf.String(), nil
}

// humanizeTTL renders a link lifetime for the email copy.
func humanizeTTL(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	case d >= time.Minute:
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	default:
		return d.String()
	}
}
