package export

import (
	"bytes"
	"encoding/base64"
	"html/template"
	"strings"
	"time"
)

var htmlTemplate = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 0; background: #f4f5f7; color: #141414; }
header { padding: 24px 32px 8px; }
section { background: #ffffff; margin: 16px 32px; padding: 16px 24px; border-radius: 6px; page-break-after: always; }
section h2 { margin: 0 0 8px; font-size: 18px; }
.description { color: #505050; font-size: 13px; }
.chart img { max-width: 100%; height: auto; display: block; margin: 0 auto; }
.placeholder { border: 1px solid #c8c8c8; background: #f8f8f8; padding: 64px 16px; text-align: center; }
.placeholder strong { color: #962828; font-size: 18px; display: block; margin-bottom: 8px; }
footer { color: #787878; font-size: 11px; margin-top: 8px; }
</style>
</head>
<body>
<header><h1>{{.Title}}</h1><p>Generated {{.Generated}}</p></header>
{{range .Pages}}<section>
<h2>{{.Name}}</h2>
{{if .Description}}<div class="description">{{.Description}}</div>{{end}}
{{if .Image}}<div class="chart"><img alt="{{.Name}}" src="{{.Image}}"></div>
{{else}}<div class="placeholder"><strong>Chart could not be rendered</strong>{{.Reason}}</div>
{{end}}<footer>{{.Footer}}</footer>
</section>
{{end}}</body>
</html>
`))

type htmlPage struct {
	Name        string
	Description template.HTML
	Image       template.URL
	Reason      string
	Footer      string
}

// buildHTML writes a self-contained document with images inlined as data URIs.
func buildHTML(title string, pages []page, report *progress) ([]byte, error) {
	view := struct {
		Title     string
		Generated string
		Pages     []htmlPage
	}{Title: title, Generated: time.Now().UTC().Format(time.RFC1123)}

	for i, p := range pages {
		hp := htmlPage{Name: chartName(p, i), Footer: footerLeft(p)}
		if p.chart != nil && strings.TrimSpace(p.chart.Description) != "" {
			var desc bytes.Buffer
			if err := descriptionMarkdown.Convert([]byte(p.chart.Description), &desc); err != nil {
				return nil, err
			}
			// goldmark escapes raw HTML unless WithUnsafe is set
			hp.Description = template.HTML(desc.String())
		}
		if p.err == nil {
			hp.Image = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(p.png))
		} else {
			hp.Reason = placeholderReason(p.err)
		}
		view.Pages = append(view.Pages, hp)
		report.step("page " + hp.Name)
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
