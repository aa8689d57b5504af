package web

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/issueimport/internal/importer"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

const pageStyle = `body{font-family:sans-serif;margin:2rem;color:#222}
table{border-collapse:collapse;margin:1rem 0}
th,td{border:1px solid #ccc;padding:.3rem .6rem;text-align:left;vertical-align:top}
.aborted{background:#fde8e8;padding:.6rem;border:1px solid #e99}
.failed{color:#a00}.skipped{color:#850}`

var esc = templ.EscapeString

// page wraps body in the shared HTML document.
func page(title string, body func(b *strings.Builder)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\"><title>")
		b.WriteString(esc(title))
		b.WriteString("</title><style>")
		b.WriteString(pageStyle)
		b.WriteString("</style></head><body>")
		body(&b)
		b.WriteString("</body></html>")
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// resultPage lists the counts of a commit and every row that did not
// go through, with its original values for correction.
func resultPage(project *tracker.Project, res *importer.Result) templ.Component {
	return page("Import results - "+project.Name, func(b *strings.Builder) {
		fmt.Fprintf(b, "<h1>Import results for %s</h1>", esc(project.Name))

		if res.Aborted {
			fmt.Fprintf(b, `<p class="aborted">Import stopped after %d rows: %s</p>`,
				res.Processed(), esc(res.AbortReason))
		}

		b.WriteString("<table><tr><th>Created</th><th>Updated</th><th>Skipped</th><th>Failed</th><th>Duration</th></tr>")
		fmt.Fprintf(b, "<tr><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%s</td></tr></table>",
			res.Created, res.Updated, res.Skipped, res.Failed, esc(res.Duration.Round(time.Millisecond).String()))

		if len(res.ProjectCounts) > 0 {
			names := make([]string, 0, len(res.ProjectCounts))
			for name := range res.ProjectCounts {
				names = append(names, name)
			}
			sort.Strings(names)
			b.WriteString("<h2>Tickets per project</h2><table><tr><th>Project</th><th>Tickets</th></tr>")
			for _, name := range names {
				fmt.Fprintf(b, "<tr><td>%s</td><td>%d</td></tr>", esc(name), res.ProjectCounts[name])
			}
			b.WriteString("</table>")
		}

		var unsaved []importer.OutcomeRecord
		for _, o := range res.Outcomes {
			if o.Status == importer.OutcomeFailed || o.Status == importer.OutcomeSkipped {
				unsaved = append(unsaved, o)
			}
		}
		if len(unsaved) == 0 {
			return
		}

		b.WriteString("<h2>Rows not saved</h2><table><tr><th>Line</th><th>Status</th><th>Errors</th>")
		for _, h := range res.Headers {
			fmt.Fprintf(b, "<th>%s</th>", esc(h))
		}
		b.WriteString("</tr>")
		for _, o := range unsaved {
			fmt.Fprintf(b, `<tr class="%s"><td>%d</td><td>%s</td><td>`, o.Status, o.Line, o.Status)
			for i, m := range o.Messages {
				if i > 0 {
					b.WriteString("<br>")
				}
				b.WriteString(esc(m))
			}
			b.WriteString("</td>")
			for i := range res.Headers {
				var v string
				if i < len(o.Row) {
					v = o.Row[i]
				}
				fmt.Fprintf(b, "<td>%s</td>", esc(v))
			}
			b.WriteString("</tr>")
		}
		b.WriteString("</table>")
		b.WriteString(`<p>` + strconv.Itoa(len(unsaved)) + ` rows can be corrected and uploaded again.</p>`)
	})
}

// errorPage shows a mapped error with its support code.
func errorPage(msg importer.UserMessage) templ.Component {
	return page("Import error", func(b *strings.Builder) {
		fmt.Fprintf(b, `<h1>%s</h1>`, esc(msg.Message))
		if msg.Action != "" {
			fmt.Fprintf(b, "<p>%s</p>", esc(msg.Action))
		}
		fmt.Fprintf(b, "<p><small>Code: %s</small></p>", esc(msg.Code))
	})
}
