package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/JonMunkholm/issueimport/internal/importer"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *importer.Result) error {
	if outputJSON {
		return printJSON(w, res)
	}

	fmt.Fprintf(w, "\nImport %s\n", res.Handle)
	if res.Aborted {
		fmt.Fprintf(w, "Aborted: %s\n", res.AbortReason)
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Outcome", "Rows"})
	table.Append([]string{"Created", strconv.Itoa(res.Created)})
	table.Append([]string{"Updated", strconv.Itoa(res.Updated)})
	table.Append([]string{"Skipped", strconv.Itoa(res.Skipped)})
	table.Append([]string{"Failed", strconv.Itoa(res.Failed)})
	table.Append([]string{"Processed", strconv.Itoa(res.Processed())})
	table.Render()

	if len(res.ProjectCounts) > 0 {
		fmt.Fprintln(w, "\nSaved per project")
		table = tablewriter.NewWriter(w)
		table.SetHeader([]string{"Project", "Tickets"})
		names := make([]string, 0, len(res.ProjectCounts))
		for name := range res.ProjectCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			table.Append([]string{name, strconv.Itoa(res.ProjectCounts[name])})
		}
		table.Render()
	}

	failed := res.FailedRows()
	if len(failed) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRows not saved")
	table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"Line", "Errors"})
	table.SetAutoWrapText(false)
	for _, row := range failed {
		table.Append([]string{strconv.Itoa(row.Line), strings.Join(row.Messages, "; ")})
	}
	table.Render()
	return nil
}

func printPreview(w io.Writer, p *importer.Preview) error {
	if outputJSON {
		return printJSON(w, p)
	}

	fmt.Fprintf(w, "\nUpload %s (%s)\n\n", p.Handle, p.FileName)

	if len(p.Samples) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader(p.Headers)
		for _, row := range p.Samples {
			table.Append(row)
		}
		table.Render()
	}

	fmt.Fprintln(w, "\nSuggested mapping")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Column", "Attribute"})
	for _, h := range p.Headers {
		table.Append([]string{h, p.Suggested[h]})
	}
	table.Render()
	return nil
}
