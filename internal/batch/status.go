package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/lamim/pairforge/pkg/models"
)

// RenderStatus prints one row per batch
func RenderStatus(w io.Writer, batches []models.BatchInfo) {
	var data [][]string
	for _, b := range batches {
		created := "-"
		if b.CreatedAt > 0 {
			created = time.Unix(b.CreatedAt, 0).UTC().Format(time.DateTime)
		}
		data = append(data, []string{
			b.BatchFile,
			b.BatchID,
			string(b.Status),
			fmt.Sprintf("%d/%d", b.RequestCounts.Completed, b.RequestCounts.Total),
			fmt.Sprint(b.RequestCounts.Failed),
			created,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"FILE", "BATCH ID", "STATUS", "COMPLETED", "FAILED", "CREATED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
