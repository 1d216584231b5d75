package cmd

import (
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/listing-crawler/internal/bloom"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func newTable(out io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func renderQueueStats(out io.Writer, st crawler.QueueStats) {
	t := newTable(out, table.Row{"Pending", "Due", "Processing", "Completed", "Failed"})
	t.AppendRow(table.Row{st.Pending, st.Due, st.Processing, st.Completed, st.Failed})
	t.Render()
}

func renderBloomStats(out io.Writer, filters []bloom.Stats) {
	t := newTable(out, table.Row{"Name", "Items", "Capacity", "FP rate", "Size", "Updated"})
	for _, f := range filters {
		t.AppendRow(table.Row{
			f.Name,
			f.ItemCount,
			f.Capacity,
			strconv.FormatFloat(f.ErrorRate, 'g', -1, 64),
			strconv.FormatInt(f.SizeBytes, 10) + " B",
			f.LastUpdated.Format(time.RFC3339),
		})
	}
	t.Render()
}

func renderBlacklist(out io.Writer, entries []crawler.BlacklistEntry) {
	t := newTable(out, table.Row{"Domain", "Reason", "Auto", "Added"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Domain, e.Reason, e.AutoAdded, e.CreatedAt.Format(time.RFC3339)})
	}
	t.Render()
}
