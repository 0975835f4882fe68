package console

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// ContainerRow is one line of `redisbox ps`.
type ContainerRow struct {
	Name   string
	Image  string
	Status string
	Ports  string
}

// RenderContainers writes rows as an aligned table.
func RenderContainers(w io.Writer, theme Theme, rows []ContainerRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, theme.Muted.Render("no redisbox containers running"))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIMAGE\tSTATUS\tPORTS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Image, r.Status, r.Ports)
	}
	return tw.Flush()
}
