package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/message"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/revenue"
)

// ActorGetter loads a directory record by id.
type ActorGetter interface {
	GetActor(ctx context.Context, id string) (actors.Actor, error)
}

// Reporter builds revenue reports.
type Reporter interface {
	Report(ctx context.Context, req revenue.ReportRequest) (revenue.Result, error)
}

// ReportOptions controls one report invocation.
type ReportOptions struct {
	ViewerID   string
	Period     string
	Policy     string
	JSONOutput bool
	Lang       string
	Top        int
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReportCLI prints a revenue report as a viewer would see it.
type ReportCLI struct {
	actors  ActorGetter
	reports Reporter
}

// NewReportCLI constructs the report helper.
func NewReportCLI(dir ActorGetter, reports Reporter) (*ReportCLI, error) {
	if dir == nil || reports == nil {
		return nil, errors.New("report cli: directory and reporter required")
	}
	return &ReportCLI{actors: dir, reports: reports}, nil
}

// Command runs the report and maps failures to an exit code, writing the
// error to Stderr.
func (c *ReportCLI) Command(ctx context.Context, opts ReportOptions) int {
	if err := c.Run(ctx, opts); err != nil {
		fmt.Fprintf(opts.Stderr, "report: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// Run builds and prints the report.
func (c *ReportCLI) Run(ctx context.Context, opts ReportOptions) error {
	if opts.ViewerID == "" {
		return fmt.Errorf("--viewer is required: %w", errMissingFlag)
	}
	token, err := period.ParseToken(opts.Period)
	if err != nil {
		return err
	}
	policy, err := revenue.ParsePolicy(opts.Policy)
	if err != nil {
		return err
	}
	viewer, err := c.actors.GetActor(ctx, opts.ViewerID)
	if err != nil {
		return fmt.Errorf("report cli: viewer %s: %w", opts.ViewerID, err)
	}
	res, err := c.reports.Report(ctx, revenue.ReportRequest{Viewer: viewer, Period: token, Policy: policy})
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return writeReport(opts.Stdout, NewPrinter(opts.Lang), res, opts.Top)
}

func writeReport(w io.Writer, p *message.Printer, res revenue.Result, top int) error {
	if top <= 0 {
		top = 5
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "viewer\t%s (%s)\n", res.Meta.ViewerID, res.Meta.Role)
	fmt.Fprintf(tw, "period\t%s [%s, %s)\n", res.Meta.Period,
		res.Meta.Interval.Start.Format("2006-01-02 15:04"), res.Meta.Interval.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(tw, "policy\t%s\n", res.Meta.Policy)
	fmt.Fprintf(tw, "orders\t%d\n", res.OrderCount)
	fmt.Fprintf(tw, "revenue\t%s\n", Amount(p, res.TotalRevenue))

	sections := []struct {
		title string
		rows  []revenue.Breakdown
	}{
		{"by product", res.ByProduct},
		{"by category", res.ByCategory},
		{"by customer", res.ByCustomer},
		{"by sale", res.BySale},
		{"by sale admin", res.BySaleAdmin},
	}
	for _, s := range sections {
		if len(s.rows) == 0 {
			continue
		}
		fmt.Fprintf(tw, "\n%s\t\n", s.title)
		for i, row := range s.rows {
			if i == top {
				fmt.Fprintf(tw, "  …\t%d more\n", len(s.rows)-top)
				break
			}
			fmt.Fprintf(tw, "  %s\t%s\n", row.Label, Amount(p, row.Revenue))
		}
	}
	if trend := res.TrendChronological(); len(trend) > 0 {
		fmt.Fprintf(tw, "\ntrend\t\n")
		for _, pt := range trend {
			fmt.Fprintf(tw, "  %s\t%s\n", pt.Label, Amount(p, pt.Revenue))
		}
	}
	return tw.Flush()
}
