package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const (
	ruleWidth         = 68
	maxRenderedRecs   = 5
	maxRenderedRoutes = 10
)

// Render writes a human-readable console rendering of rep.
func Render(w io.Writer, rep Report) error {
	bw := bufio.NewWriter(w)
	rule := strings.Repeat("=", ruleWidth)
	thin := strings.Repeat("-", ruleWidth)

	h := rep.Header
	fmt.Fprintln(bw, rule)
	fmt.Fprintf(bw, "  %s\n", h.Title)
	fmt.Fprintln(bw, rule)
	fmt.Fprintf(bw, "  Generated: %s\n", h.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(bw, "  Report #%d   Uptime: %.1fs   Cycles: %d\n", h.ReportNumber, h.UptimeSeconds, h.Cycles)

	section(bw, thin, "TRAFFIC OVERVIEW")
	t := rep.Traffic
	tw := tabwriter.NewWriter(bw, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "    Total Requests:\t%d\n", t.TotalRequests)
	fmt.Fprintf(tw, "    Global RPS:\t%.2f\n", t.GlobalRPS)
	fmt.Fprintf(tw, "    Error Rate:\t%.4f\n", t.ErrorRate)
	fmt.Fprintf(tw, "    Tracked Routes:\t%d\n", t.TrackedRoutes)
	fmt.Fprintf(tw, "    Tracked Middleware:\t%d\n", t.TrackedMiddleware)
	tw.Flush()

	if len(rep.Routes.Routes) > 0 {
		section(bw, thin, "ROUTES")
		tw = tabwriter.NewWriter(bw, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "    ROUTE\tREQS\tRPS\tP95 MS\tERR\tHEAT\tFLAGS")
		for i, r := range rep.Routes.Routes {
			if i == maxRenderedRoutes {
				fmt.Fprintf(tw, "    ... %d more\n", len(rep.Routes.Routes)-i)
				break
			}
			fmt.Fprintf(tw, "    %s\t%d\t%.2f\t%.2f\t%.4f\t%.4f\t%s\n",
				r.Route, r.Requests, r.RPS, r.P95MS, r.ErrorRate, r.HeatScore, routeFlags(r))
		}
		tw.Flush()
	}

	if m := rep.Middleware; m.TotalTracked > 0 {
		section(bw, thin, "MIDDLEWARE")
		fmt.Fprintf(bw, "    Current:     %s\n", orderString(m.CurrentOrder))
		fmt.Fprintf(bw, "    Recommended: %s\n", orderString(m.RecommendedOrder))
	}

	section(bw, thin, "OPTIMIZATIONS APPLIED")
	o := rep.Optimizations
	tw = tabwriter.NewWriter(bw, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "    Optimization Cycles:\t%d\n", o.TotalCycles)
	fmt.Fprintf(tw, "    Total Actions:\t%d\n", o.TotalActions)
	fmt.Fprintf(tw, "    Hot Routes Cached:\t%d\n", o.HotRoutesCached)
	fmt.Fprintf(tw, "    Middleware Reorders:\t%d\n", o.MiddlewareReorders)
	fmt.Fprintf(tw, "    Cache Hits:\t%d\n", rep.CodePath.CacheHits)
	tw.Flush()

	section(bw, thin, "PERFORMANCE DELTA")
	d := rep.Delta
	if d.Status == DeltaOK {
		fmt.Fprintf(bw, "    Data Points:      %d\n", d.DataPoints)
		fmt.Fprintf(bw, "    Global RPS Delta: %+.2f\n", d.GlobalRPSDelta)
		fmt.Fprintf(bw, "    Routes Improved:  %d\n", d.RoutesImproved)
		fmt.Fprintf(bw, "    Routes Degraded:  %d\n", d.RoutesDegraded)
	} else {
		fmt.Fprintln(bw, "    Collecting data...")
	}

	section(bw, thin, "RECOMMENDATIONS")
	if len(rep.Recommendations) == 0 {
		fmt.Fprintln(bw, "    No recommendations at this time.")
	}
	for i, rec := range rep.Recommendations {
		if i == maxRenderedRecs {
			fmt.Fprintf(bw, "    ... %d more\n", len(rep.Recommendations)-i)
			break
		}
		route := rec.Route
		if route == "" {
			route = "global"
		}
		fmt.Fprintf(bw, "    [%s] %s\n", rec.Type, route)
	}
	fmt.Fprintln(bw, rule)

	return bw.Flush()
}

func section(w io.Writer, rule, title string) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  %s\n", title)
}

func routeFlags(r RouteReport) string {
	var flags []string
	if r.Hot {
		flags = append(flags, "hot")
	}
	if r.InHotSet {
		flags = append(flags, "fast-path")
	}
	if r.Slow {
		flags = append(flags, "slow")
	}
	if r.ErrorProne {
		flags = append(flags, "errors")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func orderString(order []string) string {
	if len(order) == 0 {
		return "(none)"
	}
	return strings.Join(order, " -> ")
}
