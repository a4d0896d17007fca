package commission

import (
	"io"
	"strings"

	"github.com/warp/commission-engine/generic"
)

// AuditHeader is the reconciliation report's column order.
var AuditHeader = []string{"Loop ID", "Agent Name", "Actual", "Expected", "Difference", "Status", "Notes"}

// AuditTable renders results as a table. Money is fixed to two decimals.
func AuditTable(results []AuditResult) generic.Table {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.RecordID,
			r.AgentName,
			r.ActualCompanyDollar.StringFixed(2),
			r.ExpectedCompanyDollar.StringFixed(2),
			r.Difference.StringFixed(2),
			string(r.Status),
			strings.Join(r.Notes, "; "),
		})
	}
	return generic.Table{Sheet: "Audit", Header: AuditHeader, Rows: rows}
}

func WriteAuditCSV(w io.Writer, results []AuditResult) error {
	return AuditTable(results).WriteCSV(w)
}

func WriteAuditXLSX(w io.Writer, results []AuditResult) error {
	return AuditTable(results).WriteXLSX(w)
}

// BreakdownHeader is the commission summary table's column order.
var BreakdownHeader = []string{
	"Loop ID", "Loop Name", "Agent Name", "Closing Date", "Plan", "Team",
	"GCI", "Team Split", "Company Dollar", "Agent Net", "Royalty", "Take Home",
	"YTD After", "Split Type", "Notes",
}

func BreakdownTable(breakdowns []Breakdown) generic.Table {
	rows := make([][]string, 0, len(breakdowns))
	for _, b := range breakdowns {
		rows = append(rows, []string{
			b.LoopID,
			b.LoopName,
			b.AgentName,
			b.ClosingDate.String(),
			b.PlanName,
			b.TeamName,
			b.GrossCommissionIncome.StringFixed(2),
			b.TeamSplitAmount.StringFixed(2),
			b.BrokerageSplitAmount.StringFixed(2),
			b.AgentNetCommission.StringFixed(2),
			b.RoyaltyFee.StringFixed(2),
			b.AgentTakeHome.StringFixed(2),
			b.YTDAfterTransaction.StringFixed(2),
			string(b.SplitType),
			strings.Join(b.Notes, "; "),
		})
	}
	return generic.Table{Sheet: "Commissions", Header: BreakdownHeader, Rows: rows}
}
