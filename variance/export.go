package variance

import (
	"io"
	"strconv"
	"time"

	"github.com/warp/commission-engine/generic"
)

// AlertHeader is the alert export's column order.
var AlertHeader = []string{
	"Loop ID", "Agent Name", "Transaction", "Variance Amount", "Variance %",
	"Severity", "Dismissed", "Dismissed By", "Created At",
}

func AlertTable(alerts []VarianceAlert) generic.Table {
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []string{
			a.LoopID,
			a.AgentName,
			a.TransactionName,
			a.VarianceAmount.StringFixed(2),
			a.VariancePercentage.StringFixed(2),
			string(a.Severity),
			strconv.FormatBool(a.Dismissed),
			a.DismissedBy,
			a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return generic.Table{Sheet: "Variance Alerts", Header: AlertHeader, Rows: rows}
}

func WriteAlertsCSV(w io.Writer, alerts []VarianceAlert) error {
	return AlertTable(alerts).WriteCSV(w)
}

func WriteAlertsXLSX(w io.Writer, alerts []VarianceAlert) error {
	return AlertTable(alerts).WriteXLSX(w)
}
