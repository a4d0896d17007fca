/*
status.go - Loop status registration and lookup

PURPOSE:
  Brokerage exports spell the same lifecycle stage many ways ("Sold",
  "Closed", "Active Listing", "Active Listings", "Pending"). The registry maps
  those raw strings onto a small set of categories the estimator and
  forecaster reason about.

HOW IT WORKS:
  1. Defaults are registered on init()
  2. Deployments may register additional aliases at startup
  3. Lookups are case- and whitespace-insensitive

USAGE:
  generic.RegisterStatus("Closed - Paid", generic.StatusClosed)
  generic.ClassifyStatus("sold")  // StatusClosed

SEE ALSO:
  - forecast/closing_rate.go: close rate over determinable statuses
  - forecast/forecaster.go: pipeline = under contract / pending
*/
package generic

import (
	"sort"
	"strings"
	"sync"
)

// StatusCategory is the lifecycle bucket of a loop status.
type StatusCategory string

const (
	StatusUnknown  StatusCategory = ""
	StatusClosed   StatusCategory = "closed"   // Sold / closed
	StatusPipeline StatusCategory = "pipeline" // Under contract / pending
	StatusActive   StatusCategory = "active"   // Listed, not under contract
	StatusDead     StatusCategory = "dead"     // Archived, cancelled, withdrawn, expired
)

// IsDeterminable reports whether the category counts toward close rate.
func (c StatusCategory) IsDeterminable() bool {
	return c != StatusUnknown
}

// =============================================================================
// STATUS REGISTRY
// =============================================================================

var (
	statusRegistry = make(map[string]StatusCategory)
	statusMu       sync.RWMutex
)

func init() {
	for _, s := range []string{"sold", "closed"} {
		RegisterStatus(s, StatusClosed)
	}
	for _, s := range []string{"under contract", "pending", "contract", "in escrow"} {
		RegisterStatus(s, StatusPipeline)
	}
	for _, s := range []string{"active listing", "active listings", "active", "pre-listing", "coming soon"} {
		RegisterStatus(s, StatusActive)
	}
	for _, s := range []string{"archived", "cancelled", "canceled", "withdrawn", "expired", "terminated"} {
		RegisterStatus(s, StatusDead)
	}
}

func normalizeStatus(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// RegisterStatus adds or replaces a status alias.
func RegisterStatus(status string, category StatusCategory) {
	statusMu.Lock()
	defer statusMu.Unlock()
	statusRegistry[normalizeStatus(status)] = category
}

// ClassifyStatus returns the category for a raw loop status.
// Unregistered statuses are StatusUnknown.
func ClassifyStatus(status string) StatusCategory {
	statusMu.RLock()
	defer statusMu.RUnlock()
	return statusRegistry[normalizeStatus(status)]
}

// ListStatuses returns all registered aliases for a category, sorted.
func ListStatuses(category StatusCategory) []string {
	statusMu.RLock()
	defer statusMu.RUnlock()
	var result []string
	for s, c := range statusRegistry {
		if c == category {
			result = append(result, s)
		}
	}
	sort.Strings(result)
	return result
}
