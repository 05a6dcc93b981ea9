package ingest

import (
	"fmt"
	"strings"
)

// categories the model is asked to choose from. "other" stays the fallback
// for anything that fits nowhere.
var categories = []string{
	"food", "groceries", "transport", "shopping", "entertainment",
	"bills", "health", "education", "travel", "rent",
	"salary", "transfer", "investment", "fees", "other",
}

// buildCategorizePrompt renders the whole statement into one request so the
// model can spot recurring merchants and subscriptions across rows.
func buildCategorizePrompt(rows []*Transaction) string {
	var b strings.Builder

	b.WriteString("Categorize the following bank transactions.\n\n")
	b.WriteString("Allowed categories: ")
	b.WriteString(strings.Join(categories, ", "))
	b.WriteString(".\n\n")
	b.WriteString("Return ONLY a JSON array, one object per transaction, with fields:\n")
	b.WriteString("  - id: the transaction id, copied verbatim\n")
	b.WriteString("  - category: one of the allowed categories\n")
	b.WriteString("  - confidence: number 0 to 1\n")
	b.WriteString("  - summary: short human-readable merchant or purpose, or null\n")
	b.WriteString("  - is_subscription: true when the row looks like a recurring subscription charge\n\n")
	b.WriteString("Transactions:\n")

	for _, row := range rows {
		fmt.Fprintf(&b, "- id=%s date=%s type=%s amount=%s description=%q\n",
			row.ID.String(),
			row.Date.Format("2006-01-02"),
			row.Type,
			row.Amount.StringFixed(2),
			row.OriginalDesc,
		)
	}
	return b.String()
}
