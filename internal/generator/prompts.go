package generator

import (
	"fmt"
	"strings"

	"github.com/savichev/finparse/internal/record"
)

// maxPromptStatementChars bounds how much statement text goes into the
// prompt. The execute tool always receives the full text.
const maxPromptStatementChars = 60000

const transactionSchema = `Each element must be an object with these fields:
  - date: string, "YYYY-MM-DD"
  - amount: positive number (use the type field for direction)
  - type: "credit" or "debit"
  - description: non-empty string
  - balance: number or null (optional running balance)`

const holdingSchema = `Each element must be an object with these fields:
  - investment_type: string (e.g. "mutual_fund", "stock", "fd")
  - name: non-empty string
  - current_value: number
  - units: number or null
  - invested_value: number (optional)
  - profit_loss: number (optional)
  - currency: ISO 4217 code (optional)`

// buildPrompt renders the generation prompt: task framing, output contract
// for the requested mode, hints, and the statement text itself.
func buildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are writing a JavaScript parser for bank statement text.\n\n")
	b.WriteString("Write the body of a function that receives the full statement as the ")
	b.WriteString("string parameter statementText and returns an array of records. ")
	b.WriteString("The code runs in a sandbox with no require, no network and no filesystem; ")
	b.WriteString("only plain JavaScript, String, RegExp, Math, Date and JSON are available.\n\n")

	if req.Mode == record.ModeHolding {
		b.WriteString(holdingSchema)
	} else {
		b.WriteString(transactionSchema)
	}
	b.WriteString("\n\n")

	b.WriteString("Call the execute_parser_code tool with your code to test it against the real ")
	b.WriteString("statement. The tool reports record counts, a sample of parsed records and any ")
	b.WriteString("error. Fix problems and call the tool again until the output is correct, then ")
	b.WriteString("reply with a short summary instead of another tool call. Along with the code, ")
	b.WriteString("pass detected_format (e.g. \"tabular pdf text\"), date_format (the source date ")
	b.WriteString("pattern, e.g. \"DD/MM/YYYY\") and confidence (0 to 1).\n\n")

	if req.Institution != "" {
		fmt.Fprintf(&b, "Institution: %s\n", req.Institution)
	}
	if req.AccountType != "" {
		fmt.Fprintf(&b, "Account type: %s\n", req.AccountType)
	}
	if req.FormatHints != "" {
		fmt.Fprintf(&b, "Format hints: %s\n", req.FormatHints)
	}

	text := req.StatementText
	truncated := false
	if len(text) > maxPromptStatementChars {
		text = text[:maxPromptStatementChars]
		truncated = true
	}
	b.WriteString("\nStatement text:\n---\n")
	b.WriteString(text)
	if truncated {
		b.WriteString("\n[... truncated; the tool executes against the full text ...]")
	}
	b.WriteString("\n---\n")

	return b.String()
}
