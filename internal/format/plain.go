package format

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"pkt.systems/querydesk/schema"
)

// DefaultMaxCellWidth bounds the rendered width of a single cell.
const DefaultMaxCellWidth = 48

// PlainRenderer formats query results as plain text tables.
type PlainRenderer struct {
	MaxCellWidth int
}

// NewPlainRenderer returns a default plain-text renderer.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{MaxCellWidth: DefaultMaxCellWidth}
}

// FormatResultSet converts an execution outcome into user-facing lines.
func (p *PlainRenderer) FormatResultSet(rs *schema.QueryResultSet) []string {
	if rs == nil {
		return nil
	}
	if rs.Error != "" {
		return []string{fmt.Sprintf("error: %s", rs.Error)}
	}
	lines := []string{}
	for i, result := range rs.Results {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, p.FormatResult(result)...)
	}
	for _, advice := range rs.Advices {
		lines = append(lines, formatAdvice(advice))
	}
	return lines
}

// FormatItem renders a terminal item as a prompt line followed by its result.
func (p *PlainRenderer) FormatItem(item schema.QueryItem) []string {
	lines := []string{}
	for i, line := range strings.Split(item.SQL, "\n") {
		prefix := "sql> "
		if i > 0 {
			prefix = "...> "
		}
		lines = append(lines, prefix+line)
	}
	switch item.Status {
	case schema.QueryItemRunning:
		lines = append(lines, "running...")
	case schema.QueryItemSuccess, schema.QueryItemFailed:
		lines = append(lines, p.FormatResultSet(item.Result)...)
	}
	return lines
}

// FormatResult renders one statement result as a table.
func (p *PlainRenderer) FormatResult(result schema.QueryResult) []string {
	if result.Error != "" {
		return []string{fmt.Sprintf("error: %s", result.Error)}
	}
	columns := result.ColumnNames
	if len(columns) == 0 {
		columns = columnsFromRows(result.Rows)
	}
	if len(columns) == 0 {
		return []string{fmt.Sprintf("OK (%s)", formatLatency(result.Latency))}
	}
	cells := make([][]string, 0, len(result.Rows))
	widths := make([]int, len(columns))
	for i, column := range columns {
		widths[i] = utf8.RuneCountInString(column)
	}
	for _, row := range result.Rows {
		rendered := make([]string, len(columns))
		for i, column := range columns {
			rendered[i] = p.truncate(formatCell(row[column]))
			if w := utf8.RuneCountInString(rendered[i]); w > widths[i] {
				widths[i] = w
			}
		}
		cells = append(cells, rendered)
	}
	lines := []string{joinRow(columns, widths), separator(widths)}
	for _, row := range cells {
		lines = append(lines, joinRow(row, widths))
	}
	noun := "rows"
	if len(result.Rows) == 1 {
		noun = "row"
	}
	lines = append(lines, fmt.Sprintf("(%d %s, %s)", len(result.Rows), noun, formatLatency(result.Latency)))
	return lines
}

// FormatHistory renders history records newest first, one per line.
func (p *PlainRenderer) FormatHistory(histories []schema.QueryHistory) []string {
	if len(histories) == 0 {
		return []string{"no query history"}
	}
	lines := make([]string, 0, len(histories))
	for _, history := range histories {
		status := "ok"
		if history.Error != "" {
			status = "failed"
		}
		when := ""
		if !history.CreatedAt.IsZero() {
			when = history.CreatedAt.Local().Format("2006-01-02 15:04:05") + " "
		}
		statement := p.truncate(strings.Join(strings.Fields(history.Statement), " "))
		lines = append(lines, fmt.Sprintf("%s[%s] %s (%s)", when, status, statement, formatLatency(history.Duration)))
	}
	return lines
}

func (p *PlainRenderer) truncate(value string) string {
	limit := p.MaxCellWidth
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	if limit <= 3 {
		return string([]rune(value)[:limit])
	}
	return string([]rune(value)[:limit-3]) + "..."
}

func formatAdvice(advice schema.Advice) string {
	line := fmt.Sprintf("[%s] %s", advice.Status, advice.Title)
	if advice.Content != "" {
		line += ": " + advice.Content
	}
	return line
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return strings.ReplaceAll(v, "\n", `\n`)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "0ms"
	}
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(time.Millisecond).String()
}

func columnsFromRows(rows []schema.Row) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for column := range row {
			seen[column] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for column := range seen {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

func joinRow(values []string, widths []int) string {
	padded := make([]string, len(values))
	for i, value := range values {
		padded[i] = value + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(value))
	}
	return strings.TrimRight(strings.Join(padded, " | "), " ")
}

func separator(widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w)
	}
	return strings.Join(parts, "-+-")
}
