package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iago/meetiq-back/internal/domain"
)

const Version = "1.0"

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "json":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

type Document struct {
	Version     string       `json:"version"`
	ExportedAt  time.Time    `json:"exportedAt"`
	Meeting     MeetingInfo  `json:"meeting"`
	Outputs     Outputs      `json:"outputs"`
	ActionItems []ActionItem `json:"actionItems"`
}

type MeetingInfo struct {
	ID    *string `json:"id"`
	Title string  `json:"title"`
	Date  *string `json:"date"`
	Mode  *string `json:"mode"`
}

type Outputs struct {
	OutcomeSummary     []string `json:"outcomeSummary"`
	MissedMeetingBrief *Brief   `json:"missedMeetingBrief"`
	Transcript         *string  `json:"transcript"`
}

type Brief struct {
	TLDR      string   `json:"tldr"`
	Decisions []string `json:"decisions"`
	Risks     []string `json:"risks"`
}

type ActionItem struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Assignee   *string  `json:"assignee"`
	Priority   Priority `json:"priority"`
	Confidence float64  `json:"confidence"`
	Completed  bool     `json:"completed"`
	DueDate    *string  `json:"dueDate"`
}

// ItemsFromResult turns stored action items into view items. Items get
// positional ids since the artifact carries none.
func ItemsFromResult(result domain.PipelineResult) []Item {
	items := make([]Item, 0, len(result.ActionItems))
	for index, actionItem := range result.ActionItems {
		item := Item{
			ID:       strconv.Itoa(index + 1),
			Text:     actionItem.Task,
			Assignee: actionItem.Owner,
		}
		if actionItem.DueDate != nil {
			item.Due = *actionItem.DueDate
		}
		items = append(items, item)
	}
	return items
}

// Build assembles the export document of a meeting.
func Build(meeting *domain.Meeting, now time.Time) Document {
	doc := Document{
		Version:    Version,
		ExportedAt: now.UTC(),
		Meeting: MeetingInfo{
			Title: strings.TrimSpace(meeting.Title),
		},
		ActionItems: []ActionItem{},
	}
	if doc.Meeting.Title == "" {
		doc.Meeting.Title = "Meeting"
	}
	if meeting.ID != "" {
		id := meeting.ID
		doc.Meeting.ID = &id
	}
	if !meeting.CreatedAt.IsZero() {
		date := meeting.CreatedAt.UTC().Format("2006-01-02")
		doc.Meeting.Date = &date
	}
	if mode := strings.TrimSpace(meeting.Mode); mode != "" {
		doc.Meeting.Mode = &mode
	}

	if len(meeting.Result.Summary.Bullets) > 0 {
		doc.Outputs.OutcomeSummary = append([]string(nil), meeting.Result.Summary.Bullets...)
	}
	if tldr := strings.TrimSpace(meeting.Result.Summary.TLDR); tldr != "" {
		doc.Outputs.MissedMeetingBrief = &Brief{TLDR: tldr, Decisions: []string{}, Risks: []string{}}
	}
	if transcript := strings.TrimSpace(meeting.TranscriptText); transcript != "" {
		doc.Outputs.Transcript = &transcript
	}

	for _, item := range ItemsFromResult(meeting.Result) {
		doc.ActionItems = append(doc.ActionItems, exportItem(item))
	}
	return doc
}

func exportItem(item Item) ActionItem {
	out := ActionItem{
		ID:         item.ID,
		Text:       item.Text,
		Priority:   NormalizePriority(item.Priority),
		Confidence: NormalizeConfidence(item.Confidence),
		Completed:  item.IsCompleted(),
	}
	if item.Assignee != nil && strings.TrimSpace(*item.Assignee) != "" {
		assignee := *item.Assignee
		out.Assignee = &assignee
	}
	if due, ok := ParseDueDate(item.Due); ok {
		formatted := due.UTC().Format("2006-01-02T15:04:05.000Z")
		out.DueDate = &formatted
	}
	return out
}

func ToJSON(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func ToMarkdown(doc Document) string {
	lines := make([]string, 0, 16+len(doc.ActionItems))

	title := "# " + mdText(doc.Meeting.Title)
	if doc.Meeting.Date != nil {
		title += " (" + mdText(*doc.Meeting.Date) + ")"
	}
	lines = append(lines,
		title,
		"",
		"**Meeting ID:** "+mdText(valueOr(doc.Meeting.ID, "-")),
		"**Mode:** "+mdText(valueOr(doc.Meeting.Mode, "-")),
		"",
	)

	if len(doc.ActionItems) > 0 {
		lines = append(lines, "## Action Items")
		for _, item := range doc.ActionItems {
			box := "[ ]"
			if item.Completed {
				box = "[x]"
			}
			who := "Unassigned"
			if item.Assignee != nil {
				who = mdText(*item.Assignee)
			}
			due := ""
			if item.DueDate != nil && len(*item.DueDate) >= 10 {
				due = ", due " + (*item.DueDate)[:10]
			}
			lines = append(lines, fmt.Sprintf("- %s (%s, %s, %d%% confidence%s) %s",
				box,
				strings.ToUpper(string(item.Priority)),
				who,
				int(math.Round(item.Confidence*100)),
				due,
				mdText(item.Text),
			))
		}
		lines = append(lines, "")
	}

	if len(doc.Outputs.OutcomeSummary) > 0 {
		lines = append(lines, "## Outcome Summary")
		for _, line := range doc.Outputs.OutcomeSummary {
			lines = append(lines, mdText(line))
		}
		lines = append(lines, "")
	}

	if brief := doc.Outputs.MissedMeetingBrief; brief != nil {
		lines = append(lines, "## Missed-Meeting Brief")
		if brief.TLDR != "" {
			lines = append(lines, mdText(brief.TLDR), "")
		}
		if len(brief.Decisions) > 0 {
			lines = append(lines, "### Decisions")
			for _, decision := range brief.Decisions {
				lines = append(lines, "- "+mdText(decision))
			}
			lines = append(lines, "")
		}
		if len(brief.Risks) > 0 {
			lines = append(lines, "### Risks")
			for _, risk := range brief.Risks {
				lines = append(lines, "- "+mdText(risk))
			}
			lines = append(lines, "")
		}
	}

	if doc.Outputs.Transcript != nil {
		lines = append(lines, "## Transcript", mdText(*doc.Outputs.Transcript), "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
var repeatedDashes = regexp.MustCompile(`-+`)

// Filename returns "<safe-title>-meeting.<ext>".
func Filename(title string, format Format) string {
	base := unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(title), "-")
	base = repeatedDashes.ReplaceAllString(base, "-")
	if len(base) > 80 {
		base = base[:80]
	}
	if base == "" {
		base = "meeting"
	}
	return base + "-meeting." + string(format)
}

func mdText(value string) string {
	return strings.ReplaceAll(value, "\r\n", "\n")
}

func valueOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}
