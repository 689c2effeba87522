package export

import (
	"math"
	"sort"
	"strings"
	"time"
)

type Bucket string

const (
	BucketOverdue   Bucket = "Overdue"
	BucketToday     Bucket = "Today"
	BucketThisWeek  Bucket = "This Week"
	BucketLater     Bucket = "Later"
	BucketNoDueDate Bucket = "No due date"
	BucketCompleted Bucket = "Completed"
)

// BucketOrder is the display order of GroupAndSort.
var BucketOrder = []Bucket{
	BucketOverdue, BucketToday, BucketThisWeek, BucketLater, BucketNoDueDate, BucketCompleted,
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityUnknown  Priority = "unknown"
)

// Item is the presentation view of one action item. Confidence and Priority
// keep whatever the producer sent; the helpers below normalise them.
type Item struct {
	ID         string
	Text       string
	Assignee   *string
	Priority   string
	Confidence any
	Completed  bool
	Status     string
	Due        string
}

// NormalizeConfidence maps a score onto [0, 1]. Values above 1 are read as
// percentages; anything that is not a number becomes 0.
func NormalizeConfidence(value any) float64 {
	var number float64
	switch typed := value.(type) {
	case float64:
		number = typed
	case float32:
		number = float64(typed)
	case int:
		number = float64(typed)
	case int64:
		number = float64(typed)
	case int32:
		number = float64(typed)
	default:
		return 0
	}
	if math.IsNaN(number) {
		return 0
	}
	if number <= 1 {
		return clamp01(number)
	}
	return clamp01(number / 100)
}

func clamp01(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}

func NormalizePriority(value string) Priority {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "critical", "crit", "p0", "urgent", "blocker":
		return PriorityCritical
	case "high", "p1":
		return PriorityHigh
	case "medium", "med", "p2":
		return PriorityMedium
	case "low", "p3":
		return PriorityLow
	default:
		return PriorityUnknown
	}
}

func priorityRank(value string) int {
	switch NormalizePriority(value) {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

var dueDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDueDate accepts ISO-8601 style timestamps and plain dates. Free text
// such as "tomorrow" yields false.
func ParseDueDate(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range dueDateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func (i Item) IsCompleted() bool {
	status := strings.ToLower(strings.TrimSpace(i.Status))
	return i.Completed || status == "completed" || status == "done"
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// BucketFor places an item relative to now. Day boundaries follow now's location.
func BucketFor(item Item, now time.Time) Bucket {
	if item.IsCompleted() {
		return BucketCompleted
	}
	due, ok := ParseDueDate(item.Due)
	if !ok {
		return BucketNoDueDate
	}

	today := startOfDay(now)
	due = due.In(now.Location())
	switch {
	case due.Before(today):
		return BucketOverdue
	case startOfDay(due).Equal(today):
		return BucketToday
	case !due.After(today.AddDate(0, 0, 8).Add(-time.Nanosecond)):
		return BucketThisWeek
	default:
		return BucketLater
	}
}

func isOverdue(item Item, now time.Time) bool {
	due, ok := ParseDueDate(item.Due)
	return ok && due.Before(startOfDay(now))
}

// Less orders items: open before completed, overdue first, then priority,
// earliest due date, higher confidence, and finally id.
func Less(a, b Item, now time.Time) bool {
	aCompleted, bCompleted := a.IsCompleted(), b.IsCompleted()
	if aCompleted != bCompleted {
		return !aCompleted
	}

	aOverdue := !aCompleted && isOverdue(a, now)
	bOverdue := !bCompleted && isOverdue(b, now)
	if aOverdue != bOverdue {
		return aOverdue
	}

	if ra, rb := priorityRank(a.Priority), priorityRank(b.Priority); ra != rb {
		return ra < rb
	}

	aDue, aOK := ParseDueDate(a.Due)
	bDue, bOK := ParseDueDate(b.Due)
	switch {
	case aOK && bOK && !aDue.Equal(bDue):
		return aDue.Before(bDue)
	case aOK && !bOK:
		return true
	case !aOK && bOK:
		return false
	}

	if ca, cb := NormalizeConfidence(a.Confidence), NormalizeConfidence(b.Confidence); ca != cb {
		return ca > cb
	}

	return sortKey(a) < sortKey(b)
}

func sortKey(item Item) string {
	if item.ID != "" {
		return item.ID
	}
	return item.Text
}

type Group struct {
	Bucket Bucket
	Items  []Item
}

// GroupAndSort returns every bucket in BucketOrder, empty ones included, each
// sorted with Less.
func GroupAndSort(items []Item, now time.Time) []Group {
	byBucket := make(map[Bucket][]Item, len(BucketOrder))
	for _, item := range items {
		bucket := BucketFor(item, now)
		byBucket[bucket] = append(byBucket[bucket], item)
	}

	groups := make([]Group, 0, len(BucketOrder))
	for _, bucket := range BucketOrder {
		members := append([]Item{}, byBucket[bucket]...)
		sort.SliceStable(members, func(i, j int) bool {
			return Less(members[i], members[j], now)
		})
		groups = append(groups, Group{Bucket: bucket, Items: members})
	}
	return groups
}
