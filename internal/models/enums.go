package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

// Priority is the canonical four-tier work-order priority. P1 is the most urgent.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// Priorities lists every tier from most to least urgent.
var Priorities = []Priority{PriorityP1, PriorityP2, PriorityP3, PriorityP4}

// priorityAliases maps every accepted spelling to its canonical tier. Rows
// persisted before the P-tier vocabulary used URGENT/HIGH/MEDIUM/LOW.
var priorityAliases = map[string]Priority{
	"P1":     PriorityP1,
	"P2":     PriorityP2,
	"P3":     PriorityP3,
	"P4":     PriorityP4,
	"URGENT": PriorityP1,
	"HIGH":   PriorityP2,
	"MEDIUM": PriorityP3,
	"LOW":    PriorityP4,
}

// ParsePriority normalizes any accepted priority spelling (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	if p, ok := priorityAliases[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Scan normalizes a stored priority, so legacy URGENT/HIGH/MEDIUM/LOW rows
// read back as P-tiers. Unrecognized values are kept verbatim.
func (p *Priority) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return fmt.Errorf("scan priority: %w", err)
	}
	if norm, err := ParsePriority(raw); err == nil {
		*p = norm
		return nil
	}
	*p = Priority(raw)
	return nil
}

// Value always writes the canonical tier.
func (p Priority) Value() (driver.Value, error) {
	if norm, err := ParsePriority(string(p)); err == nil {
		return string(norm), nil
	}
	return string(p), nil
}

// PrioritySpellings lists every form in which the given tiers may be stored.
func PrioritySpellings(priorities ...Priority) []string {
	var out []string
	for _, p := range priorities {
		for _, key := range sortedKeys(priorityAliases) {
			if priorityAliases[key] == p {
				out = append(out, key, strings.ToLower(key))
			}
		}
	}
	return out
}

// AllStatuses lists every lifecycle state.
var AllStatuses = []Status{StatusPending, StatusInProgress, StatusWaiting, StatusClosed, StatusCancelled}

// PriorityOrderSQL ranks the priority column across every stored spelling,
// for ORDER BY clauses. Unknown values sort last.
func PriorityOrderSQL() string {
	var b strings.Builder
	b.WriteString("CASE UPPER(priority)")
	for _, alias := range sortedKeys(priorityAliases) {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", alias, priorityAliases[alias].Rank())
	}
	b.WriteString(" ELSE 5 END")
	return b.String()
}

// Rank orders priorities for sorting: P1=1 … P4=4, unknown sorts last.
func (p Priority) Rank() int {
	switch p {
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	case PriorityP4:
		return 4
	}
	return 5
}

// Label returns the legacy word form (URGENT, HIGH, MEDIUM, LOW).
func (p Priority) Label() string {
	switch p {
	case PriorityP1:
		return "URGENT"
	case PriorityP2:
		return "HIGH"
	case PriorityP3:
		return "MEDIUM"
	case PriorityP4:
		return "LOW"
	}
	return string(p)
}

// Status is a work-order lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusWaiting    Status = "WAITING"
	StatusClosed     Status = "CLOSED"
	StatusCancelled  Status = "CANCELLED"
)

// OpenStatuses are the non-terminal states.
var OpenStatuses = []Status{StatusPending, StatusInProgress, StatusWaiting}

var statusAliases = map[string]Status{
	"PENDING":     StatusPending,
	"OPEN":        StatusPending,
	"IN_PROGRESS": StatusInProgress,
	"INPROGRESS":  StatusInProgress,
	"WAITING":     StatusWaiting,
	"ON_HOLD":     StatusWaiting,
	"CLOSED":      StatusClosed,
	"COMPLETED":   StatusClosed,
	"CANCELLED":   StatusCancelled,
	"CANCELED":    StatusCancelled,
}

// ParseStatus normalizes upper- and lowercase status spellings.
func ParseStatus(s string) (Status, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	if st, ok := statusAliases[key]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Scan normalizes a stored status, so lowercase and legacy spellings read
// back canonical. Unrecognized values are kept verbatim.
func (s *Status) Scan(src interface{}) error {
	raw, err := scanString(src)
	if err != nil {
		return fmt.Errorf("scan status: %w", err)
	}
	if norm, err := ParseStatus(raw); err == nil {
		*s = norm
		return nil
	}
	*s = Status(raw)
	return nil
}

// Value always writes the canonical state.
func (s Status) Value() (driver.Value, error) {
	if norm, err := ParseStatus(string(s)); err == nil {
		return string(norm), nil
	}
	return string(s), nil
}

// StatusSpellings lists every form in which the given states may be stored:
// canonical, legacy aliases, lowercase and hyphenated. Use it in WHERE
// clauses that must match rows written before normalization.
func StatusSpellings(statuses ...Status) []string {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	seen := map[string]bool{}
	var out []string
	add := func(v string) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, key := range sortedKeys(statusAliases) {
		if !want[statusAliases[key]] {
			continue
		}
		for _, v := range []string{key, strings.ReplaceAll(key, "_", "-")} {
			add(v)
			add(strings.ToLower(v))
		}
	}
	return out
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// WaitingReason is the motive recorded when a work order is put on hold.
type WaitingReason string

const (
	WaitingSparePart  WaitingReason = "SPARE_PART"
	WaitingVendor     WaitingReason = "VENDOR"
	WaitingProduction WaitingReason = "PRODUCTION"
	WaitingApproval   WaitingReason = "APPROVAL"
	WaitingResources  WaitingReason = "RESOURCES"
	WaitingOther      WaitingReason = "OTHER"
)

// WaitingReasons lists all valid waiting motives.
var WaitingReasons = []WaitingReason{
	WaitingSparePart, WaitingVendor, WaitingProduction,
	WaitingApproval, WaitingResources, WaitingOther,
}

// ParseWaitingReason validates a waiting motive (case-insensitive).
func ParseWaitingReason(s string) (WaitingReason, error) {
	key := WaitingReason(strings.ToUpper(strings.TrimSpace(s)))
	for _, r := range WaitingReasons {
		if r == key {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown waiting reason %q", s)
}

// ActivityType classifies a work-log entry.
type ActivityType string

const (
	ActivityExecution     ActivityType = "EXECUTION"
	ActivityDiagnosis     ActivityType = "DIAGNOSIS"
	ActivityWaiting       ActivityType = "WAITING"
	ActivityTravel        ActivityType = "TRAVEL"
	ActivityDocumentation ActivityType = "DOCUMENTATION"
	ActivityInspection    ActivityType = "INSPECTION"
	ActivityPartsPickup   ActivityType = "PARTS_PICKUP"
	ActivityOther         ActivityType = "OTHER"
)

// ActivityTypes lists all valid work-log activity types.
var ActivityTypes = []ActivityType{
	ActivityExecution, ActivityDiagnosis, ActivityWaiting, ActivityTravel,
	ActivityDocumentation, ActivityInspection, ActivityPartsPickup, ActivityOther,
}

// ParseActivityType validates an activity type (case-insensitive).
func ParseActivityType(s string) (ActivityType, error) {
	key := ActivityType(strings.ToUpper(strings.TrimSpace(s)))
	for _, a := range ActivityTypes {
		if a == key {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown activity type %q", s)
}

// Outcome is the closure result. The literal values are the ones already
// persisted by the plant systems and must not be translated.
type Outcome string

const (
	OutcomeWorked     Outcome = "FUNCIONÓ"
	OutcomePartial    Outcome = "PARCIAL"
	OutcomeDidNotWork Outcome = "NO_FUNCIONÓ"
)

var outcomeAliases = map[string]Outcome{
	"FUNCIONÓ":     OutcomeWorked,
	"FUNCIONO":     OutcomeWorked,
	"WORKED":       OutcomeWorked,
	"PARCIAL":      OutcomePartial,
	"PARTIAL":      OutcomePartial,
	"NO_FUNCIONÓ":  OutcomeDidNotWork,
	"NO_FUNCIONO":  OutcomeDidNotWork,
	"DID_NOT_WORK": OutcomeDidNotWork,
}

// ParseOutcome accepts the stored literal or its English alias.
func ParseOutcome(s string) (Outcome, error) {
	if o, ok := outcomeAliases[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return o, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// FixType classifies the applied solution.
type FixType string

const (
	FixPatch      FixType = "PATCH"
	FixDefinitive FixType = "DEFINITIVE"
)

// ParseFixType validates a fix type; empty input yields DEFINITIVE.
func ParseFixType(s string) (FixType, error) {
	switch FixType(strings.ToUpper(strings.TrimSpace(s))) {
	case "", FixDefinitive:
		return FixDefinitive, nil
	case FixPatch:
		return FixPatch, nil
	}
	return "", fmt.Errorf("unknown fix type %q", s)
}

// ClosingMode records which guided-close form was used.
type ClosingMode string

const (
	ClosingMinimal      ClosingMode = "MINIMAL"
	ClosingProfessional ClosingMode = "PROFESSIONAL"
)

// ParseClosingMode validates a closing mode; empty input yields MINIMAL.
func ParseClosingMode(s string) (ClosingMode, error) {
	switch ClosingMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ClosingMinimal:
		return ClosingMinimal, nil
	case ClosingProfessional:
		return ClosingProfessional, nil
	}
	return "", fmt.Errorf("unknown closing mode %q", s)
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("unsupported type %T", src)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
