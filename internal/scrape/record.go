package scrape

import (
	"strings"
	"time"
)

// Intent 描述调用方关心的信息类别。
type Intent string

const (
	IntentStatus       Intent = "status"
	IntentLocation     Intent = "location"
	IntentAvailability Intent = "availability"
	IntentHolds        Intent = "holds"
	IntentLastFreeDay  Intent = "last_free_day"
	IntentAll          Intent = "all"
)

// Intents 按固定顺序返回全部意图。
func Intents() []Intent {
	return []Intent{IntentStatus, IntentLocation, IntentAvailability, IntentHolds, IntentLastFreeDay, IntentAll}
}

// ParseIntent 解析意图，空串视为 all。
func ParseIntent(s string) (Intent, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return IntentAll, true
	}
	for _, in := range Intents() {
		if string(in) == s {
			return in, true
		}
	}
	return "", false
}

// NotFoundNote 是上游查无此箱时附带的说明。
const NotFoundNote = "not found at source"

// Record 是一次抓取的结果。Found 为 false 时只有 ContainerID/Source/TrackingStatus/Note 有意义。
type Record struct {
	ContainerID    string               `json:"container_id"`
	Source         string               `json:"source"`
	Intent         Intent               `json:"intent"`
	Found          bool                 `json:"found"`
	TrackingStatus string               `json:"tracking_status"`
	Location       string               `json:"location,omitempty"`
	LastEvent      string               `json:"last_event,omitempty"`
	ETA            string               `json:"eta,omitempty"`
	Status         *StatusDetails       `json:"status,omitempty"`
	Position       *PositionDetails     `json:"position,omitempty"`
	Availability   *AvailabilityDetails `json:"availability,omitempty"`
	Holds          *HoldDetails         `json:"holds,omitempty"`
	LastFreeDay    *LastFreeDayDetails  `json:"last_free_day,omitempty"`
	FetchedAt      time.Time            `json:"fetched_at"`
	Cached         bool                 `json:"cached"`
	Stale          bool                 `json:"stale"`
	Note           string               `json:"note,omitempty"`
}

type StatusDetails struct {
	Status             string `json:"status"`
	ContainerState     string `json:"container_state"`
	Location           string `json:"location"`
	Available          bool   `json:"available"`
	AvailabilityStatus string `json:"availability_display_status"`
}

type PositionDetails struct {
	Location string `json:"location"`
	YardName string `json:"yard_name,omitempty"`
	Block    string `json:"block,omitempty"`
	Bay      string `json:"bay,omitempty"`
	Position string `json:"position,omitempty"`
	State    string `json:"state"`
}

type AvailabilityDetails struct {
	Available            bool   `json:"available"`
	AvailabilityStatus   string `json:"availability_display_status"`
	AvailableForPickup   bool   `json:"available_for_pickup"`
	OrderOfAccessibility string `json:"order_of_accessibility,omitempty"`
}

type HoldDetails struct {
	HasHolds             bool     `json:"has_holds"`
	HoldTypes            []string `json:"hold_types"`
	CarrierReleaseStatus string   `json:"carrier_release_status,omitempty"`
	CustomReleaseStatus  string   `json:"custom_release_status,omitempty"`
	UsdaStatus           string   `json:"usda_status,omitempty"`
	YardReleaseStatus    string   `json:"yard_release_status,omitempty"`
	MiscHoldStatus       string   `json:"misc_hold_status,omitempty"`
	MiscHoldDetail       string   `json:"misc_hold_detail,omitempty"`
	TerminalHold         bool     `json:"is_terminal_hold"`
}

type LastFreeDayDetails struct {
	LastFreeDate        string  `json:"last_free_date,omitempty"`
	LineLastFreeDate    string  `json:"line_last_free_date,omitempty"`
	FirstFreeDate       string  `json:"first_free_date,omitempty"`
	FreeDays            int     `json:"free_days"`
	DemurrageDue        bool    `json:"demurrage_due"`
	DemurrageAmount     float64 `json:"demurrage_amount"`
	LineDemurrageAmount float64 `json:"line_demurrage_amount"`
	OnDemurrageWarning  bool    `json:"is_on_demurrage_warning"`
}

// NotFound 构造上游查无此箱时的记录。
func NotFound(containerID, source string, intent Intent, at time.Time) Record {
	return Record{
		ContainerID:    containerID,
		Source:         source,
		Intent:         intent,
		TrackingStatus: "unknown",
		FetchedAt:      at,
		Note:           NotFoundNote,
	}
}

// Project 按意图从上游记录中裁剪出需要的部分。
func Project(c *Container, containerID, source string, intent Intent, fetchedAt time.Time) Record {
	rec := Record{
		ContainerID:    containerID,
		Source:         source,
		Intent:         intent,
		Found:          true,
		TrackingStatus: orDefault(c.State, "Unknown"),
		Location:       orDefault(c.Location, "Unknown"),
		LastEvent:      firstNonEmpty(c.LastActivity, c.ContainerState),
		ETA:            string(c.VesselETA),
		FetchedAt:      fetchedAt,
	}
	if intent == IntentStatus || intent == IntentAll {
		rec.Status = &StatusDetails{
			Status:             orDefault(c.State, "Unknown"),
			ContainerState:     orDefault(c.ContainerState, "Unknown"),
			Location:           orDefault(c.Location, "Unknown"),
			Available:          c.IsAvailable(),
			AvailabilityStatus: orDefault(c.AvailabilityDisplayStatus, "Unknown"),
		}
	}
	if intent == IntentLocation || intent == IntentAll {
		rec.Position = &PositionDetails{
			Location: orDefault(c.Location, "Unknown"),
			YardName: string(c.YardName),
			Block:    string(c.Block),
			Bay:      string(c.Bay),
			Position: string(c.Position),
			State:    orDefault(c.State, "Unknown"),
		}
	}
	holds := c.Holds()
	if intent == IntentAvailability || intent == IntentAll {
		rec.Availability = &AvailabilityDetails{
			Available:            c.IsAvailable(),
			AvailabilityStatus:   orDefault(c.AvailabilityDisplayStatus, "No"),
			AvailableForPickup:   c.IsAvailable() && len(holds) == 0,
			OrderOfAccessibility: string(c.OrderOfAccessibility),
		}
	}
	if intent == IntentHolds || intent == IntentAll {
		rec.Holds = &HoldDetails{
			HasHolds:             len(holds) > 0,
			HoldTypes:            holds,
			CarrierReleaseStatus: string(c.CarrierReleaseStatus),
			CustomReleaseStatus:  string(c.CustomReleaseStatus),
			UsdaStatus:           string(c.UsdaStatus),
			YardReleaseStatus:    string(c.YardReleaseStatus),
			MiscHoldStatus:       string(c.MiscHoldStatus),
			MiscHoldDetail:       string(c.MiscHoldDetail),
			TerminalHold:         c.IsTerminalHold.Bool(),
		}
	}
	if intent == IntentLastFreeDay || intent == IntentAll {
		rec.LastFreeDay = &LastFreeDayDetails{
			LastFreeDate:        firstNonEmpty(c.LastFreeDate, c.LastFreeDt),
			LineLastFreeDate:    firstNonEmpty(c.LineLastFreeDate, c.LineLastFreeDt),
			FirstFreeDate:       string(c.FirstFreeDate),
			FreeDays:            c.FreeDays.Int(),
			DemurrageDue:        c.DemurrageDueFlag.Bool(),
			DemurrageAmount:     c.DemurrageAmount.Float(),
			LineDemurrageAmount: c.LineDemurrageAmount.Float(),
			OnDemurrageWarning:  c.IsOnDemurrageWarning.Bool(),
		}
	}
	return rec
}
