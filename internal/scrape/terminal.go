package scrape

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Text 接受上游返回的字符串、数字、布尔或 null，统一转为字符串。
type Text string

// UnmarshalJSON 实现宽松解码。
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	*t = Text(data)
	return nil
}

// Int 以整数解读字段，无法解析时返回 0。
func (t Text) Int() int {
	n, err := strconv.Atoi(string(t))
	if err != nil {
		f, ferr := strconv.ParseFloat(string(t), 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}

// Float 以浮点数解读字段。
func (t Text) Float() float64 {
	f, _ := strconv.ParseFloat(string(t), 64)
	return f
}

// Bool 以布尔值解读字段，"true"、"Y"、"1" 视为真。
func (t Text) Bool() bool {
	switch strings.ToLower(string(t)) {
	case "true", "y", "yes", "1":
		return true
	}
	return false
}

// Container 是 TWP 跟踪接口返回的单个集装箱记录，仅保留用到的字段。
type Container struct {
	ContainerNumber           Text `json:"ContainerNumber"`
	State                     Text `json:"State"`
	ContainerState            Text `json:"ContainerState"`
	Location                  Text `json:"Location"`
	Available                 Text `json:"Available"`
	AvailabilityDisplayStatus Text `json:"AvailabilityDisplayStatus"`
	OrderOfAccessibility      Text `json:"OrderOfAccessibility"`
	YardName                  Text `json:"YardName"`
	Block                     Text `json:"Block"`
	Bay                       Text `json:"Bay"`
	Position                  Text `json:"Position"`
	VesselName                Text `json:"VesselName"`
	VesselETA                 Text `json:"VesselEta"`
	LastActivity              Text `json:"LastActivity"`
	LastActivityDate          Text `json:"LastActivityDate"`
	CarrierReleaseStatus      Text `json:"CarrierReleaseStatus"`
	CustomReleaseStatus       Text `json:"CustomReleaseStatus"`
	UsdaStatus                Text `json:"UsdaStatus"`
	YardReleaseStatus         Text `json:"YardReleaseStatus"`
	MiscHoldStatus            Text `json:"MiscHoldStatus"`
	MiscHoldDetail            Text `json:"MiscHoldDetail"`
	IsTerminalHold            Text `json:"IsTerminalHold"`
	CarrierHold               Text `json:"CarrierHold"`
	LastFreeDate              Text `json:"LastFreeDate"`
	LastFreeDt                Text `json:"LastFreeDt"`
	LineLastFreeDate          Text `json:"LineLastFreeDate"`
	LineLastFreeDt            Text `json:"LineLastFreeDt"`
	FirstFreeDate             Text `json:"FirstFreeDate"`
	FreeDays                  Text `json:"FreeDays"`
	DemurrageDueFlag          Text `json:"DemurrageDueFlag"`
	DemurrageAmount           Text `json:"DemurrageAmount"`
	LineDemurrageAmount       Text `json:"LineDemurrageAmount"`
	IsOnDemurrageWarning      Text `json:"IsOnDemurrageWarning"`
}

// identified 判断记录是否至少包含一个可识别字段。
func (c *Container) identified() bool {
	return c.ContainerNumber != "" || c.State != "" || c.ContainerState != "" || c.Location != ""
}

// Holds 根据各放行状态推导当前扣留项。
func (c *Container) Holds() []string {
	var holds []string
	if strings.EqualFold(string(c.CarrierReleaseStatus), "HOLD") {
		holds = append(holds, "Carrier Hold")
	}
	if !strings.EqualFold(string(c.CustomReleaseStatus), "RELEASED") {
		holds = append(holds, "Customs Hold")
	}
	if !strings.EqualFold(string(c.UsdaStatus), "RELEASED") {
		holds = append(holds, "USDA Hold")
	}
	if c.YardReleaseStatus != "" && !strings.EqualFold(string(c.YardReleaseStatus), "RELEASED") {
		holds = append(holds, "Yard Hold")
	}
	if c.MiscHoldStatus != "" {
		holds = append(holds, "Misc Hold: "+string(c.MiscHoldStatus))
	}
	if c.IsTerminalHold.Bool() {
		holds = append(holds, "Terminal Hold")
	}
	return holds
}

// IsAvailable 对应上游 Available == 2。
func (c *Container) IsAvailable() bool {
	return c.Available.Int() == 2
}

func firstNonEmpty(values ...Text) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

func orDefault(v Text, fallback string) string {
	if v == "" {
		return fallback
	}
	return string(v)
}
