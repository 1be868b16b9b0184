package facts

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/calendar"
)

var weekdayNames = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// workScheduleColumn adapts calendar.WeekSchedule (keyed by time.Weekday)
// to the JSON-by-weekday-name shape the `work_schedule` column persists,
// matching §6's "workSchedule text/nullable JSON" anchor and §3's "mapping
// from weekday name ∈ {monday…sunday} → hours".
type workScheduleColumn struct {
	schedule calendar.WeekSchedule
}

func (w workScheduleColumn) Value() (driver.Value, error) {
	if w.schedule == nil {
		return nil, nil
	}
	byName := make(map[string]string, len(w.schedule))
	for wd, hours := range w.schedule {
		byName[weekdayNames[wd]] = hours.String()
	}
	return json.Marshal(byName)
}

func (w *workScheduleColumn) Scan(value interface{}) error {
	if value == nil {
		w.schedule = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for work_schedule: %T", value)
	}
	if len(raw) == 0 {
		w.schedule = nil
		return nil
	}

	byName := make(map[string]string)
	if err := json.Unmarshal(raw, &byName); err != nil {
		return fmt.Errorf("unmarshal work_schedule: %w", err)
	}

	schedule := make(calendar.WeekSchedule, len(byName))
	for name, hours := range byName {
		wd, ok := weekdayByName(name)
		if !ok {
			return fmt.Errorf("unknown weekday %q in work_schedule", name)
		}
		d, err := decimal.NewFromString(hours)
		if err != nil {
			return fmt.Errorf("parse hours for %s: %w", name, err)
		}
		schedule[wd] = d
	}
	w.schedule = schedule
	return nil
}

func weekdayByName(name string) (time.Weekday, bool) {
	for i, n := range weekdayNames {
		if n == name {
			return time.Weekday(i), true
		}
	}
	return 0, false
}
