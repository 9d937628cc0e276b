package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workentry-engine/calendar"
)

const splitShiftJSON = `{
  "id": "split",
  "name": "Split shift",
  "timezone": "Europe/Brussels",
  "attendances": [
    {"weekday": "monday", "from": "08:00", "to": "12:00"},
    {"weekday": "Mon", "from": "13:00", "to": "17:30"},
    {"weekday": "saturday", "from": "20:00", "to": "24:00"}
  ],
  "closures": [
    {"name": "Christmas", "date": "2024-12-25"},
    {"name": "Move", "start": "2024-03-04T12:00:00+01:00", "stop": "2024-03-05T12:00:00Z"}
  ]
}`

func TestParseCalendar(t *testing.T) {
	cal, err := NewCalendarFactory().ParseCalendar(splitShiftJSON)
	require.NoError(t, err)

	assert.Equal(t, calendar.ID("split"), cal.ID)
	assert.Equal(t, "Europe/Brussels", cal.Timezone)
	require.Len(t, cal.Attendances, 3)
	assert.Equal(t, time.Monday, cal.Attendances[1].Weekday)
	assert.Equal(t, 17*time.Hour+30*time.Minute, cal.Attendances[1].To)
	assert.Equal(t, 24*time.Hour, cal.Attendances[2].To)

	require.Len(t, cal.Closures, 2)
	assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), cal.Closures[0].Start)
	assert.Equal(t, time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC), cal.Closures[0].Stop)
	assert.Equal(t, time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC), cal.Closures[1].Start)
}

func TestParseCalendar_Rejects(t *testing.T) {
	f := NewCalendarFactory()

	cases := map[string]string{
		"bad json":     `{`,
		"bad weekday":  `{"id":"x","attendances":[{"weekday":"funday","from":"08:00","to":"09:00"}]}`,
		"bad clock":    `{"id":"x","attendances":[{"weekday":"monday","from":"8h","to":"09:00"}]}`,
		"past 24":      `{"id":"x","attendances":[{"weekday":"monday","from":"08:00","to":"24:30"}]}`,
		"reversed":     `{"id":"x","attendances":[{"weekday":"monday","from":"12:00","to":"08:00"}]}`,
		"missing id":   `{"attendances":[]}`,
		"bad timezone": `{"id":"x","timezone":"Nowhere/Land","attendances":[]}`,
		"bad closure":  `{"id":"x","attendances":[],"closures":[{"date":"25/12/2024"}]}`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseCalendar(js)
			assert.Error(t, err)
		})
	}
}

func TestToJSON_RoundTripsThroughParse(t *testing.T) {
	// GIVEN: A parsed calendar
	f := NewCalendarFactory()
	original, err := f.ParseCalendar(splitShiftJSON)
	require.NoError(t, err)

	// WHEN: Marshalled and parsed again
	data, err := f.MarshalCalendar(original)
	require.NoError(t, err)
	again, err := f.ParseCalendar(data)
	require.NoError(t, err)

	// THEN: The same schedule comes back (closure dates become explicit ranges)
	assert.Equal(t, original.Attendances, again.Attendances)
	require.Len(t, again.Closures, 2)
	assert.True(t, original.Closures[0].Start.Equal(again.Closures[0].Start))
	assert.True(t, original.Closures[1].Stop.Equal(again.Closures[1].Stop))
}
