package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanonicalEventID(t *testing.T) {
	require.Equal(t, "E1", CanonicalEventID("E1_20240101"))
	require.Equal(t, "E1", CanonicalEventID("E1_20240101T090000Z_extra"))
	require.Equal(t, "E1", CanonicalEventID("E1"))
	require.Equal(t, "", CanonicalEventID(""))
	require.Equal(t, "", CanonicalEventID("_x"))
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider(" Google ")
	require.True(t, ok)
	require.Equal(t, Google, p)

	p, ok = ParseProvider("outlook")
	require.True(t, ok)
	require.Equal(t, Microsoft, p)

	_, ok = ParseProvider("icloud")
	require.False(t, ok)
}

func TestCalendarIntegration_Expired(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.True(t, CalendarIntegration{}.Expired(now), "missing expiry counts as expired")
	require.True(t, CalendarIntegration{ExpiresAt: &past}.Expired(now))
	require.True(t, CalendarIntegration{ExpiresAt: &now}.Expired(now))
	require.False(t, CalendarIntegration{ExpiresAt: &future}.Expired(now))
}

func TestStudySession_LinkUnlink(t *testing.T) {
	s := StudySession{Status: StatusScheduled}
	require.False(t, s.Linked())

	s.Link("evt", "cal-1", Google)
	require.True(t, s.Linked())
	require.Equal(t, "cal-1", s.ExternalCalendarID)

	s.Unlink()
	require.False(t, s.Linked())
	require.Empty(t, s.CalendarProvider)
	require.Empty(t, s.ExternalCalendarID)
	require.Equal(t, StatusMissed, s.Status)
}

func TestCalendarRef_Writable(t *testing.T) {
	require.True(t, CalendarRef{Primary: true, AccessRole: "reader"}.Writable())
	require.True(t, CalendarRef{AccessRole: "writer"}.Writable())
	require.False(t, CalendarRef{AccessRole: "freeBusyReader"}.Writable())
}

func TestDefaultTimezone_Loads(t *testing.T) {
	loc, err := time.LoadLocation(DefaultTimezone)
	require.NoError(t, err)
	require.Equal(t, "America/Mexico_City", loc.String())
}

func TestTimeBlock_Minutes(t *testing.T) {
	require.Equal(t, 90, TimeBlock{StartHour: 9, StartMinute: 30, EndHour: 11}.Minutes())
}
