package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusCodeString(t *testing.T) {
	require.Equal(t, "UNKNOWN", StatusUnknown.String())
	require.Equal(t, "ON_TIME", StatusOnTime.String())
	require.Equal(t, "LATE_WEATHER", StatusLateWeather.String())
	require.Equal(t, "STATUS(7)", StatusCode(7).String())
	require.False(t, StatusCode(7).Valid())
	require.Len(t, ReportableStatuses, 5)
	for _, s := range ReportableStatuses {
		require.True(t, s.Valid())
		require.NotEqual(t, StatusUnknown, s)
	}
}

func TestParseStatusCode(t *testing.T) {
	tests := []struct {
		in   string
		want StatusCode
		ok   bool
	}{
		{"ON_TIME", StatusOnTime, true},
		{"late_technical", StatusLateTechnical, true},
		{"STATUS_CODE_LATE_OTHER", StatusLateOther, true},
		{" unknown ", StatusUnknown, true},
		{"EARLY", StatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatusCode(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestIndexesContains(t *testing.T) {
	ix := Indexes{1, 4, 7}
	require.True(t, ix.Contains(4))
	require.False(t, ix.Contains(5))
	require.Equal(t, "[1 4 7]", ix.String())
}

func TestEventKindString(t *testing.T) {
	require.Len(t, EventKinds, 6)
	require.Equal(t, "status_requested", StatusRequested{}.Kind().String())
	require.Equal(t, "unknown", EventKind(42).String())
}
