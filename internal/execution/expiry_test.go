package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/markethours"
	"signalengine/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, markethours.IST)
}

func TestExpiryDate(t *testing.T) {
	cases := []struct {
		name   string
		bucket ExpiryBucket
		at     time.Time
		want   time.Time
	}{
		{"weekly from monday", ExpiryWeekly, day(2025, 3, 3), day(2025, 3, 6)},
		{"weekly on expiry day", ExpiryWeekly, day(2025, 3, 6), day(2025, 3, 6)},
		{"weekly from friday", ExpiryWeekly, day(2025, 3, 7), day(2025, 3, 13)},
		{"next weekly", ExpiryNextWeekly, day(2025, 3, 3), day(2025, 3, 13)},
		{"monthly", ExpiryMonthly, day(2025, 3, 3), day(2025, 3, 27)},
		{"monthly on expiry day", ExpiryMonthly, day(2025, 3, 27), day(2025, 3, 27)},
		{"monthly rolls after expiry", ExpiryMonthly, day(2025, 3, 28), day(2025, 4, 24)},
		{"weekly holiday shifts back", ExpiryWeekly, day(2025, 4, 7), day(2025, 4, 9)},
		{"weekly on holiday rolls forward", ExpiryWeekly, day(2025, 4, 10), day(2025, 4, 17)},
		{"next weekly onto holiday", ExpiryNextWeekly, day(2025, 4, 3), day(2025, 4, 9)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpiryDate(tc.bucket, tc.at.Add(10*time.Hour))
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.want), "got %s want %s", got.Format("2006-01-02"), tc.want.Format("2006-01-02"))
		})
	}
}

func TestExpiryDate_UsesEventDate(t *testing.T) {
	// Same bucket, different event dates → different expiries
	a, _ := ExpiryDate(ExpiryWeekly, day(2025, 3, 3))
	b, _ := ExpiryDate(ExpiryWeekly, day(2025, 3, 10))
	assert.Equal(t, 7*24*time.Hour, b.Sub(a))
}

func TestExpiryDate_Unknown(t *testing.T) {
	_, err := ExpiryDate("quarterly", day(2025, 3, 3))
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}
