package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVipEntitlement_Active(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		vip  VipEntitlement
		want bool
	}{
		{
			name: "active before expiry",
			vip:  VipEntitlement{ExpiresAt: now.Add(24 * time.Hour)},
			want: true,
		},
		{
			name: "expired but within grace",
			vip: VipEntitlement{
				ExpiresAt:  now.Add(-24 * time.Hour),
				GraceUntil: now.Add(48 * time.Hour),
			},
			want: true,
		},
		{
			name: "expired past grace",
			vip: VipEntitlement{
				ExpiresAt:  now.Add(-48 * time.Hour),
				GraceUntil: now.Add(-24 * time.Hour),
			},
			want: false,
		},
		{
			name: "permanent never expires",
			vip:  VipEntitlement{Permanent: true, ExpiresAt: now.Add(-time.Hour)},
			want: true,
		},
		{
			name: "zero times inactive",
			vip:  VipEntitlement{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.vip.Active(now))
		})
	}
}

func TestBlacklist_Lookups(t *testing.T) {
	bl := Blacklist{Guilds: []string{"g1"}, Users: []string{"u1"}}

	assert.True(t, bl.HasGuild("g1"))
	assert.False(t, bl.HasGuild("g2"))
	assert.True(t, bl.HasUser("u1"))
	assert.False(t, bl.HasUser("u2"))
}
