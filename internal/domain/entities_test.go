package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTopic_IsTopicActive(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		t    Topic
		want bool
	}{
		{
			name: "active flag set and within window",
			t: Topic{
				IsActive:  true,
				OpenTime:  now.Add(-time.Hour),
				CloseTime: now.Add(time.Hour),
			},
			want: true,
		},
		{
			name: "active flag false",
			t: Topic{
				IsActive:  false,
				OpenTime:  now.Add(-time.Hour),
				CloseTime: now.Add(time.Hour),
			},
			want: false,
		},
		{
			name: "before open time",
			t: Topic{
				IsActive:  true,
				OpenTime:  now.Add(time.Hour),
				CloseTime: now.Add(2 * time.Hour),
			},
			want: false,
		},
		{
			name: "after close time",
			t: Topic{
				IsActive:  true,
				OpenTime:  now.Add(-2 * time.Hour),
				CloseTime: now.Add(-time.Hour),
			},
			want: false,
		},
		{
			name: "exactly at boundary is active",
			t: Topic{
				IsActive:  true,
				OpenTime:  now,
				CloseTime: now,
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t2 := tc
		t.Run(t2.name, func(t *testing.T) {
			assert.Equal(t, t2.want, t2.t.IsTopicActive(now))
		})
	}
}

func TestVotingTopicType_Supports(t *testing.T) {
	assert.True(t, TopicPairwise.SupportsFinalOrder())
	assert.True(t, TopicPairwise.SupportsMatrix1v1())
	assert.False(t, TopicSetwise.SupportsFinalOrder())
	assert.False(t, TopicGroupwise.SupportsMatrix1v1())
	assert.False(t, TopicPlurality.SupportsFinalOrder())
}

func TestTopicAuditInfo_IsApproved(t *testing.T) {
	assert.True(t, TopicAuditInfo{AuditCategory: AuditCategory{Kind: AuditContentCompliance}}.IsApproved())
	assert.False(t, TopicAuditInfo{AuditCategory: AuditCategory{Kind: AuditSpam}}.IsApproved())
	assert.False(t, TopicAuditInfo{AuditCategory: AuditCategory{Kind: AuditOther, Reason: "misc"}}.IsApproved())
}

func TestBallot_Info_PerVariant(t *testing.T) {
	info := BallotInfo{TopicID: "T", BallotID: "B"}

	pairwise := Ballot{Variant: VariantPairwise, Pairwise: &PairwiseBallot{Info: info}}
	assert.Equal(t, info, pairwise.Info())

	setwise := Ballot{Variant: VariantSetwise, Setwise: &SetwiseBallot{Info: info}}
	assert.Equal(t, info, setwise.Info())

	groupwise := Ballot{Variant: VariantGroupwise, Groupwise: &GroupwiseBallot{Info: info}}
	assert.Equal(t, info, groupwise.Info())

	plurality := Ballot{Variant: VariantPlurality, Plurality: &PluralityBallot{Info: info}}
	assert.Equal(t, info, plurality.Info())

	unknown := Ballot{Variant: "bogus"}
	assert.Equal(t, BallotInfo{}, unknown.Info())
}

func TestFinalOrderItem_Formatting(t *testing.T) {
	// rate="70.0%", score="0.40" for win=70, lose=30.
	item := FinalOrderItem{Win: 70, Lose: 30, Rate: 70.0, Score: 0.40}
	assert.Equal(t, "70.0%", item.FormatRate())
	assert.Equal(t, "0.40", item.FormatScore())

	zero := FinalOrderItem{Rate: 0.0, Score: 0.0}
	assert.Equal(t, "0.0%", zero.FormatRate())
	assert.Equal(t, "0.00", zero.FormatScore())
}
