package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionValidate(t *testing.T) {
	tests := []struct {
		name string
		d    Distribution
		want error
	}{
		{
			name: "product target",
			d:    Distribution{ProductID: "p1", Priority: 10},
		},
		{
			name: "param target",
			d:    Distribution{ParamID: "pr1", Priority: 0},
		},
		{
			name: "no target",
			d:    Distribution{Priority: 10},
			want: ErrNoTarget,
		},
		{
			name: "both targets",
			d:    Distribution{ProductID: "p1", ParamID: "pr1"},
			want: ErrAmbiguousTarget,
		},
		{
			name: "negative priority",
			d:    Distribution{ProductID: "p1", Priority: -1},
			want: ErrNegativePriority,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCampaignIsActive(t *testing.T) {
	assert.True(t, (&Campaign{Status: CampaignStatusActive}).IsActive())
	assert.False(t, (&Campaign{Status: CampaignStatusPaused}).IsActive())
	assert.False(t, (&Campaign{Status: CampaignStatusArchived}).IsActive())

	var nilCampaign *Campaign
	assert.False(t, nilCampaign.IsActive())
}

func TestProductDestinationURL(t *testing.T) {
	p := &Product{ID: "p1", Kind: ProductKindAffiliate, URL: "https://shop.example.com/offer"}
	url, err := p.DestinationURL()
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/offer", url)

	_, err = (&Product{ID: "p2", Kind: "banner", URL: "https://x"}).DestinationURL()
	assert.Error(t, err)

	_, err = (&Product{ID: "p3", Kind: ProductKindAPIIntegration}).DestinationURL()
	assert.Error(t, err)

	var nilProduct *Product
	_, err = nilProduct.DestinationURL()
	assert.Error(t, err)
}
