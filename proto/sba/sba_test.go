package sba

import (
	"testing"

	"github.com/corepcap/mobilecore/proto/http2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyUDMAuthGeneration(t *testing.T) {
	s:= &http2.Stream{
		RequestHeaders: []http2.Header{
			{Name: ":method", Value: "POST"},
			{Name: ":path", Value: "/nudm-ueau/v1/supi-001010000000001/security-information/generate-auth-data"},
			{Name: "content-type", Value: "application/json"},
		},
		RequestBody: []byte(`{"supiOrSuci":"001010000000001"}`),
		ResponseHeaders: []http2.Header{
			{Name: ":status", Value: "200"},
			{Name: "content-type", Value: "application/json"},
		},
		ResponseBody: []byte(`{"authType":"5G_AKA"}`),
	}

	interaction, ok:= Classify(s)
	require.True(t, ok)
	assert.Equal(t, "nudm-ueau", interaction.Service)
	assert.Equal(t, "UDM", interaction.NFType)
	assert.Equal(t, "POST", interaction.API)
	assert.Equal(t, 200, interaction.Status)
	require.NotNil(t, interaction.RequestBody)
	require.NotNil(t, interaction.ResponseBody)
}

func TestClassifyNonSBAPath(t *testing.T) {
	s:= &http2.Stream{
		RequestHeaders: []http2.Header{{Name: ":path", Value: "/health"}},
	}
	_, ok:= Classify(s)
	assert.False(t, ok)
}
