package capture

import (
	"testing"

	"github.com/corepcap/mobilecore/model"
	"github.com/stretchr/testify/assert"
)

func TestClassifyByName(t *testing.T) {
	iface:= &ResolvedInterface{Name: "eth0", Description: "S1-MME link to MME pool"}
	assert.Equal(t, model.InterfaceS1MME, Classify(iface, nil))
}

func TestClassifyBySCTPPort(t *testing.T) {
	iface:= &ResolvedInterface{Name: "eth1"}
	obs:= NewObservations()
	obs.SCTPPorts[38412] = true
	assert.Equal(t, model.InterfaceN2, Classify(iface, obs))
}

func TestClassifyByUDPPort(t *testing.T) {
	iface:= &ResolvedInterface{Name: "eth2"}
	obs:= NewObservations()
	obs.UDPPorts[2152] = true
	assert.Equal(t, model.InterfaceS1U, Classify(iface, obs))
}

func TestClassifyHTTPElevatesToN6With5GIndicators(t *testing.T) {
	iface:= &ResolvedInterface{Name: "eth3"}
	obs:= NewObservations()
	obs.HTTPPortsSeen[443] = true
	obs.FiveGIndicators = true
	assert.Equal(t, model.InterfaceN6, Classify(iface, obs))

	obs.FiveGIndicators = false
	assert.Equal(t, model.InterfaceSGi, Classify(iface, obs))
}

func TestClassifyFallbackUnknown(t *testing.T) {
	iface:= &ResolvedInterface{Name: "lo"}
	assert.Equal(t, model.InterfaceUnknown, Classify(iface, nil))
}

func TestTSResolNanos(t *testing.T) {
	assert.Equal(t, uint64(1000), tsResolNanos(6)) // 10^-6 s -> 1000ns
	assert.Equal(t, uint64(1), tsResolNanos(9)) // 10^-9 s -> 1ns
	assert.Equal(t, uint64(1_000_000_000), tsResolNanos(0))
}
