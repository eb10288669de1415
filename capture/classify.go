package capture

import (
	"regexp"
	"strings"

	"github.com/corepcap/mobilecore/model"
)

// namePatterns maps a telecom interface kind to the regex tested against an
// interface's name and description. Order is significant
// only in that ties are broken by declaration order below.
var namePatterns = []struct {
	kind model.InterfaceKind
	re *regexp.Regexp
}{
	{model.InterfaceS1MME, regexp.MustCompile(`(?i)s1[-_]?mme`)},
	{model.InterfaceS1U, regexp.MustCompile(`(?i)s1[-_]?u\b`)},
	{model.InterfaceX2C, regexp.MustCompile(`(?i)x2[-_]?c\b`)},
	{model.InterfaceN2, regexp.MustCompile(`(?i)\bn2\b`)},
	{model.InterfaceN3, regexp.MustCompile(`(?i)\bn3\b`)},
	{model.InterfaceN4, regexp.MustCompile(`(?i)\bn4\b`)},
	{model.InterfaceN6, regexp.MustCompile(`(?i)\bn6\b`)},
	{model.InterfaceS6a, regexp.MustCompile(`(?i)\bs6a\b`)},
	{model.InterfaceGx, regexp.MustCompile(`(?i)\bgx\b`)},
	{model.InterfaceRx, regexp.MustCompile(`(?i)\brx\b`)},
	{model.InterfaceGy, regexp.MustCompile(`(?i)\bgy\b`)},
	{model.InterfaceSGi, regexp.MustCompile(`(?i)\bsgi\b`)},
	{model.InterfaceGi, regexp.MustCompile(`(?i)\bgi\b`)},
	{model.InterfaceIMS, regexp.MustCompile(`(?i)\bims\b|\bsip\b|\brtp\b|p-cscf`)},
}

// sctpPortKinds implements the SCTP-port classification heuristic.
var sctpPortKinds = map[uint16]model.InterfaceKind{
	36412: model.InterfaceS1MME,
	38412: model.InterfaceN2,
	36422: model.InterfaceX2C,
}

// udpPortKinds implements the UDP-port classification heuristic.
var udpPortKinds = map[uint16]model.InterfaceKind{
	2123: model.InterfaceS5S8C,
	2152: model.InterfaceS1U,
	8805: model.InterfaceN4,
}

const (
	portDiameter = 3868
	portHTTP = 80
	portHTTPS = 443
)

// Observations accumulates the evidence the classifier needs beyond an
// interface's static name/description: which ports and protocols were
// actually observed on it, and whether any 5G indicators (NGAP/PFCP) have
// been seen anywhere in the capture.
type Observations struct {
	SCTPPorts map[uint16]bool
	UDPPorts map[uint16]bool
	DiameterSeen bool
	HTTPPortsSeen map[uint16]bool
	FiveGIndicators bool
}

func NewObservations() *Observations {
	return &Observations{
		SCTPPorts: make(map[uint16]bool),
		UDPPorts: make(map[uint16]bool),
		HTTPPortsSeen: make(map[uint16]bool),
	}
}

// Classify maps one interface to a telecom interface kind, trying
// name/description matching first and falling back to the port and
// protocol heuristics recorded in obs.
func Classify(iface *ResolvedInterface, obs *Observations) model.InterfaceKind {
	haystack:= strings.ToLower(iface.Name + " " + iface.Description)
	for _, p:= range namePatterns {
		if p.re.MatchString(haystack) {
			return p.kind
		}
	}

	if obs == nil {
		return model.InterfaceUnknown
	}

	for port:= range obs.SCTPPorts {
		if kind, ok:= sctpPortKinds[port]; ok {
			return kind
		}
	}

	for port:= range obs.UDPPorts {
		if kind, ok:= udpPortKinds[port]; ok {
			return kind
		}
	}

	if obs.DiameterSeen && obs.HTTPPortsSeen[portDiameter] {
		return model.InterfaceS6a
	}

	if obs.HTTPPortsSeen[portHTTP] || obs.HTTPPortsSeen[portHTTPS] {
		if obs.FiveGIndicators {
			return model.InterfaceN6
		}
		return model.InterfaceSGi
	}

	return model.InterfaceUnknown
}

// WellKnownPorts lists the canonical ports associated with kind, for
// diagnostics.
func WellKnownPorts(kind model.InterfaceKind) []uint16 {
	switch kind {
	case model.InterfaceS1MME:
		return []uint16{36412}
	case model.InterfaceN2:
		return []uint16{38412}
	case model.InterfaceX2C:
		return []uint16{36422}
	case model.InterfaceS5S8C:
		return []uint16{2123}
	case model.InterfaceS1U:
		return []uint16{2152}
	case model.InterfaceN4:
		return []uint16{8805}
	case model.InterfaceS6a, model.InterfaceGx, model.InterfaceRx, model.InterfaceGy:
		return []uint16{portDiameter}
	case model.InterfaceSGi, model.InterfaceN6, model.InterfaceGi:
		return []uint16{portHTTP, portHTTPS}
	default:
		return nil
	}
}

// ExpectedProtocols lists the application protocols normally observed on
// kind, for diagnostics.
func ExpectedProtocols(kind model.InterfaceKind) []model.ApplicationProtocol {
	switch kind {
	case model.InterfaceS1MME:
		return []model.ApplicationProtocol{model.AppS1AP, model.AppNAS}
	case model.InterfaceN2:
		return []model.ApplicationProtocol{model.AppNGAP, model.AppNAS}
	case model.InterfaceX2C:
		return []model.ApplicationProtocol{model.AppX2AP}
	case model.InterfaceS5S8C, model.InterfaceN4:
		return []model.ApplicationProtocol{model.AppGTPv2C}
	case model.InterfaceS1U:
		return []model.ApplicationProtocol{model.AppRTP, model.AppRTCP}
	case model.InterfaceS6a, model.InterfaceGx, model.InterfaceRx, model.InterfaceGy:
		return []model.ApplicationProtocol{model.AppDiameter}
	case model.InterfaceSGi, model.InterfaceN6, model.InterfaceGi:
		return []model.ApplicationProtocol{model.AppHTTP2, model.AppSBA}
	case model.InterfaceIMS:
		return []model.ApplicationProtocol{model.AppSIP, model.AppRTP, model.AppRTCP}
	default:
		return nil
	}
}
