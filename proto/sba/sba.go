// Package sba classifies completed HTTP/2 streams as 5G Service-Based
// Architecture interactions.
package sba

import (
	"encoding/json"
	"strings"

	"github.com/corepcap/mobilecore/proto/http2"
)

// nfTypeByServicePrefix maps an SBA service name prefix to its owning
// network function type.
var nfTypeByServicePrefix = map[string]string{
	"namf": "AMF",
	"nudm": "UDM",
	"nsmf": "SMF",
	"nausf": "AUSF",
	"nnrf": "NRF",
	"nnef": "NEF",
	"npcf": "PCF",
	"nupf": "UPF",
}

// Interaction is one classified SBA request/response pair.
type Interaction struct {
	Service string
	NFType string
	API string // HTTP method
	ResourceTail string
	Status int
	RequestBody interface{}
	ResponseBody interface{}
}

// Classify inspects a completed HTTP/2 stream's :path to determine whether
// it is an SBA interaction, per the `/n<service>/...` convention. It returns
// ok=false for streams that aren't SBA traffic.
func Classify(s *http2.Stream) (Interaction, bool) {
	path, ok:= http2.HeaderValue(s.RequestHeaders, ":path")
	if !ok || !strings.HasPrefix(path, "/n") {
		return Interaction{}, false
	}

	trimmed:= strings.TrimPrefix(path, "/")
	segments:= strings.SplitN(trimmed, "/", 2)
	service:= segments[0]
	prefix:= servicePrefix(service)
	nfType, known:= nfTypeByServicePrefix[prefix]
	if !known {
		return Interaction{}, false
	}

	resourceTail:= ""
	if len(segments) > 1 {
		resourceTail = segments[1]
	}

	method, _:= http2.HeaderValue(s.RequestHeaders, ":method")
	statusStr, _:= http2.HeaderValue(s.ResponseHeaders, ":status")

	interaction:= Interaction{
		Service: service,
		NFType: nfType,
		API: method,
		ResourceTail: resourceTail,
		Status: atoiSafe(statusStr),
	}

	if isJSON(s.RequestHeaders) {
		interaction.RequestBody = decodeJSON(s.RequestBody)
	}
	if isJSON(s.ResponseHeaders) {
		interaction.ResponseBody = decodeJSON(s.ResponseBody)
	}

	return interaction, true
}

// servicePrefix extracts the leading `n<word>` token a service name begins
// with, e.g. "nudm-ueau" -> "nudm".
func servicePrefix(service string) string {
	if dash:= strings.IndexByte(service, '-'); dash >= 0 {
		return service[:dash]
	}
	return service
}

func isJSON(headers []http2.Header) bool {
	ct, ok:= http2.HeaderValue(headers, "content-type")
	return ok && strings.Contains(strings.ToLower(ct), "application/json")
}

func decodeJSON(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var v interface{}
	if err:= json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return v
}

func atoiSafe(s string) int {
	n:= 0
	for _, c:= range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
