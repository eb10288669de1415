// Package linklayer implements C3: stripping the link-layer framing off a
// raw captured frame down to the start of the IP header. The fixed-size
// link-layer headers are decoded directly with encoding/binary;
// gopacket/layers supplies only the EthernetType values.
package linklayer

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"github.com/corepcap/mobilecore/perr"
)

// libpcap DLT_* values, as recorded in the PCAP/PCAPNG global/interface
// headers.
const (
	DLTNull = 0
	DLTEthernet = 1
	DLTRawBSD = 12
	DLTLoop = 108
	DLTLinuxSLL = 113
	DLTRaw = 101
)

// defaultMaxVLANDepth is the default Q-in-Q unwrap depth.
const defaultMaxVLANDepth = 2

// Stripped is the result of removing link-layer framing from a frame: the
// byte offset at which the IP header begins, and the ethertype that
// identifies its version (0x0800 IPv4, 0x86DD IPv6).
type Stripped struct {
	Offset int
	EtherType layers.EthernetType
}

// Strip removes the link-layer header identified by linkType (a DLT_*
// value) from data, unwrapping up to maxVLANDepth stacked VLAN tags for
// Ethernet frames. maxVLANDepth <= 0 defaults to 2.
func Strip(data []byte, linkType int, maxVLANDepth int) (Stripped, error) {
	if maxVLANDepth <= 0 {
		maxVLANDepth = defaultMaxVLANDepth
	}

	switch linkType {
	case DLTEthernet:
		return stripEthernet(data, maxVLANDepth)
	case DLTLinuxSLL:
		return stripLinuxSLL(data)
	case DLTNull, DLTLoop:
		return stripNullLoop(data)
	case DLTRaw, DLTRawBSD:
		return stripRaw(data)
	default:
		return Stripped{}, perr.New(perr.Unsupported, "linklayer.Strip", "unsupported link type")
	}
}

func stripEthernet(data []byte, maxVLANDepth int) (Stripped, error) {
	const ethHeaderLen = 14
	if len(data) < ethHeaderLen {
		return Stripped{}, perr.New(perr.TruncatedPacket, "linklayer.stripEthernet", "frame shorter than Ethernet header")
	}

	offset:= 12
	etherType:= layers.EthernetType(binary.BigEndian.Uint16(data[offset: offset+2]))
	offset += 2

	for depth:= 0; depth < maxVLANDepth; depth++ {
		if etherType != layers.EthernetTypeDot1Q && etherType != layers.EthernetTypeQinQ {
			break
		}
		if len(data) < offset+4 {
			return Stripped{}, perr.New(perr.TruncatedPacket, "linklayer.stripEthernet", "truncated VLAN tag")
		}
		etherType = layers.EthernetType(binary.BigEndian.Uint16(data[offset+2: offset+4]))
		offset += 4
	}

	return Stripped{Offset: offset, EtherType: etherType}, nil
}

func stripLinuxSLL(data []byte) (Stripped, error) {
	const sllHeaderLen = 16
	if len(data) < sllHeaderLen {
		return Stripped{}, perr.New(perr.TruncatedPacket, "linklayer.stripLinuxSLL", "frame shorter than SLL header")
	}
	etherType:= layers.EthernetType(binary.BigEndian.Uint16(data[14:16]))
	return Stripped{Offset: sllHeaderLen, EtherType: etherType}, nil
}

func stripNullLoop(data []byte) (Stripped, error) {
	const nullHeaderLen = 4
	if len(data) < nullHeaderLen {
		return Stripped{}, perr.New(perr.TruncatedPacket, "linklayer.stripNullLoop", "frame shorter than Null/Loop header")
	}

	// The first word's byte order is ambiguous across capturing platforms;
	// try both interpretations and fall back to the IP-version nibble of the
	// payload when neither matches a known address family.
	le:= binary.LittleEndian.Uint32(data[0:4])
	be:= binary.BigEndian.Uint32(data[0:4])

	etherType, ok:= nullLoopFamilyToEtherType(le)
	if !ok {
		etherType, ok = nullLoopFamilyToEtherType(be)
	}
	if !ok {
		if len(data) < nullHeaderLen+1 {
			return Stripped{}, perr.New(perr.TruncatedPacket, "linklayer.stripNullLoop", "truncated payload")
		}
		version:= data[nullHeaderLen] >> 4
		if version == 6 {
			etherType = layers.EthernetTypeIPv6
		} else {
			etherType = layers.EthernetTypeIPv4
		}
	}

	return Stripped{Offset: nullHeaderLen, EtherType: etherType}, nil
}

func nullLoopFamilyToEtherType(family uint32) (layers.EthernetType, bool) {
	switch family {
	case 2:
		return layers.EthernetTypeIPv4, true
	case 10, 24, 28, 30:
		return layers.EthernetTypeIPv6, true
	default:
		return 0, false
	}
}

func stripRaw(data []byte) (Stripped, error) {
	if len(data) < 1 {
		return Stripped{}, perr.New(perr.TruncatedPacket, "linklayer.stripRaw", "empty frame")
	}
	version:= data[0] >> 4
	etherType:= layers.EthernetTypeIPv4
	if version == 6 {
		etherType = layers.EthernetTypeIPv6
	}
	return Stripped{Offset: 0, EtherType: etherType}, nil
}
