package ran

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDU assembles a minimal {pdu_type, procedure_code, criticality,
// protocolIEs} frame with the given IEs, mirroring the wire shape
// DecodePDU expects.
func buildPDU(pduType PDUType, procCode uint8, ies map[uint16][]byte) []byte {
	var body []byte
	body = append(body, byte(len(ies))) // IE count, short-form length determinant
	for id, val:= range ies {
		idb:= make([]byte, 2)
		binary.BigEndian.PutUint16(idb, id)
		body = append(body, idb...)
		body = append(body, 0x00) // criticality=reject
		body = append(body, byte(len(val)))
		body = append(body, val...)
	}
	out:= []byte{byte(pduType) << 6, procCode, 0x00}
	out = append(out, byte(len(body)))
	out = append(out, body...)
	return out
}

func TestDecodePDURoundTrip(t *testing.T) {
	enbID:= []byte{0x01, 0x02, 0x03}
	raw:= buildPDU(PDUInitiating, S1APProcInitialUEMessage, map[uint16][]byte{
		S1APIEeNBUES1APID: enbID,
	})
	pdu, err:= DecodePDU(raw)
	require.NoError(t, err)
	assert.Equal(t, PDUInitiating, pdu.Type)
	assert.Equal(t, S1APProcInitialUEMessage, pdu.ProcedureCode)
	ie, ok:= pdu.Find(S1APIEeNBUES1APID)
	require.True(t, ok)
	assert.Equal(t, enbID, ie.Value)
}

func TestDecodePDULongFormLength(t *testing.T) {
	val:= make([]byte, 200)
	for i:= range val {
		val[i] = byte(i)
	}
	var body []byte
	body = append(body, 0x01)
	body = append(body, 0x00, 0x01, 0x00) // id=1, criticality=reject
	// long-form length: 200 -> 0x80|high, low
	body = append(body, 0x80|byte(200>>8), byte(200&0xFF))
	body = append(body, val...)

	out:= []byte{0, 0, 0}
	// container long-form length too, since body is > 127 bytes
	bl:= len(body)
	out = append(out, 0x80|byte(bl>>8), byte(bl&0xFF))
	out = append(out, body...)

	pdu, err:= DecodePDU(out)
	require.NoError(t, err)
	ie, ok:= pdu.Find(1)
	require.True(t, ok)
	assert.Equal(t, val, ie.Value)
}

func TestPLMNTwoAndThreeDigitMNC(t *testing.T) {
	// MCC=001, MNC=01 (2-digit, filler nibble 0xF in high nibble of byte 1)
	mcc, mnc, ok:= PLMN([]byte{0x00, 0xF1, 0x10})
	require.True(t, ok)
	assert.Equal(t, "001", mcc)
	assert.Equal(t, "01", mnc)

	// MCC=310, MNC=410 (3-digit)
	mcc, mnc, ok = PLMN([]byte{0x13, 0x00, 0x14})
	require.True(t, ok)
	assert.Equal(t, "310", mcc)
	assert.Equal(t, "410", mnc)
}

func TestS1APParseCriticalIEs(t *testing.T) {
	tai:= []byte{0x00, 0xF1, 0x10, 0x00, 0x01} // PLMN 001/01 + TAC 1
	raw:= buildPDU(PDUInitiating, S1APProcInitialUEMessage, map[uint16][]byte{
		S1APIEeNBUES1APID: {0x00, 0x00, 0x2A},
		S1APIETAI: tai,
		S1APIENASPDU: {0xDE, 0xAD},
	})
	msg, err:= Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2A), msg.ENBUES1APID)
	assert.Equal(t, "001", msg.TAI.MCC)
	assert.Equal(t, uint16(1), msg.TAI.TAC)
	assert.Equal(t, []byte{0xDE, 0xAD}, msg.NASPDU)
}

func TestNGAPParseCriticalIEs(t *testing.T) {
	raw:= buildPDU(PDUInitiating, NGAPProcInitialUEMessage, map[uint16][]byte{
		NGAPIERANUENGAPID: {0x00, 0x00, 0x00, 0x07},
		NGAPIEAMFUENGAPID: {0x00, 0x00, 0x00, 0x00, 0x09},
	})
	msg, err:= ParseNGAP(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), msg.RANUENGAPID)
	assert.Equal(t, uint32(9), msg.AMFUENGAPID)
}

func TestX2APParseHandoverIEs(t *testing.T) {
	raw:= buildPDU(PDUInitiating, X2APProcHandoverPreparation, map[uint16][]byte{
		X2APIEOldENBUEX2APID: {0x00, 0x01},
		X2APIENewENBUEX2APID: {0x00, 0x02},
	})
	msg, err:= ParseX2AP(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), msg.OldENBUEX2APID)
	assert.Equal(t, uint16(2), msg.NewENBUEX2APID)
}
