package nas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTLV(tag uint8, value []byte) []byte {
	return append([]byte{tag, byte(len(value))}, value...)
}

func TestProbePlainEMM(t *testing.T) {
	data:= []byte{byte(PDEPSMobilityManagement), 0x00, 0x41}
	assert.True(t, Probe(data))
}

func TestParseProtectedIsOpaque(t *testing.T) {
	data:= []byte{byte(PDEPSMobilityManagement), byte(SecurityHeaderIntegrityAndCiphered), 0xAA, 0xBB, 0xCC}
	msg, err:= Parse(data)
	require.NoError(t, err)
	assert.True(t, msg.Protected)
	assert.Equal(t, data, msg.Opaque)
}

func TestParseIMSIMobileIdentity(t *testing.T) {
	// IMSI 001010000000001 (15 digits, odd count) — type=1, odd=1 in byte0 low bits.
	idByte0:= byte(IdentityIMSI) | 0x08 // odd-count flag set
	idByte0 |= 0 << 4 // first digit '0'
	value:= []byte{idByte0, 0x10, 0x10, 0x00, 0x00, 0x00, 0x00, 0x10}
	tlv:= buildTLV(ieMobileIdentity, value)
	data:= append([]byte{byte(PDEPSMobilityManagement), byte(SecurityHeaderPlain), 0x41}, tlv...)
	msg, err:= Parse(data)
	require.NoError(t, err)
	require.Len(t, msg.Identities, 1)
	assert.Equal(t, IdentityIMSI, msg.Identities[0].Type)
	assert.Equal(t, "001010000000001", msg.Identities[0].Digits)
}

func TestParseAPNAndBearerID(t *testing.T) {
	apn:= buildTLV(ieAPN, []byte{8, 'i', 'n', 't', 'e', 'r', 'n', 'e', 't'})
	ebi:= buildTLV(ieEPSBearerID, []byte{0x05})
	data:= append([]byte{byte(PDEPSSessionManagement), byte(SecurityHeaderPlain), 0xC1}, apn...)
	data = append(data, ebi...)

	msg, err:= Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "internet", msg.APN)
	assert.Equal(t, uint8(5), msg.EPSBearerID)
}

func TestParse5GSUCIIdentity(t *testing.T) {
	plmn:= []byte{0x00, 0xF1, 0x10} // MCC 001, MNC 01
	suciValue:= append([]byte{byte(Identity5GSUCI)}, plmn...)
	suciValue = append(suciValue, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03) // routing/scheme/keyid/output
	tlv:= buildTLV(ieMobileIdentity, suciValue)
	data:= append([]byte{byte(PD5GMobilityManagement), byte(SecurityHeaderPlain), 0x41}, tlv...)

	msg, err:= Parse(data)
	require.NoError(t, err)
	require.Len(t, msg.Identities, 1)
	assert.Contains(t, msg.Identities[0].Digits, "suci-0-001-01-")
}

func TestParseSNSSAI(t *testing.T) {
	data:= append([]byte{byte(PD5GSessionManagement), byte(SecurityHeaderPlain), 0x12},
		buildTLV(ieSNSSAI, []byte{0x01, 0x00, 0x00, 0x01})...)
	msg, err:= Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "sst=1,sd=000001", msg.SNSSAI)
}
