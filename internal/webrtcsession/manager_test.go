package webrtcsession

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }
func u16Ptr(v uint16) *uint16 { return &v }

func TestCandidateKey_StableForSameFields(t *testing.T) {
	a := webrtc.ICECandidateInit{Candidate: "candidate:1 1 UDP 1 1.2.3.4 5 typ host", SDPMid: strPtr("0"), SDPMLineIndex: u16Ptr(0)}
	b := webrtc.ICECandidateInit{Candidate: "candidate:1 1 UDP 1 1.2.3.4 5 typ host", SDPMid: strPtr("0"), SDPMLineIndex: u16Ptr(0)}
	assert.Equal(t, candidateKey(a), candidateKey(b))
}

func TestCandidateKey_DiffersByMLineIndex(t *testing.T) {
	a := webrtc.ICECandidateInit{Candidate: "x", SDPMid: strPtr("0"), SDPMLineIndex: u16Ptr(0)}
	b := webrtc.ICECandidateInit{Candidate: "x", SDPMid: strPtr("0"), SDPMLineIndex: u16Ptr(1)}
	assert.NotEqual(t, candidateKey(a), candidateKey(b))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "New", StateNew.String())
	assert.Equal(t, "Connected", StateConnected.String())
	assert.Equal(t, "Closed", StateClosed.String())
}
