package session

import "github.com/corepcap/mobilecore/gid"

// SIPCall returns the SIP call with the given id, if tracked.
func (c *Correlator) SIPCall(id gid.SIPCallID) (*SIPCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok:= c.sipCalls[id]
	return call, ok
}

// DiameterDialog returns the Diameter dialog with the given id, if tracked.
func (c *Correlator) DiameterDialog(id gid.DiameterDialogID) (*DiameterDialog, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dlg, ok:= c.diameterDialogs[id]
	return dlg, ok
}

// UEContext returns the UE context with the given id, if tracked.
func (c *Correlator) UEContext(id gid.UEContextID) (*UEContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc, ok:= c.ueContexts[id]
	return uc, ok
}

// SBAInteraction returns the SBA interaction with the given id, if tracked.
func (c *Correlator) SBAInteraction(id gid.SBAInteractionID) (*SBAInteraction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ia, ok:= c.sbaInteractions[id]
	return ia, ok
}
