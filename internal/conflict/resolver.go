// Package conflict decides, per item category and device-role pair, which
// copy of a sync item wins when both sides hold the same ID.
package conflict

import (
	"fmt"

	"github.com/semblance-app/syncd/internal/types"
)

// Resolve applies the per-category decision table to a local/remote pair of
// the same item. It is a pure function: it inspects both copies and the two
// device roles, mutates nothing, and always produces a reason string.
//
// Rules, in priority order:
//  1. style_profile: desktop authorship beats mobile regardless of
//     timestamps. Same device type on both sides falls through to rule 4.
//  2. action_trail and capture accumulate append-only, so there is no real
//     conflict; the remote copy is taken and the result is "merged".
//  3. device_capability describes the remote device, so the remote
//     self-report is authoritative.
//  4. Everything else is last-write-wins on UpdatedAt, with ties kept local.
func Resolve(local, remote types.SyncItem, localType, remoteType types.DeviceType) types.SyncConflict {
	c := types.SyncConflict{
		ItemID: local.ID,
		Type:   local.Type,
	}

	switch local.Type {
	case types.ItemTypeStyleProfile:
		if localType == types.DeviceTypeDesktop && remoteType == types.DeviceTypeMobile {
			c.Resolution = types.ResolutionLocalWins
			c.Winner = types.WinnerLocal
			c.Reason = "style profile: desktop version takes precedence over mobile"
			return c
		}
		if localType == types.DeviceTypeMobile && remoteType == types.DeviceTypeDesktop {
			c.Resolution = types.ResolutionRemoteWins
			c.Winner = types.WinnerRemote
			c.Reason = "style profile: desktop version takes precedence over mobile"
			return c
		}
		// Same device type on both sides: fall through to last-write-wins.

	case types.ItemTypeActionTrail, types.ItemTypeCapture:
		c.Resolution = types.ResolutionMerged
		c.Winner = types.WinnerRemote
		c.Reason = fmt.Sprintf("%s entries accumulate; union of both histories", local.Type)
		return c

	case types.ItemTypeDeviceCapability:
		c.Resolution = types.ResolutionRemoteWins
		c.Winner = types.WinnerRemote
		c.Reason = "device capability: remote self-report is authoritative"
		return c
	}

	if remote.UpdatedAt.After(local.UpdatedAt) {
		c.Resolution = types.ResolutionRemoteWins
		c.Winner = types.WinnerRemote
		c.Reason = fmt.Sprintf("remote copy is newer (%s > %s)",
			remote.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			local.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"))
		return c
	}

	c.Resolution = types.ResolutionLocalWins
	c.Winner = types.WinnerLocal
	c.Reason = "local copy is newer or same age"
	return c
}
