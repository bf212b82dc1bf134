// Package invite implements single-use invitation tokens: the only path by
// which a user account becomes ACTIVE. An invitation fixes the invitee's
// role, branch and territory scope at creation time and is consumed exactly
// once, revoked, or expires.
package invite
