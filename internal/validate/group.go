package validate

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"trustmesh.org/internal/trust"
)

const (
	maxGroupNameLength        = 255
	maxGroupDescriptionLength = 2000
)

// groupNameCharset is advisory; names outside it are flagged but allowed.
var groupNameCharset = regexp.MustCompile(`^[A-Za-z0-9\s\-_.]+$`)

// validateCreateGroup checks a new trust group request: name constraints,
// uniqueness, a known group type and a resolvable default trust level.
// Without an explicit level the system default must resolve.
func (v *Validator) validateCreateGroup(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	name := stringField(data, "name")
	switch {
	case name == "":
		out.Fail("group name is required")
	case len(name) > maxGroupNameLength:
		out.Fail(fmt.Sprintf("group name exceeds the maximum length of %d characters", maxGroupNameLength))
	case !groupNameCharset.MatchString(name):
		out.Warn("group name contains unusual characters")
	}

	switch desc := stringField(data, "description"); {
	case desc == "":
		out.Fail("group description is required")
	case len(desc) > maxGroupDescriptionLength:
		out.Fail(fmt.Sprintf("group description exceeds the maximum length of %d characters", maxGroupDescriptionLength))
	}

	groupType := trust.GroupType(stringField(data, "group_type"))
	if groupType != "" && !groupType.IsValid() {
		out.Fail(fmt.Sprintf("unknown group type %q", groupType))
	}

	requireUUID(out, "founding organization", stringField(data, "organization"))

	if levelName := stringField(data, "default_trust_level"); levelName != "" {
		lvl, err := v.store.TrustLevels(ctx).FindByName(ctx, levelName)
		switch {
		case errors.Is(err, trust.ErrNotFound):
			out.Fail(fmt.Sprintf("unknown trust level %q", levelName))
		case err != nil:
			out.Fail("trust level lookup failed")
		case !lvl.IsActive:
			out.Fail(fmt.Sprintf("trust level %q is not active", levelName))
		default:
			out.TrustLevel = lvl
		}
	} else {
		lvl, err := v.store.TrustLevels(ctx).SystemDefault(ctx)
		switch {
		case errors.Is(err, trust.ErrNotFound):
			out.Fail("no default trust level given and no system default is configured")
		case err != nil:
			out.Fail("trust level lookup failed")
		default:
			out.TrustLevel = lvl
		}
	}

	if name != "" {
		if existing, err := v.store.Groups(ctx).FindByName(ctx, name); err == nil {
			out.Group = existing
			out.Fail(fmt.Sprintf("a group named %q already exists", name))
		}
	}
	return out
}

// validateJoinGroup checks a membership request against the group's state
// and the organization's existing membership. Invitation hygiene is
// advisory; the membership itself is never blocked on it.
func (v *Validator) validateJoinGroup(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	groupID := stringField(data, "group_id")
	orgID := stringField(data, "organization")
	if !requireRecordID(out, "group", groupID) || !requireUUID(out, "joining organization", orgID) {
		return out
	}

	role := trust.MembershipType(stringField(data, "membership_type"))
	if role != "" && !role.IsValid() {
		out.Fail(fmt.Sprintf("unknown membership type %q", role))
	}

	group, err := v.store.Groups(ctx).Find(ctx, groupID)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			return out.Fail("group not found")
		}
		return out.Fail("group lookup failed")
	}
	out.Group = group

	if !group.IsActive {
		out.Fail("group is not active")
	}

	invitedBy := stringField(data, "invited_by")
	if invitedBy == "" {
		if role == trust.MemberAdministrator || role == trust.MemberModerator {
			out.Warn(fmt.Sprintf("%s membership is normally granted by an existing administrator", role))
		}
		if group.RequiresApproval {
			out.Warn("this group requires approval; the membership will wait for an administrator")
		}
	} else if mem, err := v.store.Memberships(ctx).Find(ctx, groupID, invitedBy); err != nil || !mem.IsActive || mem.MembershipType == trust.MemberRegular {
		out.Warn("the inviting organization is not an administrator or moderator of this group")
	}

	if existing, err := v.store.Memberships(ctx).Find(ctx, groupID, orgID); err == nil && existing.IsActive {
		out.Fail("organization is already a member of this group")
	}
	return out
}

// validateLeaveGroup checks a departure request. The last-administrator
// rule is re-checked transactionally by the store; the check here exists to
// return a friendly finding before the mutation is attempted.
func (v *Validator) validateLeaveGroup(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	groupID := stringField(data, "group_id")
	orgID := stringField(data, "organization")
	if !requireRecordID(out, "group", groupID) || !requireUUID(out, "leaving organization", orgID) {
		return out
	}

	if reason := stringField(data, "reason"); len(reason) > maxNotesLength {
		out.Warn(fmt.Sprintf("departure reason is longer than %d characters", maxNotesLength))
	}

	mem, err := v.store.Memberships(ctx).Find(ctx, groupID, orgID)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			return out.Fail("organization is not a member of this group")
		}
		return out.Fail("membership lookup failed")
	}
	if !mem.IsActive {
		return out.Fail("membership is already inactive")
	}

	if mem.MembershipType == trust.MemberAdministrator {
		admins := 0
		members, err := v.store.Memberships(ctx).ListByGroup(ctx, groupID)
		if err != nil {
			return out.Fail("membership lookup failed")
		}
		for _, m := range members {
			if m.IsActive && m.MembershipType == trust.MemberAdministrator {
				admins++
			}
		}
		if admins <= 1 {
			out.Fail("the last administrator must promote a replacement before leaving")
		}
	}
	return out
}
