package realtime

import (
	"strings"

	"sidra.tn/internal/auth"
)

// Direction distinguishes subscribe targets from publish targets. Some
// destinations are symmetric, the admin broadcast deliberately is not.
type Direction string

const (
	DirSubscribe Direction = "subscribe"
	DirPublish   Direction = "publish"
)

// Destination namespaces. Dot-separated: user.<actorID>.queue,
// user.<actorID>.notifications, admin.notifications, public.<suffix>.
const (
	userPrefix   = "user."
	adminPrefix  = "admin."
	publicPrefix = "public."

	// DestAdminNotifications is the admin broadcast channel.
	DestAdminNotifications = "admin.notifications"
)

// UserQueue renders the private queue destination for an actor.
func UserQueue(actorID string) string {
	return userPrefix + actorID + ".queue"
}

// policyRule is one entry of the fixed, ordered destination policy.
// Evaluation is top-down, first match wins.
type policyRule struct {
	name    string
	applies func(dest string) bool
	decide  func(id Identity, dest string, dir Direction) auth.Decision
}

var destinationPolicy = []policyRule{
	{
		name:    "user-private",
		applies: func(dest string) bool { return strings.HasPrefix(dest, userPrefix) },
		decide: func(id Identity, dest string, _ Direction) auth.Decision {
			if !id.Authenticated {
				return auth.Deny(auth.ReasonUnauthenticated)
			}
			owner := destinationOwner(dest)
			if owner != "" && owner == id.Actor.ID {
				return auth.Allow
			}
			return auth.Deny(auth.ReasonNotOwner)
		},
	},
	{
		name:    "admin-broadcast",
		applies: func(dest string) bool { return strings.HasPrefix(dest, adminPrefix) },
		decide: func(id Identity, _ string, dir Direction) auth.Decision {
			if !id.Authenticated {
				return auth.Deny(auth.ReasonUnauthenticated)
			}
			switch dir {
			case DirPublish:
				// Sending an admin broadcast is stricter than receiving
				// one: SuperAdmin only.
				if id.Actor.Role == auth.RoleSuperAdmin {
					return auth.Allow
				}
			default:
				if id.Actor.Role == auth.RoleSuperAdmin || id.Actor.Role == auth.RoleStructureAdmin {
					return auth.Allow
				}
			}
			return auth.Deny(auth.ReasonNotOwner)
		},
	},
	{
		name:    "authenticated",
		applies: func(dest string) bool { return strings.HasPrefix(dest, publicPrefix) },
		decide: func(id Identity, _ string, _ Direction) auth.Decision {
			if id.Authenticated {
				return auth.Allow
			}
			return auth.Deny(auth.ReasonUnauthenticated)
		},
	},
}

// AuthorizeDestination applies the destination policy for a non-lifecycle
// frame. Unknown namespaces fall through to the default deny.
func AuthorizeDestination(id Identity, dest string, dir Direction) auth.Decision {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return auth.Deny(auth.ReasonNotOwner)
	}
	for _, rule := range destinationPolicy {
		if rule.applies(dest) {
			return rule.decide(id, dest, dir)
		}
	}
	if id.Authenticated {
		// Known namespaces are enumerated above; anything else denies
		// even for authenticated sessions.
		return auth.Deny(auth.ReasonNoGrant)
	}
	return auth.Deny(auth.ReasonUnauthenticated)
}

// destinationOwner extracts <id> from user.<id>.<suffix>. Empty when the
// destination is malformed.
func destinationOwner(dest string) string {
	parts := strings.Split(dest, ".")
	if len(parts) < 3 || parts[0] != "user" {
		return ""
	}
	return parts[1]
}
