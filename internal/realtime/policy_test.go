package realtime

import (
	"testing"

	"sidra.tn/internal/auth"
)

func identityFor(id string, role auth.Role, structureID string) Identity {
	return Identity{
		Actor:         auth.Actor{ID: id, Role: role, StructureID: structureID},
		Authenticated: true,
	}
}

func TestAuthorizeDestinationUserPrivate(t *testing.T) {
	user7 := identityFor("7", auth.RoleStandardUser, "A")

	// Anonymous connections are denied on every private queue.
	for _, id := range []string{"7", "8", "admin"} {
		decision := AuthorizeDestination(Anonymous, UserQueue(id), DirSubscribe)
		if decision.Allowed {
			t.Fatalf("anonymous allowed on user.%s.queue", id)
		}
		if decision.Reason != auth.ReasonUnauthenticated {
			t.Fatalf("unexpected reason: %s", decision.Reason)
		}
	}

	if d := AuthorizeDestination(user7, UserQueue("7"), DirSubscribe); !d.Allowed {
		t.Fatalf("user 7 denied own queue: %s", d.Reason)
	}
	if d := AuthorizeDestination(user7, UserQueue("8"), DirSubscribe); d.Allowed {
		t.Fatal("user 7 allowed on user 8's queue")
	}
	// Even SuperAdmin cannot read another user's private queue; the
	// user-private rule matches first.
	sa := identityFor("sa", auth.RoleSuperAdmin, "")
	if d := AuthorizeDestination(sa, UserQueue("7"), DirSubscribe); d.Allowed {
		t.Fatal("super admin allowed on a foreign private queue")
	}
	if d := AuthorizeDestination(user7, "user.7.notifications", DirPublish); !d.Allowed {
		t.Fatalf("publish to own destination denied: %s", d.Reason)
	}
}

func TestAuthorizeDestinationAdminBroadcast(t *testing.T) {
	sa := identityFor("sa", auth.RoleSuperAdmin, "")
	structAdmin := identityFor("a1", auth.RoleStructureAdmin, "A")
	user := identityFor("u1", auth.RoleStandardUser, "A")

	cases := []struct {
		name string
		id   Identity
		dir  Direction
		want bool
	}{
		{"super admin subscribes", sa, DirSubscribe, true},
		{"structure admin subscribes", structAdmin, DirSubscribe, true},
		{"standard user subscribes", user, DirSubscribe, false},
		{"anonymous subscribes", Anonymous, DirSubscribe, false},
		// Publishing the broadcast is stricter than receiving it.
		{"super admin publishes", sa, DirPublish, true},
		{"structure admin publishes", structAdmin, DirPublish, false},
		{"standard user publishes", user, DirPublish, false},
	}
	for _, tc := range cases {
		d := AuthorizeDestination(tc.id, DestAdminNotifications, tc.dir)
		if d.Allowed != tc.want {
			t.Fatalf("%s: allowed=%v, want %v (reason=%s)", tc.name, d.Allowed, tc.want, d.Reason)
		}
	}
}

func TestAuthorizeDestinationPublicAndDefault(t *testing.T) {
	user := identityFor("u1", auth.RoleStandardUser, "A")

	if d := AuthorizeDestination(user, "public.announcements", DirSubscribe); !d.Allowed {
		t.Fatalf("authenticated user denied public destination: %s", d.Reason)
	}
	if d := AuthorizeDestination(Anonymous, "public.announcements", DirSubscribe); d.Allowed {
		t.Fatal("anonymous allowed on public destination")
	}

	// Unknown namespaces deny even for authenticated sessions.
	if d := AuthorizeDestination(user, "internal.debug", DirSubscribe); d.Allowed {
		t.Fatal("unknown namespace allowed")
	}
	if d := AuthorizeDestination(user, "", DirPublish); d.Allowed {
		t.Fatal("empty destination allowed")
	}
}

func TestDestinationOwner(t *testing.T) {
	cases := map[string]string{
		"user.7.queue":          "7",
		"user.abc.notifications": "abc",
		"user.7":                "",
		"queue.7.user":          "",
	}
	for dest, want := range cases {
		if got := destinationOwner(dest); got != want {
			t.Fatalf("destinationOwner(%q)=%q, want %q", dest, got, want)
		}
	}
}
