package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role     Role
		should   []Permission
		shouldNo []Permission
	}{
		{
			role:     RoleViewer,
			should:   []Permission{PermDeviceRead},
			shouldNo: []Permission{PermDeviceTrigger, PermDeviceConfigure, PermDatapointWrite},
		},
		{
			role:     RoleOperator,
			should:   []Permission{PermDeviceRead, PermDeviceTrigger, PermDatapointWrite},
			shouldNo: []Permission{PermDeviceConfigure},
		},
		{
			role:   RoleAdmin,
			should: []Permission{PermDeviceRead, PermDeviceTrigger, PermDeviceConfigure, PermDatapointWrite},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			for _, perm := range tt.should {
				if !HasPermission(tt.role, perm) {
					t.Errorf("%s should have %s", tt.role, perm)
				}
			}
			for _, perm := range tt.shouldNo {
				if HasPermission(tt.role, perm) {
					t.Errorf("%s should NOT have %s", tt.role, perm)
				}
			}
		})
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission(Role("owner"), PermDeviceRead) {
		t.Error("unknown role should have no permissions")
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	if len(perms) != 1 {
		t.Fatalf("viewer permissions = %v, want 1 entry", perms)
	}
	perms[0] = PermDeviceConfigure

	if HasPermission(RoleViewer, PermDeviceConfigure) {
		t.Error("mutating the returned slice changed the role mapping")
	}
	if PermissionsForRole(Role("nobody")) != nil {
		t.Error("unknown role should return nil")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	if IsValidRole("panel") {
		t.Error("IsValidRole(panel) = true")
	}
}
