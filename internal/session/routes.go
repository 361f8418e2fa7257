package session

import "portal-onboarding/internal/models"

const (
	AdminRoute     = "/admin/dashboard"
	VolunteerRoute = "/volunteer/dashboard"
	MemberRoute    = "/member/dashboard"
	PublicRoot     = "/"
)

var landingRoutes = map[models.Role]string{
	models.RoleSuperAdmin: AdminRoute,
	models.RoleAdmin:      AdminRoute,
	models.RoleStaff:      AdminRoute,
	models.RoleVolunteer:  VolunteerRoute,
	models.RoleDonor:      MemberRoute,
	models.RoleMember:     MemberRoute,
}

// LandingRoute returns where a freshly signed-in user goes. Unrecognized
// roles land on the public root.
func LandingRoute(role models.Role) string {
	if route, ok := landingRoutes[models.NormalizeRole(string(role))]; ok {
		return route
	}
	return PublicRoot
}

// KnownRoles lists every role with a dedicated landing route.
func KnownRoles() []models.Role {
	roles := make([]models.Role, 0, len(landingRoutes))
	for r := range landingRoutes {
		roles = append(roles, r)
	}
	return roles
}
