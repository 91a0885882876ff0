package auth

import "strings"

// Roles known to the service.
const (
	RoleAdmin     = "admin"
	RoleOfficer   = "officer"
	RoleHomeowner = "homeowner"
)

var knownRoles = map[string]bool{RoleAdmin: true, RoleOfficer: true, RoleHomeowner: true}

// Roles allowed to perform each operation group.
var (
	StatementIssuers    = []string{RoleAdmin, RoleOfficer}
	StatementArchivers  = []string{RoleAdmin}
	TransactionReviewer = []string{RoleAdmin, RoleOfficer}
	VillageTreasurers   = []string{RoleAdmin}
	WalletManagers      = []string{RoleAdmin, RoleOfficer}
	AnyRole             = []string{RoleAdmin, RoleOfficer, RoleHomeowner}
)

// NormalizeRoles lower-cases, de-duplicates and drops roles the service does not know.
func NormalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if !knownRoles[role] {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}

// IsStaff reports whether roles include admin or officer.
func IsStaff(roles []string) bool {
	for _, r := range NormalizeRoles(roles) {
		if r == RoleAdmin || r == RoleOfficer {
			return true
		}
	}
	return false
}
