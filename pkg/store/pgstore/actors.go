package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
)

var ErrInactiveUser = errors.New("user is inactive")

// LoadActor reads the acting user's role and department on every request.
// Membership is derived from the department name, never from the token.
func (s *Store) LoadActor(ctx context.Context, userID int64) (models.Actor, error) {
	var (
		a        models.Actor
		rawRole  string
		deptName string
		active   bool
	)
	err := s.DB.QueryRow(ctx, `
		SELECT u.id, u.role, u.department_id, COALESCE(d.name, ''), u.site_id, u.is_site_admin, u.is_active
		FROM users u
		LEFT JOIN departments d ON d.id = u.department_id
		WHERE u.id=$1 AND u.deleted_at IS NULL
	`, userID).Scan(&a.UserID, &rawRole, &a.DepartmentID, &deptName, &a.SiteID, &a.IsSiteAdmin, &active)
	if err != nil {
		return models.Actor{}, notFound(err)
	}
	if !active {
		return models.Actor{}, ErrInactiveUser
	}
	role, ok := models.ParseRole(rawRole)
	if !ok {
		return models.Actor{}, fmt.Errorf("user %d has unknown role %q", userID, rawRole)
	}
	a.Role = role
	a.Membership = models.MembershipOperational
	if a.DepartmentID != nil {
		a.Membership = models.MembershipForDepartment(deptName)
	}
	return a, nil
}
