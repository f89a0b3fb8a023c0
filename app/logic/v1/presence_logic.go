package v1

import (
	"context"
	"net/http"

	"github.com/jhjames1/leap-grit-forge-sub004/app/core"
	"github.com/jhjames1/leap-grit-forge-sub004/app/core/srv"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/errors"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/i18n"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

// PresenceLogic is the request-scoped surface over the presence resolver.
type PresenceLogic struct {
	ctx      context.Context
	core     *core.Core
	resolver *PresenceResolver
	UserInfo
}

func NewPresenceLogic(ctx context.Context, core *core.Core, resolver *PresenceResolver) *PresenceLogic {
	return &PresenceLogic{
		ctx:      ctx,
		core:     core,
		resolver: resolver,
		UserInfo: SetupUserInfo(ctx, core),
	}
}

func (l *PresenceLogic) requireSpecialist() (string, error) {
	claims := l.GetUserInfo()
	if !l.core.Srv().RBAC().CheckPermission(claims.Role, srv.PermissionModerate) {
		return "", errors.New("PresenceLogic.requireSpecialist", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
	}
	return claims.User, nil
}

// SetManualStatus pins the calling specialist's presence.
func (l *PresenceLogic) SetManualStatus(status types.PresenceStatus, message string) error {
	specialistID, err := l.requireSpecialist()
	if err != nil {
		return err
	}
	if err := l.resolver.SetManualStatus(specialistID, status, message); err != nil {
		return errors.New("PresenceLogic.SetManualStatus", i18n.ERROR_INTERNAL, err)
	}
	return nil
}

// ClearManualStatus releases the override.
func (l *PresenceLogic) ClearManualStatus() error {
	specialistID, err := l.requireSpecialist()
	if err != nil {
		return err
	}
	if err := l.resolver.ClearManualStatus(specialistID); err != nil {
		return errors.New("PresenceLogic.ClearManualStatus", i18n.ERROR_INTERNAL, err)
	}
	return nil
}

// SetCalendarControlled toggles calendar-driven presence for the caller.
func (l *PresenceLogic) SetCalendarControlled(controlled bool) error {
	specialistID, err := l.requireSpecialist()
	if err != nil {
		return err
	}
	if err := l.resolver.SetCalendarControlled(specialistID, controlled); err != nil {
		return errors.New("PresenceLogic.SetCalendarControlled", i18n.ERROR_INTERNAL, err)
	}
	return nil
}

// NotifyCalendarChanged signals that the caller's appointments or calendar
// settings changed; the resolver recomputes after its batching debounce.
func (l *PresenceLogic) NotifyCalendarChanged() error {
	specialistID, err := l.requireSpecialist()
	if err != nil {
		return err
	}
	l.resolver.NotifyCalendarChanged(specialistID)
	return nil
}

// GetStatus reads one specialist's persisted presence; visible to any
// authenticated user.
func (l *PresenceLogic) GetStatus(specialistID string) (*types.SpecialistStatus, error) {
	status, err := l.resolver.Status(l.ctx, specialistID)
	if err != nil {
		return nil, errors.New("PresenceLogic.GetStatus", i18n.ERROR_INTERNAL, err)
	}
	if status == nil {
		return nil, errors.New("PresenceLogic.GetStatus.nil", i18n.ERROR_NOT_FOUND, nil).Code(http.StatusNotFound)
	}
	return status, nil
}

// ListStatuses pages all specialists' presence rows.
func (l *PresenceLogic) ListStatuses(page, pageSize uint64) ([]types.SpecialistStatus, error) {
	statuses, err := l.core.Store().SpecialistStatusStore().List(l.ctx, page, pageSize)
	if err != nil {
		return nil, errors.New("PresenceLogic.ListStatuses.SpecialistStatusStore.List", i18n.ERROR_INTERNAL, err)
	}
	return statuses, nil
}
