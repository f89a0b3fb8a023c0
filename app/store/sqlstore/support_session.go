package sqlstore

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/register"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.SupportSessionStore = NewSupportSessionStore(provider)
	})
}

type SupportSessionStore struct {
	CommonFields
}

func NewSupportSessionStore(provider SqlProviderAchieve) *SupportSessionStore {
	repo := &SupportSessionStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_SUPPORT_SESSION)
	repo.SetAllColumns("id", "user_id", "specialist_id", "status", "session_number", "started_at", "ended_at", "end_reason", "last_activity_at")
	return repo
}

func (s *SupportSessionStore) Create(ctx context.Context, data types.SupportSession) error {
	if data.StartedAt == 0 {
		data.StartedAt = time.Now().Unix()
	}
	if data.LastActivityAt == 0 {
		data.LastActivityAt = data.StartedAt
	}

	query := sq.Insert(s.GetTable()).
		Columns("id", "user_id", "specialist_id", "status", "session_number", "started_at", "ended_at", "end_reason", "last_activity_at").
		Values(data.ID, data.UserID, data.SpecialistID, data.Status, data.SessionNumber, data.StartedAt, data.EndedAt, data.EndReason, data.LastActivityAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	if _, err = s.GetMaster(ctx).Exec(queryString, args...); err != nil {
		return err
	}
	return nil
}

func (s *SupportSessionStore) Get(ctx context.Context, sessionID string) (*types.SupportSession, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).Where(sq.Eq{"id": sessionID})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.SupportSession
	if err = s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *SupportSessionStore) GetLatestByUser(ctx context.Context, userID string) (*types.SupportSession, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("started_at DESC").Limit(1)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.SupportSession
	if err = s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// GetLiveByUser returns the user's single non-ended session, nil when there
// is none. The partial unique index guarantees at most one row qualifies.
func (s *SupportSessionStore) GetLiveByUser(ctx context.Context, userID string) (*types.SupportSession, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.NotEq{"status": types.SESSION_STATUS_ENDED})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.SupportSession
	if err = s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *SupportSessionStore) UpdateTransition(ctx context.Context, data *types.SupportSession) error {
	query := sq.Update(s.GetTable()).Where(sq.Eq{"id": data.ID}).
		Set("status", data.Status).
		Set("specialist_id", data.SpecialistID).
		Set("ended_at", data.EndedAt).
		Set("end_reason", data.EndReason).
		Set("last_activity_at", data.LastActivityAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	if _, err = s.GetMaster(ctx).Exec(queryString, args...); err != nil {
		return err
	}
	return nil
}

func (s *SupportSessionStore) TouchActivity(ctx context.Context, sessionID string, at int64) error {
	query := sq.Update(s.GetTable()).Where(sq.Eq{"id": sessionID}).Set("last_activity_at", at)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	if _, err = s.GetMaster(ctx).Exec(queryString, args...); err != nil {
		return err
	}
	return nil
}

func (s *SupportSessionStore) NextSessionNumber(ctx context.Context, userID string) (int64, error) {
	query := sq.Select("COALESCE(MAX(session_number), 0) + 1").From(s.GetTable()).Where(sq.Eq{"user_id": userID})

	queryString, args, err := query.ToSql()
	if err != nil {
		return 0, ErrorSqlBuild(err)
	}

	var next int64
	if err = s.GetReplica(ctx).Get(&next, queryString, args...); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SupportSessionStore) ListWaitingBefore(ctx context.Context, before int64) ([]types.SupportSession, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"status": types.SESSION_STATUS_WAITING, "specialist_id": nil}).
		Where(sq.Lt{"started_at": before})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var list []types.SupportSession
	if err = s.GetReplica(ctx).Select(&list, queryString, args...); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *SupportSessionStore) List(ctx context.Context, userID string, page, pageSize uint64) ([]types.SupportSession, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("session_number DESC")

	if page != types.NO_PAGING || pageSize != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var list []types.SupportSession
	if err = s.GetReplica(ctx).Select(&list, queryString, args...); err != nil {
		return nil, err
	}
	return list, nil
}
